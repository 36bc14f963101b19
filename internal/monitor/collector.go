package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/schedd/internal/events"
	"github.com/t77yq/schedd/internal/scheduler"
)

// StatsSource yields the scheduler counters sampled alongside system
// metrics. *scheduler.Manager satisfies it.
type StatsSource interface {
	Stats(ctx context.Context) (scheduler.Stats, error)
}

// Metrics is one published sample.
type Metrics struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUUsage    float64   `json:"cpu_usage"`
	MemoryUsage float64   `json:"memory_usage"`
	scheduler.Stats
}

// Collector periodically samples host CPU and memory usage together with
// scheduler state and publishes the result on the metrics subject.
type Collector struct {
	logger    *zap.Logger
	source    StatsSource
	publisher events.Publisher
	interval  time.Duration

	mu   sync.RWMutex
	last Metrics
	stop chan struct{}
}

// NewCollector creates a collector sampling every interval.
func NewCollector(source StatsSource, publisher events.Publisher, interval time.Duration, logger *zap.Logger) *Collector {
	return &Collector{
		logger:    logger.Named("metrics-collector"),
		source:    source,
		publisher: publisher,
		interval:  interval,
		stop:      make(chan struct{}),
	}
}

// Start launches the collection loop.
func (c *Collector) Start(ctx context.Context) {
	c.logger.Info("Starting metrics collector", zap.Duration("interval", c.interval))
	go c.collectLoop(ctx)
}

// Stop halts the collection loop.
func (c *Collector) Stop() {
	c.logger.Info("Stopping metrics collector")
	close(c.stop)
}

// Latest returns the most recently collected sample.
func (c *Collector) Latest() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// collectLoop runs the metrics collection loop.
func (c *Collector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collectOnce(ctx)
		}
	}
}

// collectOnce gathers one sample and publishes it.
func (c *Collector) collectOnce(ctx context.Context) {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
		return
	}

	stats, err := c.source.Stats(ctx)
	if err != nil {
		c.logger.Error("Failed to get scheduler stats", zap.Error(err))
		return
	}

	sample := Metrics{
		Timestamp:   time.Now(),
		CPUUsage:    cpuPercent[0],
		MemoryUsage: memInfo.UsedPercent,
		Stats:       stats,
	}

	c.mu.Lock()
	c.last = sample
	c.mu.Unlock()

	if err := c.publisher.Publish(ctx, events.SubjectMetrics, sample); err != nil {
		c.logger.Error("Failed to publish metrics", zap.Error(err))
		return
	}

	c.logger.Debug("Metrics collected",
		zap.Float64("cpu_usage", sample.CPUUsage),
		zap.Float64("memory_usage", sample.MemoryUsage),
		zap.Int("running", stats.Running),
		zap.Int("pending", stats.Pending))
}
