package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/schedd/internal/model"
	"github.com/t77yq/schedd/internal/storage"
)

// Coordinator performs one execution attempt per invocation with
// per-schedule mutual exclusion and outcome recording. Distinct schedules
// execute concurrently; a single schedule serializes against itself.
type Coordinator struct {
	logger  *zap.Logger
	store   storage.ScheduleStore
	execute Func
	running sync.Map
}

// NewCoordinator creates a coordinator dispatching work to the given seam
func NewCoordinator(store storage.ScheduleStore, execute Func, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		logger:  logger.Named("coordinator"),
		store:   store,
		execute: execute,
	}
}

// Execute runs one attempt for the schedule. A schedule already executing
// yields ErrAlreadyRunning with no history row and an untouched run_count.
// Executor errors, error-shaped results and panics all finalize as a
// failed record; none of them propagate as errors.
func (c *Coordinator) Execute(ctx context.Context, sched *model.Schedule) (*model.ExecutionRecord, error) {
	if _, loaded := c.running.LoadOrStore(sched.ID, time.Now()); loaded {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, sched.ID)
	}
	defer c.running.Delete(sched.ID)

	record := &model.ExecutionRecord{
		ID:         uuid.New().String(),
		ScheduleID: sched.ID,
		StartedAt:  time.Now(),
	}

	c.logger.Info("Executing schedule",
		zap.String("schedule_id", sched.ID),
		zap.String("executor", sched.ExecutorName))

	result, err := c.invoke(ctx, sched)

	finished := time.Now()
	record.FinishedAt = &finished

	proposed := model.ScheduleStatusActive
	if err != nil {
		record.Status = model.ExecutionStatusFailed
		record.Error = err.Error()
		proposed = model.ScheduleStatusError
		c.logger.Warn("Execution failed",
			zap.String("schedule_id", sched.ID),
			zap.String("executor", sched.ExecutorName),
			zap.Error(err))
	} else {
		record.Status = model.ExecutionStatusSuccess
		record.Result = result
		c.logger.Info("Execution succeeded",
			zap.String("schedule_id", sched.ID),
			zap.Duration("duration", finished.Sub(record.StartedAt)))
	}

	if err := c.store.AppendExecution(ctx, record); err != nil {
		c.logger.Error("Failed to append execution record",
			zap.String("schedule_id", sched.ID),
			zap.Error(err))
	}
	if err := c.store.RecordOutcome(ctx, sched.ID, finished, proposed); err != nil {
		c.logger.Error("Failed to record execution outcome",
			zap.String("schedule_id", sched.ID),
			zap.Error(err))
	}

	return record, nil
}

// Running lists the ids of schedules currently executing
func (c *Coordinator) Running() []string {
	var ids []string
	c.running.Range(func(key, value interface{}) bool {
		ids = append(ids, key.(string))
		return true
	})
	return ids
}

// invoke calls the executor seam, converting panics into errors
func (c *Coordinator) invoke(ctx context.Context, sched *model.Schedule) (result json.RawMessage, err error) {
	if c.execute == nil {
		return nil, fmt.Errorf("no executor configured")
	}

	if sched.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sched.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()

	return c.execute(ctx, sched.ExecutorName, sched.ExecutorInput)
}
