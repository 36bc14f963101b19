package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/schedd/internal/events"
	"github.com/t77yq/schedd/internal/executor"
	"github.com/t77yq/schedd/internal/model"
	"github.com/t77yq/schedd/internal/storage"
	"github.com/t77yq/schedd/internal/worker"
)

const defaultHistoryLimit = 100

// CreateScheduleRequest carries the caller-supplied fields of a new schedule.
type CreateScheduleRequest struct {
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	CronExpression string          `json:"cron_expression"`
	ExecutorName   string          `json:"executor_name"`
	ExecutorInput  json.RawMessage `json:"executor_input,omitempty"`
	Timeout        time.Duration   `json:"timeout,omitempty"`
}

// Stats is a point-in-time summary of the manager's world.
type Stats struct {
	Schedules map[model.ScheduleStatus]int `json:"schedules"`
	Running   int                          `json:"running"`
	Pending   int                          `json:"pending"`
}

// ManagerConfig tunes the execution machinery.
type ManagerConfig struct {
	Workers   int
	QueueSize int
}

// Manager is the schedule manager facade: CRUD over the store, the trigger
// engine kept in sync with it, and execution dispatch through the worker
// pool. Construct one per process and share it between the serve loop and
// any command surface.
type Manager struct {
	logger      *zap.Logger
	config      ManagerConfig
	store       storage.ScheduleStore
	coordinator *executor.Coordinator
	trigger     *CronTrigger
	events      events.Publisher

	mu      sync.Mutex
	started bool
	pool    *worker.Pool
}

// NewManager wires the facade. The publisher may be events.NopPublisher
// when no event bus is configured.
func NewManager(config ManagerConfig, store storage.ScheduleStore, coordinator *executor.Coordinator, publisher events.Publisher, logger *zap.Logger) *Manager {
	return &Manager{
		logger:      logger.Named("manager"),
		config:      config,
		store:       store,
		coordinator: coordinator,
		trigger:     NewCronTrigger(logger),
		events:      publisher,
	}
}

// Start loads persisted schedules, registers every non-paused one with the
// trigger engine and launches the timer loop and worker pool. A schedule
// whose stored expression no longer parses is marked error and skipped.
// Starting a started manager is a warning-level no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		m.logger.Warn("Manager already started")
		return nil
	}

	schedules, err := m.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	// Executions run to completion even when the serve context is
	// cancelled; shutdown waits for them via the pool instead.
	m.pool = worker.NewPool(m.config.Workers, m.config.QueueSize, m.logger)
	m.pool.Start(context.Background())

	registered := 0
	for _, sched := range schedules {
		if sched.Status == model.ScheduleStatusPaused {
			continue
		}
		if err := m.trigger.Register(sched.ID, sched.CronExpression, m.handleDue); err != nil {
			m.logger.Error("Stored cron expression no longer parses, marking schedule",
				zap.String("id", sched.ID),
				zap.String("expression", sched.CronExpression),
				zap.Error(err))
			if uerr := m.store.UpdateStatus(ctx, sched.ID, model.ScheduleStatusError); uerr != nil {
				m.logger.Error("Failed to update schedule status",
					zap.String("id", sched.ID),
					zap.Error(uerr))
			}
			continue
		}
		m.refreshNextRun(ctx, sched.ID, sched.CronExpression)
		registered++
	}

	if err := m.trigger.Start(ctx); err != nil {
		m.pool.Stop()
		return err
	}

	m.started = true
	m.logger.Info("Manager started",
		zap.Int("schedules", len(schedules)),
		zap.Int("registered", registered),
		zap.Int("workers", m.config.Workers))
	return nil
}

// Stop unregisters everything, halts the timer loop and waits for in-flight
// executions to drain. Fires still queued but not yet started are dropped.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		m.logger.Warn("Manager not started")
		return
	}

	m.trigger.Stop()
	m.trigger.Clear()
	m.pool.Stop()
	m.started = false
	m.logger.Info("Manager stopped")
}

// CreateSchedule validates the cron expression, persists the schedule and
// registers it with the trigger engine. Invalid input never reaches the store.
func (m *Manager) CreateSchedule(ctx context.Context, req CreateScheduleRequest) (*model.Schedule, error) {
	schedule, err := ParseCron(req.CronExpression)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	next := NextRun(schedule, now)

	sched := &model.Schedule{
		ID:             uuid.New().String(),
		Name:           req.Name,
		Description:    req.Description,
		CronExpression: req.CronExpression,
		ExecutorName:   req.ExecutorName,
		ExecutorInput:  req.ExecutorInput,
		Status:         model.ScheduleStatusActive,
		Timeout:        req.Timeout,
		CreatedAt:      now,
		NextRunAt:      timePtr(next),
	}

	if err := m.store.InsertSchedule(ctx, sched); err != nil {
		return nil, err
	}

	m.registerIfStarted(sched)

	m.logger.Info("Created schedule",
		zap.String("id", sched.ID),
		zap.String("name", sched.Name),
		zap.String("expression", sched.CronExpression),
		zap.Time("next_run", next))

	m.publish(ctx, events.SubjectScheduleCreated, sched)
	return sched, nil
}

// GetSchedule returns a schedule by id, or nil when it does not exist.
func (m *Manager) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	return m.store.GetSchedule(ctx, id)
}

// ListSchedules returns every stored schedule in creation order.
func (m *Manager) ListSchedules(ctx context.Context) ([]*model.Schedule, error) {
	return m.store.ListSchedules(ctx)
}

// PauseSchedule marks a schedule paused and removes it from the trigger
// engine entirely, so it cannot fire until resumed.
func (m *Manager) PauseSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	if err := m.store.UpdateStatus(ctx, id, model.ScheduleStatusPaused); err != nil {
		return nil, err
	}
	m.trigger.Unregister(id)

	sched, err := m.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Paused schedule", zap.String("id", id))
	m.publish(ctx, events.SubjectSchedulePaused, sched)
	return sched, nil
}

// ResumeSchedule marks a schedule active again, recomputes its next fire
// time from now and puts it back into the trigger engine. Resuming a
// schedule in the error state clears the error.
func (m *Manager) ResumeSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	if err := m.store.UpdateStatus(ctx, id, model.ScheduleStatusActive); err != nil {
		return nil, err
	}

	sched, err := m.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrScheduleNotFound, id)
	}

	m.refreshNextRun(ctx, sched.ID, sched.CronExpression)
	m.registerIfStarted(sched)

	m.logger.Info("Resumed schedule", zap.String("id", id))
	m.publish(ctx, events.SubjectScheduleResumed, sched)
	return sched, nil
}

// DeleteSchedule removes a schedule from the store and the trigger engine.
// Deleting an absent id reports false without error. Execution history for
// the id is kept.
func (m *Manager) DeleteSchedule(ctx context.Context, id string) (bool, error) {
	m.trigger.Unregister(id)

	deleted, err := m.store.DeleteSchedule(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		m.logger.Info("Deleted schedule", zap.String("id", id))
		m.publish(ctx, events.SubjectScheduleDeleted, map[string]string{"id": id})
	}
	return deleted, nil
}

// TriggerNow runs one attempt synchronously, bypassing the clock and the
// worker pool. An unknown id yields a failed result rather than an error;
// a run already in flight yields executor.ErrAlreadyRunning.
func (m *Manager) TriggerNow(ctx context.Context, id string) (*model.TriggerResult, error) {
	sched, err := m.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return &model.TriggerResult{
			Status: model.ExecutionStatusFailed,
			Error:  fmt.Sprintf("schedule not found: %s", id),
		}, nil
	}

	record, err := m.coordinator.Execute(ctx, sched)
	if err != nil {
		return nil, err
	}

	m.publish(ctx, events.SubjectExecutionCompleted, record)

	return &model.TriggerResult{
		Status:      record.Status,
		Error:       record.Error,
		ExecutionID: record.ID,
		Result:      record.Result,
	}, nil
}

// ExecutionHistory lists up to limit records for a schedule, newest first.
// A limit of zero or less uses the default of 100.
func (m *Manager) ExecutionHistory(ctx context.Context, id string, limit int) ([]*model.ExecutionRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return m.store.ListExecutions(ctx, id, limit)
}

// PurgeHistoryBefore deletes execution records older than cutoff and
// returns how many were removed.
func (m *Manager) PurgeHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.store.PurgeExecutionsBefore(ctx, cutoff)
}

// Stats summarizes stored schedules by status plus live engine state.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	counts, err := m.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Schedules: counts,
		Running:   len(m.coordinator.Running()),
		Pending:   m.trigger.Pending(),
	}, nil
}

// handleDue moves a due fire off the timer loop onto the worker pool.
func (m *Manager) handleDue(id string, next time.Time) {
	ok := m.pool.Submit(func(ctx context.Context) {
		m.runDue(ctx, id, next)
	})
	if !ok {
		m.logger.Warn("Execution queue full, dropping fire",
			zap.String("schedule_id", id))
	}
}

// runDue executes one cron fire on a pool worker. The schedule is reloaded
// so fires queued before a pause or delete land harmlessly.
func (m *Manager) runDue(ctx context.Context, id string, next time.Time) {
	sched, err := m.store.GetSchedule(ctx, id)
	if err != nil {
		m.logger.Error("Failed to load due schedule",
			zap.String("schedule_id", id),
			zap.Error(err))
		return
	}
	if sched == nil {
		m.logger.Warn("Due schedule no longer exists", zap.String("schedule_id", id))
		return
	}
	if sched.Status == model.ScheduleStatusPaused {
		m.logger.Info("Skipping fire for paused schedule", zap.String("schedule_id", id))
		return
	}

	if err := m.store.UpdateNextRun(ctx, id, timePtr(next)); err != nil {
		m.logger.Error("Failed to update next run time",
			zap.String("schedule_id", id),
			zap.Error(err))
	}

	record, err := m.coordinator.Execute(ctx, sched)
	if err != nil {
		if errors.Is(err, executor.ErrAlreadyRunning) {
			m.logger.Info("Skipping overlapping fire", zap.String("schedule_id", id))
			return
		}
		m.logger.Error("Execution dispatch failed",
			zap.String("schedule_id", id),
			zap.Error(err))
		return
	}

	m.publish(ctx, events.SubjectExecutionCompleted, record)
}

// registerIfStarted syncs a new or resumed schedule into a running trigger
// engine. Before Start the engine is empty and Start registers from the store.
func (m *Manager) registerIfStarted(sched *model.Schedule) {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return
	}
	if err := m.trigger.Register(sched.ID, sched.CronExpression, m.handleDue); err != nil {
		m.logger.Error("Failed to register schedule",
			zap.String("id", sched.ID),
			zap.Error(err))
	}
}

// refreshNextRun recomputes and persists next_run_at from now.
func (m *Manager) refreshNextRun(ctx context.Context, id, expr string) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return
	}
	next := NextRun(schedule, time.Now())
	if err := m.store.UpdateNextRun(ctx, id, timePtr(next)); err != nil {
		m.logger.Error("Failed to update next run time",
			zap.String("schedule_id", id),
			zap.Error(err))
	}
}

// publish emits a best-effort event.
func (m *Manager) publish(ctx context.Context, subject string, payload interface{}) {
	if err := m.events.Publish(ctx, subject, payload); err != nil {
		m.logger.Warn("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// timePtr converts a next-fire time to its stored form, nil when the
// expression has no future activation.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
