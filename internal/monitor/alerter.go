package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/schedd/internal/events"
	"github.com/t77yq/schedd/internal/model"
)

const defaultFailureThreshold = 3

// Alerter watches completed executions on the event stream and raises an
// alert when one schedule fails threshold times in a row. A success or the
// schedule's deletion resets the streak, so each streak raises at most one
// alert.
type Alerter struct {
	logger    *zap.Logger
	js        nats.JetStreamContext
	publisher events.Publisher
	threshold int

	mu      sync.Mutex
	streaks map[string]int
	alerts  []*model.Alert
	subs    []*nats.Subscription
}

// NewAlerter creates an alerter. A threshold of zero or less uses the
// default of 3.
func NewAlerter(js nats.JetStreamContext, publisher events.Publisher, threshold int, logger *zap.Logger) *Alerter {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	return &Alerter{
		logger:    logger.Named("alerter"),
		js:        js,
		publisher: publisher,
		threshold: threshold,
		streaks:   make(map[string]int),
	}
}

// Start subscribes to completed executions and schedule deletions.
func (a *Alerter) Start(ctx context.Context) error {
	execSub, err := a.js.Subscribe(events.SubjectExecutionCompleted, a.handleExecution)
	if err != nil {
		return fmt.Errorf("failed to subscribe to executions: %w", err)
	}

	deletedSub, err := a.js.Subscribe(events.SubjectScheduleDeleted, a.handleDeleted)
	if err != nil {
		execSub.Unsubscribe()
		return fmt.Errorf("failed to subscribe to deletions: %w", err)
	}

	a.subs = []*nats.Subscription{execSub, deletedSub}

	a.logger.Info("Alerter started", zap.Int("threshold", a.threshold))
	return nil
}

// Stop drops the subscriptions.
func (a *Alerter) Stop() {
	for _, sub := range a.subs {
		sub.Unsubscribe()
	}
}

// Alerts returns every alert raised so far.
func (a *Alerter) Alerts() []*model.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	alerts := make([]*model.Alert, len(a.alerts))
	copy(alerts, a.alerts)
	return alerts
}

// handleExecution updates the failure streak for one completed execution.
func (a *Alerter) handleExecution(msg *nats.Msg) {
	var record model.ExecutionRecord
	if err := json.Unmarshal(msg.Data, &record); err != nil {
		a.logger.Error("Failed to unmarshal execution record", zap.Error(err))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if record.Status == model.ExecutionStatusSuccess {
		delete(a.streaks, record.ScheduleID)
		return
	}

	a.streaks[record.ScheduleID]++
	streak := a.streaks[record.ScheduleID]
	if streak != a.threshold {
		return
	}

	alert := &model.Alert{
		ID:         uuid.New().String(),
		ScheduleID: record.ScheduleID,
		Message:    fmt.Sprintf("schedule failed %d times in a row", streak),
		Failures:   streak,
		RaisedAt:   time.Now(),
	}
	a.alerts = append(a.alerts, alert)

	a.logger.Warn("Raising alert",
		zap.String("schedule_id", alert.ScheduleID),
		zap.Int("failures", alert.Failures))

	if err := a.publisher.Publish(context.Background(), events.SubjectAlertRaised, alert); err != nil {
		a.logger.Error("Failed to publish alert", zap.Error(err))
	}
}

// handleDeleted forgets the streak of a schedule that no longer exists.
func (a *Alerter) handleDeleted(msg *nats.Msg) {
	var event struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		a.logger.Error("Failed to unmarshal deletion event", zap.Error(err))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.streaks, event.ID)
}
