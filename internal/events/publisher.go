package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Stream and subject layout for schedule lifecycle and execution events
const (
	StreamName = "SCHEDD"

	SubjectScheduleCreated = "schedule.created"
	SubjectSchedulePaused  = "schedule.paused"
	SubjectScheduleResumed = "schedule.resumed"
	SubjectScheduleDeleted = "schedule.deleted"

	SubjectExecutionCompleted = "execution.completed"

	SubjectAlertRaised = "alert.raised"
	SubjectMetrics     = "metrics.scheduler"

	streamMaxAge = 24 * time.Hour
)

var streamSubjects = []string{"schedule.*", "execution.*", "alert.*", "metrics.*"}

// Publisher emits schedule lifecycle and execution events. Publishing is
// best-effort: callers log failures and move on.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
}

// NopPublisher discards all events
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	return nil
}

// JetStreamPublisher publishes events to a NATS JetStream stream
type JetStreamPublisher struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewJetStreamPublisher ensures the event stream exists and returns a
// publisher bound to it
func NewJetStreamPublisher(js nats.JetStreamContext, logger *zap.Logger) (*JetStreamPublisher, error) {
	_, err := js.StreamInfo(StreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return nil, fmt.Errorf("failed to get stream info: %w", err)
		}

		_, err = js.AddStream(&nats.StreamConfig{
			Name:     StreamName,
			Subjects: streamSubjects,
			Storage:  nats.FileStorage,
			MaxAge:   streamMaxAge,
			MaxMsgs:  -1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
		logger.Info("Created event stream", zap.String("name", StreamName))
	} else {
		logger.Info("Using existing event stream", zap.String("name", StreamName))
	}

	return &JetStreamPublisher{
		logger: logger.Named("events"),
		js:     js,
	}, nil
}

// Publish implements Publisher
func (p *JetStreamPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Published event", zap.String("subject", subject))
	return nil
}
