package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/schedd/internal/events"
	"github.com/t77yq/schedd/internal/model"
	"github.com/t77yq/schedd/internal/testutil"
)

var recordSeq int

func publishRecord(t *testing.T, publisher events.Publisher, scheduleID string, status model.ExecutionStatus) {
	t.Helper()

	recordSeq++
	record := &model.ExecutionRecord{
		ID:         fmt.Sprintf("exec-%d", recordSeq),
		ScheduleID: scheduleID,
		Status:     status,
		StartedAt:  time.Now(),
	}
	if status == model.ExecutionStatusFailed {
		record.Error = "exit status 1"
	}
	require.NoError(t, publisher.Publish(context.Background(), events.SubjectExecutionCompleted, record))
}

func waitForAlerts(t *testing.T, alerter *Alerter, want int) []*model.Alert {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		alerts := alerter.Alerts()
		if len(alerts) >= want {
			return alerts
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d alerts", want)
	return nil
}

func waitForStreak(t *testing.T, alerter *Alerter, scheduleID string, want int) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		alerter.mu.Lock()
		streak := alerter.streaks[scheduleID]
		alerter.mu.Unlock()
		if streak == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for streak %d on %s", want, scheduleID)
}

func startAlerter(t *testing.T, threshold int) (*Alerter, events.Publisher, nats.JetStreamContext) {
	t.Helper()

	_, js := testutil.StartJetStream(t)
	logger := zaptest.NewLogger(t)

	publisher, err := events.NewJetStreamPublisher(js, logger)
	require.NoError(t, err)

	alerter := NewAlerter(js, publisher, threshold, logger)
	require.NoError(t, alerter.Start(context.Background()))
	t.Cleanup(alerter.Stop)

	return alerter, publisher, js
}

func TestAlerterRaisesAfterThreshold(t *testing.T) {
	alerter, publisher, js := startAlerter(t, 3)

	for i := 0; i < 3; i++ {
		publishRecord(t, publisher, "sched-1", model.ExecutionStatusFailed)
	}

	alerts := waitForAlerts(t, alerter, 1)
	require.Len(t, alerts, 1)
	assert.Equal(t, "sched-1", alerts[0].ScheduleID)
	assert.Equal(t, 3, alerts[0].Failures)
	assert.Contains(t, alerts[0].Message, "3 times in a row")

	messages := testutil.ConsumeMessages(t, js, events.SubjectAlertRaised, 2*time.Second)
	require.NotEmpty(t, messages)

	var raised model.Alert
	require.NoError(t, json.Unmarshal(messages[0], &raised))
	assert.Equal(t, "sched-1", raised.ScheduleID)

	// The streak already alerted; further failures stay quiet until a
	// success resets it.
	publishRecord(t, publisher, "sched-1", model.ExecutionStatusFailed)
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, alerter.Alerts(), 1)
}

func TestAlerterSuccessResetsStreak(t *testing.T) {
	alerter, publisher, _ := startAlerter(t, 3)

	publishRecord(t, publisher, "sched-1", model.ExecutionStatusFailed)
	publishRecord(t, publisher, "sched-1", model.ExecutionStatusFailed)
	publishRecord(t, publisher, "sched-1", model.ExecutionStatusSuccess)
	publishRecord(t, publisher, "sched-1", model.ExecutionStatusFailed)
	publishRecord(t, publisher, "sched-1", model.ExecutionStatusFailed)

	time.Sleep(500 * time.Millisecond)
	assert.Empty(t, alerter.Alerts())

	publishRecord(t, publisher, "sched-1", model.ExecutionStatusFailed)
	alerts := waitForAlerts(t, alerter, 1)
	assert.Equal(t, 3, alerts[0].Failures)
}

func TestAlerterDeletionClearsStreak(t *testing.T) {
	alerter, publisher, _ := startAlerter(t, 3)

	publishRecord(t, publisher, "sched-1", model.ExecutionStatusFailed)
	publishRecord(t, publisher, "sched-1", model.ExecutionStatusFailed)
	waitForStreak(t, alerter, "sched-1", 2)

	require.NoError(t, publisher.Publish(context.Background(),
		events.SubjectScheduleDeleted, map[string]string{"id": "sched-1"}))
	waitForStreak(t, alerter, "sched-1", 0)

	// The streak restarts from scratch, so two more failures stay below
	// the threshold.
	publishRecord(t, publisher, "sched-1", model.ExecutionStatusFailed)
	publishRecord(t, publisher, "sched-1", model.ExecutionStatusFailed)
	waitForStreak(t, alerter, "sched-1", 2)
	assert.Empty(t, alerter.Alerts())

	publishRecord(t, publisher, "sched-1", model.ExecutionStatusFailed)
	alerts := waitForAlerts(t, alerter, 1)
	assert.Equal(t, 3, alerts[0].Failures)
}

func TestAlerterTracksSchedulesIndependently(t *testing.T) {
	alerter, publisher, _ := startAlerter(t, 2)

	publishRecord(t, publisher, "sched-a", model.ExecutionStatusFailed)
	publishRecord(t, publisher, "sched-b", model.ExecutionStatusFailed)

	time.Sleep(500 * time.Millisecond)
	assert.Empty(t, alerter.Alerts())

	publishRecord(t, publisher, "sched-a", model.ExecutionStatusFailed)

	alerts := waitForAlerts(t, alerter, 1)
	require.Len(t, alerts, 1)
	assert.Equal(t, "sched-a", alerts[0].ScheduleID)
}

func TestAlerterDefaultThreshold(t *testing.T) {
	alerter := NewAlerter(nil, events.NopPublisher{}, 0, zaptest.NewLogger(t))
	assert.Equal(t, defaultFailureThreshold, alerter.threshold)
}
