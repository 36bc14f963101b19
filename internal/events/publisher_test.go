package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/schedd/internal/testutil"
)

func TestJetStreamPublisher(t *testing.T) {
	_, js := testutil.StartJetStream(t)
	logger := zaptest.NewLogger(t)

	publisher, err := NewJetStreamPublisher(js, logger)
	require.NoError(t, err)

	info, err := js.StreamInfo(StreamName)
	require.NoError(t, err)
	assert.Equal(t, streamSubjects, info.Config.Subjects)

	payload := map[string]string{"id": "sched-1", "name": "Daily Backup"}
	require.NoError(t, publisher.Publish(context.Background(), SubjectScheduleCreated, payload))

	messages := testutil.ConsumeMessages(t, js, SubjectScheduleCreated, 2*time.Second)
	require.Len(t, messages, 1)

	var got map[string]string
	require.NoError(t, json.Unmarshal(messages[0], &got))
	assert.Equal(t, "sched-1", got["id"])
	assert.Equal(t, "Daily Backup", got["name"])
}

func TestJetStreamPublisherReusesStream(t *testing.T) {
	_, js := testutil.StartJetStream(t)
	logger := zaptest.NewLogger(t)

	first, err := NewJetStreamPublisher(js, logger)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := NewJetStreamPublisher(js, logger)
	require.NoError(t, err)
	require.NotNil(t, second)

	info, err := js.StreamInfo(StreamName)
	require.NoError(t, err)
	assert.Equal(t, StreamName, info.Config.Name)
}

func TestJetStreamPublisherMarshalError(t *testing.T) {
	_, js := testutil.StartJetStream(t)

	publisher, err := NewJetStreamPublisher(js, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = publisher.Publish(context.Background(), SubjectScheduleCreated, func() {})
	require.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	err := NopPublisher{}.Publish(context.Background(), SubjectScheduleCreated, map[string]string{"id": "x"})
	require.NoError(t, err)
}
