package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// RunServer starts a NATS server on a random port.
func RunServer(storeDir string) (*server.Server, error) {
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  storeDir,
	}

	return server.NewServer(opts)
}

// StartJetStream starts an embedded NATS server with JetStream enabled and
// returns a connected JetStream context. Cleanup is registered on t.
func StartJetStream(t *testing.T) (*server.Server, nats.JetStreamContext) {
	t.Helper()

	s, err := RunServer(t.TempDir())
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		t.Fatal("Unable to start NATS server")
	}

	nc, err := nats.Connect(s.ClientURL(), nats.Timeout(5*time.Second))
	require.NoError(t, err)

	js, err := nc.JetStream(nats.MaxWait(5 * time.Second))
	require.NoError(t, err)

	t.Cleanup(func() {
		nc.Close()
		s.Shutdown()
	})

	return s, js
}

// ConsumeMessages collects everything published on a subject during the
// given window. The ephemeral subscription replays the stream from the
// start, so messages published before the call are included.
func ConsumeMessages(t *testing.T, js nats.JetStreamContext, subject string, window time.Duration) [][]byte {
	t.Helper()

	var (
		mu       sync.Mutex
		messages [][]byte
	)
	sub, err := js.Subscribe(subject, func(msg *nats.Msg) {
		mu.Lock()
		messages = append(messages, msg.Data)
		mu.Unlock()
	})
	require.NoError(t, err)
	t.Cleanup(func() { sub.Unsubscribe() })

	time.Sleep(window)

	mu.Lock()
	defer mu.Unlock()
	return append([][]byte(nil), messages...)
}
