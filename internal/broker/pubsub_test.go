package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/relay/internal/model"
)

func TestConnectRequiresURL(t *testing.T) {
	_, err := Connect("", Credentials{})
	assert.Error(t, err)
}

// Needs a JetStream-enabled server, e.g. `nats-server -js`.
func TestJetStreamRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := Connect(url, Credentials{})
	require.NoError(t, err)
	defer conn.Close()

	b, err := NewJetStream(ctx, conn)
	require.NoError(t, err)

	out := make(chan model.Message, 1)
	require.NoError(t, b.Subscribe(ctx, out))

	want := model.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "hi", Timestamp: "2024-01-01T00:00:00Z"}
	require.NoError(t, b.Publish(ctx, want))

	select {
	case got := <-out:
		assert.Equal(t, want, got)
	case <-ctx.Done():
		t.Fatal("timed out waiting for broker delivery")
	}
}
