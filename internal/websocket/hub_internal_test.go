package websocket

import (
	"context"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/relay/internal/model"
)

type memLog struct{ msgs []model.Message }

func (l *memLog) ReadAll(context.Context) ([]model.Message, error) { return l.msgs, nil }

func (l *memLog) Append(_ context.Context, m model.Message) (model.Message, error) {
	l.msgs = append(l.msgs, m)
	return m, nil
}

func TestBroadcastEvictsSlowClient(t *testing.T) {
	h := NewHub(&memLog{}, WithSendBuffer(1))

	slow := h.NewClient(nil, "slow")
	fast := h.NewClient(nil, "fast")
	h.clients[slow] = struct{}{}
	h.clients[fast] = struct{}{}
	slow.MessageCh <- []byte("backlog")

	h.broadcast(model.Message{ID: "1", SenderID: "a", ReceiverID: "b", Content: "c"})

	assert.NotContains(t, h.clients, slow)
	assert.Contains(t, h.clients, fast)
	assert.Equal(t, websocket.StatusTryAgainLater, slow.closeStatus)

	// The backlog is still drained before the writer sees the close.
	p, ok := <-slow.MessageCh
	assert.True(t, ok)
	assert.Equal(t, "backlog", string(p))
	_, ok = <-slow.MessageCh
	assert.False(t, ok)

	f, err := model.DecodeFrame(<-fast.MessageCh)
	require.NoError(t, err)
	assert.Equal(t, model.MessageCreated, f.Type)
}

func TestRegisterQueuesSnapshotFirst(t *testing.T) {
	log := &memLog{msgs: []model.Message{{ID: "1", SenderID: "a", ReceiverID: "b", Content: "c"}}}
	h := NewHub(log)

	c := h.NewClient(nil, "test")
	reg := Registration{Client: c, Done: make(chan struct{})}
	h.register(context.Background(), reg)

	select {
	case <-reg.Done:
	default:
		t.Fatal("registration not acknowledged")
	}
	assert.Contains(t, h.clients, c)
	assert.Same(t, h, c.Hub)

	f, err := model.DecodeFrame(<-c.MessageCh)
	require.NoError(t, err)
	assert.Equal(t, model.InitialMessages, f.Type)
	msgs, err := f.Messages()
	require.NoError(t, err)
	assert.Equal(t, log.msgs, msgs)
}

func TestAcceptKeepsContentByDefault(t *testing.T) {
	log := &memLog{}
	h := NewHub(log)

	stored, err := h.accept(context.Background(), model.Message{ID: "1", SenderID: "a", ReceiverID: "b", Content: "<b>bold</b>"})
	require.NoError(t, err)
	assert.Equal(t, "<b>bold</b>", stored.Content)
	assert.Equal(t, "<b>bold</b>", log.msgs[0].Content)
}
