package relayclient_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/relay/internal/model"
	"github.com/johndosdos/relay/internal/relayclient"
)

func frame(t *testing.T, typ model.EventType, payload any) model.Frame {
	t.Helper()
	p, err := model.EncodeFrame(typ, payload)
	require.NoError(t, err)
	f, err := model.DecodeFrame(p)
	require.NoError(t, err)
	return f
}

func TestHistory_Apply(t *testing.T) {
	m1 := model.Message{ID: "1", SenderID: "u1", ReceiverID: "u2", Content: "hi"}
	m2 := model.Message{ID: "2", SenderID: "u2", ReceiverID: "u1", Content: "hey"}
	m3 := model.Message{ID: "3", SenderID: "u3", ReceiverID: "u1", Content: "yo"}

	var h relayclient.History
	h.Apply(frame(t, model.MessageCreated, m3))
	h.Apply(frame(t, model.InitialMessages, []model.Message{m1}))
	assert.Equal(t, []model.Message{m1}, h.Messages())

	h.Apply(frame(t, model.MessageCreated, m2))
	h.Apply(frame(t, model.MessageCreated, m3))
	assert.Equal(t, 3, h.Len())

	assert.Equal(t, []model.Message{m1, m2}, h.Conversation("u1", "u2"))
	assert.Equal(t, []model.Message{m1, m2}, h.Conversation("u2", "u1"))
	assert.Equal(t, []model.Message{m3}, h.Conversation("u1", "u3"))
	assert.Empty(t, h.Conversation("u2", "u3"))
}

func TestHistory_IgnoresBadFrames(t *testing.T) {
	m1 := model.Message{ID: "1", SenderID: "u1", ReceiverID: "u2", Content: "hi"}

	var h relayclient.History
	h.Apply(frame(t, model.InitialMessages, []model.Message{m1}))

	h.Apply(model.Frame{Type: model.InitialMessages, Payload: json.RawMessage(`{"not":"a list"}`)})
	h.Apply(model.Frame{Type: model.MessageCreated, Payload: json.RawMessage(`[1,2]`)})
	h.Apply(model.Frame{Type: "TYPING", Payload: json.RawMessage(`{}`)})

	assert.Equal(t, []model.Message{m1}, h.Messages())
}

func TestHistory_MessagesIsACopy(t *testing.T) {
	m := model.Message{ID: "1", SenderID: "u1", ReceiverID: "u2", Content: "hi", Thinking: []string{"a"}}

	var h relayclient.History
	h.Apply(frame(t, model.MessageCreated, m))

	got := h.Messages()
	got[0].Thinking[0] = "changed"
	assert.Equal(t, "a", h.Messages()[0].Thinking[0])
}
