package relayclient

import (
	"log/slog"
	"sync"

	"github.com/johndosdos/relay/internal/model"
)

// History mirrors the message log the way a chat view keeps it: replaced by
// every snapshot, extended by every created message.
type History struct {
	mu   sync.Mutex
	msgs []model.Message
}

// Apply folds one relay frame into the history. Other frame types are
// ignored.
func (h *History) Apply(f model.Frame) {
	switch f.Type {
	case model.InitialMessages:
		msgs, err := f.Messages()
		if err != nil {
			slog.Warn("dropping history snapshot", "error", err)
			return
		}
		h.mu.Lock()
		h.msgs = msgs
		h.mu.Unlock()

	case model.MessageCreated:
		m, err := f.Message()
		if err != nil {
			slog.Warn("dropping created message", "error", err)
			return
		}
		h.mu.Lock()
		h.msgs = append(h.msgs, m)
		h.mu.Unlock()
	}
}

// Messages returns a copy of every message seen so far.
func (h *History) Messages() []model.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.Message, len(h.msgs))
	for i, m := range h.msgs {
		out[i] = m.Clone()
	}
	return out
}

// Conversation returns the messages exchanged between a and b, in log order.
func (h *History) Conversation(a, b string) []model.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []model.Message
	for _, m := range h.msgs {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, m.Clone())
		}
	}
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}
