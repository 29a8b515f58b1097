package websocket

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/johndosdos/relay/internal/metrics"
	"github.com/johndosdos/relay/internal/model"
)

// maxFrameSize bounds inbound frames; assistant messages with thinking steps
// exceed the library default.
const maxFrameSize = 1 << 20

// ReadMessage reads the incoming data from the websocket stream until the
// connection fails, then unregisters the client.
func (c *Client) ReadMessage(ctx context.Context) {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.done:
		}
		c.conn.CloseNow() //nolint:errcheck
	}()

	c.conn.SetReadLimit(maxFrameSize)

	for {
		msgType, p, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				status != -1 {
				slog.WarnContext(ctx, "connection closed", "error", err, "conn_id", c.ID)
			} else if status == -1 && !errors.Is(err, context.Canceled) {
				slog.DebugContext(ctx, "connection dropped", "error", err, "conn_id", c.ID)
			}
			return
		}

		// The relay only speaks JSON text frames.
		if msgType != websocket.MessageText {
			continue
		}

		frame, err := model.DecodeFrame(p)
		if err != nil {
			metrics.FramesReceived.WithLabelValues("invalid").Inc()
			slog.WarnContext(ctx, "dropping malformed frame",
				"error", err,
				"conn_id", c.ID)
			continue
		}

		switch frame.Type {
		case model.NewMessage:
			metrics.FramesReceived.WithLabelValues(string(frame.Type)).Inc()
			if !c.handleNewMessage(ctx, frame) {
				return
			}
		default:
			metrics.FramesReceived.WithLabelValues("unknown").Inc()
			slog.DebugContext(ctx, "ignoring frame", "type", frame.Type, "conn_id", c.ID)
		}
	}
}

// handleNewMessage reports false once the hub is gone.
func (c *Client) handleNewMessage(ctx context.Context, frame model.Frame) bool {
	msg, err := model.DecodeMessage(frame.Payload)
	if err != nil {
		slog.WarnContext(ctx, "dropping invalid message",
			"error", err,
			"conn_id", c.ID)
		return true
	}

	if !c.allowMessage() {
		metrics.RateLimited.Inc()
		slog.WarnContext(ctx, "rate limit exceeded, dropping message",
			"conn_id", c.ID,
			"remote_addr", c.RemoteAddr,
			"message_id", msg.ID)
		return true
	}

	return c.Hub.enqueue(ctx, msg.WithDefaults(time.Now()))
}
