package handler

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	ws "github.com/johndosdos/relay/internal/websocket"
)

// ServeWs handles the client's websocket connection upgrade.
func ServeWs(h *ws.Hub, opts *websocket.AcceptOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			// Accept has already written the error response.
			slog.WarnContext(ctx, "failed to upgrade connection",
				"error", err,
				"remote_addr", r.RemoteAddr)
			return
		}

		// We'll register our new client to the central hub.
		c := h.NewClient(conn, r.RemoteAddr)
		reg := ws.Registration{
			Client: c,
			Done:   make(chan struct{}),
		}

		select {
		case h.Register <- reg:
		case <-h.Done():
			conn.Close(websocket.StatusGoingAway, "relay shutting down") //nolint:errcheck
			return
		}

		// Wait for registration to complete. The snapshot is already queued.
		<-reg.Done

		// We block on c.ReadMessage() because the request context will be
		// canceled as soon as we return from the ServeWs() handler.
		go c.WriteMessage(ctx)
		c.ReadMessage(ctx)
	}
}
