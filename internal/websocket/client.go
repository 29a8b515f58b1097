package websocket

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const writeTimeout = 10 * time.Second

// Client is one live relay connection.
type Client struct {
	ID         string // logging only
	RemoteAddr string // logging only
	conn       *websocket.Conn
	Hub        *Hub
	MessageCh  chan []byte // encoded frames
	messageLim *rate.Limiter

	// Set by the hub right before it closes MessageCh.
	closeStatus websocket.StatusCode
	closeReason string
}

// NewClient wraps conn with an outbound queue sized for this hub.
func (h *Hub) NewClient(conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
		conn:       conn,
		MessageCh:  make(chan []byte, h.sendBuffer),
	}
}

func (c *Client) SetMessageLimiter(requests int, window time.Duration) {
	l := rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
	c.messageLim = l
}

func (c *Client) allowMessage() bool {
	return c.messageLim == nil || c.messageLim.Allow()
}

// close ends the writer loop. Only the hub calls it, once per client.
func (c *Client) close(status websocket.StatusCode, reason string) {
	c.closeStatus = status
	c.closeReason = reason
	close(c.MessageCh)
}

// WriteMessage drains the outbound queue onto the websocket stream and
// keeps the connection alive with pings.
func (c *Client) WriteMessage(ctx context.Context) {
	var ping <-chan time.Time
	if c.Hub != nil && c.Hub.pingInterval > 0 {
		ticker := time.NewTicker(c.Hub.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case p, ok := <-c.MessageCh:
			// The hub closed our queue: unregistered, evicted or shutting down.
			if !ok {
				status := c.closeStatus
				if status == 0 {
					status = websocket.StatusNormalClosure
				}
				c.conn.Close(status, c.closeReason) //nolint:errcheck
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, p)
			cancel()
			if err != nil {
				slog.WarnContext(ctx, "failed to write frame",
					"error", err,
					"conn_id", c.ID)
				// The reader sees the broken connection and unregisters us.
				c.conn.CloseNow() //nolint:errcheck
				return
			}

		case <-ping:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.WarnContext(ctx, "keepalive ping failed",
					"error", err,
					"conn_id", c.ID)
				c.conn.CloseNow() //nolint:errcheck
				return
			}

		case <-ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "context cancelled") //nolint:errcheck
			return
		}
	}
}
