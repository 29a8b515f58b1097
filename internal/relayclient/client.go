// Package relayclient keeps one reconnecting connection to the relay and
// fans inbound frames out to local subscribers.
package relayclient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/johndosdos/relay/internal/model"
)

type State int

const (
	Idle State = iota
	Connecting
	Open
	GivenUp
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case GivenUp:
		return "given_up"
	default:
		return "unknown"
	}
}

type Options struct {
	URL string

	// MaxAttempts caps consecutive failed dials before the client gives up.
	MaxAttempts          int
	ReconnectDelay       time.Duration
	ManualReconnectDelay time.Duration
	WriteTimeout         time.Duration

	// MaxSubscribers bounds each subscriber list.
	MaxSubscribers int

	// HTTPClient performs the handshake. nil uses http.DefaultClient.
	HTTPClient *http.Client
}

func DefaultOptions(url string) Options {
	return Options{
		URL:                  url,
		MaxAttempts:          3,
		ReconnectDelay:       2 * time.Second,
		ManualReconnectDelay: 500 * time.Millisecond,
		WriteTimeout:         10 * time.Second,
		MaxSubscribers:       64,
	}
}

var errEmptyURL = errors.New("relay url is empty")

// Client owns at most one connection to the relay. All methods are safe for
// concurrent use.
type Client struct {
	opts Options

	mu       sync.Mutex
	state    State
	attempts int
	conn     *websocket.Conn
	// gen is bumped by ManualReconnect and Close; dials and read loops
	// started under an older generation drop their results.
	gen        uint64
	cancelDial context.CancelFunc
	retry      *time.Timer
	manual     *time.Timer
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc

	messages    *subscribers[model.Frame]
	connections *subscribers[bool]
}

// New returns an idle client. Zero option fields take the defaults.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errEmptyURL
	}
	def := DefaultOptions(opts.URL)
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	if opts.ManualReconnectDelay <= 0 {
		opts.ManualReconnectDelay = def.ManualReconnectDelay
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.MaxSubscribers <= 0 {
		opts.MaxSubscribers = def.MaxSubscribers
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
		messages:    newSubscribers[model.Frame]("message", opts.MaxSubscribers),
		connections: newSubscribers[bool]("connection", opts.MaxSubscribers),
	}, nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of consecutive dials since the last successful
// open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect starts a dial in the background. It is a no-op while connecting,
// open or closed, and moves the client to GivenUp once the attempt cap is
// reached.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectLocked()
}

func (c *Client) connectGen(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.connectLocked()
}

func (c *Client) connectLocked() {
	if c.closed || c.state == Connecting || c.state == Open {
		return
	}
	if c.attempts >= c.opts.MaxAttempts {
		if c.state != GivenUp {
			slog.Warn("relay connection failed, giving up", "attempts", c.attempts, "url", c.opts.URL)
		}
		c.state = GivenUp
		return
	}

	c.attempts++
	c.state = Connecting

	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelDial = cancel
	slog.Debug("connecting to relay", "url", c.opts.URL, "attempt", c.attempts)
	go c.dial(ctx, c.gen)
}

func (c *Client) dial(ctx context.Context, gen uint64) {
	conn, _, err := websocket.Dial(ctx, c.opts.URL, &websocket.DialOptions{
		HTTPClient: c.opts.HTTPClient,
	})

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.CloseNow() //nolint:errcheck
		}
		return
	}
	// Dial only uses ctx for the handshake.
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}

	if err != nil {
		c.state = Idle
		slog.Warn("failed to connect to relay",
			"error", err,
			"url", c.opts.URL,
			"attempt", c.attempts)
		c.scheduleRetryLocked()
		c.mu.Unlock()
		return
	}

	c.attempts = 0
	c.state = Open
	c.conn = conn
	c.mu.Unlock()

	slog.Info("connected to relay", "url", c.opts.URL)
	c.connections.publish(true)
	go c.readLoop(gen, conn)
}

// scheduleRetryLocked arms the automatic reconnect, or gives up when the
// attempt cap is reached.
func (c *Client) scheduleRetryLocked() {
	if c.attempts >= c.opts.MaxAttempts {
		slog.Warn("relay connection failed, giving up", "attempts", c.attempts, "url", c.opts.URL)
		c.state = GivenUp
		return
	}
	if c.retry != nil {
		c.retry.Stop()
	}
	gen := c.gen
	c.retry = time.AfterFunc(c.opts.ReconnectDelay, func() { c.connectGen(gen) })
}

func (c *Client) readLoop(gen uint64, conn *websocket.Conn) {
	conn.SetReadLimit(1 << 20)

	for {
		typ, p, err := conn.Read(c.ctx)
		if err != nil {
			c.handleDrop(gen, conn, err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		frame, err := model.DecodeFrame(p)
		if err != nil {
			slog.Warn("dropping malformed relay frame", "error", err)
			continue
		}
		c.messages.publish(frame)
	}
}

// handleDrop runs when the read loop of an open connection fails.
func (c *Client) handleDrop(gen uint64, conn *websocket.Conn, err error) {
	c.mu.Lock()
	if gen != c.gen || c.conn != conn || c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Idle
	c.scheduleRetryLocked()
	c.mu.Unlock()

	conn.CloseNow() //nolint:errcheck
	slog.Info("relay connection lost", "error", err, "status", websocket.CloseStatus(err))
	c.connections.publish(false)
}

// Send writes one {type, payload} frame. It reports false without touching
// the network when no connection is open.
func (c *Client) Send(kind model.EventType, payload any) bool {
	c.mu.Lock()
	conn := c.conn
	open := c.state == Open && conn != nil
	c.mu.Unlock()
	if !open {
		return false
	}

	p, err := model.EncodeFrame(kind, payload)
	if err != nil {
		slog.Error("failed to encode frame", "error", err, "type", kind)
		return false
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, p); err != nil {
		slog.Warn("failed to send frame", "error", err, "type", kind)
		// The read loop sees the dead connection and schedules a reconnect.
		conn.CloseNow() //nolint:errcheck
		return false
	}
	return true
}

// OnMessage registers fn for every decoded inbound frame. Callbacks run on
// the read goroutine in arrival order.
func (c *Client) OnMessage(fn func(model.Frame)) (remove func()) {
	return c.messages.add(fn)
}

// OnConnectionChange registers fn for connected/disconnected transitions.
func (c *Client) OnConnectionChange(fn func(bool)) (remove func()) {
	return c.connections.add(fn)
}

// ManualReconnect drops the current connection and pending retries, resets
// the attempt counter and dials again after a short delay, even from
// GivenUp.
func (c *Client) ManualReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.stopTimersLocked()
	old := c.conn
	c.conn = nil
	c.attempts = 0
	c.state = Idle

	gen := c.gen
	c.manual = time.AfterFunc(c.opts.ManualReconnectDelay, func() { c.connectGen(gen) })
	c.mu.Unlock()

	if old != nil {
		old.CloseNow() //nolint:errcheck
	}
	slog.Info("manual relay reconnect scheduled", "delay", c.opts.ManualReconnectDelay)
	c.connections.publish(false)
}

// Close tears the client down for good.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	c.stopTimersLocked()
	old := c.conn
	c.conn = nil
	c.state = Idle
	c.mu.Unlock()

	c.cancel()
	if old != nil {
		old.Close(websocket.StatusNormalClosure, "") //nolint:errcheck
	}
}

func (c *Client) stopTimersLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.manual != nil {
		c.manual.Stop()
		c.manual = nil
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
}
