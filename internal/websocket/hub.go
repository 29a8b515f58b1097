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

// ErrHubClosed is returned to producers once Run has returned.
var ErrHubClosed = errors.New("hub closed")

// messageLog is the part of the store the hub needs.
type messageLog interface {
	ReadAll(ctx context.Context) ([]model.Message, error)
	Append(ctx context.Context, m model.Message) (model.Message, error)
}

// Broker fans accepted messages out to every relay instance, this one
// included.
type Broker interface {
	Publish(ctx context.Context, msg model.Message) error
	Subscribe(ctx context.Context, out chan<- model.Message) error
}

type Registration struct {
	Client *Client
	Done   chan struct{}
}

type submission struct {
	msg    model.Message
	result chan submitResult // nil for fire-and-forget frames from clients
}

type submitResult struct {
	msg model.Message
	err error
}

// Hub owns the set of live connections for one message log. All
// registration, append and broadcast work happens on the Run goroutine, so
// broadcasts leave in the order NEW_MESSAGE events are processed.
type Hub struct {
	store      messageLog
	broker     Broker
	clients    map[*Client]struct{}
	Register   chan Registration
	Unregister chan *Client
	submit     chan submission
	BrokerMsg  chan model.Message
	sanitizer  model.Sanitizer
	done       chan struct{}

	sendBuffer    int
	messageRate   int
	messageWindow time.Duration
	pingInterval  time.Duration
}

type Option func(*Hub)

// WithBroker publishes accepted messages to b and broadcasts what b delivers.
func WithBroker(b Broker) Option {
	return func(h *Hub) { h.broker = b }
}

// WithSanitizer rewrites message content before it is stored. Content is
// relayed unchanged without one.
func WithSanitizer(s model.Sanitizer) Option {
	return func(h *Hub) { h.sanitizer = s }
}

// WithMessageLimit allows each connection requests NEW_MESSAGE frames per
// window. requests <= 0 disables the limit.
func WithMessageLimit(requests int, window time.Duration) Option {
	return func(h *Hub) {
		h.messageRate = requests
		h.messageWindow = window
	}
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithPingInterval sets the keepalive period. d <= 0 disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) { h.pingInterval = d }
}

// NewHub returns a new instance of Hub.
func NewHub(store messageLog, opts ...Option) *Hub {
	h := &Hub{
		store:        store,
		clients:      make(map[*Client]struct{}),
		Register:     make(chan Registration),
		Unregister:   make(chan *Client),
		submit:       make(chan submission, 1024),
		BrokerMsg:    make(chan model.Message, 1024),
		done:         make(chan struct{}),
		sendBuffer:   64,
		pingInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Run manages incoming and outgoing hub traffic until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	if h.broker != nil {
		if err := h.broker.Subscribe(ctx, h.BrokerMsg); err != nil {
			slog.ErrorContext(ctx, "failed to subscribe to broker", "error", err)
			return
		}
	}

	for {
		select {
		case reg := <-h.Register:
			h.register(ctx, reg)

		case client := <-h.Unregister:
			h.remove(client, websocket.StatusNormalClosure, "")

		case sub := <-h.submit:
			stored, err := h.accept(ctx, sub.msg)
			if sub.result != nil {
				sub.result <- submitResult{msg: stored, err: err}
			}

		case msg := <-h.BrokerMsg:
			h.broadcast(msg)

		case <-ctx.Done():
			slog.InfoContext(ctx, "hub stopping", "reason", ctx.Err(), "clients", len(h.clients))
			return
		}
	}
}

// Submit runs msg through the same append-and-broadcast path as a
// NEW_MESSAGE frame and returns the stored message.
func (h *Hub) Submit(ctx context.Context, msg model.Message) (model.Message, error) {
	sub := submission{msg: msg, result: make(chan submitResult, 1)}
	select {
	case h.submit <- sub:
	case <-h.done:
		return model.Message{}, ErrHubClosed
	case <-ctx.Done():
		return model.Message{}, ctx.Err()
	}

	select {
	case res := <-sub.result:
		return res.msg, res.err
	case <-h.done:
		return model.Message{}, ErrHubClosed
	case <-ctx.Done():
		return model.Message{}, ctx.Err()
	}
}

// enqueue hands a client message to the hub without waiting for the result.
func (h *Hub) enqueue(ctx context.Context, msg model.Message) bool {
	select {
	case h.submit <- submission{msg: msg}:
		return true
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// register sends the history snapshot before the client joins the set, so
// INITIAL_MESSAGES always precedes any MESSAGE_CREATED on that connection.
func (h *Hub) register(ctx context.Context, reg Registration) {
	c := reg.Client
	defer close(reg.Done)

	c.Hub = h
	if h.messageRate > 0 {
		c.SetMessageLimiter(h.messageRate, h.messageWindow)
	}

	history, err := h.store.ReadAll(ctx)
	if err != nil {
		// An unreadable log is served as an empty one.
		metrics.StoreErrors.WithLabelValues("read").Inc()
		slog.ErrorContext(ctx, "failed to read message history",
			"error", err,
			"conn_id", c.ID)
		history = []model.Message{}
	}

	p, err := model.EncodeFrame(model.InitialMessages, history)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode history", "error", err, "conn_id", c.ID)
		c.close(websocket.StatusInternalError, "history unavailable")
		return
	}
	// The queue of a new client is empty, this never blocks.
	c.MessageCh <- p

	h.clients[c] = struct{}{}
	metrics.Connections.Inc()
	slog.InfoContext(ctx, "client registered",
		"conn_id", c.ID,
		"remote_addr", c.RemoteAddr,
		"history", len(history),
		"clients", len(h.clients))
}

func (h *Hub) accept(ctx context.Context, msg model.Message) (model.Message, error) {
	msg.Sanitize(h.sanitizer)

	stored, err := h.store.Append(ctx, msg)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("append").Inc()
		slog.ErrorContext(ctx, "failed to store message",
			"error", err,
			"message_id", msg.ID)
		return model.Message{}, err
	}

	if h.broker == nil {
		h.broadcast(stored)
		return stored, nil
	}

	// Stored but not fanned out, the caller still learns about it.
	if err := h.broker.Publish(ctx, stored); err != nil {
		slog.ErrorContext(ctx, "failed to publish message",
			"error", err,
			"message_id", stored.ID)
		return stored, err
	}
	return stored, nil
}

// broadcast queues MESSAGE_CREATED on every connection, the origin included.
// A connection whose queue is full is evicted instead of stalling the hub.
func (h *Hub) broadcast(msg model.Message) {
	p, err := model.EncodeFrame(model.MessageCreated, msg)
	if err != nil {
		slog.Error("failed to encode message", "error", err, "message_id", msg.ID)
		return
	}

	for c := range h.clients {
		select {
		case c.MessageCh <- p:
		default:
			metrics.SlowConsumerEvictions.Inc()
			slog.Warn("evicting slow client - outbound queue full",
				"conn_id", c.ID,
				"remote_addr", c.RemoteAddr)
			h.remove(c, websocket.StatusTryAgainLater, "slow consumer")
		}
	}
	metrics.MessagesBroadcast.Inc()
}

func (h *Hub) remove(c *Client, status websocket.StatusCode, reason string) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	metrics.Connections.Dec()
	c.close(status, reason)
	slog.Info("client unregistered",
		"conn_id", c.ID,
		"remote_addr", c.RemoteAddr,
		"clients", len(h.clients))
}

func (h *Hub) shutdown() {
	for c := range h.clients {
		delete(h.clients, c)
		metrics.Connections.Dec()
		c.close(websocket.StatusGoingAway, "relay shutting down")
	}
	close(h.done)
}
