package relayclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/relay/internal/model"
	"github.com/johndosdos/relay/internal/relayclient"
	"github.com/johndosdos/relay/internal/testutil"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newClient(t *testing.T, url string, reconnectDelay time.Duration) *relayclient.Client {
	t.Helper()
	c, err := relayclient.New(relayclient.Options{
		URL:                  url,
		ReconnectDelay:       reconnectDelay,
		ManualReconnectDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// connStates records connection notifications.
type connStates struct {
	mu     sync.Mutex
	states []bool
}

func (s *connStates) add(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, v)
}

func (s *connStates) get() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.states...)
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := relayclient.New(relayclient.Options{})
	assert.Error(t, err)
}

func TestClient_RetryCap(t *testing.T) {
	var (
		mu   sync.Mutex
		hits []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, time.Now())
		mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	hitCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(hits)
	}

	const delay = 150 * time.Millisecond
	c := newClient(t, wsURL(srv), delay)

	var states connStates
	c.OnConnectionChange(states.add)

	c.Connect()
	require.Eventually(t, func() bool { return c.State() == relayclient.GivenUp },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, hitCount())
	assert.Equal(t, 3, c.Attempts())

	mu.Lock()
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i].Sub(hits[i-1]), delay, "attempt %d came too early", i+1)
	}
	mu.Unlock()

	// No further automatic attempts.
	time.Sleep(3 * delay)
	assert.Equal(t, 3, hitCount())
	assert.Equal(t, relayclient.GivenUp, c.State())

	// Connect on its own doesn't leave GivenUp.
	c.Connect()
	time.Sleep(delay / 2)
	assert.Equal(t, 3, hitCount())

	c.ManualReconnect()
	require.Eventually(t, func() bool { return hitCount() == 4 },
		2*time.Second, 5*time.Millisecond)

	// Exactly one attempt before the next automatic retry is due.
	time.Sleep(delay / 2)
	assert.Equal(t, 4, hitCount())
	assert.Equal(t, 1, c.Attempts())

	// The client never connected, so the only notification is the one
	// ManualReconnect sends.
	assert.Equal(t, []bool{false}, states.get())
}

func TestClient_SendWhileDisconnected(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, wsURL(srv), time.Second)

	ok := c.Send(model.NewMessage, model.Message{SenderID: "u1", ReceiverID: "u2", Content: "hi"})
	assert.False(t, ok)
	assert.Equal(t, relayclient.Idle, c.State())
	assert.Zero(t, hits.Load())
}

func TestClient_SendWhileConnected(t *testing.T) {
	frames := make(chan []byte, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow() //nolint:errcheck
		for {
			_, p, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			frames <- p
		}
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, wsURL(srv), time.Second)
	c.Connect()
	require.Eventually(t, func() bool { return c.State() == relayclient.Open },
		5*time.Second, 5*time.Millisecond)

	msg := model.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "hi"}
	require.True(t, c.Send(model.NewMessage, msg))

	select {
	case p := <-frames:
		f, err := model.DecodeFrame(p)
		require.NoError(t, err)
		assert.Equal(t, model.NewMessage, f.Type)
		got, err := f.Message()
		require.NoError(t, err)
		assert.Equal(t, msg, got)
	case <-time.After(testutil.FrameTimeout):
		t.Fatal("server saw no frame")
	}

	select {
	case p := <-frames:
		t.Fatalf("server saw an extra frame: %s", p)
	case <-time.After(100 * time.Millisecond):
	}
}

// ctxTransport remembers the context of every request it carries.
type ctxTransport struct {
	mu   sync.Mutex
	ctxs []context.Context
}

func (tr *ctxTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	tr.mu.Lock()
	tr.ctxs = append(tr.ctxs, r.Context())
	tr.mu.Unlock()
	return http.DefaultTransport.RoundTrip(r)
}

func TestClient_DialContextReleasedOnOpen(t *testing.T) {
	frames := make(chan []byte, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow() //nolint:errcheck
		for {
			_, p, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			frames <- p
		}
	}))
	t.Cleanup(srv.Close)

	tr := &ctxTransport{}
	c, err := relayclient.New(relayclient.Options{
		URL:        wsURL(srv),
		HTTPClient: &http.Client{Transport: tr},
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	c.Connect()
	require.Eventually(t, func() bool { return c.State() == relayclient.Open },
		5*time.Second, 5*time.Millisecond)

	tr.mu.Lock()
	require.Len(t, tr.ctxs, 1)
	dialCtx := tr.ctxs[0]
	tr.mu.Unlock()
	assert.ErrorIs(t, dialCtx.Err(), context.Canceled)

	// The open connection outlives its handshake context.
	require.True(t, c.Send(model.NewMessage, model.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "hi"}))
	select {
	case <-frames:
	case <-time.After(testutil.FrameTimeout):
		t.Fatal("server saw no frame")
	}
	assert.Equal(t, relayclient.Open, c.State())
}

func TestClient_RelayRoundTrip(t *testing.T) {
	relay := testutil.NewRelay(t, testutil.NewFileStore(t))
	c := newClient(t, relay.URL, time.Second)

	var history relayclient.History
	frames := make(chan model.Frame, 16)
	c.OnMessage(history.Apply)
	c.OnMessage(func(f model.Frame) { frames <- f })

	c.Connect()

	f := <-frames
	assert.Equal(t, model.InitialMessages, f.Type)
	assert.Zero(t, history.Len())

	msg := model.Message{
		ID:         "m1",
		SenderID:   "u1",
		ReceiverID: "u2",
		Content:    "hi",
		Timestamp:  "2024-01-01T00:00:00Z",
	}
	require.True(t, c.Send(model.NewMessage, msg))

	select {
	case f = <-frames:
	case <-time.After(testutil.FrameTimeout):
		t.Fatal("no echo from the relay")
	}
	assert.Equal(t, model.MessageCreated, f.Type)
	got, err := f.Message()
	require.NoError(t, err)
	assert.Equal(t, msg, got)
	assert.Equal(t, []model.Message{msg}, history.Messages())
}

func TestClient_ServerDrop(t *testing.T) {
	relay := testutil.NewRelay(t, testutil.NewFileStore(t))
	c := newClient(t, relay.URL, 100*time.Millisecond)

	var states connStates
	c.OnConnectionChange(states.add)

	c.Connect()
	require.Eventually(t, func() bool { return c.State() == relayclient.Open },
		5*time.Second, 5*time.Millisecond)

	relay.Stop()

	require.Eventually(t, func() bool { return c.State() == relayclient.GivenUp },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, c.Attempts())
	assert.Equal(t, []bool{true, false}, states.get())
	assert.False(t, c.Send(model.NewMessage, model.Message{SenderID: "u1", ReceiverID: "u2", Content: "late"}))
}

func TestClient_ManualReconnectWhileOpen(t *testing.T) {
	relay := testutil.NewRelay(t, testutil.NewFileStore(t))
	c := newClient(t, relay.URL, time.Second)

	var states connStates
	c.OnConnectionChange(states.add)

	c.Connect()
	require.Eventually(t, func() bool { return c.State() == relayclient.Open },
		5*time.Second, 5*time.Millisecond)

	c.ManualReconnect()
	require.Eventually(t, func() bool { return len(states.get()) == 3 },
		5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false, true}, states.get())
	assert.Equal(t, relayclient.Open, c.State())
}

func TestClient_CloseIsTerminal(t *testing.T) {
	relay := testutil.NewRelay(t, testutil.NewFileStore(t))
	c := newClient(t, relay.URL, time.Second)

	c.Connect()
	require.Eventually(t, func() bool { return c.State() == relayclient.Open },
		5*time.Second, 5*time.Millisecond)

	c.Close()
	assert.Equal(t, relayclient.Idle, c.State())
	assert.False(t, c.Send(model.NewMessage, model.Message{SenderID: "u1", ReceiverID: "u2", Content: "x"}))

	c.Connect()
	c.ManualReconnect()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, relayclient.Idle, c.State())
}
