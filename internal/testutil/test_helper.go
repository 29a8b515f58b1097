// Package testutil starts in-process relays for tests.
package testutil

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/johndosdos/relay/internal/handler"
	"github.com/johndosdos/relay/internal/model"
	"github.com/johndosdos/relay/internal/store"
	ws "github.com/johndosdos/relay/internal/websocket"
)

// FrameTimeout bounds every helper read.
const FrameTimeout = 5 * time.Second

// Relay is a hub served over httptest.
type Relay struct {
	Server *httptest.Server
	Hub    *ws.Hub
	Store  store.Store
	URL    string // ws:// URL of the relay endpoint

	cancel context.CancelFunc
}

// NewFileStore opens a JSON file store inside the test's temp dir.
func NewFileStore(t testing.TB) *store.FileStore {
	t.Helper()
	st, err := store.NewFileStore(filepath.Join(t.TempDir(), "messages.json"))
	if err != nil {
		t.Fatalf("store.NewFileStore() error = %v", err)
	}
	return st
}

// NewRelay runs a hub over st and serves it at /ws. The relay is stopped
// when the test ends.
func NewRelay(t testing.TB, st store.Store, opts ...ws.Option) *Relay {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(st, opts...)
	go hub.Run(ctx)

	r := chi.NewRouter()
	r.Get("/ws", handler.ServeWs(hub, &websocket.AcceptOptions{InsecureSkipVerify: true}))
	srv := httptest.NewServer(r)

	relay := &Relay{
		Server: srv,
		Hub:    hub,
		Store:  st,
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		cancel: cancel,
	}
	t.Cleanup(relay.Stop)
	return relay
}

// Stop shuts the hub down, which closes every connection, then closes the
// listener. Safe to call more than once.
func (r *Relay) Stop() {
	r.cancel()
	select {
	case <-r.Hub.Done():
	case <-time.After(FrameTimeout):
	}
	r.Server.Close()
}

// Dial opens a raw websocket connection to url.
func Dial(t testing.TB, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), FrameTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("websocket.Dial(%s) error = %v", url, err)
	}
	t.Cleanup(func() { conn.CloseNow() }) //nolint:errcheck
	return conn
}

// DialReady dials url and consumes the INITIAL_MESSAGES frame, so the
// connection is known to be registered when it returns.
func DialReady(t testing.TB, url string) (*websocket.Conn, []model.Message) {
	t.Helper()
	conn := Dial(t, url)
	f := ReadFrame(t, conn)
	if f.Type != model.InitialMessages {
		t.Fatalf("first frame type = %s, want %s", f.Type, model.InitialMessages)
	}
	msgs, err := f.Messages()
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return conn, msgs
}

// ReadFrame reads and decodes the next frame.
func ReadFrame(t testing.TB, conn *websocket.Conn) model.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), FrameTimeout)
	defer cancel()

	_, p, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("conn.Read() error = %v", err)
	}
	f, err := model.DecodeFrame(p)
	if err != nil {
		t.Fatalf("model.DecodeFrame(%s) error = %v", p, err)
	}
	return f
}

// WriteFrame sends payload as a frame of type typ.
func WriteFrame(t testing.TB, conn *websocket.Conn, typ model.EventType, payload any) {
	t.Helper()
	p, err := model.EncodeFrame(typ, payload)
	if err != nil {
		t.Fatalf("model.EncodeFrame() error = %v", err)
	}
	WriteRaw(t, conn, p)
}

// WriteRaw sends p as a text frame without any encoding.
func WriteRaw(t testing.TB, conn *websocket.Conn, p []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), FrameTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, p); err != nil {
		t.Fatalf("conn.Write() error = %v", err)
	}
}
