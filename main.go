// Package main our entry point.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"

	"github.com/johndosdos/relay/internal/backend"
	"github.com/johndosdos/relay/internal/broker"
	"github.com/johndosdos/relay/internal/config"
	"github.com/johndosdos/relay/internal/handler"
	"github.com/johndosdos/relay/internal/logging"
	"github.com/johndosdos/relay/internal/model"
	ratelimiter "github.com/johndosdos/relay/internal/rate_limiter"
	"github.com/johndosdos/relay/internal/store"
	ws "github.com/johndosdos/relay/internal/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env file: %+v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stdout)

	configPath := pflag.StringP("config", "c", os.Getenv("RELAY_CONFIG"), "path to a YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting relay", "driver", cfg.Storage.Driver, "addr", cfg.Addr())

	// Init store
	st, err := store.Open(store.Options{
		Driver:       cfg.Storage.Driver,
		MessagesFile: cfg.Storage.MessagesFile,
		PebbleDir:    cfg.Storage.PebbleDir,
	})
	if err != nil {
		log.Fatalf("failed to open message store: %v", err)
	}

	var sanitizer model.Sanitizer
	if cfg.Relay.Sanitize {
		sanitizer = bluemonday.StrictPolicy()
	}

	hubOpts := []ws.Option{
		ws.WithSanitizer(sanitizer),
		ws.WithSendBuffer(cfg.Relay.SendBuffer),
		ws.WithMessageLimit(cfg.Relay.MessageRate, cfg.Relay.MessageWindow),
		ws.WithPingInterval(cfg.Relay.PingInterval),
	}

	// Init NATS, only when relay instances share a stream.
	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		slog.Info("initializing NATS connection", "url", cfg.NATS.URL)
		natsConn, err = broker.Connect(cfg.NATS.URL, broker.Credentials{
			Cred:     cfg.NATS.Cred,
			User:     cfg.NATS.User,
			Password: cfg.NATS.Password,
		})
		if err != nil {
			log.Fatalf("%v", err)
		}
		js, err := broker.NewJetStream(ctx, natsConn)
		if err != nil {
			log.Fatalf("%v", err)
		}
		hubOpts = append(hubOpts, ws.WithBroker(js))
	}

	// hub.Run is our central hub that is always listening for client related events.
	hub := ws.NewHub(st, hubOpts...)
	go hub.Run(ctx)

	var limiter *ratelimiter.IPRateLimiter
	if cfg.RateLimit.Requests > 0 {
		limiter = ratelimiter.NewIPRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, ratelimiter.CleanupOpts{
			TTL:      10 * time.Minute,
			Interval: time.Minute,
		})
		defer limiter.Cancel()
	}

	docs := backend.New(cfg.Backend.URL, cfg.Backend.Timeout)

	server := &http.Server{
		Handler: handler.NewRouter(handler.Dependencies{
			Hub:            hub,
			Store:          st,
			Sanitizer:      sanitizer,
			Backend:        docs,
			Indexer:        docs,
			WebhookSecret:  cfg.Webhook.Secret,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Limiter:        limiter,
		}),
		// No read/write timeouts: relay connections are long lived.
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	// Binding is fatal, serving errors are not.
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", cfg.Addr(), err)
	}

	go func() {
		slog.Info("server listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received; shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The hub closes every relay connection once ctx is done.
	select {
	case <-hub.Done():
	case <-shutdownCtx.Done():
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}

	// Drain NATS connection.
	if natsConn != nil {
		if err := natsConn.Drain(); err != nil {
			slog.Error("couldn't drain NATS conn", "error", err)
		}
	}

	if err := st.Close(); err != nil {
		slog.Error("failed to close message store", "error", err)
	}

	slog.Info("server stopped")
}
