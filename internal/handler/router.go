package handler

import (
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/johndosdos/relay/internal"
	"github.com/johndosdos/relay/internal/model"
	ratelimiter "github.com/johndosdos/relay/internal/rate_limiter"
	"github.com/johndosdos/relay/internal/store"
	ws "github.com/johndosdos/relay/internal/websocket"
)

// Dependencies holds what the HTTP surface is built from.
type Dependencies struct {
	Hub       *ws.Hub
	Store     store.Store
	Sanitizer model.Sanitizer
	Backend   DocumentBackend
	Indexer   Indexer // optional

	WebhookSecret  string
	AllowedOrigins []string
	Limiter        *ratelimiter.IPRateLimiter // optional, REST routes only
}

// NewRouter wires every route of the relay process.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", internal.WebhookSecretHeader},
		MaxAge:         300,
	}))

	r.Get("/ws", ServeWs(deps.Hub, acceptOptions(deps.AllowedOrigins)))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if deps.Limiter != nil {
			r.Use(deps.Limiter.Middleware)
		}

		r.Get("/messages", ListMessages(deps.Store))
		r.Post("/messages", CreateMessage(deps.Store, deps.Sanitizer))
		r.Post("/messages/read", MarkRead(deps.Store))
		r.Delete("/messages/{id}", DeleteMessage(deps.Store))

		r.With(internal.Middleware(deps.WebhookSecret)).Post("/webhook", ServeWebhook(deps.Store, deps.Hub, deps.Indexer))
		r.Get("/webhook", WebhookStatus(deps.Store))

		r.Post("/chat", ProxyChat(deps.Backend))
		r.Post("/process-document", ProxyProcessDocument(deps.Backend))
		r.Get("/debug-graph", ProxyDebugGraph(deps.Backend))
		r.Get("/health", ProxyHealth(deps.Backend))
	})

	return r
}

// acceptOptions turns CORS origins into websocket origin patterns. "*"
// disables the origin check.
func acceptOptions(origins []string) *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, o := range origins {
		if o == "*" {
			opts.InsecureSkipVerify = true
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			opts.OriginPatterns = append(opts.OriginPatterns, u.Host)
			continue
		}
		opts.OriginPatterns = append(opts.OriginPatterns, o)
	}
	return opts
}
