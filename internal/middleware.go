package internal

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
)

// WebhookSecretHeader carries the shared secret of webhook callers.
const WebhookSecretHeader = "X-Webhook-Secret"

// Middleware validates the caller's webhook secret. An empty secret
// leaves the endpoint open.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get(WebhookSecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				slog.WarnContext(r.Context(), "rejected webhook call",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid webhook secret"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
