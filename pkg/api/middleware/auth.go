// Package middleware provides HTTP middleware for the vault API.
package middleware

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/datashield/vault/internal/logger"
	"github.com/datashield/vault/pkg/api/handlers"
	"github.com/datashield/vault/pkg/auth"
	"github.com/datashield/vault/pkg/catalog"
	"github.com/datashield/vault/pkg/metrics"
)

// KeyHeader carries the collection API key.
const KeyHeader = "X-Collection-Key"

// CollectionAuth verifies the X-Collection-Key header against the catalog
// for the {collection} route parameter, with the brute-force limiter in
// front of the check. The limiter keys on (client IP, collection); a
// blocked pair gets 429 even when the presented key is correct.
func CollectionAuth(cat *catalog.Catalog, limiter *auth.Limiter, m *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			collection := chi.URLParam(r, "collection")
			client := clientIP(r)

			if err := limiter.Check(client, collection); err != nil {
				if blocked, ok := err.(*auth.BlockedError); ok {
					if m != nil {
						m.RateLimitHits.Inc()
					}
					handlers.TooManyRequests(w, blocked.RetryAfter, "too many failed authentication attempts")
					return
				}
			}

			secret := r.Header.Get(KeyHeader)
			if secret == "" {
				if m != nil {
					m.AuthFailures.Inc()
				}
				handlers.Unauthorized(w, "missing "+KeyHeader+" header")
				return
			}

			valid, err := cat.VerifyKey(r.Context(), collection, secret)
			if err != nil {
				logger.Error("Key verification failed", "collection", collection, "error", err)
				handlers.InternalServerError(w, "authentication check failed")
				return
			}
			if !valid {
				limiter.RecordFailure(client, collection)
				if m != nil {
					m.AuthFailures.Inc()
				}
				handlers.Unauthorized(w, "invalid collection key")
				return
			}

			limiter.RecordSuccess(client, collection)
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client address. The RealIP middleware has already
// resolved proxy headers; RemoteAddr may or may not carry a port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
