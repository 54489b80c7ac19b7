package httpserver

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/medscribe/reference-harvester/internal/observability"
)

// correlationIDMiddleware ensures every request has a correlation ID.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = middleware.GetReqID(r.Context())
		}
		if correlationID == "" {
			buf := make([]byte, 8)
			if _, err := rand.Read(buf); err != nil {
				// Fallback to timestamp-based ID if crypto/rand fails.
				correlationID = fmt.Sprintf("%x", time.Now().UnixNano())
			} else {
				correlationID = fmt.Sprintf("%x", buf)
			}
		}

		w.Header().Set("X-Correlation-ID", correlationID)
		ctx := observability.WithRequestID(r.Context(), correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// jsonContentTypeMiddleware sets Content-Type: application/json for all responses.
func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// corsConfig applies cross-origin headers on the endpoints the scribe
// frontend calls directly from the browser.
type corsConfig struct {
	allowedOrigin string
}

// allow returns middleware that sets CORS headers permitting the given
// methods (OPTIONS is always included).
func (c corsConfig) allow(methods ...string) func(http.Handler) http.Handler {
	allowMethods := strings.Join(append(methods, http.MethodOptions), ", ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.setHeaders(w, allowMethods)
			next.ServeHTTP(w, r)
		})
	}
}

// preflight terminates an OPTIONS request; the CORS headers are set by the
// allow middleware wrapping it.
func (c corsConfig) preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// setHeaders emits CORS headers for the configured origin. With no origin
// configured nothing is emitted, so browsers refuse cross-origin calls until
// an operator explicitly sets one ("*" included).
func (c corsConfig) setHeaders(w http.ResponseWriter, allowMethods string) {
	if c.allowedOrigin == "" {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", c.allowedOrigin)
	w.Header().Set("Access-Control-Allow-Methods", allowMethods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")
}
