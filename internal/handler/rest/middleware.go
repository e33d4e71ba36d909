package rest

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/lostfound/im-realtime-service/internal/service"
)

type ctxKey struct{}

// IdentityFrom returns the identity authenticated by RequireBearer.
func IdentityFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// [BEARER_AUTH]
func RequireBearer(auth service.Auther) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := service.BearerToken(r.Header.Get("Authorization"))
			if err == nil {
				var identity string
				if identity, err = auth.Authenticate(token); err == nil {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, identity)))
					return
				}
			}
			fail(w, http.StatusUnauthorized, "unauthorized", err.Error())
		})
	}
}

// [INTERNAL_KEY]
// Service-to-service calls carry the shared key in X-Internal-Key. An empty
// key disables the internal routes.
func RequireInternalKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				fail(w, http.StatusForbidden, "forbidden", "internal api disabled")
				return
			}
			got := r.Header.Get("X-Internal-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				fail(w, http.StatusUnauthorized, "unauthorized", "invalid internal key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// [LOGGING_MIDDLEWARE]
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug("HTTP_REQUEST",
				"req_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
