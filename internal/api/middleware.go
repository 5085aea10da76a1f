package api

import (
	"context"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	commonerrors "pharma-orchestrator/internal/common/errors"
	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/models"
)

const AdminKeyHeader = "X-Admin-Key"

type contextKey int

const callerKey contextKey = iota

// CallerFromContext returns the authenticated caller, or the anonymous analyst.
func CallerFromContext(ctx context.Context) models.Caller {
	if c, ok := ctx.Value(callerKey).(models.Caller); ok {
		return c
	}
	return models.Anonymous()
}

func withCaller(ctx context.Context, c models.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// Authenticate resolves a bearer session token into a caller. No Authorization
// header means an anonymous caller; a malformed or unknown token is rejected.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), models.Anonymous())))
			return
		}

		token := bearerToken(r)
		if token == "" {
			h.writeError(w, commonerrors.NewUnauthorizedError("expected a Bearer token"))
			return
		}
		s, err := h.sessions.Resolve(r.Context(), token)
		if err != nil {
			h.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), s.Caller())))
	})
}

// RequestLogger logs one line per request through the service logger.
func RequestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info("http request", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  chimiddleware.GetReqID(r.Context()),
			})
		})
	}
}
