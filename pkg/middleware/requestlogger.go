package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/cartorder/pkg/logger"
)

// RequestLogger stores a logger carrying the request fields in the context for
// logger.FromContext. Mount it after RequestLogging and Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// Prefer the resolved identity over the raw headers.
			userID := UserIDFromContext(ctx)
			if userID == "" {
				userID = r.Header.Get(HeaderUserID)
			}
			sessionID := SessionIDFromContext(ctx)
			if sessionID == "" {
				sessionID = r.Header.Get(HeaderSessionID)
			}
			if userID != "" {
				ctx = logger.WithUserID(ctx, userID)
			}
			if sessionID != "" {
				ctx = logger.WithSessionID(ctx, sessionID)
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
