package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/utafrali/cartorder/pkg/errors"
	"github.com/utafrali/cartorder/pkg/httputil"
)

var httpPanicsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_panics_total",
		Help: "Handler panics recovered, by method.",
	},
	[]string{"method"},
)

// Recovery converts a handler panic into a 500 envelope. When the handler had
// already started its response only the log entry is written.
// http.ErrAbortHandler passes through so net/http can drop the connection.
func Recovery(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := recordResponse(w)
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}

				started := rec.status != 0
				httpPanicsTotal.WithLabelValues(r.Method).Inc()
				l.ErrorContext(r.Context(), "panic recovered",
					slog.Any("panic", v),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Bool("response_started", started),
					slog.String("stack", string(debug.Stack())),
				)
				if !started {
					httputil.WriteError(rec, r, apperrors.Internal(fmt.Errorf("panic: %v", v)), l)
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
