package http

import (
	"net/http"
	"strings"

	"github.com/utafrali/cartorder/internal/domain"
	"github.com/utafrali/cartorder/pkg/httputil"
	"github.com/utafrali/cartorder/pkg/middleware"
)

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "UNSUPPORTED_MEDIA_TYPE", Message: "Content-Type must be application/json"},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// cartIdentity returns the cart owner of the request. Identity must be mounted.
func cartIdentity(w http.ResponseWriter, r *http.Request) (domain.CartIdentity, bool) {
	id, err := domain.ResolveIdentity(
		middleware.UserIDFromContext(r.Context()),
		middleware.SessionIDFromContext(r.Context()),
	)
	if err != nil {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: err.Error()},
		})
		return domain.CartIdentity{}, false
	}
	return id, true
}
