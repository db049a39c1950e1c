// Package httputil writes the JSON envelopes shared by every HTTP handler.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/cartorder/pkg/errors"
	"github.com/utafrali/cartorder/pkg/logger"
	"github.com/utafrali/cartorder/pkg/validator"
)

// Response is the JSON envelope of every response body.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse is the error half of Response.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Details   any               `json:"details,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON encodes v with status. Encoding errors are dropped since the
// headers are already on the wire.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sentinels maps bare sentinel errors to a public code and message, most
// specific first. Errors outside this list are reported as internal.
var sentinels = []struct {
	err     error
	code    string
	message string
}{
	{apperrors.ErrNotFound, "NOT_FOUND", "resource not found"},
	{apperrors.ErrAlreadyPaid, "ALREADY_PAID", "order is already paid"},
	{apperrors.ErrEmptyCart, "EMPTY_CART", "cart has no items to check out"},
	{apperrors.ErrConflict, "CONFLICT", "resource was modified concurrently"},
	{apperrors.ErrMissingItem, "MISSING_ITEM", "items in the cart are no longer available"},
	{apperrors.ErrUnauthorized, "UNAUTHORIZED", "unauthorized"},
	{apperrors.ErrTransaction, "TRANSACTION_FAILED", "the operation was rolled back, please retry"},
	{apperrors.ErrServiceUnavail, "SERVICE_UNAVAILABLE", "service unavailable"},
}

func toErrorResponse(err error) (int, *ErrorResponse) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Status, &ErrorResponse{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
	}
	if errors.Is(err, apperrors.ErrInvalidInput) {
		return http.StatusBadRequest, &ErrorResponse{Code: "INVALID_INPUT", Message: err.Error()}
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return apperrors.HTTPStatus(err), &ErrorResponse{Code: s.code, Message: s.message}
		}
	}
	return http.StatusInternalServerError, &ErrorResponse{Code: "INTERNAL_ERROR", Message: "an internal error occurred"}
}

// requestLogger returns the logger stored by the RequestLogger middleware, or
// fallback when none was mounted.
func requestLogger(r *http.Request, fallback *slog.Logger) *slog.Logger {
	if l := logger.FromContext(r.Context()); l != slog.Default() {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// WriteError writes err as an error envelope carrying the request id. Server
// side failures are logged with the underlying cause, which never reaches the
// client.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	status, body := toErrorResponse(err)
	body.RequestID = logger.CorrelationIDFromContext(r.Context())

	if status >= http.StatusInternalServerError {
		requestLogger(r, fallback).ErrorContext(r.Context(), "request failed",
			slog.String("error", err.Error()),
			slog.String("code", body.Code),
			slog.Int("status", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	WriteJSON(w, status, Response{Error: body})
}

// WriteValidationError writes a 400 envelope. Field errors from the validator
// package are listed per field.
func WriteValidationError(w http.ResponseWriter, r *http.Request, err error) {
	body := &ErrorResponse{
		Code:      "INVALID_INPUT",
		Message:   err.Error(),
		RequestID: logger.CorrelationIDFromContext(r.Context()),
	}
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		body.Code = "VALIDATION_ERROR"
		body.Message = "request validation failed"
		body.Fields = valErr.Fields()
	}
	WriteJSON(w, http.StatusBadRequest, Response{Error: body})
}

// PaginatedResponse is a page of a list endpoint.
type PaginatedResponse[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

// NewPaginatedResponse wraps one page of data. A nil page encodes as [].
func NewPaginatedResponse[T any](data []T, totalCount, page, perPage int) PaginatedResponse[T] {
	if data == nil {
		data = []T{}
	}
	totalPages := 0
	if perPage > 0 {
		totalPages = (totalCount + perPage - 1) / perPage
	}
	return PaginatedResponse[T]{
		Data:       data,
		TotalCount: totalCount,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// ParseUUID parses a path parameter. On failure it writes a 400 and reports
// false so the handler can return.
func ParseUUID(w http.ResponseWriter, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(param)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, Response{
			Error: &ErrorResponse{Code: "INVALID_PARAMETER", Message: "invalid UUID: " + param},
		})
		return uuid.Nil, false
	}
	return id, true
}
