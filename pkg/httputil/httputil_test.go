package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/cartorder/pkg/errors"
	"github.com/utafrali/cartorder/pkg/logger"
	"github.com/utafrali/cartorder/pkg/validator"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, Response{Data: map[string]int{"quantity": 3}})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"quantity":3}}`, rec.Body.String())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "app error",
			err:        apperrors.NotFound("order", "o-1"),
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
			wantMsg:    "order with id o-1 not found",
		},
		{
			name:       "wrapped app error",
			err:        fmt.Errorf("checkout: %w", apperrors.EmptyCart()),
			wantStatus: http.StatusConflict,
			wantCode:   "EMPTY_CART",
		},
		{
			name:       "bare not found",
			err:        fmt.Errorf("load: %w", apperrors.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
			wantMsg:    "resource not found",
		},
		{
			name:       "bare conflict",
			err:        apperrors.ErrConflict,
			wantStatus: http.StatusConflict,
			wantCode:   "CONFLICT",
		},
		{
			name:       "bare invalid input keeps message",
			err:        fmt.Errorf("quantity: %w", apperrors.ErrInvalidInput),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
			wantMsg:    "quantity: invalid input",
		},
		{
			name:       "bare missing item",
			err:        apperrors.ErrMissingItem,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "MISSING_ITEM",
		},
		{
			name:       "bare transaction",
			err:        fmt.Errorf("commit: %w", apperrors.ErrTransaction),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "TRANSACTION_FAILED",
		},
		{
			name:       "unknown error hides cause",
			err:        errors.New("pq: relation orders does not exist"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
			wantMsg:    "an internal error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/o-1", nil)
			WriteError(rec, req, tt.err, slog.New(slog.NewTextHandler(io.Discard, nil)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decode(t, rec)
			require.NotNil(t, resp.Error)
			assert.Nil(t, resp.Data)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, resp.Error.Message)
			}
			assert.NotContains(t, resp.Error.Message, "pq:")
		})
	}
}

func TestWriteError_Details(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	WriteError(rec, req, apperrors.MissingItem([]string{"7", "9"}), nil)

	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "MISSING_ITEM", raw["error"]["code"])
	assert.NotNil(t, raw["error"]["details"])
}

func TestWriteError_RequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rec := httptest.NewRecorder()
	WriteError(rec, req, apperrors.ErrConflict, nil)
	assert.NotContains(t, rec.Body.String(), "request_id")

	ctx := logger.WithCorrelationID(req.Context(), "corr-77")
	rec = httptest.NewRecorder()
	WriteError(rec, req.WithContext(ctx), apperrors.Conflict("retry"), nil)
	assert.Equal(t, "corr-77", decode(t, rec).Error.RequestID)
}

func TestWriteError_LogsServerErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		logged bool
	}{
		{name: "unknown", err: errors.New("boom"), logged: true},
		{name: "internal app error", err: apperrors.Internal(errors.New("boom")), logged: true},
		{name: "transaction", err: apperrors.Transaction(errors.New("boom")), logged: true},
		{name: "client error", err: apperrors.InvalidInput("bad"), logged: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			fallback := logger.NewWithWriter("test", "info", &buf)

			rec := httptest.NewRecorder()
			WriteError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), tt.err, fallback)

			if !tt.logged {
				assert.Zero(t, buf.Len())
				return
			}
			var line map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			assert.Equal(t, "ERROR", line["level"])
			assert.Contains(t, line["error"], "boom")
			assert.Equal(t, "/x", line["path"])
		})
	}
}

func TestWriteError_PrefersRequestLogger(t *testing.T) {
	var scoped, fallback bytes.Buffer
	ctx := logger.NewContext(context.Background(), logger.NewWithWriter("scoped", "info", &scoped))
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)

	WriteError(httptest.NewRecorder(), req, errors.New("boom"), logger.NewWithWriter("fallback", "info", &fallback))

	assert.NotZero(t, scoped.Len())
	assert.Zero(t, fallback.Len())
}

func TestWriteValidationError(t *testing.T) {
	type body struct {
		ItemID   string `json:"item_id" validate:"required"`
		Quantity int    `json:"quantity" validate:"min=1"`
	}

	t.Run("field errors", func(t *testing.T) {
		err := validator.Validate(body{Quantity: 0})
		require.Error(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(logger.WithCorrelationID(req.Context(), "corr-1"))
		WriteValidationError(rec, req, err)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decode(t, rec)
		assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
		assert.Equal(t, "corr-1", resp.Error.RequestID)
		assert.Contains(t, resp.Error.Fields, "item_id")
		assert.Contains(t, resp.Error.Fields, "quantity")
	})

	t.Run("plain error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteValidationError(rec, httptest.NewRequest(http.MethodPost, "/", nil), errors.New("unexpected EOF"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decode(t, rec)
		assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
		assert.Equal(t, "unexpected EOF", resp.Error.Message)
		assert.Empty(t, resp.Error.Fields)
	})
}

func TestNewPaginatedResponse(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		page      int
		perPage   int
		wantPages int
		wantNext  bool
	}{
		{name: "partial last page", total: 45, page: 1, perPage: 20, wantPages: 3, wantNext: true},
		{name: "on last page", total: 45, page: 3, perPage: 20, wantPages: 3, wantNext: false},
		{name: "exact division", total: 40, page: 2, perPage: 20, wantPages: 2, wantNext: false},
		{name: "empty", total: 0, page: 1, perPage: 20, wantPages: 0, wantNext: false},
		{name: "zero page size", total: 5, page: 1, perPage: 0, wantPages: 0, wantNext: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewPaginatedResponse([]string{"a"}, tt.total, tt.page, tt.perPage)
			assert.Equal(t, tt.wantPages, got.TotalPages)
			assert.Equal(t, tt.wantNext, got.HasNext)
		})
	}
}

func TestNewPaginatedResponse_NilDataEncodesEmptyList(t *testing.T) {
	b, err := json.Marshal(NewPaginatedResponse[int](nil, 0, 1, 20))
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[],"total_count":0,"page":1,"per_page":20,"total_pages":0,"has_next":false}`, string(b))
}

func TestParseUUID(t *testing.T) {
	valid := uuid.New()

	tests := []struct {
		name  string
		param string
		ok    bool
	}{
		{name: "canonical", param: valid.String(), ok: true},
		{name: "uppercase", param: "A0EEBC99-9C0B-4EF8-BB6D-6BB9BD380A11", ok: true},
		{name: "empty", param: "", ok: false},
		{name: "short", param: "a0eebc99", ok: false},
		{name: "garbage", param: "not-a-uuid", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			id, ok := ParseUUID(rec, tt.param)

			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.NotEqual(t, uuid.Nil, id)
				assert.Equal(t, http.StatusOK, rec.Code)
				return
			}
			assert.Equal(t, uuid.Nil, id)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_PARAMETER", decode(t, rec).Error.Code)
		})
	}
}
