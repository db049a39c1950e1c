package httpclient

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/cartorder/pkg/errors"
)

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func errorResponse(status int, body string) (*http.Response, *trackingBody) {
	b := &trackingBody{Reader: strings.NewReader(body)}
	return &http.Response{StatusCode: status, Body: b}, b
}

func envelope(code, message string) string {
	return `{"error":{"code":"` + code + `","message":"` + message + `"}}`
}

func TestParseResponseError_Envelope(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		code       string
		wantCode   string
		wantErr    error
		wantPrefix bool
	}{
		{name: "not found", status: http.StatusNotFound, code: "NOT_FOUND", wantCode: "NOT_FOUND", wantErr: apperrors.ErrNotFound},
		{name: "bad request", status: http.StatusBadRequest, code: "INVALID_INPUT", wantCode: "INVALID_INPUT", wantErr: apperrors.ErrInvalidInput, wantPrefix: true},
		{name: "conflict", status: http.StatusConflict, code: "CONFLICT", wantCode: "CONFLICT", wantErr: apperrors.ErrConflict, wantPrefix: true},
		{name: "unauthorized", status: http.StatusUnauthorized, code: "UNAUTHORIZED", wantCode: "UNAUTHORIZED", wantErr: apperrors.ErrUnauthorized, wantPrefix: true},
		{name: "unavailable keeps code", status: http.StatusServiceUnavailable, code: "MAINTENANCE", wantCode: "MAINTENANCE", wantErr: apperrors.ErrServiceUnavail, wantPrefix: true},
		{name: "unavailable without code", status: http.StatusServiceUnavailable, wantCode: "SERVICE_UNAVAILABLE", wantErr: apperrors.ErrServiceUnavail, wantPrefix: true},
		{name: "unmapped client status", status: http.StatusTooManyRequests, code: "RATE_LIMITED", wantCode: "RATE_LIMITED", wantPrefix: true},
		{name: "forbidden", status: http.StatusForbidden, code: "FORBIDDEN", wantCode: "FORBIDDEN", wantPrefix: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := errorResponse(tt.status, envelope(tt.code, "nope"))
			err := ParseResponseError(resp, "product")

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.status, appErr.Status)
			assert.Equal(t, tt.wantCode, appErr.Code)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantPrefix {
				assert.Equal(t, "product: nope", appErr.Message)
			}
			assert.True(t, body.closed)
		})
	}
}

func TestParseResponseError_ServerErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   []string
	}{
		{name: "enveloped 500", status: http.StatusInternalServerError, body: envelope("INTERNAL_ERROR", "db down"), want: []string{"product server error", "500", "INTERNAL_ERROR", "db down"}},
		{name: "enveloped 502", status: http.StatusBadGateway, body: envelope("BAD_GATEWAY", "upstream"), want: []string{"502", "upstream"}},
		{name: "plain text", status: http.StatusBadGateway, body: "Bad Gateway: connection refused", want: []string{"product returned status 502", "connection refused"}},
		{name: "html", status: http.StatusBadGateway, body: "<html><h1>502</h1></html>", want: []string{"status 502", "<html>"}},
		{name: "empty", status: http.StatusInternalServerError, want: []string{"product returned status 500"}},
		{name: "null error", status: http.StatusBadRequest, body: `{"error":null}`, want: []string{"product returned status 400"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := errorResponse(tt.status, tt.body)
			err := ParseResponseError(resp, "product")
			require.Error(t, err)

			var appErr *apperrors.AppError
			assert.False(t, errors.As(err, &appErr), "got AppError %v", appErr)
			for _, s := range tt.want {
				assert.Contains(t, err.Error(), s)
			}
			assert.True(t, body.closed)
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestParseResponseError_ReadFailure(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(failingReader{})}
	err := ParseResponseError(resp, "product")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read body")
	assert.Contains(t, err.Error(), "connection reset")
}
