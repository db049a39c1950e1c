package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/cartorder/pkg/errors"
)

// maxErrorBody caps how much of an error body is read.
const maxErrorBody = 1 << 20

// errorEnvelope is the error half of the JSON envelope shared by the services.
type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusErrors maps downstream statuses onto the local error of the same
// meaning.
var statusErrors = map[int]func(service, message string) *apperrors.AppError{
	http.StatusNotFound: func(service, message string) *apperrors.AppError {
		return apperrors.NotFound(service, message)
	},
	http.StatusBadRequest: func(service, message string) *apperrors.AppError {
		return apperrors.InvalidInput(service + ": " + message)
	},
	http.StatusConflict: func(service, message string) *apperrors.AppError {
		return apperrors.Conflict(service + ": " + message)
	},
	http.StatusUnauthorized: func(service, message string) *apperrors.AppError {
		return apperrors.Unauthorized(service + ": " + message)
	},
	http.StatusServiceUnavailable: func(service, message string) *apperrors.AppError {
		return apperrors.ServiceUnavailable(service + ": " + message)
	},
}

// ParseResponseError turns a non-2xx response from service into an error and
// closes the body. Bodies in the shared error envelope keep their code and
// message; anything else is reported with the raw body.
func ParseResponseError(resp *http.Response, service string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", service, resp.StatusCode, err)
	}

	var env errorEnvelope
	if json.Unmarshal(body, &env) != nil || env.Error == nil {
		return fmt.Errorf("%s returned status %d: %s", service, resp.StatusCode, body)
	}
	return downstreamError(resp.StatusCode, env.Error.Code, env.Error.Message, service)
}

func downstreamError(status int, code, message, service string) error {
	if build, ok := statusErrors[status]; ok {
		appErr := build(service, message)
		if status == http.StatusServiceUnavailable && code != "" {
			appErr.Code = code
		}
		return appErr
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%s server error (%d/%s): %s", service, status, code, message)
	}
	return &apperrors.AppError{
		Code:    code,
		Message: service + ": " + message,
		Status:  status,
	}
}
