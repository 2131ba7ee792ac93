package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
	"github.com/harunnryd/kagami/internal/logger"

	"github.com/goccy/go-json"
)

// StatusClientClosedRequest is the non-standard code used when the caller
// went away before the failover loop finished.
const StatusClientClosedRequest = 499

// Response is the envelope every JSON endpoint returns.
type Response struct {
	Status    string    `json:"status"`
	Data      any       `json:"data,omitempty"`
	Error     *Error    `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeEnvelope(w, status, &Response{
		Status:    "ok",
		Data:      data,
		RequestID: logger.GetRequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, apiErr *Error) {
	writeEnvelope(w, status, &Response{
		Status:    "error",
		Error:     apiErr,
		RequestID: logger.GetRequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

func writeEnvelope(w http.ResponseWriter, status int, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("Failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("Failed to write JSON response", "error", err)
	}
}

// classify maps an orchestrator error to an HTTP status and error body.
// Vendor failure details stay in the server log.
func classify(err error) (int, *Error) {
	var (
		noProviders *kagamiErrors.NoProvidersAvailableError
		allFailed   *kagamiErrors.AllProvidersFailedError
		timeout     *kagamiErrors.GlobalTimeoutError
		tooLarge    *http.MaxBytesError
	)

	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, &Error{
			Code:    "PAYLOAD_TOO_LARGE",
			Message: "image exceeds size limit",
			Details: map[string]any{"limit_bytes": tooLarge.Limit},
		}
	case errors.Is(err, kagamiErrors.ErrInvalidInput):
		return http.StatusBadRequest, &Error{Code: "INVALID_INPUT", Message: err.Error()}
	case errors.As(err, &noProviders):
		return http.StatusServiceUnavailable, &Error{
			Code:    "NO_PROVIDERS_AVAILABLE",
			Message: err.Error(),
			Details: map[string]any{"statuses": noProviders.Statuses},
		}
	case errors.As(err, &allFailed):
		return http.StatusBadGateway, &Error{
			Code:    "ALL_PROVIDERS_FAILED",
			Message: "all providers failed",
			Details: map[string]any{"attempts": allFailed.Attempts},
		}
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout, &Error{
			Code:    "GLOBAL_TIMEOUT",
			Message: "request timed out",
			Details: map[string]any{"attempts": timeout.Attempts, "timeout": timeout.Timeout.String()},
		}
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, &Error{Code: "CANCELED", Message: "request cancelled"}
	default:
		return http.StatusInternalServerError, &Error{Code: "INTERNAL", Message: "internal error"}
	}
}
