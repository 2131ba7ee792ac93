package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorMapper maps vendor errors to the failover error taxonomy
type ErrorMapper interface {
	MapError(provider, operation string, err error) error
	IsRetryable(err error) bool
	Category(err error) string
}

// DefaultErrorMapper classifies errors by their message when the vendor SDK
// gave no typed signal.
type DefaultErrorMapper struct{}

// NewDefaultErrorMapper creates a new error mapper
func NewDefaultErrorMapper() *DefaultErrorMapper {
	return &DefaultErrorMapper{}
}

// MapError maps a raw vendor error to ProviderError or RateLimitedError.
// Errors already in the taxonomy pass through untouched.
func (m *DefaultErrorMapper) MapError(provider, operation string, err error) error {
	if err == nil {
		return nil
	}

	// Propagate context errors as-is
	if errors.Is(err, context.Canceled) {
		return err
	}

	var rl *RateLimitedError
	var pe *ProviderError
	var vf *ValidationFailedError
	if errors.As(err, &rl) || errors.As(err, &pe) || errors.As(err, &vf) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: provider, Operation: operation, Err: fmt.Errorf("request timeout: %w", err)}
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "quota"),
		strings.Contains(errStr, "too many requests"), strings.Contains(errStr, "throttl"),
		strings.Contains(errStr, "429"):
		return &RateLimitedError{Provider: provider, Operation: operation, Err: err}

	case strings.Contains(errStr, "unauthorized"), strings.Contains(errStr, "forbidden"),
		strings.Contains(errStr, "permission denied"), strings.Contains(errStr, "invalid api key"):
		return &ProviderError{Provider: provider, Operation: operation, Err: fmt.Errorf("access denied: %w", err)}

	case strings.Contains(errStr, "malformed json"), strings.Contains(errStr, "invalid json"),
		strings.Contains(errStr, "unexpected end of json"):
		return &ProviderError{Provider: provider, Operation: operation, Err: fmt.Errorf("malformed response: %w", err)}

	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return &ProviderError{Provider: provider, Operation: operation, Err: fmt.Errorf("request timeout: %w", err)}

	case strings.Contains(errStr, "network"), strings.Contains(errStr, "connection"), strings.Contains(errStr, "unreachable"):
		return &ProviderError{Provider: provider, Operation: operation, Err: fmt.Errorf("network error: %w", err)}

	default:
		return &ProviderError{Provider: provider, Operation: operation, Err: err}
	}
}

// IsRetryable determines if an error should let the loop move to the next provider
func (m *DefaultErrorMapper) IsRetryable(err error) bool {
	return IsRetryable(err)
}

// Category returns the error category name used in logs and metrics labels
func (m *DefaultErrorMapper) Category(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrNoProvidersAvailable):
		return "ErrNoProvidersAvailable"
	case errors.Is(err, ErrAllProvidersFailed):
		return "ErrAllProvidersFailed"
	case errors.Is(err, ErrGlobalTimeout):
		return "ErrGlobalTimeout"
	case errors.Is(err, ErrRateLimited):
		return "ErrRateLimited"
	case errors.Is(err, ErrValidationFailed):
		return "ErrValidationFailed"
	case errors.Is(err, ErrProvider):
		return "ErrProvider"
	case errors.Is(err, ErrInvalidInput):
		return "ErrInvalidInput"
	case errors.Is(err, ErrNotFound):
		return "ErrNotFound"
	case errors.Is(err, ErrTransient):
		return "ErrTransient"
	case errors.Is(err, ErrInternal):
		return "ErrInternal"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	default:
		return "Unknown"
	}
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCategory wraps an error with a specific category, keeping the cause in the message
func WrapWithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w: %v", message, category, err)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// NotFound wraps error as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// InvalidInput wraps error as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// Transient wraps error as transient
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// Internal wraps error as internal
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// IsRetryable checks whether a per-attempt failure lets failover continue
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrProvider) || errors.Is(err, ErrValidationFailed)
}
