package errors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ProviderError is a recoverable failure of one vendor call.
type ProviderError struct {
	Provider  string
	Operation string
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s %s failed: %v", e.Provider, e.Operation, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider || target == ErrTransient
}

// RateLimitedError reports throttling, either from the vendor or from the
// adapter's own limiter. RetryAfter is zero when the vendor gave no hint.
type RateLimitedError struct {
	Provider   string
	Operation  string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	msg := fmt.Sprintf("provider %s %s rate limited", e.Provider, e.Operation)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited || target == ErrTransient
}

// ValidationFailedError means the call succeeded but the result was rejected.
type ValidationFailedError struct {
	Provider string
	Reasons  []string
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("result from %s rejected: %s", e.Provider, strings.Join(e.Reasons, "; "))
}

func (e *ValidationFailedError) Is(target error) bool {
	return target == ErrValidationFailed
}

// NoProvidersAvailableError is returned before any attempt is made.
type NoProvidersAvailableError struct {
	Statuses map[string]string
}

func (e *NoProvidersAvailableError) Error() string {
	if len(e.Statuses) == 0 {
		return "no providers available: none configured"
	}
	names := make([]string, 0, len(e.Statuses))
	for name := range e.Statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+e.Statuses[name])
	}
	return "no providers available: " + strings.Join(parts, ", ")
}

func (e *NoProvidersAvailableError) Is(target error) bool {
	return target == ErrNoProvidersAvailable
}

// AllProvidersFailedError carries the last per-attempt failure for diagnostics.
type AllProvidersFailedError struct {
	Attempts int
	Last     error
}

func (e *AllProvidersFailedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("all providers failed after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("all providers failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *AllProvidersFailedError) Unwrap() error { return e.Last }

func (e *AllProvidersFailedError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}

// GlobalTimeoutError is returned when the request budget expires mid-loop.
type GlobalTimeoutError struct {
	Timeout  time.Duration
	Elapsed  time.Duration
	Attempts int
	Last     error
}

func (e *GlobalTimeoutError) Error() string {
	msg := fmt.Sprintf("global timeout of %s exceeded after %s (%d attempts)", e.Timeout, e.Elapsed.Round(time.Millisecond), e.Attempts)
	if e.Last != nil {
		msg += ": last error: " + e.Last.Error()
	}
	return msg
}

func (e *GlobalTimeoutError) Unwrap() error { return e.Last }

func (e *GlobalTimeoutError) Is(target error) bool {
	return target == ErrGlobalTimeout || target == context.DeadlineExceeded
}

// IsFatal reports whether err is one of the three kinds allowed to reach callers.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNoProvidersAvailable) ||
		errors.Is(err, ErrAllProvidersFailed) ||
		errors.Is(err, ErrGlobalTimeout)
}

// RetryAfter extracts the vendor hint from a rate-limit error, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}
