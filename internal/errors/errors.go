package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrInvalidInput - caller supplied a malformed request (bad image, unknown analysis kind)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrTransient - transient error, safe to retry against the same or another provider
	ErrTransient = errors.New("transient error")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")

	// ErrProvider - a single vendor call failed (network, auth, malformed response)
	ErrProvider = errors.New("provider error")

	// ErrRateLimited - a vendor or the local limiter throttled the call
	ErrRateLimited = errors.New("rate limited")

	// ErrValidationFailed - the vendor answered but the result is below the quality bar
	ErrValidationFailed = errors.New("validation failed")

	// ErrNoProvidersAvailable - no provider reports available; nothing was attempted
	ErrNoProvidersAvailable = errors.New("no providers available")

	// ErrAllProvidersFailed - every available provider was tried without a validated result
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrGlobalTimeout - the request's wall-clock budget ran out mid-loop
	ErrGlobalTimeout = errors.New("global timeout exceeded")
)
