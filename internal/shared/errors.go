package shared

import "fmt"

var (
	// Argument errors
	ErrInvalidArgument = fmt.Errorf("invalid argument")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrNoRefreshToken   = fmt.Errorf("no refresh token available")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrRateLimited        = fmt.Errorf("rate limit exceeded")
	ErrCircuitOpen        = fmt.Errorf("circuit breaker open")

	// Store errors
	ErrLoadFailed   = fmt.Errorf("load failed")
	ErrInvalidBatch = fmt.Errorf("invalid batch")
)
