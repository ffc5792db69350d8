package meteo

import (
	"fmt"
	"net/http"
)

// APIError represents a non-200 response from the MET API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("met api: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Retryable reports whether the request may succeed later: the API throttles
// with 429 and is occasionally unavailable.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ValidationError represents a request parameter outside its range
type ValidationError struct {
	Field string
	Value float64
	Limit string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %g: must be %s", e.Field, e.Value, e.Limit)
}

// NetworkError represents a transport failure
type NetworkError struct {
	Operation string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("met api %s: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
