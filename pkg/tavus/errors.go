package tavus

import (
	"fmt"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tavus api error: status %d: %s", e.Status, e.Body)
}

func (e *APIError) ErrorReason() errorsx.ReasonCode { return errorsx.ReasonAPIStatus }

// NetworkError is a request that produced no response.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "tavus network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) ErrorReason() errorsx.ReasonCode { return errorsx.ReasonNetwork }
