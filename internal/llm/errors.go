// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"errors"
	"fmt"
)

// ErrMalformed is returned when no attempt produced an acceptable object.
var ErrMalformed = errors.New("malformed model output")

// ErrEmpty is returned when the server replied with no content.
var ErrEmpty = errors.New("empty model output")

// ServiceError reports a transport-level failure talking to the inference
// server: refused connection, timeout, or a non-2xx status. Only this
// error class escalates to fail a document.
type ServiceError struct {
	Endpoint string
	Status   int
	Body     string
	Err      error
}

const maxErrorBody = 500

func newServiceError(endpoint string, status int, body string, err error) *ServiceError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &ServiceError{Endpoint: endpoint, Status: status, Body: body, Err: err}
}

func (e *ServiceError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("inference service %s unreachable: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("inference service %s returned %d: %s", e.Endpoint, e.Status, e.Body)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// IsServiceError reports whether err wraps a *ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
