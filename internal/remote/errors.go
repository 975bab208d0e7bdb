package remote

import (
	"fmt"

	"github.com/starford/cqsync/internal/models"
)

// ConnectivityError means no response reached us: DNS, refused connection,
// timeout, cancelled context or an open circuit breaker.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("remote: network error, unable to reach the server: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// TransportError is a response with a non-2xx HTTP status.
type TransportError struct {
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote: HTTP error status %d", e.StatusCode)
}

// ProtocolError is a response body that does not parse into the envelope.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("remote: unexpected response: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ApplicationError is a parsed envelope whose code is not success.
type ApplicationError struct {
	Code    int
	Message string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("remote: code %d: %s", e.Code, e.Message)
}

// CheckPage returns an ApplicationError for an unsuccessful page.
func CheckPage(p *models.Page) error {
	if p.Success() {
		return nil
	}
	return &ApplicationError{Code: p.Code, Message: p.Message}
}
