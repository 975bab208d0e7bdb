package syncer

import (
	"errors"
	"fmt"

	"github.com/starford/cqsync/internal/remote"
)

// FilesystemError is a vault directory or file operation that failed.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("syncer: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// RunError is the classified failure of a run. Message is safe to show to
// the user; Err carries the detail for logs.
type RunError struct {
	Outcome Outcome
	Message string
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

const (
	msgNetwork = "sync failed: network error, please try again later"
	msgSystem  = "sync failed: system error, please try again later"
)

func classify(err error) *RunError {
	var (
		appErr  *remote.ApplicationError
		tErr    *remote.TransportError
		pErr    *remote.ProtocolError
		fsErr   *FilesystemError
		connErr *remote.ConnectivityError
	)
	switch {
	case errors.As(err, &appErr):
		return &RunError{Outcome: OutcomeFailedFatal, Message: "sync failed: " + appErr.Message, Err: err}
	case errors.As(err, &tErr):
		return &RunError{Outcome: OutcomeFailedFatal, Message: fmt.Sprintf("sync failed: remote returned HTTP %d", tErr.StatusCode), Err: err}
	case errors.As(err, &pErr):
		return &RunError{Outcome: OutcomeFailedFatal, Message: "sync failed: unexpected response from remote", Err: err}
	case errors.As(err, &fsErr):
		return &RunError{Outcome: OutcomeFailedFatal, Message: "sync failed: could not write to the vault", Err: err}
	case errors.As(err, &connErr):
		return &RunError{Outcome: OutcomeFailedTransient, Message: msgNetwork, Err: err}
	default:
		return &RunError{Outcome: OutcomeFailedTransient, Message: msgSystem, Err: err}
	}
}
