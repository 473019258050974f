package replication

import (
	"errors"
	"fmt"
)

// ErrStopped is reported by a replica that was shut down with Stop.
var ErrStopped = errors.New("replication stopped")

// HandshakeError reports a missing or unexpected reply while a replica
// negotiates with its master. The link is down once it is returned.
type HandshakeError struct {
	Step  string // command that failed, e.g. "PING" or "PSYNC"
	Reply string // reply received, if any
	Err   error
}

// Error implements the error interface
func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("replication handshake failed at %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("replication handshake failed at %s: unexpected reply %q", e.Step, e.Reply)
}

// Unwrap returns the wrapped error
func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// LinkError reports an I/O failure on an established replication link.
type LinkError struct {
	Addr string
	Err  error
}

// Error implements the error interface
func (e *LinkError) Error() string {
	return fmt.Sprintf("replication link %s: %v", e.Addr, e.Err)
}

// Unwrap returns the wrapped error
func (e *LinkError) Unwrap() error {
	return e.Err
}
