package redisserver

import (
	"errors"
	"fmt"
)

// Error types for specific failure scenarios
var (
	// ErrNotConnected indicates the replica is not connected to the master
	ErrNotConnected = errors.New("not connected to master")

	// ErrSyncInProgress indicates synchronization is currently in progress
	ErrSyncInProgress = errors.New("synchronization in progress")

	// ErrReadOnly indicates an attempt to write to a read-only server
	ErrReadOnly = errors.New("server is read-only")

	// ErrInvalidConfig indicates invalid configuration options
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrClosed indicates the server has been closed
	ErrClosed = errors.New("server is closed")

	// ErrNotReplica indicates a replica-only operation on a master
	ErrNotReplica = errors.New("server is not a replica")
)

// ConfigError reports an option that failed validation
type ConfigError struct {
	Option string
	Value  interface{}
	Err    error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Option, fmt.Sprint(e.Value), e.Err)
}

// Unwrap returns the wrapped error
func (e *ConfigError) Unwrap() error {
	return e.Err
}
