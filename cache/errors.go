package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key doesn't exist or has expired.
	ErrNotFound = errors.New("cache: key not found")

	// ErrClosed is returned when using a closed cache.
	ErrClosed = errors.New("cache: connection closed")

	// ErrInvalidTTL is returned for negative TTLs.
	ErrInvalidTTL = errors.New("cache: invalid TTL")
)

// ConfigError reports an invalid cache configuration.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cache configuration error: %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("cache configuration error: %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new configuration error.
func NewConfigError(field, message string, err error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Err: err}
}

// ConnectionError reports a failure to reach the cache server.
type ConnectionError struct {
	Op      string
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cache connection error: %s failed for %s: %v", e.Op, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NewConnectionError creates a new connection error.
func NewConnectionError(op, address string, err error) *ConnectionError {
	return &ConnectionError{Op: op, Address: address, Err: err}
}

// OperationError reports a failed cache operation on a namespace. Key is empty for
// multi-key operations.
type OperationError struct {
	Op        string
	Namespace string
	Key       string
	Err       error
}

func (e *OperationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache operation error: %s failed for namespace %q: %v", e.Op, e.Namespace, e.Err)
	}
	return fmt.Sprintf("cache operation error: %s failed for %q in namespace %q: %v", e.Op, e.Key, e.Namespace, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// NewOperationError creates a new operation error.
func NewOperationError(op, namespace, key string, err error) *OperationError {
	return &OperationError{Op: op, Namespace: namespace, Key: key, Err: err}
}
