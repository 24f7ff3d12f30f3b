package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an unknown journal key or job id.
	ErrNotFound = errors.New("not found")
	// ErrPersistence wraps every failure of the storage backend.
	ErrPersistence = errors.New("persistence failure")
)

// ConfigError reports malformed configuration detected at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// ParseError reports a single feed entry that could not be normalized.
type ParseError struct {
	Entry     string
	Attribute string
	Err       error
}

func (e *ParseError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("entry %q: %v", e.Entry, e.Err)
	}
	return fmt.Sprintf("entry %q attribute %q: %v", e.Entry, e.Attribute, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransportError reports a failed call to the scoring endpoint: network
// failure, a non-2xx status, or a response envelope of the wrong shape.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("scoring endpoint HTTP %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("scoring endpoint HTTP %d: %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("scoring endpoint: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }
