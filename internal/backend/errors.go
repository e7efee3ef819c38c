package backend

import (
	"errors"
	"fmt"
)

// ErrEmptyResult is returned when the backend answered successfully but the
// response carried nothing usable.
var ErrEmptyResult = errors.New("backend returned an empty result")

// TransportError means the request could not be completed. StatusCode is set
// when the backend answered with a non-success status; Rejected is true for
// any failure where the backend did answer.
type TransportError struct {
	Op         string
	StatusCode int
	Rejected   bool
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: backend returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StreamError means a response stream broke after it started.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: stream failed: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// IsRejected reports whether err means the backend answered but refused or
// could not produce a result, as opposed to being unreachable.
func IsRejected(err error) bool {
	if errors.Is(err, ErrEmptyResult) {
		return true
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Rejected || te.StatusCode != 0
	}
	return false
}

func IsEmpty(err error) bool {
	return errors.Is(err, ErrEmptyResult)
}
