// Package retry wraps adapter invocation with failure classification and
// backoff policy. It persists nothing itself; retry counters travel inside the
// run snapshot and reach the store only through committed transitions.
package retry

import (
	"context"
	"errors"
	"net"
)

// Class buckets adapter failures for retry decisions.
type Class int

const (
	// ClassTransient failures are expected to succeed on retry
	// (timeouts, rate limits, flaky networks).
	ClassTransient Class = iota
	// ClassFatal failures cannot succeed on retry and end the run.
	ClassFatal
)

// TransientError marks an error as retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks an error as permanent.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Fatal wraps err as permanent.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Classify decides whether an adapter error is worth retrying. Explicit
// markers win; timeouts and cancelled deadlines count as transient; anything
// unrecognized is fatal so an unknown failure can never loop forever.
func Classify(err error) Class {
	var transient *TransientError
	if errors.As(err, &transient) {
		return ClassTransient
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return ClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	return ClassFatal
}
