package tsds

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Store implementations when a requested document
// does not exist.
var ErrNotFound = errors.New("not found")

// TransientError marks a batch failure the broker should recover from by
// redelivery: store or lock failures, a failed registry refresh, a missing
// metadata document. The consumer rejects the batch with requeue.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps an error as transient. Wrapping nil returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
