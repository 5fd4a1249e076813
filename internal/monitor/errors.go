package monitor

import (
	"errors"
	"fmt"
)

// ErrTickInProgress is returned by Scheduler.TryTick while another tick runs.
var ErrTickInProgress = errors.New("reconciliation tick already in progress")

// StoreError wraps a persistence failure. The operation it belongs to did
// not take effect.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// SendError wraps a mail delivery failure.
type SendError struct {
	To  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send mail to %s: %v", e.To, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err wraps a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// IsSendError reports whether err wraps a SendError.
func IsSendError(err error) bool {
	var se *SendError
	return errors.As(err, &se)
}
