package dspstream

import (
	"errors"
	"fmt"

	"github.com/dudk/dspstream/handoff"
)

var (
	// ErrInvalidState is returned if stream method cannot be executed at this moment.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnsupported is returned when sample rate or size isn't supported.
	ErrUnsupported = errors.New("unsupported parameter")
	// ErrTimeout is returned when a wait exceeds its deadline.
	ErrTimeout = handoff.ErrTimeout
)

// StateError is returned when an operation isn't allowed in current state.
// It matches ErrInvalidState.
type StateError struct {
	State State
	event event
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%v: %v not allowed while %v", ErrInvalidState, e.event, e.State)
}

// Is matches ErrInvalidState.
func (e *StateError) Is(err error) bool {
	return err == ErrInvalidState
}

// ErrorDump is returned if buffer dump was done, but streaming
// failed to restart, or if dump itself failed.
type ErrorDump struct {
	ErrDump    error
	ErrRestart error
}

func (e *ErrorDump) Error() string {
	switch {
	case e.ErrDump != nil && e.ErrRestart != nil:
		return fmt.Sprintf("restart error: %v after dump error: %v", e.ErrRestart, e.ErrDump)
	case e.ErrDump != nil:
		return fmt.Sprintf("dump error: %v", e.ErrDump)
	case e.ErrRestart != nil:
		return fmt.Sprintf("restart error: %v", e.ErrRestart)
	}
	return ""
}

// Is checks if any of errors match provided sentinel error.
func (e *ErrorDump) Is(err error) bool {
	if e.ErrDump != nil && errors.Is(e.ErrDump, err) {
		return true
	}
	if e.ErrRestart != nil && errors.Is(e.ErrRestart, err) {
		return true
	}
	return false
}
