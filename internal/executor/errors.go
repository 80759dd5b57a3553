package executor

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSpawn       = errors.New("failed to start command")
	ErrNonZeroExit = errors.New("command exited with non-zero status")
	ErrTimeout     = errors.New("command timed out")
	ErrSignaled    = errors.New("command terminated by signal")
)

// ExitError reports a non-zero exit code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return ErrNonZeroExit }

// TimeoutError reports that the command outlived its timeout and was terminated.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %dms", e.After.Milliseconds())
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// SignalError reports that the child was killed by a signal it did not handle.
type SignalError struct {
	Signal string
}

func (e *SignalError) Error() string {
	return "command terminated by signal " + e.Signal
}

func (e *SignalError) Unwrap() error { return ErrSignaled }
