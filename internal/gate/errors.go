package gate

import "errors"

// Stage says which part of a gated run produced an error.
type Stage string

const (
	StageInput Stage = "input"
	StageProbe Stage = "probe"
	StageExec  Stage = "exec"
)

var (
	ErrNoCommand = errors.New("no command provided")
	ErrBlocked   = errors.New("network safety check failed - command blocked for security")
)

// Error tags a component error with its stage. The message is the
// component's own, unmodified.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// StageOf returns the stage of a gate error, or "" for anything else.
func StageOf(err error) Stage {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Stage
	}
	return ""
}
