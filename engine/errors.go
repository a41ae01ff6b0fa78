// Package engine holds the errors shared between workflow engines and
// the runner that drives them.
package engine

import (
	"errors"
	"fmt"
)

var (
	ErrOOMKilled      = errors.New("oom killed")
	ErrTimedOut       = errors.New("timed out")
	ErrWorkflowFailed = errors.New("workflow failed")
)

// ExitError reports a step whose command exited non-zero. It unwraps
// to ErrWorkflowFailed.
type ExitError struct {
	Code int64
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("workflow failed: exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return ErrWorkflowFailed
}
