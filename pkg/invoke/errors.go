package invoke

import (
	"errors"
	"fmt"
)

// ToolLaunchError means the external tool could not be started at all
// (missing binary, not executable). The process never ran.
type ToolLaunchError struct {
	Path string
	Err  error
}

func (e *ToolLaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Path, e.Err)
}

func (e *ToolLaunchError) Unwrap() error { return e.Err }

// ToolExecutionError means the tool ran and exited non-zero.
type ToolExecutionError struct {
	Path     string
	ExitCode int
	Stderr   string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Path, e.ExitCode)
}

// IsLaunchError reports whether err wraps a ToolLaunchError
func IsLaunchError(err error) bool {
	var le *ToolLaunchError
	return errors.As(err, &le)
}

// IsExecutionError reports whether err wraps a ToolExecutionError
func IsExecutionError(err error) bool {
	var ee *ToolExecutionError
	return errors.As(err, &ee)
}
