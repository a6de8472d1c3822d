package pipeline

import (
	"errors"
	"fmt"

	"github.com/clipforge/clipforge/pkg/invoke"
)

// SourceUnreadableError means the input artifact is missing or corrupt.
// Retrying cannot fix a missing source, so the orchestrator surfaces it
// immediately as a job error without further attempts.
type SourceUnreadableError struct {
	SourceRef string
	Err       error
}

func (e *SourceUnreadableError) Error() string {
	return fmt.Sprintf("source %s is unreadable: %v", e.SourceRef, e.Err)
}

func (e *SourceUnreadableError) Unwrap() error { return e.Err }

// IsSourceUnreadable reports whether err wraps a SourceUnreadableError
func IsSourceUnreadable(err error) bool {
	var su *SourceUnreadableError
	return errors.As(err, &su)
}

// stageError tags a failure with the stage it happened in
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string {
	return e.stage + ": " + e.err.Error()
}

func (e *stageError) Unwrap() error { return e.err }

// publicMessage reduces a pipeline failure to the short human-readable text
// stored on the job record. Tool stderr never reaches it; that detail stays
// in the service logs.
func publicMessage(err error) string {
	var su *SourceUnreadableError
	if errors.As(err, &su) {
		return "source file is unreadable or missing"
	}

	stage := "pipeline"
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
	}

	var le *invoke.ToolLaunchError
	if errors.As(err, &le) {
		return fmt.Sprintf("%s failed: render tool is not available", stage)
	}
	var ee *invoke.ToolExecutionError
	if errors.As(err, &ee) {
		return fmt.Sprintf("%s failed: render tool exited with status %d", stage, ee.ExitCode)
	}
	return fmt.Sprintf("%s failed", stage)
}
