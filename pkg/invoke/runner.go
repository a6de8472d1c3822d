package invoke

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Result holds the captured output of one tool invocation
type Result struct {
	Stdout string
	Stderr string
}

// Runner executes one external command to completion.
// Implementations spawn exactly one child process per call and perform no
// retries; retry is a policy decision of the caller.
type Runner interface {
	Run(ctx context.Context, path string, args ...string) (Result, error)
}

// ExecRunner runs commands via os/exec with a bounded wall-clock timeout so a
// hung tool cannot stall a job indefinitely.
type ExecRunner struct {
	Timeout time.Duration // zero means no timeout beyond the caller's ctx
}

// NewExecRunner creates a runner with the given per-invocation timeout
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

// Run executes path with args, capturing stdout and stderr separately.
// A non-zero exit returns ToolExecutionError; a command that cannot be
// started returns ToolLaunchError.
func (r *ExecRunner) Run(ctx context.Context, path string, args ...string) (Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, &ToolLaunchError{Path: path, Err: err}
	}

	err := cmd.Wait()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &ToolExecutionError{
			Path:     path,
			ExitCode: exitErr.ExitCode(),
			Stderr:   stderr.String(),
		}
	}
	// Wait failed for a non-exit reason (ctx deadline kills land here too
	// when the process dies from the signal before reporting a code)
	return res, &ToolExecutionError{Path: path, ExitCode: -1, Stderr: err.Error()}
}
