package invoke

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesStdout(t *testing.T) {
	r := NewExecRunner(10 * time.Second)

	res, err := r.Run(context.Background(), "echo", "hello", "world")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello world" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestRunCapturesStderrSeparately(t *testing.T) {
	r := NewExecRunner(10 * time.Second)

	res, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err 1>&2")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
}

func TestRunMissingBinaryIsLaunchError(t *testing.T) {
	r := NewExecRunner(10 * time.Second)

	_, err := r.Run(context.Background(), "/no/such/binary-xyz")
	if err == nil {
		t.Fatal("Expected an error for missing binary")
	}
	if !IsLaunchError(err) {
		t.Errorf("Expected launch error, got %T: %v", err, err)
	}
	if IsExecutionError(err) {
		t.Error("Launch error must not classify as execution error")
	}

	var launchErr *ToolLaunchError
	if !errors.As(err, &launchErr) {
		t.Fatal("errors.As should find ToolLaunchError")
	}
	if launchErr.Path != "/no/such/binary-xyz" {
		t.Errorf("Path = %q", launchErr.Path)
	}
}

func TestRunNonZeroExitIsExecutionError(t *testing.T) {
	r := NewExecRunner(10 * time.Second)

	_, err := r.Run(context.Background(), "sh", "-c", "echo boom 1>&2; exit 3")
	if err == nil {
		t.Fatal("Expected an error for nonzero exit")
	}
	if !IsExecutionError(err) {
		t.Errorf("Expected execution error, got %T: %v", err, err)
	}
	if IsLaunchError(err) {
		t.Error("Execution error must not classify as launch error")
	}

	var execErr *ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatal("errors.As should find ToolExecutionError")
	}
	if execErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", execErr.ExitCode)
	}
	if !strings.Contains(execErr.Stderr, "boom") {
		t.Errorf("Stderr = %q, expected captured diagnostics", execErr.Stderr)
	}
}

func TestRunHonorsTimeout(t *testing.T) {
	r := NewExecRunner(100 * time.Millisecond)

	start := time.Now()
	_, err := r.Run(context.Background(), "sleep", "10")
	if err == nil {
		t.Fatal("Expected an error for a command that outlives its timeout")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v, timeout did not apply", elapsed)
	}
}
