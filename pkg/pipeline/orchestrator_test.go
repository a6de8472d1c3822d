package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clipforge/clipforge/pkg/invoke"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/store"
)

const probeJSON = `{"format":{"duration":"10.0"},"streams":[{"codec_type":"video","width":1920,"height":1080}]}`

// showinfo output with cut points at 3.2s and 9.5s; the trailing half
// second segment gets dropped, so cutting is not a no-op
const cutsStderr = `[Parsed_showinfo_1 @ 0x1] n: 0 pts: 76800 pts_time:3.2 pos: 100
[Parsed_showinfo_1 @ 0x1] n: 1 pts: 228000 pts_time:9.5 pos: 200`

// callKind classifies one fake tool invocation
type callKind string

const (
	kindProbe       callKind = "probe"
	kindDetectCuts  callKind = "detect_cuts"
	kindStyle       callKind = "style"
	kindCuts        callKind = "cuts"
	kindCaption     callKind = "caption"
	kindFinalize    callKind = "finalize"
	kindPassThrough callKind = "passthrough"
)

// fakeRunner scripts tool behavior per invocation kind
type fakeRunner struct {
	mu    sync.Mutex
	fail  map[callKind]error
	calls []callKind
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fail: make(map[callKind]error)}
}

func (f *fakeRunner) classify(path string, args []string) callKind {
	if strings.Contains(path, "ffprobe") {
		return kindProbe
	}
	joined := strings.Join(args, " ")
	switch {
	case strings.Contains(joined, "-f null"):
		return kindDetectCuts
	case strings.Contains(joined, "-filter_complex"):
		return kindCuts
	case strings.Contains(joined, "drawtext"):
		return kindCaption
	case strings.Contains(joined, "scale="):
		return kindFinalize
	case strings.Contains(joined, "-c copy"):
		return kindPassThrough
	default:
		return kindStyle
	}
}

func (f *fakeRunner) Run(ctx context.Context, path string, args ...string) (invoke.Result, error) {
	kind := f.classify(path, args)

	f.mu.Lock()
	f.calls = append(f.calls, kind)
	err := f.fail[kind]
	f.mu.Unlock()

	if err != nil {
		return invoke.Result{}, err
	}

	switch kind {
	case kindProbe:
		return invoke.Result{Stdout: probeJSON}, nil
	case kindDetectCuts:
		return invoke.Result{Stderr: cutsStderr}, nil
	default:
		return invoke.Result{}, nil
	}
}

func (f *fakeRunner) count(kind callKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == kind {
			n++
		}
	}
	return n
}

// progressRecorder captures every job snapshot the orchestrator notifies
type progressRecorder struct {
	mu        sync.Mutex
	snapshots []models.Job
}

func (r *progressRecorder) JobUpdated(job *models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, *job)
}

type testEnv struct {
	store    *store.MemoryStore
	runner   *fakeRunner
	orch     *Orchestrator
	recorder *progressRecorder
	source   string
	scratch  string
	output   string
	sleeps   []time.Duration
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	source := filepath.Join(dir, "source.mp4")
	if err := os.WriteFile(source, []byte("not really a video"), 0o644); err != nil {
		t.Fatalf("Failed to write source: %v", err)
	}

	env := &testEnv{
		store:    store.NewMemoryStore(),
		runner:   newFakeRunner(),
		recorder: &progressRecorder{},
		source:   source,
		scratch:  filepath.Join(dir, "scratch"),
		output:   filepath.Join(dir, "output"),
	}
	if err := os.MkdirAll(env.scratch, 0o755); err != nil {
		t.Fatalf("Failed to create scratch root: %v", err)
	}

	env.orch = NewOrchestrator(env.store, env.runner, Config{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		ScratchRoot: env.scratch,
		OutputRoot:  env.output,
		Retry:       models.DefaultRetryPolicy(),
	}, nil, env.recorder)
	env.orch.sleep = func(d time.Duration) { env.sleeps = append(env.sleeps, d) }
	return env
}

func (env *testEnv) submit(t *testing.T, id, style string) {
	t.Helper()
	err := env.store.CreateJob(&models.Job{
		ID:        id,
		Status:    models.JobStatusQueued,
		SourceRef: env.source,
		Style:     models.StyleConfig{Style: style, Intensity: "medium", Quality: "1080p"},
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
}

func TestRunHappyPath(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "j1", "mrbeast")

	if err := env.orch.Run(context.Background(), "j1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	job, _ := env.store.GetJob("j1")
	if job.Status != models.JobStatusCompleted {
		t.Errorf("Status = %s, want completed", job.Status)
	}
	if job.Progress != 100 {
		t.Errorf("Progress = %d, want 100", job.Progress)
	}
	wantOutput := filepath.Join(env.output, "j1.mp4")
	if job.OutputRef != wantOutput {
		t.Errorf("OutputRef = %q, want %q", job.OutputRef, wantOutput)
	}
	if job.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", job.Attempts)
	}
	if job.Error != "" {
		t.Errorf("Error = %q, completed jobs carry no error", job.Error)
	}

	history, _ := env.store.GetHistory("j1")
	if len(history) != 6 {
		t.Fatalf("Expected 6 history entries, got %d: %+v", len(history), history)
	}
	wantSteps := []string{"analyze", "detect_cuts", "apply_style", "apply_cuts", "overlay_caption", "finalize_quality"}
	for i, step := range wantSteps {
		if history[i].Step != step {
			t.Errorf("history[%d].Step = %q, want %q", i, history[i].Step, step)
		}
		if history[i].Outcome != models.OutcomeOK {
			t.Errorf("history[%d].Outcome = %q, want ok", i, history[i].Outcome)
		}
	}
}

func TestRunProgressIsMonotonic(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "j1", "mrbeast")

	if err := env.orch.Run(context.Background(), "j1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	last := -1
	for i, snap := range env.recorder.snapshots {
		if snap.Progress < last {
			t.Errorf("Progress regressed at snapshot %d: %d -> %d", i, last, snap.Progress)
		}
		last = snap.Progress
	}
	final := env.recorder.snapshots[len(env.recorder.snapshots)-1]
	if final.Progress != 100 || final.Status != models.JobStatusCompleted {
		t.Errorf("Final snapshot = status %s progress %d", final.Status, final.Progress)
	}
}

func TestRunMissingSourceFailsWithoutRetry(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "j1", "cinematic")
	os.Remove(env.source)

	if err := env.orch.Run(context.Background(), "j1"); err == nil {
		t.Fatal("Run should fail for a missing source")
	}

	job, _ := env.store.GetJob("j1")
	if job.Status != models.JobStatusError {
		t.Errorf("Status = %s, want error", job.Status)
	}
	if job.Attempts != 1 {
		t.Errorf("Attempts = %d, an unreadable source must not be retried", job.Attempts)
	}
	if job.Error != "source file is unreadable or missing" {
		t.Errorf("Error = %q", job.Error)
	}
	// no pass-through fallback for a source that cannot be read
	if n := env.runner.count(kindPassThrough); n != 0 {
		t.Errorf("Pass-through attempted %d times for a missing source", n)
	}
	if len(env.sleeps) != 0 {
		t.Errorf("Backoff slept %d times for a non-retryable failure", len(env.sleeps))
	}
}

func TestRunOptionalStageDegrades(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "j1", "mrbeast")
	env.runner.fail[kindDetectCuts] = &invoke.ToolExecutionError{Path: "ffmpeg", ExitCode: 1, Stderr: "scene filter blew up"}

	if err := env.orch.Run(context.Background(), "j1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	job, _ := env.store.GetJob("j1")
	if job.Status != models.JobStatusCompleted {
		t.Errorf("Status = %s, optional stage failure must not fail the job", job.Status)
	}
	if job.Attempts != 1 {
		t.Errorf("Attempts = %d, degradation is not a retry", job.Attempts)
	}

	history, _ := env.store.GetHistory("j1")
	var sawDegraded, sawSkippedCuts bool
	for _, entry := range history {
		if entry.Step == "detect_cuts" && entry.Outcome == models.OutcomeDegraded {
			sawDegraded = true
		}
		if entry.Step == "apply_cuts" && entry.Outcome == models.OutcomeSkipped {
			sawSkippedCuts = true
		}
	}
	if !sawDegraded {
		t.Error("detect_cuts should be recorded as degraded")
	}
	if !sawSkippedCuts {
		t.Error("apply_cuts should be skipped when no segments were found")
	}
}

func TestRunRetriesThenFallsBack(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "j1", "cinematic")
	env.runner.fail[kindStyle] = &invoke.ToolExecutionError{Path: "ffmpeg", ExitCode: 1, Stderr: "filter parse error"}

	if err := env.orch.Run(context.Background(), "j1"); err != nil {
		t.Fatalf("Run should succeed via fallback, got: %v", err)
	}

	job, _ := env.store.GetJob("j1")
	if job.Status != models.JobStatusCompleted {
		t.Errorf("Status = %s, want completed via fallback", job.Status)
	}
	if job.Progress != 100 {
		t.Errorf("Progress = %d, want 100", job.Progress)
	}
	if job.Attempts != 3 {
		t.Errorf("Attempts = %d, want the full retry budget", job.Attempts)
	}
	if n := env.runner.count(kindStyle); n != 3 {
		t.Errorf("apply_style ran %d times, want 3", n)
	}
	if n := env.runner.count(kindPassThrough); n != 1 {
		t.Errorf("Pass-through ran %d times, want 1", n)
	}

	// linear backoff between attempts 1→2 and 2→3
	policy := models.DefaultRetryPolicy()
	if len(env.sleeps) != 2 {
		t.Fatalf("Slept %d times, want 2", len(env.sleeps))
	}
	if env.sleeps[0] != policy.BackoffFor(1) || env.sleeps[1] != policy.BackoffFor(2) {
		t.Errorf("Backoffs = %v, want [%v %v]", env.sleeps, policy.BackoffFor(1), policy.BackoffFor(2))
	}

	history, _ := env.store.GetHistory("j1")
	sawFallback := false
	for _, entry := range history {
		if entry.Step == "fallback" && entry.Outcome == models.OutcomeDegraded {
			sawFallback = true
		}
	}
	if !sawFallback {
		t.Error("Fallback delivery should be recorded in history")
	}
}

func TestRunLaunchErrorFailsJob(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "j1", "cinematic")
	launchErr := &invoke.ToolLaunchError{Path: "ffmpeg", Err: os.ErrNotExist}
	for _, kind := range []callKind{kindStyle, kindPassThrough} {
		env.runner.fail[kind] = launchErr
	}

	if err := env.orch.Run(context.Background(), "j1"); err == nil {
		t.Fatal("Run should fail when the tool cannot be launched anywhere")
	}

	job, _ := env.store.GetJob("j1")
	if job.Status != models.JobStatusError {
		t.Errorf("Status = %s, want error", job.Status)
	}
	if job.Attempts != 3 {
		t.Errorf("Attempts = %d, launch errors are retried", job.Attempts)
	}
	if job.Error != "apply_style failed: render tool is not available" {
		t.Errorf("Error = %q", job.Error)
	}
}

func TestRunCaptionFailureDegrades(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "j1", "cinematic")
	env.runner.fail[kindCaption] = &invoke.ToolExecutionError{Path: "ffmpeg", ExitCode: 1, Stderr: "fontconfig error"}

	if err := env.orch.Run(context.Background(), "j1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	job, _ := env.store.GetJob("j1")
	if job.Status != models.JobStatusCompleted {
		t.Errorf("Status = %s, a caption failure must not fail the job", job.Status)
	}
	if job.Attempts != 1 {
		t.Errorf("Attempts = %d, degradation is not a retry", job.Attempts)
	}
	if job.OutputRef == "" {
		t.Error("Degraded run should still deliver an output")
	}

	history, _ := env.store.GetHistory("j1")
	var captionOutcome, finalizeOutcome string
	for _, entry := range history {
		switch entry.Step {
		case "overlay_caption":
			captionOutcome = entry.Outcome
		case "finalize_quality":
			finalizeOutcome = entry.Outcome
		}
	}
	if captionOutcome != models.OutcomeDegraded {
		t.Errorf("overlay_caption outcome = %q, want degraded", captionOutcome)
	}
	if finalizeOutcome != models.OutcomeOK {
		t.Errorf("finalize_quality outcome = %q, the pipeline should continue past a degraded caption", finalizeOutcome)
	}
}

func TestRunMissingToolAtFinalize(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "j1", "cinematic")
	launchErr := &invoke.ToolLaunchError{Path: "ffmpeg", Err: os.ErrNotExist}
	env.runner.fail[kindFinalize] = launchErr
	env.runner.fail[kindPassThrough] = launchErr

	if err := env.orch.Run(context.Background(), "j1"); err == nil {
		t.Fatal("Run should fail when the tool disappears at the final stage")
	}

	job, _ := env.store.GetJob("j1")
	if job.Status != models.JobStatusError {
		t.Errorf("Status = %s, want error", job.Status)
	}
	if job.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", job.Attempts)
	}
	if job.Error != "finalize_quality failed: render tool is not available" {
		t.Errorf("Error = %q", job.Error)
	}
	// every attempt re-ran the full pipeline up to the failing stage
	if n := env.runner.count(kindStyle); n != 3 {
		t.Errorf("apply_style ran %d times, want 3", n)
	}
	if n := env.runner.count(kindFinalize); n != 3 {
		t.Errorf("finalize_quality ran %d times, want 3", n)
	}
	if len(env.sleeps) != 2 {
		t.Errorf("Slept %d times between attempts, want 2", len(env.sleeps))
	}
}

func TestRunErrorMessageNeverLeaksStderr(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "j1", "cinematic")
	secret := "stderr-internal-diagnostic-xyzzy"
	execErr := &invoke.ToolExecutionError{Path: "ffmpeg", ExitCode: 187, Stderr: secret}
	for _, kind := range []callKind{kindStyle, kindPassThrough} {
		env.runner.fail[kind] = execErr
	}

	env.orch.Run(context.Background(), "j1")

	job, _ := env.store.GetJob("j1")
	if job.Status != models.JobStatusError {
		t.Fatalf("Status = %s, want error", job.Status)
	}
	if strings.Contains(job.Error, secret) {
		t.Errorf("Public error leaked stderr: %q", job.Error)
	}
	if job.Error != "apply_style failed: render tool exited with status 187" {
		t.Errorf("Error = %q", job.Error)
	}
	history, _ := env.store.GetHistory("j1")
	for _, entry := range history {
		if strings.Contains(entry.Message, secret) {
			t.Errorf("History leaked stderr: %q", entry.Message)
		}
	}
}

func TestRunCleansScratchSpace(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "ok", "cinematic")
	env.submit(t, "bad", "cinematic")

	if err := env.orch.Run(context.Background(), "ok"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	env.runner.fail[kindStyle] = &invoke.ToolExecutionError{Path: "ffmpeg", ExitCode: 1}
	env.runner.fail[kindPassThrough] = &invoke.ToolExecutionError{Path: "ffmpeg", ExitCode: 1}
	env.orch.Run(context.Background(), "bad")

	entries, err := os.ReadDir(env.scratch)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Scratch root not empty after runs: %v", entries)
	}
}

func TestRunRejectsUnclaimableJob(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, "j1", "cinematic")
	env.store.ClaimJob("j1")

	if err := env.orch.Run(context.Background(), "j1"); err == nil {
		t.Error("Run should refuse a job that is already claimed")
	}
}

func TestDispatcherSubmit(t *testing.T) {
	env := newTestEnv(t)
	d := NewDispatcher(env.store, env.orch, nil, 2)

	job, err := d.Submit(models.JobRequest{
		SourceRef: env.source,
		Style:     models.StyleConfig{Style: "cinematic"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.ID == "" {
		t.Error("Submit should assign an ID")
	}
	if job.Status != models.JobStatusQueued {
		t.Errorf("Returned status = %s, want queued", job.Status)
	}

	if err := d.Wait(); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	final, _ := env.store.GetJob(job.ID)
	if final.Status != models.JobStatusCompleted {
		t.Errorf("Final status = %s, want completed", final.Status)
	}
}

func TestDispatcherSubmitRequiresSource(t *testing.T) {
	env := newTestEnv(t)
	d := NewDispatcher(env.store, env.orch, nil, 1)

	if _, err := d.Submit(models.JobRequest{}); err == nil {
		t.Error("Submit without source_ref should fail")
	}
}
