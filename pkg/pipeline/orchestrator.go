package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clipforge/clipforge/pkg/invoke"
	"github.com/clipforge/clipforge/pkg/logging"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/stages"
	"github.com/clipforge/clipforge/pkg/store"
)

// Notifier receives a callback after every durable job state change.
// Implementations must not block; the orchestrator calls it inline.
type Notifier interface {
	JobUpdated(job *models.Job)
}

// MetricsRecorder counts pipeline activity. All methods must be safe
// for concurrent use.
type MetricsRecorder interface {
	RecordJobSubmitted()
	RecordJobCompleted(mode string)
	RecordJobFailed()
	RecordStage(stage, outcome string, duration time.Duration)
}

// Config holds the orchestrator's tool paths and working directories.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	ScratchRoot string
	OutputRoot  string
	Retry       models.RetryPolicy
}

// DefaultConfig returns a config that finds tools on PATH and keeps
// scratch space under the system temp directory.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		ScratchRoot: os.TempDir(),
		OutputRoot:  "output",
		Retry:       models.DefaultRetryPolicy(),
	}
}

// Orchestrator drives a job through the render stages and records
// every observable transition in the store.
type Orchestrator struct {
	store    store.Store
	runner   invoke.Runner
	cfg      Config
	log      *logging.Logger
	notifier Notifier
	metrics  MetricsRecorder
	tracer   trace.Tracer

	// sleep is swapped out in tests
	sleep func(time.Duration)
}

func NewOrchestrator(st store.Store, runner invoke.Runner, cfg Config, log *logging.Logger, notifier Notifier) *Orchestrator {
	if log == nil {
		log = logging.NewLogger(logging.INFO, false)
	}
	return &Orchestrator{
		store:    st,
		runner:   runner,
		cfg:      cfg,
		log:      log,
		notifier: notifier,
		tracer:   otel.Tracer("clipforge/pipeline"),
		sleep:    time.Sleep,
	}
}

// WithMetrics attaches a metrics recorder. Safe to skip in tests.
func (o *Orchestrator) WithMetrics(m MetricsRecorder) *Orchestrator {
	o.metrics = m
	return o
}

// Render satisfies renderer.Renderer so the in-process pipeline is
// interchangeable with a remote render service.
func (o *Orchestrator) Render(ctx context.Context, jobID string) error {
	return o.Run(ctx, jobID)
}

// stage is one step of the render pipeline. Optional stages degrade:
// a nonzero tool exit skips their transformation instead of failing
// the attempt. A tool that cannot be launched always fails the attempt.
type stage struct {
	name       string
	label      string
	checkpoint int
	optional   bool
	run        func(ctx context.Context, st *attemptState) error
}

// attemptState carries intermediate artifacts between stages of a
// single pipeline attempt. Each attempt starts from a fresh state.
type attemptState struct {
	job      *models.Job
	dir      string
	artifact string

	info     probeInfo
	style    stages.StyleParams
	segments []stages.Segment
}

func (o *Orchestrator) pipelineStages() []stage {
	return []stage{
		{name: "analyze", label: "Analyzing source", checkpoint: 10, run: o.stageAnalyze},
		{name: "detect_cuts", label: "Detecting scene cuts", checkpoint: 25, optional: true, run: o.stageDetectCuts},
		{name: "apply_style", label: "Applying style", checkpoint: 50, run: o.stageApplyStyle},
		{name: "apply_cuts", label: "Applying cuts", checkpoint: 75, optional: true, run: o.stageApplyCuts},
		{name: "overlay_caption", label: "Overlaying caption", checkpoint: 90, optional: true, run: o.stageOverlayCaption},
		{name: "finalize_quality", label: "Finalizing quality", checkpoint: 100, run: o.stageFinalize},
	}
}

// Run processes a single job to a terminal state. It claims the job,
// runs the pipeline with retries, falls back to a pass-through copy
// when every attempt fails, and always removes its scratch directory.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	ctx, span := o.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	if err := o.store.ClaimJob(jobID); err != nil {
		return fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}
	o.notify(jobID)

	job, err := o.store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	scratch, err := os.MkdirTemp(o.cfg.ScratchRoot, "clipforge-"+jobID+"-")
	if err != nil {
		msg := "failed to allocate scratch space"
		o.failJob(jobID, msg)
		return fmt.Errorf("%s for job %s: %w", msg, jobID, err)
	}
	defer os.RemoveAll(scratch)

	log := o.log.WithField("job_id", jobID)
	policy := o.cfg.Retry

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := o.store.RecordAttempt(jobID); err != nil {
			log.Warn("failed to record attempt", map[string]interface{}{"error": err.Error()})
		}
		log.Info("starting pipeline attempt", map[string]interface{}{
			"attempt":      attempt,
			"max_attempts": policy.MaxAttempts,
		})

		outputRef, err := o.runAttempt(ctx, job, scratch, attempt)
		if err == nil {
			if err := o.store.MarkCompleted(jobID, outputRef); err != nil {
				return fmt.Errorf("failed to complete job %s: %w", jobID, err)
			}
			o.notify(jobID)
			if o.metrics != nil {
				o.metrics.RecordJobCompleted("styled")
			}
			log.Info("pipeline completed", map[string]interface{}{"output": outputRef, "attempt": attempt})
			return nil
		}

		lastErr = err
		span.RecordError(err)
		log.Warn("pipeline attempt failed", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
		})

		if IsSourceUnreadable(err) {
			// no amount of retrying fixes a missing source
			break
		}
		if attempt < policy.MaxAttempts {
			o.sleep(policy.BackoffFor(attempt))
		}
	}

	if !IsSourceUnreadable(lastErr) {
		if outputRef, err := o.passThrough(ctx, job, scratch); err == nil {
			o.recordHistory(jobID, "fallback", models.OutcomeDegraded, "delivered pass-through copy without styling")
			if err := o.store.MarkCompleted(jobID, outputRef); err != nil {
				return fmt.Errorf("failed to complete job %s: %w", jobID, err)
			}
			o.notify(jobID)
			if o.metrics != nil {
				o.metrics.RecordJobCompleted("fallback")
			}
			log.Warn("pipeline fell back to pass-through copy", map[string]interface{}{"output": outputRef})
			return nil
		} else {
			span.RecordError(err)
			log.Error("pass-through fallback failed", map[string]interface{}{"error": err.Error()})
		}
	}

	msg := publicMessage(lastErr)
	o.failJob(jobID, msg)
	if o.metrics != nil {
		o.metrics.RecordJobFailed()
	}
	log.Error("pipeline failed", map[string]interface{}{"error": lastErr.Error(), "public": msg})
	return lastErr
}

// runAttempt executes all six stages once and returns the final
// output reference. Intermediate artifacts live in a per-attempt
// subdirectory of the job's scratch space.
func (o *Orchestrator) runAttempt(ctx context.Context, job *models.Job, scratch string, attempt int) (string, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.attempt",
		trace.WithAttributes(attribute.Int("attempt", attempt)))
	defer span.End()

	dir := filepath.Join(scratch, fmt.Sprintf("attempt-%d", attempt))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create attempt dir: %w", err)
	}

	st := &attemptState{
		job:      job,
		dir:      dir,
		artifact: job.SourceRef,
	}

	for _, sg := range o.pipelineStages() {
		if err := o.runStage(ctx, st, sg); err != nil {
			return "", err
		}
	}
	return st.artifact, nil
}

func (o *Orchestrator) runStage(ctx context.Context, st *attemptState, sg stage) error {
	ctx, span := o.tracer.Start(ctx, "stage."+sg.name)
	defer span.End()

	stageStart := time.Now()
	err := sg.run(ctx, st)
	if o.metrics != nil {
		o.metrics.RecordStage(sg.name, stageOutcome(sg, err), time.Since(stageStart))
	}
	switch {
	case err == nil:
		// the run func records its own Skipped/OK history entry
	case sg.optional && invoke.IsExecutionError(err) && !IsSourceUnreadable(err):
		o.recordHistory(st.job.ID, sg.name, models.OutcomeDegraded, "stage failed, continuing without it")
		o.log.Warn("optional stage degraded", map[string]interface{}{
			"job_id": st.job.ID,
			"stage":  sg.name,
			"error":  err.Error(),
		})
		span.RecordError(err)
	default:
		o.recordHistory(st.job.ID, sg.name, models.OutcomeFailed, publicMessage(&stageError{stage: sg.name, err: err}))
		span.RecordError(err)
		return &stageError{stage: sg.name, err: err}
	}

	if sg.checkpoint < 100 {
		if uerr := o.store.UpdateProgress(st.job.ID, sg.checkpoint, sg.label); uerr != nil {
			return fmt.Errorf("failed to update progress at %s: %w", sg.name, uerr)
		}
		o.notify(st.job.ID)
	}
	return nil
}

func stageOutcome(sg stage, err error) string {
	switch {
	case err == nil:
		return models.OutcomeOK
	case sg.optional && invoke.IsExecutionError(err) && !IsSourceUnreadable(err):
		return models.OutcomeDegraded
	default:
		return models.OutcomeFailed
	}
}

func (o *Orchestrator) stageAnalyze(ctx context.Context, st *attemptState) error {
	if _, err := os.Stat(st.job.SourceRef); err != nil {
		return &SourceUnreadableError{SourceRef: st.job.SourceRef, Err: err}
	}

	res, err := o.runner.Run(ctx, o.cfg.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		st.job.SourceRef,
	)
	if err != nil {
		if invoke.IsExecutionError(err) {
			// the probe rejects sources it cannot parse
			return &SourceUnreadableError{SourceRef: st.job.SourceRef, Err: err}
		}
		return err
	}

	info, err := parseProbeOutput(res.Stdout)
	if err != nil {
		return &SourceUnreadableError{SourceRef: st.job.SourceRef, Err: err}
	}
	st.info = info
	o.recordHistory(st.job.ID, "analyze", models.OutcomeOK,
		fmt.Sprintf("duration %.2fs, %dx%d", info.Duration, info.Width, info.Height))
	return nil
}

func (o *Orchestrator) stageDetectCuts(ctx context.Context, st *attemptState) error {
	params := o.styleParams(st)
	if !params.AggressiveCuts {
		o.recordHistory(st.job.ID, "detect_cuts", models.OutcomeSkipped, "style does not request cuts")
		return nil
	}

	res, err := o.runner.Run(ctx, o.cfg.FFmpegPath,
		"-hide_banner",
		"-i", st.artifact,
		"-vf", stages.SceneSelectFilter(),
		"-f", "null", "-",
	)
	if err != nil {
		return err
	}

	// ffmpeg writes showinfo lines to stderr
	cuts := stages.ParseSceneCuts(res.Stderr)
	st.segments = stages.BuildSegments(cuts, st.info.Duration)
	if st.segments == nil {
		o.recordHistory(st.job.ID, "detect_cuts", models.OutcomeOK, "no usable cuts found")
	} else {
		o.recordHistory(st.job.ID, "detect_cuts", models.OutcomeOK,
			fmt.Sprintf("%d cut points, %d segments", len(cuts), len(st.segments)))
	}
	return nil
}

func (o *Orchestrator) stageApplyStyle(ctx context.Context, st *attemptState) error {
	params := o.styleParams(st)
	out := filepath.Join(st.dir, "styled.mp4")

	_, err := o.runner.Run(ctx, o.cfg.FFmpegPath,
		"-hide_banner", "-y",
		"-i", st.artifact,
		"-vf", stages.FilterChainArg(stages.BuildFilterChain(params)),
		"-c:a", "copy",
		out,
	)
	if err != nil {
		return err
	}
	st.artifact = out
	o.recordHistory(st.job.ID, "apply_style", models.OutcomeOK,
		fmt.Sprintf("style %s at intensity %s", st.job.Style.Style, st.job.Style.Intensity))
	return nil
}

func (o *Orchestrator) stageApplyCuts(ctx context.Context, st *attemptState) error {
	if len(st.segments) == 0 {
		o.recordHistory(st.job.ID, "apply_cuts", models.OutcomeSkipped, "no segments to apply")
		return nil
	}
	out := filepath.Join(st.dir, "cut.mp4")

	filter, vLabel, aLabel := stages.BuildTrimConcatFilter(st.segments)
	_, err := o.runner.Run(ctx, o.cfg.FFmpegPath,
		"-hide_banner", "-y",
		"-i", st.artifact,
		"-filter_complex", filter,
		"-map", vLabel,
		"-map", aLabel,
		out,
	)
	if err != nil {
		return err
	}
	st.artifact = out
	o.recordHistory(st.job.ID, "apply_cuts", models.OutcomeOK,
		fmt.Sprintf("kept %d segments", len(st.segments)))
	return nil
}

func (o *Orchestrator) stageOverlayCaption(ctx context.Context, st *attemptState) error {
	params := o.styleParams(st)
	if params.Caption == "" {
		o.recordHistory(st.job.ID, "overlay_caption", models.OutcomeSkipped, "style has no caption")
		return nil
	}
	out := filepath.Join(st.dir, "captioned.mp4")

	_, err := o.runner.Run(ctx, o.cfg.FFmpegPath,
		"-hide_banner", "-y",
		"-i", st.artifact,
		"-vf", stages.BuildCaptionFilter(params),
		"-c:a", "copy",
		out,
	)
	if err != nil {
		return err
	}
	st.artifact = out
	o.recordHistory(st.job.ID, "overlay_caption", models.OutcomeOK, "caption rendered")
	return nil
}

func (o *Orchestrator) stageFinalize(ctx context.Context, st *attemptState) error {
	q := stages.ResolveQualityParameters(st.job.Style.Quality)
	if err := os.MkdirAll(o.cfg.OutputRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	out := filepath.Join(o.cfg.OutputRoot, st.job.ID+".mp4")

	_, err := o.runner.Run(ctx, o.cfg.FFmpegPath,
		"-hide_banner", "-y",
		"-i", st.artifact,
		"-vf", fmt.Sprintf("scale=%d:%d", q.Width, q.Height),
		"-crf", fmt.Sprintf("%d", q.CRF),
		"-preset", q.Preset,
		out,
	)
	if err != nil {
		return err
	}
	st.artifact = out
	o.recordHistory(st.job.ID, "finalize_quality", models.OutcomeOK,
		fmt.Sprintf("encoded at %s (crf %d)", q.Quality, q.CRF))
	return nil
}

// passThrough copies the source container without re-encoding. It is
// the last resort after every styled attempt has failed.
func (o *Orchestrator) passThrough(ctx context.Context, job *models.Job, scratch string) (string, error) {
	if _, err := os.Stat(job.SourceRef); err != nil {
		return "", &SourceUnreadableError{SourceRef: job.SourceRef, Err: err}
	}
	if err := os.MkdirAll(o.cfg.OutputRoot, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	out := filepath.Join(o.cfg.OutputRoot, job.ID+".mp4")

	_, err := o.runner.Run(ctx, o.cfg.FFmpegPath,
		"-hide_banner", "-y",
		"-i", job.SourceRef,
		"-c", "copy",
		out,
	)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (o *Orchestrator) styleParams(st *attemptState) stages.StyleParams {
	return stages.ResolveStyleParameters(st.job.Style.Style, st.job.Style.Intensity)
}

func (o *Orchestrator) recordHistory(jobID, step, outcome, message string) {
	entry := models.HistoryEntry{
		JobID:     jobID,
		Step:      step,
		Outcome:   outcome,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err := o.store.AppendHistory(&entry); err != nil {
		o.log.Warn("failed to append history", map[string]interface{}{
			"job_id": jobID,
			"step":   step,
			"error":  err.Error(),
		})
	}
}

func (o *Orchestrator) failJob(jobID, msg string) {
	if err := o.store.MarkError(jobID, msg); err != nil {
		o.log.Error("failed to mark job errored", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
		return
	}
	o.notify(jobID)
}

func (o *Orchestrator) notify(jobID string) {
	if o.notifier == nil {
		return
	}
	job, err := o.store.GetJob(jobID)
	if err != nil {
		return
	}
	o.notifier.JobUpdated(job)
}
