package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clipforge/clipforge/pkg/logging"
	"github.com/clipforge/clipforge/pkg/models"
	"github.com/clipforge/clipforge/pkg/store"
)

// Dispatcher accepts job submissions and runs each accepted job on its
// own goroutine. Admission is bounded; a running pipeline is never
// cancelled once started.
type Dispatcher struct {
	store   store.Store
	orch    *Orchestrator
	log     *logging.Logger
	metrics MetricsRecorder
	group   *errgroup.Group
	ctx     context.Context
}

// NewDispatcher returns a dispatcher that runs at most concurrency
// pipelines at once. Zero or negative means unbounded.
func NewDispatcher(st store.Store, orch *Orchestrator, log *logging.Logger, concurrency int) *Dispatcher {
	if log == nil {
		log = logging.NewLogger(logging.INFO, false)
	}
	g := new(errgroup.Group)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	return &Dispatcher{
		store: st,
		orch:  orch,
		log:   log,
		group: g,
		ctx:   context.Background(),
	}
}

// WithMetrics attaches a metrics recorder
func (d *Dispatcher) WithMetrics(m MetricsRecorder) *Dispatcher {
	d.metrics = m
	return d
}

// Submit durably records a new queued job and schedules it for
// processing. The returned job reflects the queued state; outcomes
// are observed through the store afterwards. Submission succeeds even
// when the source turns out to be unreadable, the pipeline reports
// that through the job's terminal state.
func (d *Dispatcher) Submit(req models.JobRequest) (*models.Job, error) {
	if req.SourceRef == "" {
		return nil, fmt.Errorf("source_ref is required")
	}

	job := &models.Job{
		ID:        uuid.New().String(),
		Status:    models.JobStatusQueued,
		Style:     req.Style,
		SourceRef: req.SourceRef,
		CreatedAt: time.Now(),
	}
	if err := d.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if d.metrics != nil {
		d.metrics.RecordJobSubmitted()
	}
	d.log.Info("job accepted", map[string]interface{}{
		"job_id": job.ID,
		"style":  req.Style.Style,
		"source": req.SourceRef,
	})

	id := job.ID
	d.group.Go(func() error {
		if err := d.orch.Run(d.ctx, id); err != nil {
			d.log.Warn("job finished with error", map[string]interface{}{
				"job_id": id,
				"error":  err.Error(),
			})
		}
		// pipeline outcomes are recorded in the store, not propagated
		return nil
	})
	return job.Clone(), nil
}

// Resume reschedules jobs left in the queued state by a previous
// process. Jobs already processing when the process died stay where
// they are; the cleanup pass ages them out.
func (d *Dispatcher) Resume() (int, error) {
	queued, err := d.store.GetJobs(models.JobStatusQueued)
	if err != nil {
		return 0, fmt.Errorf("failed to list queued jobs: %w", err)
	}
	for i := range queued {
		id := queued[i].ID
		d.group.Go(func() error {
			if err := d.orch.Run(d.ctx, id); err != nil {
				d.log.Warn("resumed job finished with error", map[string]interface{}{
					"job_id": id,
					"error":  err.Error(),
				})
			}
			return nil
		})
	}
	return len(queued), nil
}

// Wait blocks until every scheduled pipeline has finished.
func (d *Dispatcher) Wait() error {
	return d.group.Wait()
}
