package models

import (
	"time"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"     // Job created, pipeline not yet started
	JobStatusProcessing JobStatus = "processing" // Pipeline actively running
	JobStatusCompleted  JobStatus = "completed"  // Pipeline finished, output available
	JobStatusError      JobStatus = "error"      // Pipeline failed permanently
)

// StyleConfig is the semantic render configuration attached to a job.
// Unknown values are resolved to documented defaults by the stages package.
type StyleConfig struct {
	Style     string `json:"style"`
	Intensity string `json:"intensity"`
	Quality   string `json:"quality"`
}

// Job represents one unit of render work driven through the pipeline
type Job struct {
	ID          string      `json:"id"`
	Status      JobStatus   `json:"status"`
	Progress    int         `json:"progress"` // 0-100, monotonically non-decreasing
	CurrentStep string      `json:"current_step,omitempty"`
	Style       StyleConfig `json:"style_config"`
	SourceRef   string      `json:"source_ref"`
	OutputRef   string      `json:"output_ref,omitempty"` // set iff status == completed
	Error       string      `json:"error,omitempty"`
	Attempts    int         `json:"attempts"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// JobRequest represents a request to submit a new job
type JobRequest struct {
	SourceRef string      `json:"source_ref"`
	Style     StyleConfig `json:"style_config"`
}

// HistoryEntry is an append-only audit record written once per stage transition.
// The pipeline never mutates or deletes entries; retention is external policy.
type HistoryEntry struct {
	JobID     string    `json:"job_id"`
	Step      string    `json:"step"`
	Outcome   string    `json:"outcome"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stage outcomes recorded in history entries
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded" // optional stage fell back to pass-through
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Clone returns a copy of the job safe to hand to pollers
func (j *Job) Clone() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
