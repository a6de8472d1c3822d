package store

import (
	"errors"
	"time"

	"github.com/clipforge/clipforge/pkg/models"
)

var (
	// ErrJobNotFound is returned when a job id does not exist
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned when creating a job whose id already exists
	ErrDuplicateJob = errors.New("job id already exists")
	// ErrTerminalState is returned when mutating a completed or errored job.
	// This indicates a programming or race error; it is logged, never
	// surfaced to end users.
	ErrTerminalState = errors.New("job is in a terminal state")
	// ErrNotClaimable is returned when claiming a job that is not queued
	ErrNotClaimable = errors.New("job is not claimable")
)

// Store is the durable, single-writer-at-a-time record of job state.
// The orchestrator is the only writer for a claimed job id; the HTTP layer
// reads snapshots only.
type Store interface {
	// CreateJob inserts a queued job record
	CreateJob(job *models.Job) error
	// GetJob returns a snapshot of the job
	GetJob(id string) (*models.Job, error)
	// ListJobs returns snapshots of all jobs, newest first
	ListJobs() []*models.Job
	// GetJobs returns jobs filtered by status (for retention pruning)
	GetJobs(status models.JobStatus) ([]models.Job, error)

	// ClaimJob transitions queued → processing, marking the caller as the
	// job's single writer
	ClaimJob(id string) error
	// RecordAttempt increments the job's pipeline attempt counter
	RecordAttempt(id string) error
	// UpdateProgress persists {progress, currentStep}. Progress never
	// decreases; terminal jobs reject the write with ErrTerminalState.
	UpdateProgress(id string, progress int, step string) error
	// MarkCompleted transitions to the completed terminal state and sets
	// the output reference and progress 100
	MarkCompleted(id, outputRef string) error
	// MarkError transitions to the error terminal state with a short
	// human-readable message
	MarkError(id, message string) error

	// AppendHistory writes one append-only stage audit record
	AppendHistory(entry *models.HistoryEntry) error
	// GetHistory returns the job's audit records in write order
	GetHistory(jobID string) ([]models.HistoryEntry, error)

	// DeleteJob removes a job and its history (retention policy only)
	DeleteJob(id string) error

	// Lifecycle
	HealthCheck() error
	Vacuum() error
	Close() error
}

// Config holds database configuration
type Config struct {
	Type string // "sqlite", "postgres" or "memory"
	DSN  string // connection string (postgres)
	Path string // database file path (sqlite)

	// PostgreSQL pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgresStore(config)
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = "clipforge.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, errors.New("unsupported database type: " + config.Type)
	}
}
