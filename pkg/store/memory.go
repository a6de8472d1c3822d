package store

import (
	"sort"
	"sync"
	"time"

	"github.com/clipforge/clipforge/pkg/models"
)

// MemoryStore is an in-memory implementation of the job store, used by
// tests and single-process development runs
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*models.Job
	history map[string][]models.HistoryEntry
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*models.Job),
		history: make(map[string][]models.HistoryEntry),
	}
}

// CreateJob inserts a new job record
func (s *MemoryStore) CreateJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return ErrDuplicateJob
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob returns a snapshot of the job
func (s *MemoryStore) GetJob(id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// ListJobs returns all jobs, newest first
func (s *MemoryStore) ListJobs() []*models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// GetJobs returns jobs with the given status
func (s *MemoryStore) GetJobs(status models.JobStatus) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []models.Job
	for _, job := range s.jobs {
		if job.Status == status {
			jobs = append(jobs, *job.Clone())
		}
	}
	return jobs, nil
}

// ClaimJob transitions queued → processing
func (s *MemoryStore) ClaimJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if err := models.ValidateTransition(job.Status, models.JobStatusProcessing); err != nil {
		return ErrNotClaimable
	}
	now := time.Now()
	job.Status = models.JobStatusProcessing
	job.StartedAt = &now
	return nil
}

// RecordAttempt increments the attempt counter
func (s *MemoryStore) RecordAttempt(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if models.IsTerminalState(job.Status) {
		return ErrTerminalState
	}
	job.Attempts++
	return nil
}

// UpdateProgress persists {progress, currentStep}; progress never decreases
func (s *MemoryStore) UpdateProgress(id string, progress int, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if models.IsTerminalState(job.Status) {
		return ErrTerminalState
	}
	if progress > job.Progress {
		job.Progress = clampProgress(progress)
	}
	job.CurrentStep = step
	return nil
}

// MarkCompleted transitions to the completed terminal state
func (s *MemoryStore) MarkCompleted(id, outputRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if models.IsTerminalState(job.Status) {
		return ErrTerminalState
	}
	now := time.Now()
	job.Status = models.JobStatusCompleted
	job.Progress = 100
	job.OutputRef = outputRef
	job.CompletedAt = &now
	return nil
}

// MarkError transitions to the error terminal state
func (s *MemoryStore) MarkError(id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if models.IsTerminalState(job.Status) {
		return ErrTerminalState
	}
	now := time.Now()
	job.Status = models.JobStatusError
	job.Error = message
	job.CompletedAt = &now
	return nil
}

// AppendHistory writes one audit record
func (s *MemoryStore) AppendHistory(entry *models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[entry.JobID]; !ok {
		return ErrJobNotFound
	}
	s.history[entry.JobID] = append(s.history[entry.JobID], *entry)
	return nil
}

// GetHistory returns audit records in write order
func (s *MemoryStore) GetHistory(jobID string) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]models.HistoryEntry, len(s.history[jobID]))
	copy(entries, s.history[jobID])
	return entries, nil
}

// DeleteJob removes a job and its history
func (s *MemoryStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	delete(s.history, id)
	return nil
}

// HealthCheck always succeeds for the in-memory store
func (s *MemoryStore) HealthCheck() error { return nil }

// Vacuum is a no-op for the in-memory store
func (s *MemoryStore) Vacuum() error { return nil }

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error { return nil }

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

var _ Store = (*MemoryStore)(nil)
