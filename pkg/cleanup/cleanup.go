package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/clipforge/clipforge/pkg/logging"
	"github.com/clipforge/clipforge/pkg/models"
)

// Config defines retention policy and maintenance intervals
type Config struct {
	Enabled          bool
	JobRetentionDays int
	CleanupInterval  time.Duration
	VacuumInterval   time.Duration
	DeleteBatchSize  int

	// ScratchRoot is swept for orphaned work directories left behind
	// by a crashed process. Empty disables the sweep.
	ScratchRoot   string
	ScratchMaxAge time.Duration
}

// DefaultConfig returns sensible retention defaults
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		JobRetentionDays: 7,
		CleanupInterval:  24 * time.Hour,
		VacuumInterval:   7 * 24 * time.Hour,
		DeleteBatchSize:  100,
		ScratchMaxAge:    24 * time.Hour,
	}
}

// Store is the subset of the job store the cleanup pass needs
type Store interface {
	GetJobs(status models.JobStatus) ([]models.Job, error)
	DeleteJob(id string) error
	Vacuum() error
}

// Manager periodically prunes terminal jobs past retention, sweeps
// orphaned scratch directories, and vacuums the database.
type Manager struct {
	config Config
	store  Store
	log    *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// Stats tracks maintenance activity
type Stats struct {
	LastCleanupTime     time.Time
	LastVacuumTime      time.Time
	TotalJobsDeleted    int64
	TotalScratchRemoved int64
	TotalVacuumRuns     int64
	LastCleanupDuration time.Duration
	LastVacuumDuration  time.Duration
}

func NewManager(config Config, store Store, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewLogger(logging.INFO, false)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config: config,
		store:  store,
		log:    log.WithField("component", "cleanup"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the background maintenance loops
func (m *Manager) Start() {
	if !m.config.Enabled {
		m.log.Info("cleanup manager disabled")
		return
	}

	m.log.Info("starting cleanup manager", map[string]interface{}{
		"retention_days": m.config.JobRetentionDays,
		"interval":       m.config.CleanupInterval.String(),
	})

	m.wg.Add(2)
	go m.cleanupLoop()
	go m.vacuumLoop()
}

// Stop halts the loops and waits for any in-flight pass to finish
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
	m.log.Info("cleanup manager stopped")
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.runCleanup()
		}
	}
}

func (m *Manager) vacuumLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.VacuumInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.vacuum()
		}
	}
}

// runCleanup deletes terminal jobs older than the retention period
// and sweeps stale scratch directories.
func (m *Manager) runCleanup() {
	startTime := time.Now()
	cutoff := time.Now().Add(-time.Duration(m.config.JobRetentionDays) * 24 * time.Hour)
	deleted := 0

	for _, status := range []models.JobStatus{models.JobStatusCompleted, models.JobStatusError} {
		if err := m.pruneJobs(status, cutoff, &deleted); err != nil {
			m.log.Warn("failed to prune jobs", map[string]interface{}{
				"status": string(status),
				"error":  err.Error(),
			})
		}
	}

	swept := m.sweepScratch()

	duration := time.Since(startTime)

	m.mu.Lock()
	m.stats.LastCleanupTime = time.Now()
	m.stats.LastCleanupDuration = duration
	m.stats.TotalJobsDeleted += int64(deleted)
	m.stats.TotalScratchRemoved += int64(swept)
	m.mu.Unlock()

	m.log.Info("cleanup pass complete", map[string]interface{}{
		"jobs_deleted":    deleted,
		"scratch_removed": swept,
		"duration":        duration.String(),
	})
}

func (m *Manager) pruneJobs(status models.JobStatus, cutoff time.Time, deleted *int) error {
	jobs, err := m.store.GetJobs(status)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		compareTime := job.CreatedAt
		if job.CompletedAt != nil {
			compareTime = *job.CompletedAt
		}
		if !compareTime.Before(cutoff) {
			continue
		}

		if err := m.store.DeleteJob(job.ID); err != nil {
			m.log.Warn("failed to delete job", map[string]interface{}{
				"job_id": job.ID,
				"error":  err.Error(),
			})
			continue
		}
		*deleted++

		// pace deletions so the store stays responsive
		if *deleted%m.config.DeleteBatchSize == 0 {
			time.Sleep(100 * time.Millisecond)
		}
	}
	return nil
}

// sweepScratch removes work directories older than ScratchMaxAge.
// Live pipelines touch their directories well within that window.
func (m *Manager) sweepScratch() int {
	if m.config.ScratchRoot == "" {
		return 0
	}
	entries, err := os.ReadDir(m.config.ScratchRoot)
	if err != nil {
		return 0
	}

	removed := 0
	cutoff := time.Now().Add(-m.config.ScratchMaxAge)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "clipforge-") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(m.config.ScratchRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			m.log.Warn("failed to remove scratch dir", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		removed++
	}
	return removed
}

func (m *Manager) vacuum() {
	startTime := time.Now()

	if err := m.store.Vacuum(); err != nil {
		m.log.Warn("database vacuum failed", map[string]interface{}{"error": err.Error()})
		return
	}

	duration := time.Since(startTime)

	m.mu.Lock()
	m.stats.LastVacuumTime = time.Now()
	m.stats.LastVacuumDuration = duration
	m.stats.TotalVacuumRuns++
	m.mu.Unlock()

	m.log.Info("database vacuum complete", map[string]interface{}{"duration": duration.String()})
}

// CleanupNow triggers an immediate cleanup pass
func (m *Manager) CleanupNow() {
	m.runCleanup()
}

// VacuumNow triggers an immediate vacuum
func (m *Manager) VacuumNow() {
	m.vacuum()
}

// GetStats returns a snapshot of maintenance statistics
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
