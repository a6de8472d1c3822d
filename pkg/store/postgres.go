package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/clipforge/clipforge/pkg/models"
)

// PostgresStore is a PostgreSQL-backed implementation of the job store for
// deployments where several service instances share one database. The
// single-writer-per-job discipline still holds: ClaimJob is the atomic
// ownership point.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL using the DSN in config
func NewPostgresStore(config Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		current_step TEXT NOT NULL DEFAULT '',
		style TEXT NOT NULL DEFAULT '',
		intensity TEXT NOT NULL DEFAULT '',
		quality TEXT NOT NULL DEFAULT '',
		source_ref TEXT NOT NULL,
		output_ref TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS job_history (
		id BIGSERIAL PRIMARY KEY,
		job_id TEXT NOT NULL,
		step TEXT NOT NULL,
		outcome TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_history_job ON job_history(job_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateJob inserts a new job record
func (s *PostgresStore) CreateJob(job *models.Job) error {
	_, err := s.db.Exec(`
		INSERT INTO jobs
		(id, status, progress, current_step, style, intensity, quality,
		 source_ref, output_ref, error, attempts, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, job.ID, job.Status, job.Progress, job.CurrentStep,
		job.Style.Style, job.Style.Intensity, job.Style.Quality,
		job.SourceRef, job.OutputRef, job.Error, job.Attempts,
		job.CreatedAt, job.StartedAt, job.CompletedAt)

	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateJob
	}
	return err
}

// GetJob returns a snapshot of the job
func (s *PostgresStore) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

// ListJobs returns all jobs, newest first
func (s *PostgresStore) ListJobs() []*models.Job {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return []*models.Job{}
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// GetJobs returns jobs with the given status
func (s *PostgresStore) GetJobs(status models.JobStatus) ([]models.Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ClaimJob transitions queued → processing
func (s *PostgresStore) ClaimJob(id string) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4
	`, models.JobStatusProcessing, time.Now(), id, models.JobStatusQueued)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetJob(id); err != nil {
			return err
		}
		return ErrNotClaimable
	}
	return nil
}

// RecordAttempt increments the attempt counter
func (s *PostgresStore) RecordAttempt(id string) error {
	return s.guardedUpdate(id, `
		UPDATE jobs SET attempts = attempts + 1
		WHERE id = $1 AND status NOT IN ($2, $3)`, id)
}

// UpdateProgress persists {progress, currentStep}; GREATEST() keeps the
// stored value monotonic across retry attempts
func (s *PostgresStore) UpdateProgress(id string, progress int, step string) error {
	progress = clampProgress(progress)
	return s.guardedUpdate(id, `
		UPDATE jobs SET progress = GREATEST(progress, $1), current_step = $2
		WHERE id = $3 AND status NOT IN ($4, $5)`, progress, step, id)
}

// MarkCompleted transitions to the completed terminal state
func (s *PostgresStore) MarkCompleted(id, outputRef string) error {
	return s.guardedUpdate(id, `
		UPDATE jobs SET status = $1, progress = 100, output_ref = $2, completed_at = $3
		WHERE id = $4 AND status NOT IN ($5, $6)`,
		models.JobStatusCompleted, outputRef, time.Now(), id)
}

// MarkError transitions to the error terminal state
func (s *PostgresStore) MarkError(id, message string) error {
	return s.guardedUpdate(id, `
		UPDATE jobs SET status = $1, error = $2, completed_at = $3
		WHERE id = $4 AND status NOT IN ($5, $6)`,
		models.JobStatusError, message, time.Now(), id)
}

func (s *PostgresStore) guardedUpdate(id, query string, args ...any) error {
	args = append(args, models.JobStatusCompleted, models.JobStatusError)
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetJob(id); err != nil {
			return err
		}
		return ErrTerminalState
	}
	return nil
}

// AppendHistory writes one audit record
func (s *PostgresStore) AppendHistory(entry *models.HistoryEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO job_history (job_id, step, outcome, message, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.JobID, entry.Step, entry.Outcome, entry.Message, entry.Timestamp)
	return err
}

// GetHistory returns audit records in write order
func (s *PostgresStore) GetHistory(jobID string) ([]models.HistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT job_id, step, outcome, message, created_at
		FROM job_history WHERE job_id = $1 ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.JobID, &e.Step, &e.Outcome, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteJob removes a job and its history
func (s *PostgresStore) DeleteJob(id string) error {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	_, err = s.db.Exec(`DELETE FROM job_history WHERE job_id = $1`, id)
	return err
}

// HealthCheck pings the database
func (s *PostgresStore) HealthCheck() error {
	return s.db.Ping()
}

// Vacuum reclaims space from pruned jobs
func (s *PostgresStore) Vacuum() error {
	_, err := s.db.Exec(`VACUUM`)
	return err
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var _ Store = (*PostgresStore)(nil)
