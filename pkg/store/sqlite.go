package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clipforge/clipforge/pkg/models"
)

// SQLiteStore is a SQLite-backed implementation of the job store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
// WAL plus a single write connection avoids SQLITE_BUSY under the
// concurrent progress writes of parallel pipelines.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
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
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS job_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		step TEXT NOT NULL,
		outcome TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_history_job ON job_history(job_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

const jobColumns = `id, status, progress, current_step, style, intensity, quality,
	source_ref, output_ref, error, attempts, created_at, started_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var job models.Job
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&job.ID, &job.Status, &job.Progress, &job.CurrentStep,
		&job.Style.Style, &job.Style.Intensity, &job.Style.Quality,
		&job.SourceRef, &job.OutputRef, &job.Error, &job.Attempts,
		&job.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

// CreateJob inserts a new job record
func (s *SQLiteStore) CreateJob(job *models.Job) error {
	_, err := s.db.Exec(`
		INSERT INTO jobs
		(id, status, progress, current_step, style, intensity, quality,
		 source_ref, output_ref, error, attempts, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Status, job.Progress, job.CurrentStep,
		job.Style.Style, job.Style.Intensity, job.Style.Quality,
		job.SourceRef, job.OutputRef, job.Error, job.Attempts,
		job.CreatedAt, job.StartedAt, job.CompletedAt)

	if isUniqueViolation(err) {
		return ErrDuplicateJob
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// go-sqlite3 reports constraint failures in the error text; matching it
	// avoids importing the driver's error types here
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetJob returns a snapshot of the job
func (s *SQLiteStore) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

// ListJobs returns all jobs, newest first
func (s *SQLiteStore) ListJobs() []*models.Job {
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
func (s *SQLiteStore) GetJobs(status models.JobStatus) ([]models.Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC`, status)
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
func (s *SQLiteStore) ClaimJob(id string) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, started_at = ?
		WHERE id = ? AND status = ?
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
func (s *SQLiteStore) RecordAttempt(id string) error {
	return s.guardedUpdate(id, `UPDATE jobs SET attempts = attempts + 1 WHERE id = ? AND status NOT IN (?, ?)`, id)
}

// UpdateProgress persists {progress, currentStep}. MAX() keeps the stored
// value monotonic even when a retry attempt replays earlier checkpoints.
func (s *SQLiteStore) UpdateProgress(id string, progress int, step string) error {
	progress = clampProgress(progress)
	return s.guardedUpdate(id, `
		UPDATE jobs SET progress = MAX(progress, ?), current_step = ?
		WHERE id = ? AND status NOT IN (?, ?)`, progress, step, id)
}

// MarkCompleted transitions to the completed terminal state
func (s *SQLiteStore) MarkCompleted(id, outputRef string) error {
	return s.guardedUpdate(id, `
		UPDATE jobs SET status = ?, progress = 100, output_ref = ?, completed_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		models.JobStatusCompleted, outputRef, time.Now(), id)
}

// MarkError transitions to the error terminal state. Progress is left at the
// last checkpoint reached so it never reads 100 for a failed job.
func (s *SQLiteStore) MarkError(id, message string) error {
	return s.guardedUpdate(id, `
		UPDATE jobs SET status = ?, error = ?, completed_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		models.JobStatusError, message, time.Now(), id)
}

// guardedUpdate runs an update excluded on terminal states and maps an
// unaffected row to ErrJobNotFound or ErrTerminalState
func (s *SQLiteStore) guardedUpdate(id, query string, args ...any) error {
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
func (s *SQLiteStore) AppendHistory(entry *models.HistoryEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO job_history (job_id, step, outcome, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.JobID, entry.Step, entry.Outcome, entry.Message, entry.Timestamp)
	return err
}

// GetHistory returns audit records in write order
func (s *SQLiteStore) GetHistory(jobID string) ([]models.HistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT job_id, step, outcome, message, created_at
		FROM job_history WHERE job_id = ? ORDER BY id ASC
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
func (s *SQLiteStore) DeleteJob(id string) error {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	_, err = s.db.Exec(`DELETE FROM job_history WHERE job_id = ?`, id)
	return err
}

// HealthCheck pings the database
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

// Vacuum reclaims space from pruned jobs
func (s *SQLiteStore) Vacuum() error {
	_, err := s.db.Exec(`VACUUM`)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
