package store

import (
	"database/sql"
	"fmt"
	"time"
)

// JobStatus represents the current state of a rebuild job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// RebuildJob represents one ladder rebuild request.
type RebuildJob struct {
	ID         string     `json:"job_id"`
	DatasetID  string     `json:"dataset_id"`
	Status     JobStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// CreateJob inserts a new queued rebuild job.
func (s *Store) CreateJob(jobID, datasetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO rebuild_jobs (job_id, dataset_id, status, created_at) VALUES (?, ?, ?, ?)",
		jobID, datasetID, JobStatusQueued, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob returns a job by ID, or nil when it does not exist.
func (s *Store) GetJob(jobID string) (*RebuildJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		"SELECT job_id, dataset_id, status, error, created_at, started_at, finished_at FROM rebuild_jobs WHERE job_id = ?",
		jobID,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(r rowScanner) (*RebuildJob, error) {
	var job RebuildJob
	var created string
	var started, finished sql.NullString
	if err := r.Scan(&job.ID, &job.DatasetID, &job.Status, &job.Error, &created, &started, &finished); err != nil {
		return nil, err
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if started.Valid {
		t, _ := time.Parse(time.RFC3339Nano, started.String)
		job.StartedAt = &t
	}
	if finished.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finished.String)
		job.FinishedAt = &t
	}
	return &job, nil
}

// MarkJobRunning transitions a job to running.
func (s *Store) MarkJobRunning(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE rebuild_jobs SET status = ?, started_at = ? WHERE job_id = ?",
		JobStatusRunning, time.Now().UTC().Format(time.RFC3339Nano), jobID,
	)
	return err
}

// FinishJob transitions a job to a terminal status.
func (s *Store) FinishJob(jobID string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE rebuild_jobs SET status = ?, error = ?, finished_at = ? WHERE job_id = ?",
		status, errMsg, time.Now().UTC().Format(time.RFC3339Nano), jobID,
	)
	return err
}

// MarkRunningAsFailed fails any job left running by a previous process.
func (s *Store) MarkRunningAsFailed(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE rebuild_jobs SET status = ?, error = ?, finished_at = ? WHERE status = ?",
		JobStatusFailed, reason, time.Now().UTC().Format(time.RFC3339Nano), JobStatusRunning,
	)
	return err
}

// ListQueuedJobs returns queued jobs in creation order.
func (s *Store) ListQueuedJobs() ([]*RebuildJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT job_id, dataset_id, status, error, created_at, started_at, finished_at FROM rebuild_jobs WHERE status = ? ORDER BY created_at",
		JobStatusQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*RebuildJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteFinishedJobsBefore removes terminal jobs older than cutoff.
func (s *Store) DeleteFinishedJobsBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"DELETE FROM rebuild_jobs WHERE status IN (?, ?, ?) AND finished_at < ?",
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
