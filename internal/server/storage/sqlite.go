package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
)

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	status          TEXT NOT NULL,
	params          TEXT NOT NULL,
	input_name      TEXT NOT NULL,
	input_path      TEXT NOT NULL,
	input_size      INTEGER NOT NULL,
	assigned_device TEXT NOT NULL DEFAULT '',
	result          TEXT,
	failure_code    TEXT,
	failure_message TEXT,
	submitted_at    INTEGER NOT NULL,
	started_at      INTEGER,
	finished_at     INTEGER,
	expires_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_expires ON jobs(expires_at);
`

// SQLiteJobStore is the durable job store backend. Status transitions are
// guarded by a conditional UPDATE so concurrent dispatch loops cannot
// both claim the same job.
type SQLiteJobStore struct {
	db     *sql.DB
	jobTTL time.Duration
}

func NewSQLiteJobStore(path string, jobTTL time.Duration) (*SQLiteJobStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent dispatchers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(jobsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs schema: %w", err)
	}
	return &SQLiteJobStore{db: db, jobTTL: jobTTL}, nil
}

func (s *SQLiteJobStore) Create(ctx context.Context, job *core.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, status, params, input_name, input_path, input_size,
			assigned_device, submitted_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), string(job.Kind), string(job.Status), string(params),
		job.Input.Name, job.Input.Path, job.Input.Size,
		job.AssignedDevice, job.SubmittedAt.UnixNano(), job.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteJobStore) Get(ctx context.Context, id uuid.UUID) (*core.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, status, params, input_name, input_path, input_size,
			assigned_device, result, failure_code, failure_message,
			submitted_at, started_at, finished_at, expires_at
		FROM jobs WHERE id = ?`, id.String())
	return scanJob(row)
}

func (s *SQLiteJobStore) Transition(ctx context.Context, id uuid.UUID, from, to core.JobStatus, update core.JobUpdate) (*core.Job, error) {
	if !core.ValidTransition(from, to) {
		return nil, fmt.Errorf("transition %s -> %s not allowed", from, to)
	}

	query := "UPDATE jobs SET status = ?"
	args := []any{string(to)}
	if update.AssignedDevice != nil {
		query += ", assigned_device = ?"
		args = append(args, *update.AssignedDevice)
	}
	if update.StartedAt != nil {
		query += ", started_at = ?"
		args = append(args, update.StartedAt.UnixNano())
	}
	if update.FinishedAt != nil {
		query += ", finished_at = ?"
		args = append(args, update.FinishedAt.UnixNano())
	}
	if update.Result != nil {
		encoded, err := json.Marshal(update.Result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		query += ", result = ?"
		args = append(args, string(encoded))
	}
	if update.Failure != nil {
		query += ", failure_code = ?, failure_message = ?"
		args = append(args, string(update.Failure.Code), update.Failure.Message)
	}
	query += " WHERE id = ? AND status = ?"
	args = append(args, id.String(), string(from))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Either the job is gone or someone else moved it first.
		if _, err := s.Get(ctx, id); errors.Is(err, core.ErrJobNotFound) {
			return nil, core.ErrJobNotFound
		}
		return nil, core.ErrStaleStatus
	}
	return s.Get(ctx, id)
}

func (s *SQLiteJobStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	deadline := now.UnixNano()

	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET expires_at = ? WHERE status = ? AND expires_at <= ?`,
		now.Add(s.jobTTL).UnixNano(), string(core.StatusRunning), deadline)
	if err != nil {
		return 0, fmt.Errorf("extend running jobs: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE expires_at <= ? AND status != ?`,
		deadline, string(core.StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

// PendingJobs lists non-terminal Pending records, oldest first. Used on
// startup to refill the queues after a restart.
func (s *SQLiteJobStore) PendingJobs(ctx context.Context) ([]*core.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, status, params, input_name, input_path, input_size,
			assigned_device, result, failure_code, failure_message,
			submitted_at, started_at, finished_at, expires_at
		FROM jobs WHERE status = ? ORDER BY submitted_at ASC`, string(core.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*core.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RecoverRunning resets Running records back to Pending. A restart
// orphans in-flight work, so it is retried from scratch.
func (s *SQLiteJobStore) RecoverRunning(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, assigned_device = '', started_at = NULL WHERE status = ?`,
		string(core.StatusPending), string(core.StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("recover running jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *SQLiteJobStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*core.Job, error) {
	var (
		idStr, kind, status, params         string
		inputName, inputPath                string
		inputSize                           int64
		assignedDevice                      string
		result, failureCode, failureMessage sql.NullString
		submittedAt, expiresAt              int64
		startedAt, finishedAt               sql.NullInt64
	)

	err := row.Scan(&idStr, &kind, &status, &params, &inputName, &inputPath, &inputSize,
		&assignedDevice, &result, &failureCode, &failureMessage,
		&submittedAt, &startedAt, &finishedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}

	job := &core.Job{
		ID:             id,
		Kind:           core.JobKind(kind),
		Status:         core.JobStatus(status),
		AssignedDevice: assignedDevice,
		Input: core.InputFile{
			Name: inputName,
			Path: inputPath,
			Size: inputSize,
		},
		SubmittedAt: time.Unix(0, submittedAt),
		ExpiresAt:   time.Unix(0, expiresAt),
	}
	if err := json.Unmarshal([]byte(params), &job.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if result.Valid {
		job.Result = &core.Result{}
		if err := json.Unmarshal([]byte(result.String), job.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	if failureCode.Valid {
		job.Failure = &core.Failure{
			Code:    core.FailureCode(failureCode.String),
			Message: failureMessage.String,
		}
	}
	if startedAt.Valid {
		t := time.Unix(0, startedAt.Int64)
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.Unix(0, finishedAt.Int64)
		job.FinishedAt = &t
	}
	return job, nil
}
