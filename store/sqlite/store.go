// Package sqlite implements the store on SQLite via database/sql.
// Suitable for single-node deployments and embedded use. The pool is
// capped at one connection and the dequeue claim runs in a single
// transaction, so concurrent pollers never double-claim.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xraph/stride"
	"github.com/xraph/stride/dlq"
	"github.com/xraph/stride/id"
	"github.com/xraph/stride/job"
)

// Store implements store.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	// SQLite serializes writers; one connection avoids lock churn.
	db.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate implements store.Store.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}

	return nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}

	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}

	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)

	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}

	t := parseTime(s.String)

	return &t
}

const jobColumns = `id, name, queue, payload, state, priority, max_retries,
	retry_count, last_error, run_at, started_at, completed_at, timeout_ns,
	created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*job.Job, error) {
	var (
		j          job.Job
		jobID      string
		runAt      string
		createdAt  string
		updatedAt  string
		startedAt  sql.NullString
		finishedAt sql.NullString
		timeoutNs  int64
	)

	err := row.Scan(&jobID, &j.Name, &j.Queue, &j.Payload, &j.State,
		&j.Priority, &j.MaxRetries, &j.RetryCount, &j.LastError,
		&runAt, &startedAt, &finishedAt, &timeoutNs, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, stride.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan job: %w", err)
	}

	j.ID, err = id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan job: %w", err)
	}

	j.RunAt = parseTime(runAt)
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	j.StartedAt = parseTimePtr(startedAt)
	j.CompletedAt = parseTimePtr(finishedAt)
	j.Timeout = time.Duration(timeoutNs)

	return &j, nil
}

// EnqueueJob implements job.Store.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stride_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.Priority, j.MaxRetries, j.RetryCount, j.LastError,
		formatTime(j.RunAt), formatTimePtr(j.StartedAt), formatTimePtr(j.CompletedAt),
		int64(j.Timeout), formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return stride.ErrJobAlreadyExists
		}

		return fmt.Errorf("sqlite: enqueue %s: %w", j.ID, err)
	}

	return nil
}

// DequeueJobs implements job.Store. The select and claim run in one
// transaction on the store's single connection.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if len(queues) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: dequeue: begin: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.Repeat("?,", len(queues))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(queues)+2)
	for _, q := range queues {
		args = append(args, q)
	}

	now := time.Now().UTC()
	args = append(args, formatTime(now), limit)

	rows, err := tx.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM stride_jobs
		WHERE queue IN (`+placeholders+`)
		  AND state IN ('pending', 'retrying', 'delayed')
		  AND run_at <= ?
		ORDER BY priority DESC, run_at ASC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: dequeue: %w", err)
	}

	var claimed []*job.Job

	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()

			return nil, err
		}

		claimed = append(claimed, j)
	}

	if err := rows.Err(); err != nil {
		rows.Close()

		return nil, fmt.Errorf("sqlite: dequeue: %w", err)
	}

	rows.Close()

	for _, j := range claimed {
		started := now
		j.State = job.StateRunning
		j.StartedAt = &started
		j.Touch()

		_, err := tx.ExecContext(ctx, `
			UPDATE stride_jobs
			SET state = ?, started_at = ?, updated_at = ?
			WHERE id = ?`,
			string(job.StateRunning), formatTime(started),
			formatTime(j.UpdatedAt), j.ID.String())
		if err != nil {
			return nil, fmt.Errorf("sqlite: claim %s: %w", j.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: dequeue: commit: %w", err)
	}

	return claimed, nil
}

// GetJob implements job.Store.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM stride_jobs WHERE id = ?`, jobID.String())

	return scanJob(row)
}

// UpdateJob implements job.Store.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stride_jobs
		SET name = ?, queue = ?, payload = ?, state = ?, priority = ?,
		    max_retries = ?, retry_count = ?, last_error = ?, run_at = ?,
		    started_at = ?, completed_at = ?, timeout_ns = ?, updated_at = ?
		WHERE id = ?`,
		j.Name, j.Queue, j.Payload, string(j.State), j.Priority,
		j.MaxRetries, j.RetryCount, j.LastError, formatTime(j.RunAt),
		formatTimePtr(j.StartedAt), formatTimePtr(j.CompletedAt),
		int64(j.Timeout), formatTime(time.Now()), j.ID.String())
	if err != nil {
		return fmt.Errorf("sqlite: update %s: %w", j.ID, err)
	}

	return checkAffected(res, stride.ErrJobNotFound)
}

// UpdateJobPayload implements job.Store.
func (s *Store) UpdateJobPayload(ctx context.Context, jobID id.JobID, payload []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stride_jobs SET payload = ?, updated_at = ? WHERE id = ?`,
		payload, formatTime(time.Now()), jobID.String())
	if err != nil {
		return fmt.Errorf("sqlite: update payload %s: %w", jobID, err)
	}

	return checkAffected(res, stride.ErrJobNotFound)
}

// DelayJob implements job.Store.
func (s *Store) DelayJob(ctx context.Context, jobID id.JobID, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stride_jobs SET state = ?, run_at = ?, updated_at = ? WHERE id = ?`,
		string(job.StateDelayed), formatTime(until), formatTime(time.Now()), jobID.String())
	if err != nil {
		return fmt.Errorf("sqlite: delay %s: %w", jobID, err)
	}

	return checkAffected(res, stride.ErrJobNotFound)
}

// ChangeJobPriority implements job.Store.
func (s *Store) ChangeJobPriority(ctx context.Context, jobID id.JobID, priority int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stride_jobs SET priority = ?, updated_at = ? WHERE id = ?`,
		priority, formatTime(time.Now()), jobID.String())
	if err != nil {
		return fmt.Errorf("sqlite: change priority %s: %w", jobID, err)
	}

	return checkAffected(res, stride.ErrJobNotFound)
}

// DeleteJob implements job.Store.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stride_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", jobID, err)
	}

	return checkAffected(res, stride.ErrJobNotFound)
}

// ListJobsByState implements job.Store.
func (s *Store) ListJobsByState(ctx context.Context, st job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM stride_jobs WHERE state = ?`
	args := []any{string(st)}

	if opts.Queue != "" {
		query += ` AND queue = ?`
		args = append(args, opts.Queue)
	}

	query += ` ORDER BY created_at DESC`

	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job

	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list jobs: %w", err)
	}

	return jobs, nil
}

// CountJobs implements job.Store.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM stride_jobs WHERE 1 = 1`
	args := []any{}

	if opts.Queue != "" {
		query += ` AND queue = ?`
		args = append(args, opts.Queue)
	}
	if opts.State != "" {
		query += ` AND state = ?`
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: count jobs: %w", err)
	}

	return count, nil
}

// PushDLQ implements dlq.Store.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stride_dlq (id, job_id, job_name, queue, payload, error,
			retry_count, max_retries, failed_at, replayed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.JobID.String(), e.JobName, e.Queue, e.Payload,
		e.Error, e.RetryCount, e.MaxRetries, formatTime(e.FailedAt),
		formatTimePtr(e.ReplayedAt), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: push dlq %s: %w", e.ID, err)
	}

	return nil
}

const dlqColumns = `id, job_id, job_name, queue, payload, error,
	retry_count, max_retries, failed_at, replayed_at, created_at`

func scanDLQ(row interface{ Scan(...any) error }) (*dlq.Entry, error) {
	var (
		e          dlq.Entry
		entryID    string
		jobID      string
		failedAt   string
		createdAt  string
		replayedAt sql.NullString
	)

	err := row.Scan(&entryID, &jobID, &e.JobName, &e.Queue, &e.Payload,
		&e.Error, &e.RetryCount, &e.MaxRetries, &failedAt, &replayedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, stride.ErrDLQNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan dlq entry: %w", err)
	}

	e.ID, err = id.ParseDLQID(entryID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan dlq entry: %w", err)
	}

	e.JobID, err = id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan dlq entry: %w", err)
	}

	e.FailedAt = parseTime(failedAt)
	e.CreatedAt = parseTime(createdAt)
	e.ReplayedAt = parseTimePtr(replayedAt)

	return &e, nil
}

// ListDLQ implements dlq.Store.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM stride_dlq WHERE 1 = 1`
	args := []any{}

	if opts.Queue != "" {
		query += ` AND queue = ?`
		args = append(args, opts.Queue)
	}

	query += ` ORDER BY failed_at DESC`

	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry

	for rows.Next() {
		e, err := scanDLQ(rows)
		if err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list dlq: %w", err)
	}

	return entries, nil
}

// GetDLQ implements dlq.Store.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+dlqColumns+` FROM stride_dlq WHERE id = ?`, entryID.String())

	return scanDLQ(row)
}

// ReplayDLQ implements dlq.Store.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stride_dlq SET replayed_at = ? WHERE id = ?`,
		formatTime(at), entryID.String())
	if err != nil {
		return fmt.Errorf("sqlite: replay dlq %s: %w", entryID, err)
	}

	return checkAffected(res, stride.ErrDLQNotFound)
}

// PurgeDLQ implements dlq.Store.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM stride_dlq WHERE failed_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge dlq: %w", err)
	}

	return res.RowsAffected()
}

// CountDLQ implements dlq.Store.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stride_dlq`).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: count dlq: %w", err)
	}

	return count, nil
}

func checkAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}

	return nil
}
