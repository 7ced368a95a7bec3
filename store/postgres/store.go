// Package postgres implements the store on PostgreSQL via pgx. The
// dequeue claim uses FOR UPDATE SKIP LOCKED, so any number of worker
// processes can poll the same tables without double-claiming.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/stride"
	"github.com/xraph/stride/dlq"
	"github.com/xraph/stride/id"
	"github.com/xraph/stride/job"
)

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL with connString and returns a store that
// owns the pool.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool. The caller owns its lifecycle.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate implements store.Store.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration %d: %w", i, err)
		}
	}

	return nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}

	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.pool.Close()

	return nil
}

const jobColumns = `id, name, queue, payload, state, priority, max_retries,
	retry_count, last_error, run_at, started_at, completed_at, timeout_ns,
	created_at, updated_at`

type rowScanner interface {
	Scan(...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j         job.Job
		jobID     string
		timeoutNs int64
	)

	err := row.Scan(&jobID, &j.Name, &j.Queue, &j.Payload, &j.State,
		&j.Priority, &j.MaxRetries, &j.RetryCount, &j.LastError,
		&j.RunAt, &j.StartedAt, &j.CompletedAt, &timeoutNs,
		&j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, stride.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan job: %w", err)
	}

	j.ID, err = id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan job: %w", err)
	}

	j.Timeout = time.Duration(timeoutNs)

	return &j, nil
}

// EnqueueJob implements job.Store.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stride_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.Priority, j.MaxRetries, j.RetryCount, j.LastError,
		j.RunAt, j.StartedAt, j.CompletedAt, int64(j.Timeout),
		j.CreatedAt, j.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return stride.ErrJobAlreadyExists
		}

		return fmt.Errorf("postgres: enqueue %s: %w", j.ID, err)
	}

	return nil
}

// DequeueJobs implements job.Store. A CTE selects due jobs with SKIP
// LOCKED and flips them to running in the same statement.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if len(queues) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1
	}

	now := time.Now().UTC()

	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM stride_jobs
			WHERE queue = ANY($1)
			  AND state IN ('pending', 'retrying', 'delayed')
			  AND run_at <= $2
			ORDER BY priority DESC, run_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE stride_jobs
		SET state = 'running', started_at = $2, updated_at = $2
		FROM due
		WHERE stride_jobs.id = due.id
		RETURNING `+prefixedJobColumns("stride_jobs"),
		queues, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: dequeue: %w", err)
	}
	defer rows.Close()

	var claimed []*job.Job

	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}

		claimed = append(claimed, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: dequeue: %w", err)
	}

	return claimed, nil
}

func prefixedJobColumns(table string) string {
	return table + `.id, ` + table + `.name, ` + table + `.queue, ` +
		table + `.payload, ` + table + `.state, ` + table + `.priority, ` +
		table + `.max_retries, ` + table + `.retry_count, ` + table + `.last_error, ` +
		table + `.run_at, ` + table + `.started_at, ` + table + `.completed_at, ` +
		table + `.timeout_ns, ` + table + `.created_at, ` + table + `.updated_at`
}

// GetJob implements job.Store.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM stride_jobs WHERE id = $1`, jobID.String())

	return scanJob(row)
}

// UpdateJob implements job.Store.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stride_jobs
		SET name = $1, queue = $2, payload = $3, state = $4, priority = $5,
		    max_retries = $6, retry_count = $7, last_error = $8, run_at = $9,
		    started_at = $10, completed_at = $11, timeout_ns = $12, updated_at = $13
		WHERE id = $14`,
		j.Name, j.Queue, j.Payload, string(j.State), j.Priority,
		j.MaxRetries, j.RetryCount, j.LastError, j.RunAt,
		j.StartedAt, j.CompletedAt, int64(j.Timeout), time.Now().UTC(),
		j.ID.String())
	if err != nil {
		return fmt.Errorf("postgres: update %s: %w", j.ID, err)
	}

	return checkAffected(tag, stride.ErrJobNotFound)
}

// UpdateJobPayload implements job.Store.
func (s *Store) UpdateJobPayload(ctx context.Context, jobID id.JobID, payload []byte) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stride_jobs SET payload = $1, updated_at = $2 WHERE id = $3`,
		payload, time.Now().UTC(), jobID.String())
	if err != nil {
		return fmt.Errorf("postgres: update payload %s: %w", jobID, err)
	}

	return checkAffected(tag, stride.ErrJobNotFound)
}

// DelayJob implements job.Store.
func (s *Store) DelayJob(ctx context.Context, jobID id.JobID, until time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stride_jobs SET state = 'delayed', run_at = $1, updated_at = $2 WHERE id = $3`,
		until.UTC(), time.Now().UTC(), jobID.String())
	if err != nil {
		return fmt.Errorf("postgres: delay %s: %w", jobID, err)
	}

	return checkAffected(tag, stride.ErrJobNotFound)
}

// ChangeJobPriority implements job.Store.
func (s *Store) ChangeJobPriority(ctx context.Context, jobID id.JobID, priority int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stride_jobs SET priority = $1, updated_at = $2 WHERE id = $3`,
		priority, time.Now().UTC(), jobID.String())
	if err != nil {
		return fmt.Errorf("postgres: change priority %s: %w", jobID, err)
	}

	return checkAffected(tag, stride.ErrJobNotFound)
}

// DeleteJob implements job.Store.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stride_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("postgres: delete %s: %w", jobID, err)
	}

	return checkAffected(tag, stride.ErrJobNotFound)
}

// ListJobsByState implements job.Store.
func (s *Store) ListJobsByState(ctx context.Context, st job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM stride_jobs WHERE state = $1`
	args := []any{string(st)}

	if opts.Queue != "" {
		query += fmt.Sprintf(` AND queue = $%d`, len(args)+1)
		args = append(args, opts.Queue)
	}

	query += ` ORDER BY created_at DESC`

	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
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
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
	}

	return jobs, nil
}

// CountJobs implements job.Store.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM stride_jobs WHERE TRUE`
	args := []any{}

	if opts.Queue != "" {
		query += fmt.Sprintf(` AND queue = $%d`, len(args)+1)
		args = append(args, opts.Queue)
	}
	if opts.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, len(args)+1)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count jobs: %w", err)
	}

	return count, nil
}

// PushDLQ implements dlq.Store.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stride_dlq (id, job_id, job_name, queue, payload, error,
			retry_count, max_retries, failed_at, replayed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID.String(), e.JobID.String(), e.JobName, e.Queue, e.Payload,
		e.Error, e.RetryCount, e.MaxRetries, e.FailedAt, e.ReplayedAt, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: push dlq %s: %w", e.ID, err)
	}

	return nil
}

const dlqColumns = `id, job_id, job_name, queue, payload, error,
	retry_count, max_retries, failed_at, replayed_at, created_at`

func scanDLQ(row rowScanner) (*dlq.Entry, error) {
	var (
		e       dlq.Entry
		entryID string
		jobID   string
	)

	err := row.Scan(&entryID, &jobID, &e.JobName, &e.Queue, &e.Payload,
		&e.Error, &e.RetryCount, &e.MaxRetries, &e.FailedAt, &e.ReplayedAt, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, stride.ErrDLQNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan dlq entry: %w", err)
	}

	e.ID, err = id.ParseDLQID(entryID)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan dlq entry: %w", err)
	}

	e.JobID, err = id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan dlq entry: %w", err)
	}

	return &e, nil
}

// ListDLQ implements dlq.Store.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM stride_dlq WHERE TRUE`
	args := []any{}

	if opts.Queue != "" {
		query += fmt.Sprintf(` AND queue = $%d`, len(args)+1)
		args = append(args, opts.Queue)
	}

	query += ` ORDER BY failed_at DESC`

	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list dlq: %w", err)
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
		return nil, fmt.Errorf("postgres: list dlq: %w", err)
	}

	return entries, nil
}

// GetDLQ implements dlq.Store.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+dlqColumns+` FROM stride_dlq WHERE id = $1`, entryID.String())

	return scanDLQ(row)
}

// ReplayDLQ implements dlq.Store.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stride_dlq SET replayed_at = $1 WHERE id = $2`,
		at.UTC(), entryID.String())
	if err != nil {
		return fmt.Errorf("postgres: replay dlq %s: %w", entryID, err)
	}

	return checkAffected(tag, stride.ErrDLQNotFound)
}

// PurgeDLQ implements dlq.Store.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stride_dlq WHERE failed_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: purge dlq: %w", err)
	}

	return tag.RowsAffected(), nil
}

// CountDLQ implements dlq.Store.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stride_dlq`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count dlq: %w", err)
	}

	return count, nil
}

func checkAffected(tag pgconn.CommandTag, notFound error) error {
	if tag.RowsAffected() == 0 {
		return notFound
	}

	return nil
}
