package postgres

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS stride_jobs (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		queue        TEXT NOT NULL,
		payload      BYTEA,
		state        TEXT NOT NULL,
		priority     INT NOT NULL DEFAULT 0,
		max_retries  INT NOT NULL DEFAULT 0,
		retry_count  INT NOT NULL DEFAULT 0,
		last_error   TEXT NOT NULL DEFAULT '',
		run_at       TIMESTAMPTZ NOT NULL,
		started_at   TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		timeout_ns   BIGINT NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_stride_jobs_dequeue
		ON stride_jobs (queue, state, run_at, priority DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_stride_jobs_state
		ON stride_jobs (state, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS stride_dlq (
		id          TEXT PRIMARY KEY,
		job_id      TEXT NOT NULL,
		job_name    TEXT NOT NULL,
		queue       TEXT NOT NULL,
		payload     BYTEA,
		error       TEXT NOT NULL DEFAULT '',
		retry_count INT NOT NULL DEFAULT 0,
		max_retries INT NOT NULL DEFAULT 0,
		failed_at   TIMESTAMPTZ NOT NULL,
		replayed_at TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_stride_dlq_failed_at
		ON stride_dlq (failed_at)`,
}
