package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS stride_jobs (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	queue        TEXT NOT NULL,
	payload      BLOB,
	state        TEXT NOT NULL,
	priority     INTEGER NOT NULL DEFAULT 0,
	max_retries  INTEGER NOT NULL DEFAULT 0,
	retry_count  INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT '',
	run_at       TEXT NOT NULL,
	started_at   TEXT,
	completed_at TEXT,
	timeout_ns   INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stride_jobs_dequeue
	ON stride_jobs (queue, state, run_at, priority);

CREATE INDEX IF NOT EXISTS idx_stride_jobs_state
	ON stride_jobs (state, created_at);

CREATE TABLE IF NOT EXISTS stride_dlq (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	job_name    TEXT NOT NULL,
	queue       TEXT NOT NULL,
	payload     BLOB,
	error       TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 0,
	failed_at   TEXT NOT NULL,
	replayed_at TEXT,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stride_dlq_failed_at
	ON stride_dlq (failed_at);
`
