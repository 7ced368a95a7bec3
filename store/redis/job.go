package redis

import (
	"strconv"
	"time"

	"github.com/xraph/stride/id"
	"github.com/xraph/stride/job"
)

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":          j.ID.String(),
		"name":        j.Name,
		"queue":       j.Queue,
		"payload":     string(j.Payload),
		"state":       string(j.State),
		"priority":    j.Priority,
		"max_retries": j.MaxRetries,
		"retry_count": j.RetryCount,
		"last_error":  j.LastError,
		"run_at":      j.RunAt.UTC().Format(time.RFC3339Nano),
		"timeout_ns":  int64(j.Timeout),
		"created_at":  j.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":  j.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}

	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	return m
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jobID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, err
	}

	j := &job.Job{
		ID:        jobID,
		Name:      m["name"],
		Queue:     m["queue"],
		Payload:   []byte(m["payload"]),
		State:     job.State(m["state"]),
		LastError: m["last_error"],
	}

	j.Priority, _ = strconv.Atoi(m["priority"])
	j.MaxRetries, _ = strconv.Atoi(m["max_retries"])
	j.RetryCount, _ = strconv.Atoi(m["retry_count"])

	if ns, err := strconv.ParseInt(m["timeout_ns"], 10, 64); err == nil {
		j.Timeout = time.Duration(ns)
	}

	j.RunAt, _ = time.Parse(time.RFC3339Nano, m["run_at"])
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, m["created_at"])
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, m["updated_at"])

	if v, ok := m["started_at"]; ok && v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			j.StartedAt = &t
		}
	}
	if v, ok := m["completed_at"]; ok && v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			j.CompletedAt = &t
		}
	}

	return j, nil
}
