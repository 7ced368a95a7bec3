// Package queue provides per-queue concurrency and rate limiting for
// workers. The limits are process-local; they bound what this worker
// pool takes on, not the cluster.
package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config holds the limits for one named queue.
type Config struct {
	Name string

	// MaxConcurrency caps jobs from this queue running at once in this
	// process. Zero means unlimited.
	MaxConcurrency int

	// RateLimit caps job starts per second. Zero means unlimited.
	RateLimit float64

	// RateBurst is the token bucket size when RateLimit is set.
	RateBurst int
}

type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager tracks per-queue limits and active counts.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewManager returns a Manager with the given queue configs applied.
func NewManager(configs ...Config) *Manager {
	m := &Manager{queues: make(map[string]*queueState)}
	for _, cfg := range configs {
		m.SetQueueConfig(cfg)
	}

	return m
}

// SetQueueConfig installs or replaces the limits for cfg.Name.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[cfg.Name]
	if qs == nil {
		qs = &queueState{}
		m.queues[cfg.Name] = qs
	}

	qs.config = cfg
	qs.limiter = nil

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}

		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
}

// Acquire reports whether a job from queue may start now, and if so
// reserves a slot. Queues with no config always admit.
func (m *Manager) Acquire(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return true
	}

	if qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
		return false
	}

	if qs.limiter != nil && !qs.limiter.Allow() {
		return false
	}

	qs.active++

	return true
}

// Release returns the slot taken by Acquire.
func (m *Manager) Release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs != nil && qs.active > 0 {
		qs.active--
	}
}

// ActiveCount returns the number of jobs currently holding a slot for
// queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return 0
	}

	return qs.active
}
