// Package backoff provides retry delay strategies.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry number attempt (1-based).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant returns the same delay for every attempt.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each attempt, capped at Max.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := e.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= e.Max {
			return e.Max
		}
	}

	if d > e.Max {
		return e.Max
	}

	return d
}

// ExponentialWithJitter is Exponential with full jitter: the delay is
// uniform in [0, exponential delay]. Jitter spreads retry storms after
// a shared downstream outage.
type ExponentialWithJitter struct {
	Base time.Duration
	Max  time.Duration
}

func (e ExponentialWithJitter) Delay(attempt int) time.Duration {
	d := Exponential{Base: e.Base, Max: e.Max}.Delay(attempt)
	if d <= 0 {
		return 0
	}

	return time.Duration(rand.Int64N(int64(d) + 1))
}

// DefaultStrategy is exponential backoff with full jitter, 1s base and
// a one minute cap.
func DefaultStrategy() Strategy {
	return ExponentialWithJitter{Base: time.Second, Max: time.Minute}
}
