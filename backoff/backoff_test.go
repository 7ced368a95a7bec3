package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/stride/backoff"
)

func TestConstant(t *testing.T) {
	s := backoff.Constant{Interval: 5 * time.Second}
	for attempt := 1; attempt <= 4; attempt++ {
		if d := s.Delay(attempt); d != 5*time.Second {
			t.Errorf("attempt %d: delay = %v, want 5s", attempt, d)
		}
	}
}

func TestExponential(t *testing.T) {
	s := backoff.Exponential{Base: time.Second, Max: 10 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{10, 10 * time.Second},
	}

	for _, tc := range cases {
		if d := s.Delay(tc.attempt); d != tc.want {
			t.Errorf("attempt %d: delay = %v, want %v", tc.attempt, d, tc.want)
		}
	}
}

func TestExponentialWithJitter_Bounds(t *testing.T) {
	s := backoff.ExponentialWithJitter{Base: time.Second, Max: 30 * time.Second}

	for attempt := 1; attempt <= 6; attempt++ {
		ceiling := backoff.Exponential{Base: time.Second, Max: 30 * time.Second}.Delay(attempt)
		for range 50 {
			d := s.Delay(attempt)
			if d < 0 || d > ceiling {
				t.Fatalf("attempt %d: delay %v outside [0, %v]", attempt, d, ceiling)
			}
		}
	}
}
