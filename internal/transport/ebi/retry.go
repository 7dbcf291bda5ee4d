package ebi

import (
	"math"
	"time"
)

// BackoffConfig for exponential retry delays. Zero values use defaults.
type BackoffConfig struct {
	Initial time.Duration // default: 500ms
	Max     time.Duration // default: 10s
}

// delay returns the wait before retry number attempt (1-based):
// initial, initial*2, initial*4, ... capped at max.
func (cfg BackoffConfig) delay(attempt int) time.Duration {
	initial := 500 * time.Millisecond
	maxDelay := 10 * time.Second
	if cfg.Initial > 0 {
		initial = cfg.Initial
	}
	if cfg.Max > 0 {
		maxDelay = cfg.Max
	}

	if attempt < 1 {
		return initial
	}
	d := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if d > float64(maxDelay) {
		d = float64(maxDelay)
	}
	return time.Duration(d)
}
