package orchestrator

import (
	"math/rand/v2"
	"time"
)

// BackoffConfig tunes the orchestrator self-check schedule.
type BackoffConfig struct {
	// Base is the first check delay; it doubles per attempt.
	Base time.Duration
	// Max caps the total delay including jitter.
	Max time.Duration
	// MaxJitter bounds the random jitter added to each delay.
	MaxJitter time.Duration
	// MaxAttempts is the check-attempt cap after which the job is failed
	// permanently, regardless of phase state.
	MaxAttempts int
}

// DefaultBackoffConfig returns production defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:        5 * time.Second,
		Max:         60 * time.Second,
		MaxJitter:   5 * time.Second,
		MaxAttempts: 100,
	}
}

// Delay returns the deterministic component of the backoff for the given
// check attempt: exponential from Base, capped so that Delay + MaxJitter
// never exceeds Max. It is monotonically non-decreasing in attempt.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	ceiling := c.Max - c.MaxJitter
	if ceiling < 0 {
		ceiling = 0
	}
	if attempt < 0 {
		attempt = 0
	}
	d := c.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// Exhausted reports whether the given check attempt exceeds the configured cap.
func (c BackoffConfig) Exhausted(attempt int) bool {
	return c.MaxAttempts > 0 && attempt > c.MaxAttempts
}

// CalculateBackoff returns the delay before the next orchestrator self-check:
// the deterministic exponential delay plus bounded random jitter. The result
// never exceeds Max.
func CalculateBackoff(attempt int, cfg BackoffConfig) time.Duration {
	d := cfg.Delay(attempt)
	if cfg.MaxJitter > 0 {
		d += time.Duration(rand.Int64N(int64(cfg.MaxJitter)))
	}
	if d > cfg.Max {
		d = cfg.Max
	}
	return d
}
