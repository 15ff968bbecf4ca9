package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffConfig_DelayExponentialAndCapped(t *testing.T) {
	t.Parallel()

	cfg := DefaultBackoffConfig()

	assert.Equal(t, 5*time.Second, cfg.Delay(0))
	assert.Equal(t, 10*time.Second, cfg.Delay(1))
	assert.Equal(t, 20*time.Second, cfg.Delay(2))
	assert.Equal(t, 40*time.Second, cfg.Delay(3))
	// Ceiling is Max - MaxJitter so the jittered total never exceeds Max.
	assert.Equal(t, 55*time.Second, cfg.Delay(4))
	assert.Equal(t, 55*time.Second, cfg.Delay(50))
}

func TestBackoffConfig_DelayMonotone(t *testing.T) {
	t.Parallel()

	cfg := DefaultBackoffConfig()
	prev := time.Duration(-1)
	for attempt := 0; attempt < 200; attempt++ {
		d := cfg.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestBackoffConfig_NegativeAttemptClamped(t *testing.T) {
	t.Parallel()

	cfg := DefaultBackoffConfig()
	assert.Equal(t, cfg.Delay(0), cfg.Delay(-5))
}

func TestCalculateBackoff_NeverExceedsMax(t *testing.T) {
	t.Parallel()

	cfg := DefaultBackoffConfig()
	for attempt := 0; attempt < 50; attempt++ {
		for i := 0; i < 20; i++ {
			d := CalculateBackoff(attempt, cfg)
			assert.GreaterOrEqual(t, d, cfg.Delay(attempt))
			assert.LessOrEqual(t, d, cfg.Max)
		}
	}
}

func TestCalculateBackoff_NoJitter(t *testing.T) {
	t.Parallel()

	cfg := BackoffConfig{Base: time.Second, Max: 10 * time.Second, MaxJitter: 0, MaxAttempts: 10}
	assert.Equal(t, time.Second, CalculateBackoff(0, cfg))
	assert.Equal(t, 2*time.Second, CalculateBackoff(1, cfg))
}

func TestBackoffConfig_Exhausted(t *testing.T) {
	t.Parallel()

	cfg := DefaultBackoffConfig()
	assert.False(t, cfg.Exhausted(1))
	assert.False(t, cfg.Exhausted(cfg.MaxAttempts))
	assert.True(t, cfg.Exhausted(cfg.MaxAttempts+1))

	unlimited := BackoffConfig{Base: time.Second, Max: time.Minute, MaxAttempts: 0}
	assert.False(t, unlimited.Exhausted(1_000_000))
}
