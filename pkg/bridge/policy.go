package bridge

import (
	"math/rand/v2"
	"time"
)

// Defaults used when an Option leaves a setting at its zero value.
const (
	DefaultCallTimeout     = 30 * time.Second
	DefaultReadyDelay      = 500 * time.Millisecond
	DefaultReadyTimeout    = 30 * time.Second
	DefaultStopGrace       = 3 * time.Second
	DefaultMaxRestarts     = 5
	DefaultBackoffBase     = time.Second
	DefaultBackoffMax      = 30 * time.Second
	DefaultHealthInterval  = 30 * time.Second
	DefaultHealthTimeout   = 5 * time.Second
	DefaultHealthThreshold = 3
)

// backoffJitter is the maximum fraction of the delay added as jitter.
const backoffJitter = 0.2

// RestartPolicy bounds automatic recovery. It is only mutated by the
// Manager.
type RestartPolicy struct {
	// AutoRestart enables restarting after an unexpected exit. The Manager
	// turns it off for good once the budget is exhausted.
	AutoRestart bool

	// MaxRestarts is the number of consecutive restarts allowed before the
	// budget is exceeded. Zero allows none.
	MaxRestarts int

	// BackoffBase is the delay before the first automatic restart; it
	// doubles for each further consecutive restart.
	BackoffBase time.Duration

	// BackoffMax caps the delay, jitter included.
	BackoffMax time.Duration
}

// DefaultRestartPolicy returns auto-restart with the default budget and curve.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		AutoRestart: true,
		MaxRestarts: DefaultMaxRestarts,
		BackoffBase: DefaultBackoffBase,
		BackoffMax:  DefaultBackoffMax,
	}
}

// Backoff returns the delay before the attempt-th consecutive restart
// (1-based). The curve is base*2^(attempt-1) plus up to 20% jitter, never
// below base and never above max.
func (p RestartPolicy) Backoff(attempt int) time.Duration {
	base := p.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	maxDelay := p.BackoffMax
	if maxDelay < base {
		maxDelay = base
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	//nolint:gosec // jitter does not need a cryptographic source
	jitter := time.Duration(rand.Float64() * backoffJitter * float64(delay))
	delay += jitter
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
