package bridge

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Manager.
type Option func(*config)

// WorkerCommand describes how to launch the worker. Env is the complete
// configuration snapshot (KEY=VALUE) handed to the process at spawn.
type WorkerCommand struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

type config struct {
	logger *zap.Logger
	bus    *Bus

	callTimeout time.Duration
	maxPending  int

	readyDelay   time.Duration
	readyProbe   bool
	readyTimeout time.Duration
	stopGrace    time.Duration

	policy RestartPolicy

	healthInterval  time.Duration
	healthTimeout   time.Duration
	healthThreshold int
	healthMethod    string

	instanceID string
}

func defaultConfig() *config {
	return &config{
		logger:          zap.NewNop(),
		callTimeout:     DefaultCallTimeout,
		readyDelay:      DefaultReadyDelay,
		readyTimeout:    DefaultReadyTimeout,
		stopGrace:       DefaultStopGrace,
		policy:          DefaultRestartPolicy(),
		healthInterval:  DefaultHealthInterval,
		healthTimeout:   DefaultHealthTimeout,
		healthThreshold: DefaultHealthThreshold,
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEventBus publishes events on an existing bus instead of a private one.
func WithEventBus(b *Bus) Option {
	return func(c *config) {
		c.bus = b
	}
}

// WithCallTimeout sets the default per-call timeout. Zero or negative values
// keep the default (30s).
func WithCallTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithMaxPending bounds outstanding calls. Zero means unbounded.
func WithMaxPending(n int) Option {
	return func(c *config) {
		c.maxPending = n
	}
}

// WithReadyDelay sets the fixed grace delay after spawn before the worker is
// considered running. Ignored when WithReadyProbe is enabled.
func WithReadyDelay(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.readyDelay = d
		}
	}
}

// WithReadyProbe makes Start wait for the first successful health probe,
// up to timeout, instead of a fixed delay.
func WithReadyProbe(timeout time.Duration) Option {
	return func(c *config) {
		c.readyProbe = true
		if timeout > 0 {
			c.readyTimeout = timeout
		}
	}
}

// WithStopGrace sets how long Stop waits after SIGTERM before SIGKILL.
func WithStopGrace(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.stopGrace = d
		}
	}
}

// WithRestartPolicy replaces the restart policy.
func WithRestartPolicy(p RestartPolicy) Option {
	return func(c *config) {
		c.policy = p
	}
}

// WithHealthCheck configures the health monitor. interval <= 0 disables it.
func WithHealthCheck(interval, timeout time.Duration, threshold int) Option {
	return func(c *config) {
		c.healthInterval = interval
		if timeout > 0 {
			c.healthTimeout = timeout
		}
		if threshold > 0 {
			c.healthThreshold = threshold
		}
	}
}

// WithHealthMethod overrides the probe method (default "ping").
func WithHealthMethod(method string) Option {
	return func(c *config) {
		c.healthMethod = method
	}
}

// WithInstanceID sets the id stamped on every event. By default a random
// UUID is generated.
func WithInstanceID(id string) Option {
	return func(c *config) {
		c.instanceID = id
	}
}
