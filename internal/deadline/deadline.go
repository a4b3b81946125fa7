package deadline

import (
	"context"
	"sync"
	"time"
)

// Config defines the wall-clock guardrails for a quiz session.
type Config struct {
	// Budget bounds the whole session: every chain hop, retry and tool call.
	Budget time.Duration
	// StepTimeout caps a single I/O-bound step. It is always clamped to the
	// remaining session budget so no step can outlive the session.
	StepTimeout time.Duration
}

// Validate ensures the configured durations are sane before use.
func (c Config) Validate() error {
	if c.Budget <= 0 {
		return ErrConfig{Field: "budget", Reason: "must be positive"}
	}
	if c.StepTimeout <= 0 {
		return ErrConfig{Field: "step_timeout", Reason: "must be positive"}
	}
	if c.StepTimeout > c.Budget {
		return ErrConfig{Field: "step_timeout", Reason: "cannot exceed budget"}
	}
	return nil
}

// Monitor tracks elapsed wall-clock time against a single session budget.
// The zero value is not usable; construct with NewMonitor.
type Monitor struct {
	config    Config
	startTime time.Time
	mu        sync.Mutex
	now       func() time.Time
}

// NewMonitor starts the clock for one session.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{
		config:    cfg,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// NewMonitorAt is like NewMonitor but with an injectable clock, for tests.
func NewMonitorAt(cfg Config, now func() time.Time) *Monitor {
	return &Monitor{
		config:    cfg,
		startTime: now(),
		now:       now,
	}
}

// Check verifies elapsed time against the budget. It is called before every
// state transition; ErrExceeded means the session must terminate.
func (m *Monitor) Check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	elapsed := m.now().Sub(m.startTime)
	if elapsed > m.config.Budget {
		return ErrExceeded{Elapsed: elapsed, Limit: m.config.Budget}
	}
	return nil
}

// Remaining returns how much of the session budget is left. A non-positive
// result means the budget is spent.
func (m *Monitor) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.Budget - m.now().Sub(m.startTime)
}

// Elapsed returns the cumulative wall-clock time since the session started.
func (m *Monitor) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.startTime)
}

// StepContext derives a context for one I/O-bound step, bounded by the step
// timeout clamped to the remaining session budget. The caller must invoke the
// returned cancel func on every exit path.
func (m *Monitor) StepContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	remaining := m.Remaining()
	if remaining <= 0 {
		return nil, nil, ErrExceeded{Elapsed: m.Elapsed(), Limit: m.config.Budget}
	}
	step := m.config.StepTimeout
	if step > remaining {
		step = remaining
	}
	stepCtx, cancel := context.WithTimeout(ctx, step)
	return stepCtx, cancel, nil
}

// Config returns a copy of the monitor's configuration.
func (m *Monitor) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}
