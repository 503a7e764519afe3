package connectivity

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultRecheckInterval is how often the monitor re-probes faulted dependencies
	DefaultRecheckInterval = 10 * time.Second

	// DefaultProbeTimeout bounds one probe of one dependency
	DefaultProbeTimeout = 5 * time.Second
)

// Monitor re-probes the store and the upstream API while their fault reasons are
// active and clears each reason once its probe succeeds. Each reason is probed
// on its own goroutine under its own deadline, so a hung store probe never
// delays the recovery of the upstream and vice versa.
type Monitor struct {
	sm       *StateMachine
	interval func() time.Duration
	timeout  func() time.Duration
}

// MonitorOption configures a Monitor
type MonitorOption func(*Monitor)

// WithRecheckInterval sets a function returning the delay between probe rounds.
// It is called before every round so the interval can follow configuration reloads.
func WithRecheckInterval(fn func() time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.interval = fn
	}
}

// WithProbeTimeout sets a function returning the deadline of each probe
func WithProbeTimeout(fn func() time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.timeout = fn
	}
}

// NewMonitor creates a monitor for the given state machine
func NewMonitor(sm *StateMachine, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		sm:       sm,
		interval: func() time.Duration { return DefaultRecheckInterval },
		timeout:  func() time.Duration { return DefaultProbeTimeout },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run probes until ctx is cancelled. It always returns nil.
func (m *Monitor) Run(ctx context.Context) error {
	slog.Info("Starting connectivity monitor",
		"interval", positiveOr(m.interval(), DefaultRecheckInterval),
		"probe_timeout", positiveOr(m.timeout(), DefaultProbeTimeout))

	timer := time.NewTimer(positiveOr(m.interval(), DefaultRecheckInterval))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Connectivity monitor stopping")
			return nil
		case <-timer.C:
			m.Check(ctx)
			timer.Reset(positiveOr(m.interval(), DefaultRecheckInterval))
		}
	}
}

// Check runs one probe round and returns when every probe has finished or
// hit its deadline
func (m *Monitor) Check(ctx context.Context) {
	checks := []struct {
		reason Reason
		probe  func(context.Context) error
	}{
		{ReasonStoreUnavailable, m.sm.ProbeStoreReachable},
		{ReasonUpstreamUnavailable, m.sm.ProbeUpstreamReachable},
	}

	timeout := positiveOr(m.timeout(), DefaultProbeTimeout)
	var g errgroup.Group
	for _, c := range checks {
		if !m.sm.IsActive(c.reason) {
			continue
		}
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			if err := c.probe(probeCtx); err != nil {
				slog.Debug("Dependency still unreachable", "reason", c.reason, "error", err)
				return nil
			}
			if m.sm.Clear(c.reason) {
				slog.Info("Dependency reachable again", "reason", c.reason)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func positiveOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
