package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	gosync "sync"
	"time"

	"github.com/stacklok/fleet-feed-connector/internal/connectivity"
	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
)

var (
	// ErrUnknownService is returned when an operation names a synchronizer that was never registered
	ErrUnknownService = errors.New("unknown service")

	// ErrDependencyCycle is returned by Declare when the new edges would close a cycle
	ErrDependencyCycle = errors.New("dependency cycle")
)

// Wait names used in ServiceStatus.WaitingFor
const (
	WaitPrerequisites   = "prerequisites"
	WaitMaintenance     = "maintenance-window"
	WaitConnectivity    = "connectivity"
	WaitServiceProgress = "service-progress"
)

// Connectivity is the part of the connectivity state machine the coordinator reads
type Connectivity interface {
	Snapshot() (connectivity.Mode, uint64)
	IsActive(r connectivity.Reason) bool
}

// ServiceStatus is a point-in-time view of one synchronizer
type ServiceStatus struct {
	ID            pkgsync.ServiceID   `json:"id"`
	Enabled       bool                `json:"enabled"`
	Paused        bool                `json:"paused"`
	WaitingFor    string              `json:"waitingFor,omitempty"`
	Iterations    uint64              `json:"iterations"`
	LastProgress  *time.Time          `json:"lastProgress,omitempty"`
	Prerequisites []pkgsync.ServiceID `json:"prerequisites,omitempty"`
}

type serviceState struct {
	enabled      bool
	iterations   uint64
	lastProgress time.Time
	prereqs      []pkgsync.ServiceID
	waitingFor   string
	// generation of the last connectivity restoration this service observed
	seenGeneration uint64
}

// Coordinator tracks registered synchronizers and provides the cooperative
// wait gates that every processor loop passes before an iteration.
// All waits poll at a fixed interval and never hold the lock while sleeping.
type Coordinator struct {
	mu       gosync.RWMutex
	services map[pkgsync.ServiceID]*serviceState

	conn         Connectivity
	pollInterval func() time.Duration
}

// Option is a function that configures the coordinator
type Option func(*Coordinator)

// WithPollInterval sets a function returning the poll interval of all waits.
// It is called on every poll so the interval can follow configuration reloads.
func WithPollInterval(fn func() time.Duration) Option {
	return func(c *Coordinator) {
		c.pollInterval = fn
	}
}

// New creates a coordinator reading connectivity from conn
func New(conn Connectivity, opts ...Option) *Coordinator {
	c := &Coordinator{
		services:     make(map[pkgsync.ServiceID]*serviceState),
		conn:         conn,
		pollInterval: func() time.Duration { return defaultPollInterval },
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Register adds a synchronizer. Registering an existing id only updates enabled.
func (c *Coordinator) Register(id pkgsync.ServiceID, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.services[id]; ok {
		s.enabled = enabled
		return
	}
	c.services[id] = &serviceState{enabled: enabled}
	slog.Debug("Registered synchronizer", "service", id, "enabled", enabled)
}

// SetEnabled changes the enabled flag of a registered synchronizer
func (c *Coordinator) SetEnabled(id pkgsync.ServiceID, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.services[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, id)
	}
	if s.enabled != enabled {
		slog.Info("Synchronizer enabled state changed", "service", id, "enabled", enabled)
	}
	s.enabled = enabled
	return nil
}

// Declare records that id depends on prereqs. Every service involved must be
// registered, and edges that would create a cycle are rejected.
func (c *Coordinator) Declare(id pkgsync.ServiceID, prereqs []pkgsync.ServiceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.services[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, id)
	}
	for _, p := range prereqs {
		if _, ok := c.services[p]; !ok {
			return fmt.Errorf("%w: %s (prerequisite of %s)", ErrUnknownService, p, id)
		}
		if p == id || c.reachableLocked(p, id) {
			return fmt.Errorf("%w: %s -> %s", ErrDependencyCycle, id, p)
		}
	}

	s.prereqs = slices.Clone(prereqs)
	return nil
}

// reachableLocked reports whether to can be reached from from by following prerequisite edges
func (c *Coordinator) reachableLocked(from, to pkgsync.ServiceID) bool {
	visited := map[pkgsync.ServiceID]bool{}
	stack := []pkgsync.ServiceID{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if s, ok := c.services[cur]; ok {
			stack = append(stack, s.prereqs...)
		}
	}
	return false
}

// ReportProgress records one successful iteration of id. The first report of a
// service is also the signal that its reference data is initialized.
func (c *Coordinator) ReportProgress(id pkgsync.ServiceID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.services[id]
	if !ok {
		slog.Warn("Progress reported for unregistered synchronizer", "service", id)
		return
	}
	s.iterations++
	s.lastProgress = time.Now().UTC()
	if s.iterations == 1 {
		slog.Info("Synchronizer completed its first iteration", "service", id)
	}
}

// Iterations returns the number of successful iterations reported by id
func (c *Coordinator) Iterations(id pkgsync.ServiceID) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if s, ok := c.services[id]; ok {
		return s.iterations
	}
	return 0
}

// Snapshot returns the status of every registered synchronizer, sorted by id
func (c *Coordinator) Snapshot() []ServiceStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ServiceStatus, 0, len(c.services))
	for id, s := range c.services {
		st := ServiceStatus{
			ID:            id,
			Enabled:       s.enabled,
			Paused:        s.waitingFor != "",
			WaitingFor:    s.waitingFor,
			Iterations:    s.iterations,
			Prerequisites: slices.Clone(s.prereqs),
		}
		if !s.lastProgress.IsZero() {
			lp := s.lastProgress
			st.LastProgress = &lp
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b ServiceStatus) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// WaitForPrerequisites blocks until every prerequisite is registered, enabled
// and has completed at least one iteration. An empty list returns immediately.
func (c *Coordinator) WaitForPrerequisites(ctx context.Context, id pkgsync.ServiceID, prereqs []pkgsync.ServiceID) error {
	if len(prereqs) == 0 {
		return nil
	}

	return c.wait(ctx, id, WaitPrerequisites, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		for _, p := range prereqs {
			s, ok := c.services[p]
			if !ok || !s.enabled || s.iterations == 0 {
				return false
			}
		}
		return true
	})
}

// WaitForMaintenanceWindowEnd blocks while the maintenance reason is active
func (c *Coordinator) WaitForMaintenanceWindowEnd(ctx context.Context, id pkgsync.ServiceID) error {
	return c.wait(ctx, id, WaitMaintenance, func() bool {
		return !c.conn.IsActive(connectivity.ReasonMaintenance)
	})
}

// WaitForConnectivity blocks until the connector is in normal mode. It returns
// true exactly once per Waiting to Normal transition observed by id, which tells
// the caller to roll its cursor back to the durable watermark.
func (c *Coordinator) WaitForConnectivity(ctx context.Context, id pkgsync.ServiceID) (bool, error) {
	var generation uint64
	err := c.wait(ctx, id, WaitConnectivity, func() bool {
		mode, gen := c.conn.Snapshot()
		generation = gen
		return mode == connectivity.ModeNormal
	})
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.services[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownService, id)
	}
	restored := generation > s.seenGeneration
	s.seenGeneration = generation
	return restored, nil
}

// WaitForServiceProgress blocks until producer completes at least one iteration
// after the call.
func (c *Coordinator) WaitForServiceProgress(ctx context.Context, id, producer pkgsync.ServiceID) error {
	baseline := c.Iterations(producer)
	slog.Info("Waiting for producer progress",
		"service", id,
		"producer", producer,
		"baseline_iterations", baseline)

	return c.wait(ctx, id, WaitServiceProgress, func() bool {
		return c.Iterations(producer) > baseline
	})
}

// wait polls ready until it returns true or ctx is done. While waiting, id is
// reported as paused.
func (c *Coordinator) wait(ctx context.Context, id pkgsync.ServiceID, what string, ready func() bool) error {
	if ready() {
		return nil
	}

	c.setWaiting(id, what)
	defer c.setWaiting(id, "")

	for {
		if err := sleepWithContext(ctx, c.nextPollInterval()); err != nil {
			return err
		}
		if ready() {
			return nil
		}
	}
}

func (c *Coordinator) setWaiting(id pkgsync.ServiceID, what string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.services[id]; ok {
		s.waitingFor = what
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
