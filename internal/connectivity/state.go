// Package connectivity tracks why the connector is currently unable to make progress.
//
// A StateMachine holds a set of independent fault reasons. The connector is in
// ModeNormal when no reason is active and in ModeWaiting otherwise. Reasons are
// raised by whoever observes a fault (processor loops, the orchestrator, the
// maintenance scheduler) and cleared by whoever observes recovery (the Monitor,
// the orchestrator). Every Waiting to Normal transition bumps a restoration
// generation that consumers use to detect that connectivity came back.
package connectivity

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/stacklok/fleet-feed-connector/internal/telemetry"
)

// Reason is a single cause for the connector being unable to make progress
type Reason string

const (
	// ReasonStoreUnavailable is raised when the relational store cannot be reached
	ReasonStoreUnavailable Reason = "store-unavailable"
	// ReasonUpstreamUnavailable is raised when the upstream API cannot be reached
	ReasonUpstreamUnavailable Reason = "upstream-unavailable"
	// ReasonNotInitialized is active from startup until the orchestrator finished initialization
	ReasonNotInitialized Reason = "application-not-initialized"
	// ReasonMaintenance is active while a maintenance window is open
	ReasonMaintenance Reason = "paused-for-maintenance"
)

// Mode is the aggregate connectivity mode
type Mode int

const (
	// ModeNormal means no fault reason is active
	ModeNormal Mode = iota
	// ModeWaiting means at least one fault reason is active
	ModeWaiting
)

func (m Mode) String() string {
	if m == ModeNormal {
		return "normal"
	}
	return "waiting"
}

// StateMachine is the process-wide connectivity state. It is safe for concurrent use.
type StateMachine struct {
	mu         sync.RWMutex
	active     map[Reason]struct{}
	generation uint64

	store    Prober
	upstream Prober
	metrics  *telemetry.ConnectivityMetrics
}

// Option configures a StateMachine
type Option func(*StateMachine)

// WithStoreProber sets the probe used by ProbeStoreReachable
func WithStoreProber(p Prober) Option {
	return func(sm *StateMachine) {
		sm.store = p
	}
}

// WithUpstreamProber sets the probe used by ProbeUpstreamReachable
func WithUpstreamProber(p Prober) Option {
	return func(sm *StateMachine) {
		sm.upstream = p
	}
}

// WithMetrics sets the connectivity metrics
func WithMetrics(m *telemetry.ConnectivityMetrics) Option {
	return func(sm *StateMachine) {
		sm.metrics = m
	}
}

// NewStateMachine returns a state machine with only ReasonNotInitialized active
func NewStateMachine(opts ...Option) *StateMachine {
	sm := &StateMachine{
		active: map[Reason]struct{}{ReasonNotInitialized: {}},
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// Raise activates a reason. It returns false if the reason was already active.
func (sm *StateMachine) Raise(r Reason) bool {
	sm.mu.Lock()
	if _, ok := sm.active[r]; ok {
		sm.mu.Unlock()
		return false
	}
	sm.active[r] = struct{}{}
	active := sm.activeLocked()
	sm.mu.Unlock()

	slog.Warn("Connectivity fault raised",
		"reason", r,
		"active_reasons", active,
		"mode", ModeWaiting)
	sm.metrics.RecordFault(context.Background(), string(r))
	sm.metrics.RecordActiveReasons(context.Background(), len(active))
	return true
}

// Clear deactivates a reason. It returns false if the reason was not active.
func (sm *StateMachine) Clear(r Reason) bool {
	sm.mu.Lock()
	if _, ok := sm.active[r]; !ok {
		sm.mu.Unlock()
		return false
	}
	delete(sm.active, r)
	restored := len(sm.active) == 0
	if restored {
		sm.generation++
	}
	active := sm.activeLocked()
	generation := sm.generation
	sm.mu.Unlock()

	if restored {
		slog.Info("Connectivity restored",
			"cleared_reason", r,
			"generation", generation,
			"mode", ModeNormal)
	} else {
		slog.Info("Connectivity fault cleared",
			"reason", r,
			"active_reasons", active,
			"mode", ModeWaiting)
	}
	sm.metrics.RecordActiveReasons(context.Background(), len(active))
	return true
}

// IsActive reports whether r is currently active
func (sm *StateMachine) IsActive(r Reason) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, ok := sm.active[r]
	return ok
}

// ActiveReasons returns the active reasons sorted by name
func (sm *StateMachine) ActiveReasons() []Reason {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.activeLocked()
}

// Mode returns ModeWaiting iff any reason is active
func (sm *StateMachine) Mode() Mode {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if len(sm.active) == 0 {
		return ModeNormal
	}
	return ModeWaiting
}

// Generation returns the number of Waiting to Normal transitions observed so far
func (sm *StateMachine) Generation() uint64 {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.generation
}

// Snapshot returns the mode and the generation read under a single lock
func (sm *StateMachine) Snapshot() (Mode, uint64) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if len(sm.active) == 0 {
		return ModeNormal, sm.generation
	}
	return ModeWaiting, sm.generation
}

// ProbeStoreReachable checks the store without changing state
func (sm *StateMachine) ProbeStoreReachable(ctx context.Context) error {
	return probe(ctx, sm.store)
}

// ProbeUpstreamReachable checks the upstream API without changing state
func (sm *StateMachine) ProbeUpstreamReachable(ctx context.Context) error {
	return probe(ctx, sm.upstream)
}

func (sm *StateMachine) activeLocked() []Reason {
	reasons := make([]Reason, 0, len(sm.active))
	for r := range sm.active {
		reasons = append(reasons, r)
	}
	slices.Sort(reasons)
	return reasons
}
