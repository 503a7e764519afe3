// Package processor contains the loop every synchronizer runs.
//
// A Processor repeatedly passes the coordinator's gates (prerequisites,
// maintenance window, connectivity), fetches the next batch of its feed and
// commits it. Faults are reported to the connectivity state machine and the
// loop goes back to waiting; after any fault it rolls its in-memory cursor
// back to the durable watermark before fetching again. Unclassified failures
// end the loop with a *sync.FatalError.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/stacklok/fleet-feed-connector/internal/config"
	"github.com/stacklok/fleet-feed-connector/internal/connectivity"
	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
	"github.com/stacklok/fleet-feed-connector/internal/sync/feed"
	"github.com/stacklok/fleet-feed-connector/internal/sync/state"
	"github.com/stacklok/fleet-feed-connector/internal/sync/writer"
	"github.com/stacklok/fleet-feed-connector/internal/telemetry"
	"github.com/stacklok/fleet-feed-connector/internal/upstream"
)

// Definition describes one synchronizer
type Definition struct {
	ID pkgsync.ServiceID
	// FeedType is the upstream feed type name
	FeedType string
	// Target is the table the feed is written to
	Target writer.Target
	// Prerequisites must complete an iteration before this synchronizer starts
	Prerequisites []pkgsync.ServiceID
	// ForeignKeys maps the foreign-key constraints of Target.Table to their producers
	ForeignKeys map[string]pkgsync.ServiceID
}

// Validate checks that the definition is complete
func (d Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.FeedType == "" {
		return fmt.Errorf("feed type is required for %s", d.ID)
	}
	if d.Target.Table == "" {
		return fmt.Errorf("target table is required for %s", d.ID)
	}
	for constraint, producer := range d.ForeignKeys {
		if producer == d.ID {
			return fmt.Errorf("constraint %s of %s references its own synchronizer", constraint, d.ID)
		}
	}
	return nil
}

// Dependencies are the collaborators of a Processor
type Dependencies struct {
	Coordinator Coordinator
	Faults      FaultSink
	Feed        *feed.Manager
	Committer   Committer
	Watermarks  WatermarkReader
	Resolver    Resolver
}

func (d Dependencies) validate() error {
	switch {
	case d.Coordinator == nil:
		return fmt.Errorf("coordinator is required")
	case d.Faults == nil:
		return fmt.Errorf("fault sink is required")
	case d.Feed == nil:
		return fmt.Errorf("feed manager is required")
	case d.Committer == nil:
		return fmt.Errorf("committer is required")
	case d.Watermarks == nil:
		return fmt.Errorf("watermark reader is required")
	case d.Resolver == nil:
		return fmt.Errorf("resolver is required")
	}
	return nil
}

// SettingsFunc returns the current settings of a synchronizer
type SettingsFunc func() config.Settings

// Processor runs one synchronizer
type Processor struct {
	def  Definition
	deps Dependencies

	settings SettingsFunc
	metrics  *telemetry.SyncMetrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	state       atomic.Int32
	enabled     *bool
	initialized bool
	lastBatchAt time.Time
}

// Option configures a Processor
type Option func(*Processor)

// WithSettings sets the source of per-iteration settings
func WithSettings(fn SettingsFunc) Option {
	return func(p *Processor) {
		p.settings = fn
	}
}

// WithMetrics sets the sync metrics. A nil value disables them.
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// New creates a processor for def
func New(def Definition, deps Dependencies, opts ...Option) (*Processor, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	p := &Processor{
		def:  def,
		deps: deps,
		settings: func() config.Settings {
			return config.Settings{
				Enabled:      true,
				PollInterval: config.DefaultPollInterval,
				PageLimit:    config.DefaultPageLimit,
			}
		},
		now:   time.Now,
		sleep: sleepWithContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ID returns the synchronizer id
func (p *Processor) ID() pkgsync.ServiceID {
	return p.def.ID
}

// State returns the current loop state
func (p *Processor) State() State {
	return State(p.state.Load())
}

func (p *Processor) setState(s State) {
	prev := State(p.state.Swap(int32(s)))
	if prev == s {
		return
	}

	level := slog.LevelInfo
	if s == StateRunning || s == StateSleeping {
		level = slog.LevelDebug
	}
	slog.Log(context.Background(), level, "Synchronizer state changed",
		"service", p.def.ID,
		"from", prev,
		"to", s)
}

// Run executes the loop until ctx is cancelled, in which case it returns nil,
// or until a fatal failure, which is returned as *sync.FatalError.
func (p *Processor) Run(ctx context.Context) error {
	defer p.setState(StateStopped)

	slog.Info("Starting synchronizer",
		"service", p.def.ID,
		"feed_type", p.def.FeedType,
		"table", p.def.Target.Table,
		"prerequisites", p.def.Prerequisites)

	resync := true
	for {
		if ctx.Err() != nil {
			return p.stopped()
		}

		settings := p.settings()
		if err := p.applyEnabled(settings.Enabled); err != nil {
			return p.fatal(err)
		}
		if !settings.Enabled {
			p.setState(StateDisabled)
			if err := p.sleep(ctx, settings.PollInterval); err != nil {
				return p.stopped()
			}
			continue
		}
		p.deps.Feed.SetPageLimit(settings.PageLimit)

		restored, err := p.passGates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return p.stopped()
			}
			return p.fatal(err)
		}
		if restored {
			resync = true
		}

		p.setState(StateRunning)
		if resync {
			if err := p.resync(ctx); err != nil {
				if ctx.Err() != nil {
					return p.stopped()
				}
				if errors.Is(err, state.ErrWatermarkNotFound) {
					return p.fatal(err)
				}
				slog.Warn("Failed to read watermark",
					"service", p.def.ID,
					"reason", connectivity.ReasonStoreUnavailable,
					"error", err)
				p.deps.Faults.Raise(connectivity.ReasonStoreUnavailable)
				continue
			}
			resync = false
		}

		outcome := p.iterate(ctx)
		switch outcome.Kind {
		case pkgsync.OutcomeSuccess:
			p.deps.Coordinator.ReportProgress(p.def.ID)
			p.recordWatermarkAge(ctx)
			if delay := p.deps.Feed.PollDelay(settings.PollInterval); delay > 0 {
				p.setState(StateSleeping)
				if err := p.sleep(ctx, delay); err != nil {
					return p.stopped()
				}
			}

		case pkgsync.OutcomeCancelled:
			return p.stopped()

		case pkgsync.OutcomeStoreUnavailable:
			p.raise(connectivity.ReasonStoreUnavailable, outcome)
			resync = true

		case pkgsync.OutcomeUpstreamUnavailable:
			p.raise(connectivity.ReasonUpstreamUnavailable, outcome)
			resync = true

		case pkgsync.OutcomeUpstreamUnauthorized:
			p.raise(connectivity.ReasonNotInitialized, outcome)
			resync = true

		case pkgsync.OutcomeForeignKeyViolation:
			if err := p.awaitProducer(ctx, outcome); err != nil {
				if ctx.Err() != nil {
					return p.stopped()
				}
				return p.fatal(err)
			}
			resync = true

		default:
			return p.fatal(outcome.Err)
		}
	}
}

// passGates waits on every coordinator gate in order and reports whether a
// connectivity restoration was observed
func (p *Processor) passGates(ctx context.Context) (bool, error) {
	p.setState(StateAwaitingPrerequisites)
	if err := p.deps.Coordinator.WaitForPrerequisites(ctx, p.def.ID, p.def.Prerequisites); err != nil {
		return false, err
	}

	p.setState(StateAwaitingMaintenanceWindow)
	if err := p.deps.Coordinator.WaitForMaintenanceWindowEnd(ctx, p.def.ID); err != nil {
		return false, err
	}

	p.setState(StateAwaitingConnectivity)
	return p.deps.Coordinator.WaitForConnectivity(ctx, p.def.ID)
}

// resync resets the in-memory cursor to the durable watermark
func (p *Processor) resync(ctx context.Context) error {
	w, err := p.deps.Watermarks.Get(ctx, p.def.ID)
	if err != nil {
		return err
	}

	if !p.initialized {
		p.deps.Feed.Initialize(w.LastCursor)
		p.initialized = true
		slog.Info("Resuming feed from watermark",
			"service", p.def.ID,
			"cursor", w.LastCursor,
			"records_processed", w.RecordsProcessed)
		return nil
	}

	previous := p.deps.Feed.Cursor()
	p.deps.Feed.Rollback(w.LastCursor)
	slog.Info("Rolled back feed cursor to watermark",
		"service", p.def.ID,
		"from", previous,
		"to", w.LastCursor)
	return nil
}

// iterate fetches one batch and commits it
func (p *Processor) iterate(ctx context.Context) pkgsync.Outcome {
	batch, err := p.deps.Feed.FetchNextBatch(ctx)
	if err != nil {
		return upstream.Outcome(err)
	}

	if batch.Empty() {
		slog.Debug("Committing heartbeat for empty batch",
			"service", p.def.ID,
			"cursor", batch.ToCursor)
	}

	outcome := p.deps.Committer.Commit(ctx, batch)
	if outcome.OK() && !batch.Empty() {
		p.lastBatchAt = batch.RetrievedAt
		slog.Debug("Committed batch",
			"service", p.def.ID,
			"records", len(batch.Records),
			"from", batch.FromCursor,
			"to", batch.ToCursor,
			"attempts", outcome.Attempts)
	}
	return outcome
}

func (p *Processor) recordWatermarkAge(ctx context.Context) {
	if p.lastBatchAt.IsZero() {
		return
	}
	p.metrics.RecordWatermarkAge(ctx, string(p.def.ID), p.now().Sub(p.lastBatchAt))
}

// awaitProducer handles a foreign-key violation by waiting for the producer of
// the referenced rows. Unmapped constraints are fatal.
func (p *Processor) awaitProducer(ctx context.Context, outcome pkgsync.Outcome) error {
	producer, ok := p.deps.Resolver.Resolve(outcome.Constraint)
	if !ok {
		return fmt.Errorf("foreign key constraint %q has no producing synchronizer: %w", outcome.Constraint, outcome.Err)
	}

	slog.Info("Batch references rows not yet synchronized, waiting for producer",
		"service", p.def.ID,
		"constraint", outcome.Constraint,
		"producer", producer)

	p.setState(StateAwaitingProducer)
	return p.deps.Coordinator.WaitForServiceProgress(ctx, p.def.ID, producer)
}

func (p *Processor) raise(reason connectivity.Reason, outcome pkgsync.Outcome) {
	slog.Warn("Synchronizer detected a connectivity fault",
		"service", p.def.ID,
		"reason", reason,
		"outcome", outcome.Kind,
		"error", outcome.Err)
	p.deps.Faults.Raise(reason)
}

func (p *Processor) applyEnabled(enabled bool) error {
	if p.enabled != nil && *p.enabled == enabled {
		return nil
	}
	if err := p.deps.Coordinator.SetEnabled(p.def.ID, enabled); err != nil {
		return err
	}
	if p.enabled != nil {
		slog.Info("Synchronizer enabled setting changed",
			"service", p.def.ID,
			"enabled", enabled)
	}
	p.enabled = &enabled
	return nil
}

func (p *Processor) stopped() error {
	slog.Info("Synchronizer stopped", "service", p.def.ID)
	return nil
}

func (p *Processor) fatal(err error) error {
	slog.Error("Synchronizer failed",
		"service", p.def.ID,
		"fatal", true,
		"error", err)
	return &pkgsync.FatalError{Service: p.def.ID, Err: err}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
