package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/fleet-feed-connector/internal/connectivity"
	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
	"github.com/stacklok/fleet-feed-connector/internal/sync/state"
	"github.com/stacklok/fleet-feed-connector/internal/upstream"
	"github.com/stacklok/fleet-feed-connector/internal/versions"
)

const (
	defaultInitPollInterval = time.Second
	initInitialBackoff      = time.Second
	initMaxBackoff          = time.Minute
)

// initializer owns ReasonNotInitialized. The first pass authenticates
// upstream, creates the watermark rows and verifies the foreign-key mapping.
// Later passes, triggered when a synchronizer reports an expired session,
// only authenticate again.
type initializer struct {
	sm         *connectivity.StateMachine
	auth       Authenticator
	watermarks state.WatermarkStore
	verify     func(ctx context.Context) error
	services   []pkgsync.ServiceID
	identity   state.AdapterIdentity

	poll       time.Duration
	newBackOff func() backoff.BackOff

	initialized bool
}

func newInitializer(
	sm *connectivity.StateMachine,
	auth Authenticator,
	watermarks state.WatermarkStore,
	verify func(ctx context.Context) error,
	services []pkgsync.ServiceID,
	identity state.AdapterIdentity,
) *initializer {
	return &initializer{
		sm:         sm,
		auth:       auth,
		watermarks: watermarks,
		verify:     verify,
		services:   services,
		identity:   identity,
		poll:       defaultInitPollInterval,
		newBackOff: func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = initInitialBackoff
			eb.MaxInterval = initMaxBackoff
			return eb
		},
	}
}

// Run initializes the connector and re-authenticates every time
// ReasonNotInitialized is raised again. It returns nil when ctx is cancelled
// and an error when initialization fails permanently.
func (i *initializer) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if i.sm.IsActive(connectivity.ReasonNotInitialized) {
			if err := i.initialize(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
		timer.Reset(i.poll)
	}
}

func (i *initializer) initialize(ctx context.Context) error {
	if i.initialized {
		slog.Info("Upstream session lost, authenticating again")
	} else {
		slog.Info("Initializing connector", "services", i.services)
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, i.attempt(ctx)
	},
		backoff.WithBackOff(i.newBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Connector initialization failed, retrying",
				"retry_in", next,
				"error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize connector: %w", err)
	}

	i.initialized = true
	i.sm.Clear(connectivity.ReasonNotInitialized)
	return nil
}

func (i *initializer) attempt(ctx context.Context) error {
	if err := i.auth.Authenticate(ctx); err != nil {
		return i.authError(ctx, err)
	}
	if i.initialized {
		return nil
	}

	i.warnOnDowngrade(ctx)

	if err := i.watermarks.Initialize(ctx, i.services, i.identity); err != nil {
		return fmt.Errorf("failed to initialize watermarks: %w", err)
	}
	if err := i.verify(ctx); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	return nil
}

// authError decides whether an authentication failure is worth retrying
func (*initializer) authError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(err)
	}

	var upErr *upstream.Error
	if errors.As(err, &upErr) && upErr.Kind == upstream.KindRejected {
		return backoff.Permanent(err)
	}
	return err
}

// warnOnDowngrade logs watermarks last written by a newer release
func (i *initializer) warnOnDowngrade(ctx context.Context) {
	existing, err := i.watermarks.List(ctx)
	if err != nil {
		slog.Debug("Could not list watermarks before initialization", "error", err)
		return
	}
	for _, wm := range existing {
		if versions.IsDowngrade(i.identity.Version, wm.AdapterVersion) {
			slog.Warn("Watermark was written by a newer connector release",
				"service", wm.ServiceID,
				"recorded_version", wm.AdapterVersion,
				"running_version", i.identity.Version)
		}
	}
}
