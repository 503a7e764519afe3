package app

import (
	"context"

	"github.com/stacklok/fleet-feed-connector/internal/connectivity"
	"github.com/stacklok/fleet-feed-connector/internal/sync/feed"
	"github.com/stacklok/fleet-feed-connector/internal/sync/fkresolver"
	"github.com/stacklok/fleet-feed-connector/internal/sync/state"
	"github.com/stacklok/fleet-feed-connector/internal/sync/writer"
)

//go:generate mockgen -destination=mocks/mock_components.go -package=mocks -source=components.go Upstream,Authenticator

// Authenticator obtains an upstream session
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// Upstream is the fleet API as the connector uses it. *upstream.Client implements it.
type Upstream interface {
	feed.Source
	Authenticator
	Probe(ctx context.Context) error
}

// Store is the database as the connector uses it. *pgxpool.Pool implements it.
type Store interface {
	writer.Beginner
	fkresolver.Querier
}

// Components groups the external dependencies of a Connector
type Components struct {
	Store       Store
	StoreProber connectivity.Prober
	Watermarks  state.WatermarkStore
	Upstream    Upstream

	// cleanup releases what the builder opened itself
	cleanup func()
}
