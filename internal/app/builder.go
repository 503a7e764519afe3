package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/stacklok/fleet-feed-connector/internal/api"
	"github.com/stacklok/fleet-feed-connector/internal/config"
	"github.com/stacklok/fleet-feed-connector/internal/connectivity"
	"github.com/stacklok/fleet-feed-connector/internal/db"
	"github.com/stacklok/fleet-feed-connector/internal/entities"
	"github.com/stacklok/fleet-feed-connector/internal/httpclient"
	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
	"github.com/stacklok/fleet-feed-connector/internal/sync/coordinator"
	"github.com/stacklok/fleet-feed-connector/internal/sync/feed"
	"github.com/stacklok/fleet-feed-connector/internal/sync/fkresolver"
	"github.com/stacklok/fleet-feed-connector/internal/sync/processor"
	"github.com/stacklok/fleet-feed-connector/internal/sync/state"
	"github.com/stacklok/fleet-feed-connector/internal/sync/writer"
	"github.com/stacklok/fleet-feed-connector/internal/telemetry"
	"github.com/stacklok/fleet-feed-connector/internal/upstream"
	"github.com/stacklok/fleet-feed-connector/internal/versions"
)

const (
	// TracerName is the instrumentation scope of the connector's own spans
	TracerName = "github.com/stacklok/fleet-feed-connector"

	serverRequestTimeout = 10 * time.Second
	serverReadTimeout    = 10 * time.Second
	serverWriteTimeout   = 15 * time.Second
	serverIdleTimeout    = 60 * time.Second
)

// ConnectorOption configures the connector builder
type ConnectorOption func(*connectorConfig) error

type connectorConfig struct {
	provider    *config.Provider
	components  *Components
	telemetry   *telemetry.Telemetry
	definitions []processor.Definition
	identity    *state.AdapterIdentity
	address     *string
}

// WithConfigProvider sets the configuration source. It is required.
func WithConfigProvider(p *config.Provider) ConnectorOption {
	return func(cfg *connectorConfig) error {
		if p == nil || p.Current() == nil {
			return fmt.Errorf("config provider is required")
		}
		cfg.provider = p
		return nil
	}
}

// WithComponents injects the store and the upstream client instead of building them from configuration
func WithComponents(c Components) ConnectorOption {
	return func(cfg *connectorConfig) error {
		switch {
		case c.Store == nil:
			return fmt.Errorf("store is required")
		case c.StoreProber == nil:
			return fmt.Errorf("store prober is required")
		case c.Watermarks == nil:
			return fmt.Errorf("watermark store is required")
		case c.Upstream == nil:
			return fmt.Errorf("upstream is required")
		}
		cfg.components = &c
		return nil
	}
}

// WithTelemetry sets the tracer and meter providers and the /metrics handler
func WithTelemetry(t *telemetry.Telemetry) ConnectorOption {
	return func(cfg *connectorConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// WithDefinitions replaces the built-in synchronizer definitions
func WithDefinitions(defs []processor.Definition) ConnectorOption {
	return func(cfg *connectorConfig) error {
		if len(defs) == 0 {
			return fmt.Errorf("at least one synchronizer definition is required")
		}
		cfg.definitions = defs
		return nil
	}
}

// WithAdapterIdentity sets the identity stamped on watermark rows
func WithAdapterIdentity(id state.AdapterIdentity) ConnectorOption {
	return func(cfg *connectorConfig) error {
		cfg.identity = &id
		return nil
	}
}

// WithAddress overrides the ops server address. An empty address disables the server.
func WithAddress(addr string) ConnectorOption {
	return func(cfg *connectorConfig) error {
		cfg.address = &addr
		return nil
	}
}

// NewConnector builds every component of the connector. Nothing runs until Run is called.
func NewConnector(ctx context.Context, opts ...ConnectorOption) (*Connector, error) {
	b := &connectorConfig{}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.provider == nil {
		return nil, fmt.Errorf("config provider is required")
	}
	if b.definitions == nil {
		b.definitions = entities.Definitions()
	}
	if b.identity == nil {
		id := state.NewAdapterIdentity(versions.GetVersionInfo().Version)
		b.identity = &id
	}

	tracer, tp, mp, metricsHandler := telemetryParts(b.telemetry)

	if b.components == nil {
		components, err := buildComponents(ctx, b.provider.Current(), tracer)
		if err != nil {
			return nil, err
		}
		b.components = components
	}

	cleanupNeeded := true
	defer func() {
		if cleanupNeeded && b.components.cleanup != nil {
			b.components.cleanup()
		}
	}()

	connMetrics, err := telemetry.NewConnectivityMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectivity metrics: %w", err)
	}
	syncMetrics, err := telemetry.NewSyncMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	sm := connectivity.NewStateMachine(
		connectivity.WithStoreProber(b.components.StoreProber),
		connectivity.WithUpstreamProber(connectivity.ProberFunc(b.components.Upstream.Probe)),
		connectivity.WithMetrics(connMetrics),
	)
	coord := coordinator.New(sm, coordinator.WithConfigProvider(b.provider))

	mapping, err := entities.ForeignKeyMapping(b.definitions)
	if err != nil {
		return nil, fmt.Errorf("invalid synchronizer definitions: %w", err)
	}
	resolver := fkresolver.New(mapping)
	slog.Debug("Foreign-key constraints mapped", "constraints", resolver.Constraints())

	processors, err := buildProcessors(b, coord, sm, resolver, tracer, syncMetrics)
	if err != nil {
		return nil, err
	}

	ids := make([]pkgsync.ServiceID, 0, len(b.definitions))
	for _, def := range b.definitions {
		ids = append(ids, def.ID)
	}
	tables := entities.Tables(b.definitions)
	store := b.components.Store
	verify := func(ctx context.Context) error {
		_, err := resolver.Verify(ctx, store, tables)
		return err
	}

	provider := b.provider
	c := &Connector{
		provider:   provider,
		sm:         sm,
		coord:      coord,
		processors: processors,
		init:       newInitializer(sm, b.components.Upstream, b.components.Watermarks, verify, ids, *b.identity),
		monitor: connectivity.NewMonitor(sm,
			connectivity.WithRecheckInterval(func() time.Duration {
				return provider.Current().GetConnectivityRecheckInterval()
			}),
			connectivity.WithProbeTimeout(func() time.Duration {
				return provider.Current().GetProbeTimeout()
			}),
		),
		maintenance: connectivity.NewMaintenanceScheduler(sm,
			func() []connectivity.Window { return maintenanceWindows(provider.Current()) },
			connectivity.WithCheckInterval(maintenanceCheckInterval(provider.Current())),
		),
		cleanup: b.components.cleanup,
	}

	address := provider.Current().GetServerAddress()
	if b.address != nil {
		address = *b.address
	}
	if address != "" {
		c.httpServer, err = buildHTTPServer(address, api.Dependencies{
			Connectivity: sm,
			Services:     coord,
			Watermarks:   b.components.Watermarks,
			Metrics:      metricsHandler,
		}, tp, mp)
		if err != nil {
			return nil, err
		}
	}

	cleanupNeeded = false
	return c, nil
}

func telemetryParts(t *telemetry.Telemetry) (trace.Tracer, trace.TracerProvider, metric.MeterProvider, http.Handler) {
	if t == nil {
		tp := noop.NewTracerProvider()
		return tp.Tracer(TracerName), tp, nil, nil
	}
	return t.Tracer(TracerName), t.TracerProvider(), t.MeterProvider(), t.MetricsHandler()
}

// buildComponents opens the database pool and creates the upstream client from cfg
func buildComponents(ctx context.Context, cfg *config.Config, tracer trace.Tracer) (*Components, error) {
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	password, err := cfg.Upstream.GetPassword()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to read upstream password: %w", err)
	}

	server := cfg.Upstream.Server
	if cfg.Upstream.Insecure && !strings.Contains(server, "://") {
		server = "http://" + server
	}

	client, err := upstream.NewClient(server, cfg.Upstream.Database, cfg.Upstream.User, password,
		upstream.WithHTTPClient(httpclient.NewDefaultClient(cfg.Upstream.GetTimeout(),
			httpclient.WithUserAgent(httpclient.DefaultUserAgent+"/"+versions.GetVersionInfo().Version),
		)),
		upstream.WithRequestsPerMinute(cfg.Upstream.GetRequestsPerMinute()),
		upstream.WithTracer(tracer),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}

	return &Components{
		Store:       pool,
		StoreProber: db.NewProber(pool),
		Watermarks:  state.NewDBWatermarkStore(pool),
		Upstream:    client,
		cleanup:     pool.Close,
	}, nil
}

func buildProcessors(
	b *connectorConfig,
	coord *coordinator.Coordinator,
	sm *connectivity.StateMachine,
	resolver *fkresolver.Resolver,
	tracer trace.Tracer,
	syncMetrics *telemetry.SyncMetrics,
) ([]*processor.Processor, error) {
	provider := b.provider
	maxAttempts, initial, maxBackoff := provider.Current().GetCommitPolicy()

	for _, def := range b.definitions {
		coord.Register(def.ID, provider.Current().Synchronizer(string(def.ID)).Enabled)
	}
	for _, def := range b.definitions {
		if err := coord.Declare(def.ID, def.Prerequisites); err != nil {
			return nil, fmt.Errorf("invalid prerequisites of %s: %w", def.ID, err)
		}
	}

	processors := make([]*processor.Processor, 0, len(b.definitions))
	for _, def := range b.definitions {
		fm, err := feed.NewManager(b.components.Upstream, def.FeedType)
		if err != nil {
			return nil, fmt.Errorf("failed to create feed manager for %s: %w", def.ID, err)
		}

		committer, err := writer.NewCommitter(b.components.Store, def.ID, def.Target,
			writer.WithRetryPolicy(maxAttempts, initial, maxBackoff),
			writer.WithTracer(tracer),
			writer.WithMetrics(syncMetrics),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create committer for %s: %w", def.ID, err)
		}

		name := string(def.ID)
		p, err := processor.New(def, processor.Dependencies{
			Coordinator: coord,
			Faults:      sm,
			Feed:        fm,
			Committer:   committer,
			Watermarks:  b.components.Watermarks,
			Resolver:    resolver,
		},
			processor.WithSettings(func() config.Settings { return provider.Current().Synchronizer(name) }),
			processor.WithMetrics(syncMetrics),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create synchronizer %s: %w", def.ID, err)
		}
		processors = append(processors, p)
	}

	slog.Info("Synchronizers configured", "count", len(processors))
	return processors, nil
}

// maintenanceWindows parses the configured windows. Invalid entries are
// rejected when the configuration is loaded, so errors here are only logged.
func maintenanceWindows(cfg *config.Config) []connectivity.Window {
	if cfg.Maintenance == nil {
		return nil
	}
	windows := make([]connectivity.Window, 0, len(cfg.Maintenance.Windows))
	for _, w := range cfg.Maintenance.Windows {
		parsed, err := connectivity.ParseWindow(w.Start, w.Duration)
		if err != nil {
			slog.Warn("Ignoring invalid maintenance window", "start", w.Start, "duration", w.Duration, "error", err)
			continue
		}
		windows = append(windows, parsed)
	}
	return windows
}

func maintenanceCheckInterval(cfg *config.Config) time.Duration {
	if cfg.Maintenance == nil || cfg.Maintenance.CheckInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(cfg.Maintenance.CheckInterval)
	if err != nil {
		return 0
	}
	return d
}

func buildHTTPServer(
	address string,
	deps api.Dependencies,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*http.Server, error) {
	instrumentation, err := telemetry.NewHTTPInstrumentation(tp, mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP instrumentation: %w", err)
	}
	middlewares := []func(http.Handler) http.Handler{
		instrumentation.Middleware,
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(serverRequestTimeout),
		api.LoggingMiddleware,
	}

	server := &http.Server{
		Addr:         address,
		Handler:      api.NewServer(deps, api.WithMiddlewares(middlewares...)),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	slog.Info("Ops HTTP server configured", "address", address)
	return server, nil
}
