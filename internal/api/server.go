// Package api provides the operational HTTP server of the connector: liveness,
// readiness, synchronizer status and Prometheus metrics.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/fleet-feed-connector/internal/api/common"
	"github.com/stacklok/fleet-feed-connector/internal/connectivity"
	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
	"github.com/stacklok/fleet-feed-connector/internal/sync/coordinator"
	"github.com/stacklok/fleet-feed-connector/internal/sync/state"
	"github.com/stacklok/fleet-feed-connector/internal/versions"
)

// Connectivity is the read side of the connectivity state machine
type Connectivity interface {
	Mode() connectivity.Mode
	ActiveReasons() []connectivity.Reason
	Generation() uint64
}

// ServiceSnapshotter reports the status of every registered synchronizer
type ServiceSnapshotter interface {
	Snapshot() []coordinator.ServiceStatus
}

// Dependencies are the components the server reports on
type Dependencies struct {
	Connectivity Connectivity
	Services     ServiceSnapshotter
	Watermarks   state.WatermarkStore
	// Metrics serves /metrics when set
	Metrics http.Handler
}

// ServerOption configures the ops server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// NewServer creates and configures the HTTP router with the given dependencies and options
func NewServer(deps Dependencies, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	h := &handlers{deps: deps}
	r.Get("/health", h.health)
	r.Get("/readiness", h.readiness)
	r.Get("/status", h.status)
	r.Get("/status/{service}", h.serviceStatus)
	r.Get("/version", h.version)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type handlers struct {
	deps Dependencies
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	common.RespondJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// readiness reports 503 while any connectivity fault is active
func (h *handlers) readiness(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Connectivity.Mode() == connectivity.ModeNormal {
		common.RespondJSON(w, http.StatusOK, ReadinessResponse{Status: "ready"})
		return
	}
	common.RespondJSON(w, http.StatusServiceUnavailable, ReadinessResponse{
		Status:  "waiting",
		Reasons: reasonStrings(h.deps.Connectivity.ActiveReasons()),
	})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	watermarks, err := h.deps.Watermarks.List(r.Context())
	if err != nil {
		slog.Error("Failed to list watermarks", "error", err)
		common.RespondError(w, http.StatusServiceUnavailable, "failed to read watermarks")
		return
	}
	if watermarks == nil {
		watermarks = []state.Watermark{}
	}

	services := h.deps.Services.Snapshot()
	if services == nil {
		services = []coordinator.ServiceStatus{}
	}

	common.RespondJSON(w, http.StatusOK, StatusResponse{
		Connectivity: ConnectivityStatus{
			Mode:       h.deps.Connectivity.Mode().String(),
			Reasons:    reasonStrings(h.deps.Connectivity.ActiveReasons()),
			Generation: h.deps.Connectivity.Generation(),
		},
		Services:   services,
		Watermarks: watermarks,
	})
}

// serviceStatus reports one synchronizer. A service is found when it is
// registered in this process, is one of the built-in synchronizers or has a
// stored watermark from an earlier run.
func (h *handlers) serviceStatus(w http.ResponseWriter, r *http.Request) {
	name, err := common.URLParam(r, "service")
	if err != nil {
		common.RespondError(w, http.StatusBadRequest, "%v", err)
		return
	}
	id := pkgsync.ServiceID(name)

	resp := ServiceStatusResponse{ID: id}
	for _, s := range h.deps.Services.Snapshot() {
		if s.ID == id {
			resp.Status = &s
			break
		}
	}

	wm, err := h.deps.Watermarks.Get(r.Context(), id)
	switch {
	case err == nil:
		resp.Watermark = wm
	case errors.Is(err, state.ErrWatermarkNotFound):
		if resp.Status == nil && !pkgsync.IsKnownService(name) {
			common.RespondError(w, http.StatusNotFound, "unknown service %s", name)
			return
		}
	default:
		slog.Error("Failed to read watermark", "service", id, "error", err)
		common.RespondError(w, http.StatusServiceUnavailable, "failed to read watermark")
		return
	}

	common.RespondJSON(w, http.StatusOK, resp)
}

func (*handlers) version(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()
	common.RespondJSON(w, http.StatusOK, VersionResponse{
		Version:   info.Version,
		Commit:    info.Commit,
		BuildDate: info.BuildDate,
		GoVersion: info.GoVersion,
		Platform:  info.Platform,
	})
}

func reasonStrings(reasons []connectivity.Reason) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, string(r))
	}
	return out
}
