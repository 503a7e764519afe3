package api

import (
	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
	"github.com/stacklok/fleet-feed-connector/internal/sync/coordinator"
	"github.com/stacklok/fleet-feed-connector/internal/sync/state"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status  string   `json:"status" example:"ready"`
	Reasons []string `json:"reasons,omitempty"`
}

// VersionResponse represents the version information response
type VersionResponse struct {
	Version   string `json:"version" example:"v0.1.0"`
	Commit    string `json:"commit" example:"abc123def"`
	BuildDate string `json:"build_date" example:"2025-01-15T10:30:00Z"`
	GoVersion string `json:"go_version" example:"go1.21.5"`
	Platform  string `json:"platform" example:"linux/amd64"`
}

// ConnectivityStatus is the connectivity part of StatusResponse
type ConnectivityStatus struct {
	Mode       string   `json:"mode" example:"normal"`
	Reasons    []string `json:"reasons"`
	Generation uint64   `json:"generation"`
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Connectivity ConnectivityStatus          `json:"connectivity"`
	Services     []coordinator.ServiceStatus `json:"services"`
	Watermarks   []state.Watermark           `json:"watermarks"`
}

// ServiceStatusResponse is the body of GET /status/{service}
type ServiceStatusResponse struct {
	ID        pkgsync.ServiceID          `json:"id"`
	Status    *coordinator.ServiceStatus `json:"status,omitempty"`
	Watermark *state.Watermark           `json:"watermark,omitempty"`
}
