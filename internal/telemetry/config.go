// Package telemetry provides OpenTelemetry instrumentation for the fleet feed connector.
// It supports configurable tracing and metrics with OTLP exporters, and a
// Prometheus reader served by the ops HTTP server.
package telemetry

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultServiceName is the default service name for telemetry
	DefaultServiceName = "fleet-connector"

	// DefaultEndpoint is the default OTLP/HTTP collector endpoint
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the default trace sampling ratio
	DefaultSampling = 0.05

	// DefaultExportInterval is the default OTLP metrics push interval
	DefaultExportInterval = 60 * time.Second
)

// Config is the telemetry section of the connector configuration
type Config struct {
	// Enabled switches all telemetry on. When false every provider is a no-op,
	// including the Prometheus endpoint.
	Enabled bool `yaml:"enabled"`

	// ServiceName defaults to "fleet-connector"
	ServiceName string `yaml:"serviceName,omitempty"`

	// ServiceVersion defaults to the version of the running binary
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP/HTTP collector as "host:port"
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure sends OTLP over plain HTTP
	Insecure bool `yaml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig configures span export
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the ratio of sampled traces in (0, 1]
	Sampling *float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig configures the metric readers
type MetricsConfig struct {
	// Enabled pushes metrics to the OTLP endpoint
	Enabled bool `yaml:"enabled"`

	// ExportInterval is the OTLP push interval (e.g., "30s")
	ExportInterval string `yaml:"exportInterval,omitempty"`

	// Prometheus exposes metrics for scraping on the ops server's /metrics endpoint
	Prometheus bool `yaml:"prometheus,omitempty"`
}

func (c *MetricsConfig) active() bool {
	return c != nil && (c.Enabled || c.Prometheus)
}

func (c *Config) tracingEnabled() bool {
	return c != nil && c.Enabled && c.Tracing != nil && c.Tracing.Enabled
}

func (c *Config) metricsEnabled() bool {
	return c != nil && c.Enabled && c.Metrics.active()
}

// GetServiceName returns the service name, using default if not specified
func (c *Config) GetServiceName() string {
	if c == nil || c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetEndpoint returns the collector endpoint, using default if not specified
func (c *Config) GetEndpoint() string {
	if c == nil || c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetSampling returns the sampling ratio, or DefaultSampling when unset
func (c *TracingConfig) GetSampling() float64 {
	if c == nil || c.Sampling == nil {
		return DefaultSampling
	}
	return *c.Sampling
}

// GetExportInterval returns the OTLP push interval, or DefaultExportInterval
// when unset or invalid
func (c *MetricsConfig) GetExportInterval() time.Duration {
	if c == nil || c.ExportInterval == "" {
		return DefaultExportInterval
	}
	d, err := time.ParseDuration(c.ExportInterval)
	if err != nil || d <= 0 {
		return DefaultExportInterval
	}
	return d
}

// Validate checks the telemetry section. A nil or disabled section is valid.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if t := c.Tracing; t != nil && t.Enabled && t.Sampling != nil {
		if s := *t.Sampling; s <= 0 || s > 1 {
			errs = append(errs, fmt.Errorf("tracing: sampling must be greater than 0.0 and at most 1.0, got %g", s))
		}
	}
	if m := c.Metrics; m != nil && m.ExportInterval != "" {
		if d, err := time.ParseDuration(m.ExportInterval); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("metrics: exportInterval must be a positive duration, got %q", m.ExportInterval))
		}
	}
	return errors.Join(errs...)
}
