// Package telemetry provides OpenTelemetry instrumentation for the fleet feed connector.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/stacklok/fleet-feed-connector/sync"

	// ConnectivityMetricsMeterName is the name used for the connectivity metrics meter
	ConnectivityMetricsMeterName = "github.com/stacklok/fleet-feed-connector/connectivity"
)

// SyncMetrics holds the OpenTelemetry instruments for synchronizer metrics
type SyncMetrics struct {
	commitDuration   metric.Float64Histogram
	recordsCommitted metric.Int64Counter
	commitAttempts   metric.Int64Counter
	watermarkAge     metric.Float64Gauge
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	commitDuration, err := meter.Float64Histogram(
		"fleet_sync_commit_duration_seconds",
		metric.WithDescription("Duration of batch commits in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	recordsCommitted, err := meter.Int64Counter(
		"fleet_sync_records_committed_total",
		metric.WithDescription("Number of feed records committed to the store"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	commitAttempts, err := meter.Int64Counter(
		"fleet_sync_commit_attempts_total",
		metric.WithDescription("Number of commit transaction attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	watermarkAge, err := meter.Float64Gauge(
		"fleet_sync_watermark_age_seconds",
		metric.WithDescription("Age of the last non-empty batch committed by a synchronizer"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		commitDuration:   commitDuration,
		recordsCommitted: recordsCommitted,
		commitAttempts:   commitAttempts,
		watermarkAge:     watermarkAge,
	}, nil
}

// RecordCommit records the duration, attempts and row count of one commit
func (m *SyncMetrics) RecordCommit(
	ctx context.Context, service string, duration time.Duration, records, attempts int, outcome string,
) {
	if m == nil || m.commitDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("outcome", outcome),
	)

	m.commitDuration.Record(ctx, duration.Seconds(), attrs)
	m.commitAttempts.Add(ctx, int64(attempts), attrs)
	if outcome == "success" && records > 0 {
		m.recordsCommitted.Add(ctx, int64(records), metric.WithAttributes(attribute.String("service", service)))
	}
}

// RecordWatermarkAge records how long ago a synchronizer last committed data
func (m *SyncMetrics) RecordWatermarkAge(ctx context.Context, service string, age time.Duration) {
	if m == nil || m.watermarkAge == nil {
		return
	}

	m.watermarkAge.Record(ctx, age.Seconds(), metric.WithAttributes(attribute.String("service", service)))
}

// ConnectivityMetrics holds the OpenTelemetry instruments for connectivity state
type ConnectivityMetrics struct {
	faultsRaised  metric.Int64Counter
	activeReasons metric.Int64Gauge
}

// NewConnectivityMetrics creates a new ConnectivityMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewConnectivityMetrics(provider metric.MeterProvider) (*ConnectivityMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ConnectivityMetricsMeterName)

	faultsRaised, err := meter.Int64Counter(
		"fleet_connectivity_faults_total",
		metric.WithDescription("Number of times a fault reason was raised"),
		metric.WithUnit("{fault}"),
	)
	if err != nil {
		return nil, err
	}

	activeReasons, err := meter.Int64Gauge(
		"fleet_connectivity_active_reasons",
		metric.WithDescription("Number of currently active fault reasons"),
		metric.WithUnit("{reason}"),
	)
	if err != nil {
		return nil, err
	}

	return &ConnectivityMetrics{
		faultsRaised:  faultsRaised,
		activeReasons: activeReasons,
	}, nil
}

// RecordFault records that a fault reason was raised
func (m *ConnectivityMetrics) RecordFault(ctx context.Context, reason string) {
	if m == nil || m.faultsRaised == nil {
		return
	}

	m.faultsRaised.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordActiveReasons records the size of the active fault set
func (m *ConnectivityMetrics) RecordActiveReasons(ctx context.Context, count int) {
	if m == nil || m.activeReasons == nil {
		return
	}

	m.activeReasons.Record(ctx, int64(count))
}
