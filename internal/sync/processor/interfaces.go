package processor

import (
	"context"

	"github.com/stacklok/fleet-feed-connector/internal/connectivity"
	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
	"github.com/stacklok/fleet-feed-connector/internal/sync/feed"
	"github.com/stacklok/fleet-feed-connector/internal/sync/state"
)

//go:generate mockgen -destination=mocks/mock_interfaces.go -package=mocks -source=interfaces.go Coordinator,FaultSink,Committer,WatermarkReader

// Coordinator is the part of the service coordinator a loop uses
type Coordinator interface {
	SetEnabled(id pkgsync.ServiceID, enabled bool) error
	ReportProgress(id pkgsync.ServiceID)
	WaitForPrerequisites(ctx context.Context, id pkgsync.ServiceID, prereqs []pkgsync.ServiceID) error
	WaitForMaintenanceWindowEnd(ctx context.Context, id pkgsync.ServiceID) error
	WaitForConnectivity(ctx context.Context, id pkgsync.ServiceID) (bool, error)
	WaitForServiceProgress(ctx context.Context, id, producer pkgsync.ServiceID) error
}

// FaultSink receives the fault reasons a loop detects
type FaultSink interface {
	Raise(r connectivity.Reason) bool
}

// Committer persists a batch together with its watermark advance
type Committer interface {
	Commit(ctx context.Context, batch *feed.Batch) pkgsync.Outcome
}

// WatermarkReader reads the durable watermark of a synchronizer
type WatermarkReader interface {
	Get(ctx context.Context, id pkgsync.ServiceID) (*state.Watermark, error)
}

// Resolver maps a violated foreign-key constraint to the producing synchronizer
type Resolver interface {
	Resolve(constraint string) (pkgsync.ServiceID, bool)
}
