// Package state contains the durable watermark of every synchronizer.
//
// A watermark records how far a synchronizer has durably applied its feed.
// Rows are created once per synchronizer and never deleted. The cursor only
// moves inside the transaction that applied the corresponding batch (see
// Advance), so a restart always resumes from a position whose data is stored.
package state

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"

	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
)

var (
	// ErrWatermarkNotFound is returned when no watermark row exists for a synchronizer
	ErrWatermarkNotFound = errors.New("watermark not found")

	// ErrWatermarkConflict is returned when the stored cursor is not the one a batch
	// was fetched from, which means another writer moved it.
	ErrWatermarkConflict = errors.New("watermark was advanced concurrently")
)

// Watermark is the durable progress of one synchronizer
type Watermark struct {
	ServiceID pkgsync.ServiceID `json:"serviceId"`
	// LastCursor is empty until the first batch is committed
	LastCursor       string     `json:"lastCursor,omitempty"`
	LastProcessedAt  *time.Time `json:"lastProcessedAt,omitempty"`
	LastBatchAt      *time.Time `json:"lastBatchAt,omitempty"`
	RecordsProcessed int64      `json:"recordsProcessed"`
	AdapterVersion   string     `json:"adapterVersion,omitempty"`
	AdapterHost      string     `json:"adapterHost,omitempty"`
	AdapterInstance  uuid.UUID  `json:"adapterInstance"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// AdapterIdentity identifies the running connector process in watermark rows
type AdapterIdentity struct {
	Version  string
	Host     string
	Instance uuid.UUID
}

// NewAdapterIdentity returns an identity for this process with a fresh instance id
func NewAdapterIdentity(version string) AdapterIdentity {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return AdapterIdentity{
		Version:  version,
		Host:     host,
		Instance: uuid.New(),
	}
}

// WatermarkStore provides access to the watermark table outside of batch commits.
//
//go:generate mockgen -destination=mocks/mock_watermark_store.go -package=mocks github.com/stacklok/fleet-feed-connector/internal/sync/state WatermarkStore
type WatermarkStore interface {
	// Initialize creates missing rows for ids and stamps every row of ids with
	// the adapter identity. Existing cursors are left untouched.
	Initialize(ctx context.Context, ids []pkgsync.ServiceID, identity AdapterIdentity) error
	// Get returns the watermark of id, or ErrWatermarkNotFound.
	Get(ctx context.Context, id pkgsync.ServiceID) (*Watermark, error)
	// List returns all watermarks ordered by service id.
	List(ctx context.Context) ([]Watermark, error)
}
