package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
)

type dbWatermarkStore struct {
	pool *pgxpool.Pool
}

// NewDBWatermarkStore creates a new database-backed watermark store
func NewDBWatermarkStore(pool *pgxpool.Pool) WatermarkStore {
	return &dbWatermarkStore{
		pool: pool,
	}
}

const (
	initializeWatermarkQuery = `
		INSERT INTO feed_watermarks (service_id, adapter_version, adapter_host, adapter_instance)
		VALUES (@service_id, @adapter_version, @adapter_host, @adapter_instance)
		ON CONFLICT (service_id) DO NOTHING`

	stampWatermarkQuery = `
		UPDATE feed_watermarks
		SET adapter_version = @adapter_version,
			adapter_host = @adapter_host,
			adapter_instance = @adapter_instance,
			updated_at = now()
		WHERE service_id = ANY(@service_ids)`

	selectWatermarkColumns = `
		SELECT service_id, last_cursor, last_processed_at, last_batch_at, records_processed,
			adapter_version, adapter_host, adapter_instance, created_at, updated_at
		FROM feed_watermarks`

	advanceWatermarkQuery = `
		UPDATE feed_watermarks
		SET last_cursor = NULLIF(@to_cursor, ''),
			last_processed_at = @processed_at,
			last_batch_at = CASE WHEN @records > 0 THEN @processed_at ELSE last_batch_at END,
			records_processed = records_processed + @records,
			updated_at = now()
		WHERE service_id = @service_id
			AND last_cursor IS NOT DISTINCT FROM NULLIF(@from_cursor, '')`
)

func (d *dbWatermarkStore) Initialize(ctx context.Context, ids []pkgsync.ServiceID, identity AdapterIdentity) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			slog.Warn("Failed to roll back watermark initialization", "error", rollbackErr)
		}
	}()

	batch := &pgx.Batch{}
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
		batch.Queue(initializeWatermarkQuery, pgx.NamedArgs{
			"service_id":       string(id),
			"adapter_version":  identity.Version,
			"adapter_host":     identity.Host,
			"adapter_instance": identity.Instance,
		})
	}
	batch.Queue(stampWatermarkQuery, pgx.NamedArgs{
		"service_ids":      names,
		"adapter_version":  identity.Version,
		"adapter_host":     identity.Host,
		"adapter_instance": identity.Instance,
	})

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to initialize watermarks: %w", err)
	}

	return tx.Commit(ctx)
}

func (d *dbWatermarkStore) Get(ctx context.Context, id pkgsync.ServiceID) (*Watermark, error) {
	rows, err := d.pool.Query(ctx, selectWatermarkColumns+` WHERE service_id = @service_id`,
		pgx.NamedArgs{"service_id": string(id)})
	if err != nil {
		return nil, err
	}

	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[watermarkRow])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrWatermarkNotFound, id)
		}
		return nil, err
	}

	w := row.toWatermark()
	return &w, nil
}

func (d *dbWatermarkStore) List(ctx context.Context) ([]Watermark, error) {
	rows, err := d.pool.Query(ctx, selectWatermarkColumns+` ORDER BY service_id`)
	if err != nil {
		return nil, err
	}

	dbRows, err := pgx.CollectRows(rows, pgx.RowToStructByName[watermarkRow])
	if err != nil {
		return nil, err
	}

	result := make([]Watermark, len(dbRows))
	for i, r := range dbRows {
		result[i] = r.toWatermark()
	}
	return result, nil
}

// Executor is satisfied by pgx.Tx
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Advancement describes the watermark move that accompanies one committed batch
type Advancement struct {
	ServiceID   pkgsync.ServiceID
	FromCursor  string
	ToCursor    string
	Records     int
	ProcessedAt time.Time
}

// Advance moves the watermark inside tx, the transaction that applied the batch.
// The update only matches while the stored cursor still equals FromCursor;
// otherwise ErrWatermarkConflict is returned and the caller must roll back.
// An empty batch only refreshes last_processed_at (and the cursor if the
// upstream moved it without returning data).
func Advance(ctx context.Context, tx Executor, a Advancement) error {
	tag, err := tx.Exec(ctx, advanceWatermarkQuery, pgx.NamedArgs{
		"service_id":   string(a.ServiceID),
		"from_cursor":  a.FromCursor,
		"to_cursor":    a.ToCursor,
		"records":      a.Records,
		"processed_at": a.ProcessedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: service %s expected cursor %q", ErrWatermarkConflict, a.ServiceID, a.FromCursor)
	}
	return nil
}

type watermarkRow struct {
	ServiceID        string     `db:"service_id"`
	LastCursor       *string    `db:"last_cursor"`
	LastProcessedAt  *time.Time `db:"last_processed_at"`
	LastBatchAt      *time.Time `db:"last_batch_at"`
	RecordsProcessed int64      `db:"records_processed"`
	AdapterVersion   *string    `db:"adapter_version"`
	AdapterHost      *string    `db:"adapter_host"`
	AdapterInstance  uuid.UUID  `db:"adapter_instance"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

func (r watermarkRow) toWatermark() Watermark {
	return Watermark{
		ServiceID:        pkgsync.ServiceID(r.ServiceID),
		LastCursor:       deref(r.LastCursor),
		LastProcessedAt:  utc(r.LastProcessedAt),
		LastBatchAt:      utc(r.LastBatchAt),
		RecordsProcessed: r.RecordsProcessed,
		AdapterVersion:   deref(r.AdapterVersion),
		AdapterHost:      deref(r.AdapterHost),
		AdapterInstance:  r.AdapterInstance,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
