// Package writer applies fetched batches to the store together with the
// watermark advance that records them.
//
// A Committer runs one read-committed transaction per attempt: the batch is
// copied into a temporary staging table, upserted into the target table keyed
// by upstream id, and the synchronizer's watermark is moved with an optimistic
// guard on the cursor the batch was fetched from. Either all of it commits or
// none of it does.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/fleet-feed-connector/internal/otel"
	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
	"github.com/stacklok/fleet-feed-connector/internal/sync/feed"
	"github.com/stacklok/fleet-feed-connector/internal/sync/state"
	"github.com/stacklok/fleet-feed-connector/internal/telemetry"
)

const (
	// DefaultMaxAttempts bounds the attempts made for transient persistence errors
	DefaultMaxAttempts = 5
	// DefaultInitialBackoff is the delay before the first retry
	DefaultInitialBackoff = 200 * time.Millisecond
	// DefaultMaxBackoff caps the delay between retries
	DefaultMaxBackoff = 5 * time.Second
)

// Beginner is satisfied by *pgxpool.Pool
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Committer persists batches of one synchronizer
type Committer struct {
	db      Beginner
	service pkgsync.ServiceID
	target  Target
	stmts   statements

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	tracer  trace.Tracer
	metrics *telemetry.SyncMetrics
	now     func() time.Time
}

// Option configures a Committer
type Option func(*Committer)

// WithRetryPolicy sets the retry policy for transient persistence errors.
// Non-positive values keep the defaults.
func WithRetryPolicy(maxAttempts int, initial, maxBackoff time.Duration) Option {
	return func(c *Committer) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if initial > 0 {
			c.initialBackoff = initial
		}
		if maxBackoff > 0 {
			c.maxBackoff = maxBackoff
		}
	}
}

// WithTracer sets the tracer used for commit spans
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Committer) {
		c.tracer = tracer
	}
}

// WithMetrics sets the commit metrics. A nil value disables them.
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(c *Committer) {
		c.metrics = m
	}
}

// WithClock overrides the clock used for watermark timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Committer) {
		c.now = now
	}
}

// NewCommitter creates a committer writing service's batches to target
func NewCommitter(db Beginner, service pkgsync.ServiceID, target Target, opts ...Option) (*Committer, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if service == "" {
		return nil, fmt.Errorf("service id is required")
	}
	if err := target.validate(); err != nil {
		return nil, err
	}

	c := &Committer{
		db:             db,
		service:        service,
		target:         target,
		stmts:          target.statements(),
		maxAttempts:    DefaultMaxAttempts,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Commit applies batch and advances the watermark from batch.FromCursor to
// batch.ToCursor in one transaction. An empty batch only refreshes the
// watermark's liveness timestamp.
//
// Transactions run detached from ctx so a begun attempt is never abandoned
// half way; ctx is only consulted before each attempt and between retries.
func (c *Committer) Commit(ctx context.Context, batch *feed.Batch) pkgsync.Outcome {
	if batch == nil {
		return pkgsync.Fatal(fmt.Errorf("batch is required"))
	}
	if err := ctx.Err(); err != nil {
		return pkgsync.Cancelled(err)
	}

	ctx, span := otel.StartSpan(ctx, c.tracer, "writer.Commit",
		trace.WithAttributes(
			otel.AttrServiceID.String(string(c.service)),
			otel.AttrTable.String(c.target.Table),
			otel.AttrRecordCount.Int(len(batch.Records)),
		))

	start := time.Now()
	outcome, rowCount := c.commit(ctx, batch)

	var spanErr error
	if !outcome.OK() {
		spanErr = outcome.Err
	}
	otel.Finish(span, spanErr,
		otel.AttrAttempts.Int(outcome.Attempts),
		otel.AttrOutcome.String(outcome.Kind.String()),
	)
	c.metrics.RecordCommit(ctx, string(c.service), time.Since(start), rowCount, outcome.Attempts, outcome.Kind.String())

	return outcome
}

func (c *Committer) commit(ctx context.Context, batch *feed.Batch) (pkgsync.Outcome, int) {
	rows, err := c.mapRecords(batch)
	if err != nil {
		return pkgsync.Fatal(err), 0
	}

	txCtx := context.WithoutCancel(ctx)
	processedAt := c.now().UTC()
	attempts := 0

	operation := func() (struct{}, error) {
		attempts++
		err := c.apply(txCtx, batch, rows, processedAt)
		if err == nil {
			return struct{}{}, nil
		}
		if class, _ := classify(err); class != classTransient {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialBackoff
	eb.MaxInterval = c.maxBackoff

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(c.maxAttempts)), // #nosec G115 -- validated positive
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Transient error committing batch, retrying",
				"service", c.service,
				"attempt", attempts,
				"retry_in", next,
				"error", err)
		}),
	)
	if err == nil {
		outcome := pkgsync.Success()
		outcome.Attempts = attempts
		return outcome, len(rows)
	}

	outcome := c.toOutcome(ctx, err)
	outcome.Attempts = attempts
	return outcome, 0
}

func (c *Committer) toOutcome(ctx context.Context, err error) pkgsync.Outcome {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return pkgsync.Cancelled(err)
	}

	class, constraint := classify(err)
	switch class {
	case classTransient:
		if ctx.Err() != nil {
			return pkgsync.Cancelled(ctx.Err())
		}
		return pkgsync.Fatal(fmt.Errorf("commit retries exhausted for %s: %w", c.service, err))
	case classStoreUnavailable:
		return pkgsync.Outcome{Kind: pkgsync.OutcomeStoreUnavailable, Err: err}
	case classForeignKey:
		return pkgsync.ForeignKeyViolation(constraint, err)
	default:
		return pkgsync.Fatal(err)
	}
}

func (c *Committer) mapRecords(batch *feed.Batch) ([][]any, error) {
	rows := make([][]any, 0, len(batch.Records))
	for i, record := range batch.Records {
		row, keep, err := c.target.Map(record)
		if err != nil {
			return nil, fmt.Errorf("failed to map %s record %d: %w", batch.FeedType, i, err)
		}
		if !keep {
			continue
		}
		if len(row) != len(c.target.Columns) {
			return nil, fmt.Errorf("mapped %s record %d has %d values, want %d",
				batch.FeedType, i, len(row), len(c.target.Columns))
		}
		rows = append(rows, append(row, int64(len(rows))))
	}
	return rows, nil
}

// apply runs one commit attempt
func (c *Committer) apply(ctx context.Context, batch *feed.Batch, rows [][]any, processedAt time.Time) error {
	tx, err := c.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			slog.Debug("Rollback after failed commit attempt returned an error",
				"service", c.service,
				"error", rollbackErr)
		}
	}()

	if len(rows) > 0 {
		if err := c.upsert(ctx, tx, rows); err != nil {
			return err
		}
	}

	if err := state.Advance(ctx, tx, state.Advancement{
		ServiceID:   c.service,
		FromCursor:  batch.FromCursor,
		ToCursor:    batch.ToCursor,
		Records:     len(rows),
		ProcessedAt: processedAt,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// upsert stages rows with COPY and merges them into the target table
func (c *Committer) upsert(ctx context.Context, tx pgx.Tx, rows [][]any) error {
	if _, err := tx.Exec(ctx, c.stmts.createStaging); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{c.stmts.stagingTable},
		c.stmts.copyColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy rows to staging table: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("copy count mismatch: expected %d, got %d", len(rows), copyCount)
	}

	if _, err := tx.Exec(ctx, c.stmts.upsert); err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", c.target.Table, err)
	}
	return nil
}
