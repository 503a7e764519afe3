// Package feed implements the incremental pull protocol for a single upstream entity feed.
//
// A Manager keeps the in-memory cursor of one synchronizer. Fetching a batch
// advances the cursor immediately; the cursor only becomes durable once the
// batch is committed together with the watermark. After any failure the caller
// rolls the manager back to the durable watermark, which is always safe because
// writes are idempotent upserts.
package feed

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/tidwall/gjson"
)

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks -source=feed.go Source

// Source fetches one page of a feed starting after fromVersion.
// An empty fromVersion starts from the beginning of the feed.
type Source interface {
	FetchFeed(ctx context.Context, typeName, fromVersion string, limit int) (*Page, error)
}

// Page is one upstream response
type Page struct {
	Records []gjson.Result
	// ToVersion is the cursor to resume from. Empty means the upstream did not move it.
	ToVersion string
}

// Batch is a page bound to the cursor range it was fetched for
type Batch struct {
	FeedType    string
	Records     []gjson.Result
	FromCursor  string
	ToCursor    string
	RetrievedAt time.Time
}

// Empty reports whether the batch carries no records
func (b *Batch) Empty() bool {
	return len(b.Records) == 0
}

// DefaultPageLimit is used until SetPageLimit is called
const DefaultPageLimit = 5000

// Manager tracks the cursor of one feed
type Manager struct {
	source   Source
	feedType string
	now      func() time.Time

	mu            gosync.Mutex
	cursor        string
	pageLimit     int
	caughtUp      bool
	lastRetrieval time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a cursor manager for feedType
func NewManager(source Source, feedType string, opts ...Option) (*Manager, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if feedType == "" {
		return nil, fmt.Errorf("feed type is required")
	}

	m := &Manager{
		source:    source,
		feedType:  feedType,
		now:       time.Now,
		pageLimit: DefaultPageLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Initialize sets the starting cursor, normally the durable watermark
func (m *Manager) Initialize(startCursor string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cursor = startCursor
	m.caughtUp = false
	m.lastRetrieval = time.Time{}
}

// FetchNextBatch requests the next page. On error the cursor is unchanged.
// An empty batch is not an error.
func (m *Manager) FetchNextBatch(ctx context.Context) (*Batch, error) {
	m.mu.Lock()
	from := m.cursor
	limit := m.pageLimit
	m.mu.Unlock()

	page, err := m.source.FetchFeed(ctx, m.feedType, from, limit)
	if err != nil {
		return nil, err
	}

	to := page.ToVersion
	if to == "" {
		to = from
	}

	retrievedAt := m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = to
	m.lastRetrieval = retrievedAt
	m.caughtUp = len(page.Records) < limit

	return &Batch{
		FeedType:    m.feedType,
		Records:     page.Records,
		FromCursor:  from,
		ToCursor:    to,
		RetrievedAt: retrievedAt,
	}, nil
}

// Rollback resets the cursor and clears the caught-up state so the next
// iteration fetches without a poll delay.
func (m *Manager) Rollback(toCursor string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cursor = toCursor
	m.caughtUp = false
	m.lastRetrieval = time.Time{}
}

// IsCaughtUp reports whether the last page was shorter than the page limit
func (m *Manager) IsCaughtUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caughtUp
}

// Cursor returns the in-memory cursor
func (m *Manager) Cursor() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// SetPageLimit changes the results limit of subsequent requests. Values below 1 are ignored.
func (m *Manager) SetPageLimit(n int) {
	if n < 1 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageLimit = n
}

// PollDelay returns how long to sleep before the next fetch. It is zero unless
// the feed is caught up, in which case the remainder of interval since the last
// retrieval is returned.
func (m *Manager) PollDelay(interval time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.caughtUp || m.lastRetrieval.IsZero() {
		return 0
	}
	remaining := interval - m.now().Sub(m.lastRetrieval)
	if remaining < 0 {
		return 0
	}
	return remaining
}
