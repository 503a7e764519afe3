package feed_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/fleet-feed-connector/internal/sync/feed"
	"github.com/stacklok/fleet-feed-connector/internal/sync/feed/mocks"
)

// sliceSource serves records from memory. Cursors are decimal offsets.
type sliceSource struct {
	records []gjson.Result
	calls   int
}

func newSliceSource(n int) *sliceSource {
	s := &sliceSource{}
	for i := 0; i < n; i++ {
		s.records = append(s.records, gjson.Parse(fmt.Sprintf(`{"id":"b%d"}`, i)))
	}
	return s
}

func (s *sliceSource) FetchFeed(_ context.Context, _ string, fromVersion string, limit int) (*feed.Page, error) {
	s.calls++
	offset := 0
	if fromVersion != "" {
		var err error
		if offset, err = strconv.Atoi(fromVersion); err != nil {
			return nil, err
		}
	}
	end := min(offset+limit, len(s.records))
	return &feed.Page{Records: s.records[offset:end], ToVersion: strconv.Itoa(end)}, nil
}

func TestNewManager_Validation(t *testing.T) {
	t.Parallel()

	_, err := feed.NewManager(nil, "Device")
	assert.EqualError(t, err, "source is required")

	_, err = feed.NewManager(newSliceSource(0), "")
	assert.EqualError(t, err, "feed type is required")
}

func TestManager_DrainsBacklogWithoutDelay(t *testing.T) {
	t.Parallel()

	source := newSliceSource(250)
	m, err := feed.NewManager(source, "StatusData")
	require.NoError(t, err)
	m.SetPageLimit(100)
	m.Initialize("")

	var sizes []int
	var caughtUp []bool
	var delays []time.Duration
	for i := 0; i < 3; i++ {
		batch, err := m.FetchNextBatch(context.Background())
		require.NoError(t, err)
		sizes = append(sizes, len(batch.Records))
		caughtUp = append(caughtUp, m.IsCaughtUp())
		delays = append(delays, m.PollDelay(time.Minute))
	}

	assert.Equal(t, []int{100, 100, 50}, sizes)
	assert.Equal(t, []bool{false, false, true}, caughtUp)
	assert.Equal(t, time.Duration(0), delays[0], "no sleep while draining")
	assert.Equal(t, time.Duration(0), delays[1], "no sleep while draining")
	assert.Greater(t, delays[2], time.Duration(0), "sleep once caught up")
	assert.Equal(t, "250", m.Cursor())
}

func TestManager_BatchCursorRange(t *testing.T) {
	t.Parallel()

	m, err := feed.NewManager(newSliceSource(5), "Device")
	require.NoError(t, err)
	m.SetPageLimit(3)
	m.Initialize("1")

	batch, err := m.FetchNextBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Device", batch.FeedType)
	assert.Equal(t, "1", batch.FromCursor)
	assert.Equal(t, "4", batch.ToCursor)
	assert.Equal(t, "b1", batch.Records[0].Get("id").String())
	assert.False(t, batch.Empty())
	assert.False(t, batch.RetrievedAt.IsZero())
}

func TestManager_EmptyNextCursorKeepsCurrent(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	source := mocks.NewMockSource(ctrl)
	source.EXPECT().
		FetchFeed(gomock.Any(), "Trip", "v7", feed.DefaultPageLimit).
		Return(&feed.Page{}, nil)

	m, err := feed.NewManager(source, "Trip")
	require.NoError(t, err)
	m.Initialize("v7")

	batch, err := m.FetchNextBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, batch.Empty())
	assert.Equal(t, "v7", batch.ToCursor)
	assert.Equal(t, "v7", m.Cursor())
	assert.True(t, m.IsCaughtUp())
}

func TestManager_FetchErrorLeavesCursor(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	source := mocks.NewMockSource(ctrl)
	fetchErr := errors.New("connection reset")
	source.EXPECT().FetchFeed(gomock.Any(), "Device", "v1", 10).Return(nil, fetchErr)

	m, err := feed.NewManager(source, "Device")
	require.NoError(t, err)
	m.SetPageLimit(10)
	m.Initialize("v1")

	_, err = m.FetchNextBatch(context.Background())
	assert.ErrorIs(t, err, fetchErr)
	assert.Equal(t, "v1", m.Cursor())
}

func TestManager_RollbackClearsCaughtUp(t *testing.T) {
	t.Parallel()

	source := newSliceSource(10)
	m, err := feed.NewManager(source, "LogRecord")
	require.NoError(t, err)
	m.SetPageLimit(100)
	m.Initialize("")

	_, err = m.FetchNextBatch(context.Background())
	require.NoError(t, err)
	require.True(t, m.IsCaughtUp())
	require.Greater(t, m.PollDelay(time.Minute), time.Duration(0))

	m.Rollback("4")
	assert.False(t, m.IsCaughtUp())
	assert.Equal(t, time.Duration(0), m.PollDelay(time.Minute))
	assert.Equal(t, "4", m.Cursor())

	batch, err := m.FetchNextBatch(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch.Records, 6, "records after the rollback point are fetched again")
}

func TestManager_PollDelay(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m, err := feed.NewManager(newSliceSource(1), "Device", feed.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	m.Initialize("")

	assert.Equal(t, time.Duration(0), m.PollDelay(time.Minute), "no delay before the first fetch")

	_, err = m.FetchNextBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Minute, m.PollDelay(time.Minute))

	now = now.Add(45 * time.Second)
	assert.Equal(t, 15*time.Second, m.PollDelay(time.Minute))

	now = now.Add(time.Minute)
	assert.Equal(t, time.Duration(0), m.PollDelay(time.Minute))
}

func TestManager_SetPageLimitIgnoresInvalid(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	source := mocks.NewMockSource(ctrl)
	source.EXPECT().FetchFeed(gomock.Any(), "Device", "", 50).Return(&feed.Page{}, nil)

	m, err := feed.NewManager(source, "Device")
	require.NoError(t, err)
	m.SetPageLimit(50)
	m.SetPageLimit(0)
	m.SetPageLimit(-3)

	_, err = m.FetchNextBatch(context.Background())
	require.NoError(t, err)
}
