package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/fleet-feed-connector/internal/connectivity/mocks"
)

func TestNewStateMachine_StartsNotInitialized(t *testing.T) {
	t.Parallel()

	sm := NewStateMachine()

	assert.Equal(t, ModeWaiting, sm.Mode())
	assert.Equal(t, []Reason{ReasonNotInitialized}, sm.ActiveReasons())
	assert.Equal(t, uint64(0), sm.Generation())
}

func TestStateMachine_RaiseClearIdempotent(t *testing.T) {
	t.Parallel()

	sm := NewStateMachine()

	assert.True(t, sm.Raise(ReasonStoreUnavailable))
	assert.False(t, sm.Raise(ReasonStoreUnavailable), "second raise must not change state")
	assert.True(t, sm.IsActive(ReasonStoreUnavailable))

	assert.True(t, sm.Clear(ReasonStoreUnavailable))
	assert.False(t, sm.Clear(ReasonStoreUnavailable), "second clear must not change state")
	assert.False(t, sm.IsActive(ReasonStoreUnavailable))

	assert.False(t, sm.Clear(ReasonMaintenance), "clearing an inactive reason is a no-op")
}

func TestStateMachine_IndependentReasons(t *testing.T) {
	t.Parallel()

	sm := NewStateMachine()
	require.True(t, sm.Clear(ReasonNotInitialized))
	require.Equal(t, ModeNormal, sm.Mode())

	sm.Raise(ReasonStoreUnavailable)
	sm.Raise(ReasonUpstreamUnavailable)
	assert.Equal(t, ModeWaiting, sm.Mode())
	assert.Equal(t, []Reason{ReasonStoreUnavailable, ReasonUpstreamUnavailable}, sm.ActiveReasons())

	sm.Clear(ReasonStoreUnavailable)
	assert.Equal(t, ModeWaiting, sm.Mode(), "mode stays waiting while another reason is active")
	assert.Equal(t, []Reason{ReasonUpstreamUnavailable}, sm.ActiveReasons())

	sm.Clear(ReasonUpstreamUnavailable)
	assert.Equal(t, ModeNormal, sm.Mode())
	assert.Empty(t, sm.ActiveReasons())
}

func TestStateMachine_GenerationCountsRestorations(t *testing.T) {
	t.Parallel()

	sm := NewStateMachine()

	sm.Clear(ReasonNotInitialized)
	assert.Equal(t, uint64(1), sm.Generation())

	sm.Raise(ReasonStoreUnavailable)
	sm.Raise(ReasonUpstreamUnavailable)
	sm.Clear(ReasonStoreUnavailable)
	assert.Equal(t, uint64(1), sm.Generation(), "partial recovery is not a restoration")

	sm.Clear(ReasonUpstreamUnavailable)
	mode, gen := sm.Snapshot()
	assert.Equal(t, ModeNormal, mode)
	assert.Equal(t, uint64(2), gen)
}

func TestStateMachine_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	sm := NewStateMachine()
	sm.Clear(ReasonNotInitialized)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.Raise(ReasonStoreUnavailable)
			_ = sm.Mode()
			_ = sm.ActiveReasons()
			sm.Clear(ReasonStoreUnavailable)
		}()
	}
	wg.Wait()

	assert.Equal(t, ModeNormal, sm.Mode())
}

func TestStateMachine_Probes(t *testing.T) {
	t.Parallel()

	t.Run("no prober configured", func(t *testing.T) {
		t.Parallel()

		sm := NewStateMachine()
		assert.ErrorIs(t, sm.ProbeStoreReachable(context.Background()), ErrNoProber)
		assert.ErrorIs(t, sm.ProbeUpstreamReachable(context.Background()), ErrNoProber)
	})

	t.Run("probes delegate and never change state", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		store := mocks.NewMockProber(ctrl)
		upstream := mocks.NewMockProber(ctrl)
		probeErr := errors.New("connection refused")

		store.EXPECT().Probe(gomock.Any()).Return(nil)
		upstream.EXPECT().Probe(gomock.Any()).Return(probeErr)

		sm := NewStateMachine(WithStoreProber(store), WithUpstreamProber(upstream))
		sm.Raise(ReasonStoreUnavailable)

		assert.NoError(t, sm.ProbeStoreReachable(context.Background()))
		assert.ErrorIs(t, sm.ProbeUpstreamReachable(context.Background()), probeErr)

		assert.True(t, sm.IsActive(ReasonStoreUnavailable))
		assert.False(t, sm.IsActive(ReasonUpstreamUnavailable))
	})
}
