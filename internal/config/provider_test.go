package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Reload(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, validYAML)
	cfg, err := LoadConfig(WithConfigPath(path))
	require.NoError(t, err)

	p := NewProvider(cfg, path)
	require.Same(t, cfg, p.Current())
	assert.True(t, p.Current().Synchronizer("devices").Enabled)

	updated := validYAML + `  devices_extra:
    pageLimit: 10
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0600))
	require.NoError(t, p.Reload())
	assert.NotSame(t, cfg, p.Current())
	assert.Equal(t, 10, p.Current().Synchronizer("devices_extra").PageLimit)

	require.NoError(t, os.WriteFile(path, []byte("database: ["), 0600))
	assert.Error(t, p.Reload())
	assert.Equal(t, 10, p.Current().Synchronizer("devices_extra").PageLimit, "invalid file keeps previous config")
}

func TestProvider_StaticWithoutPath(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	p := NewProvider(cfg, "")
	assert.NoError(t, p.Reload())
	assert.Same(t, cfg, p.Current())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, p.Watch(ctx))
}

func TestProvider_WatchPicksUpChanges(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, validYAML)
	cfg, err := LoadConfig(WithConfigPath(path))
	require.NoError(t, err)
	p := NewProvider(cfg, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx) }()

	disabled := validYAML + `  users:
    enabled: false
`
	require.Eventually(t, func() bool {
		// Rewrite until the watcher has been registered and observed a change
		_ = os.WriteFile(path, []byte(disabled), 0600)
		return !p.Current().Synchronizer("users").Enabled
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}
