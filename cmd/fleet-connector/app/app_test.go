package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
	"github.com/stacklok/fleet-feed-connector/internal/sync/state"
)

type fakeMigrator struct {
	upErr    error
	downErr  error
	stepsErr error
	steps    []int
	up       bool
	down     bool
}

func (f *fakeMigrator) Up() error {
	f.up = true
	return f.upErr
}

func (f *fakeMigrator) Down() error {
	f.down = true
	return f.downErr
}

func (f *fakeMigrator) Steps(n int) error {
	f.steps = append(f.steps, n)
	return f.stepsErr
}

func (*fakeMigrator) Version() (uint, bool, error) {
	return 3, false, nil
}

func (*fakeMigrator) Close() (error, error) {
	return nil, nil
}

func TestConfirm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "yes", input: "yes\n", want: true},
		{name: "short yes", input: "y\n", want: true},
		{name: "padded upper case", input: " YES \n", want: true},
		{name: "no newline", input: "yes", want: true},
		{name: "no", input: "no\n", want: false},
		{name: "empty line", input: "\n", want: false},
		{name: "eof", input: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			assert.Equal(t, tt.want, confirm(strings.NewReader(tt.input), &out, "Continue?"))
			assert.Equal(t, "Continue? (yes/no): ", out.String())
		})
	}
}

func TestConfirm_RefusesNonTerminalFile(t *testing.T) {
	t.Parallel()

	answers, err := os.CreateTemp(t.TempDir(), "answers")
	require.NoError(t, err)
	t.Cleanup(func() { _ = answers.Close() })
	_, err = answers.WriteString("yes\n")
	require.NoError(t, err)
	_, err = answers.Seek(0, io.SeekStart)
	require.NoError(t, err)

	var out bytes.Buffer
	assert.False(t, confirm(answers, &out, "Continue?"))
	assert.Contains(t, out.String(), "--yes")
	assert.NotContains(t, out.String(), "Continue?")
}

func TestExecuteMigrateUp(t *testing.T) {
	t.Parallel()

	m := &fakeMigrator{}
	require.NoError(t, executeMigrateUp(m, 0))
	assert.True(t, m.up)

	m = &fakeMigrator{}
	require.NoError(t, executeMigrateUp(m, 2))
	assert.Equal(t, []int{2}, m.steps)

	m = &fakeMigrator{upErr: migrate.ErrNoChange}
	require.NoError(t, executeMigrateUp(m, 0))

	m = &fakeMigrator{upErr: errors.New("dirty database")}
	err := executeMigrateUp(m, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration failed")
}

func TestExecuteMigrateDown(t *testing.T) {
	t.Parallel()

	m := &fakeMigrator{}
	require.NoError(t, executeMigrateDown(m, 0))
	assert.True(t, m.down)

	m = &fakeMigrator{}
	require.NoError(t, executeMigrateDown(m, 1))
	assert.Equal(t, []int{-1}, m.steps)

	m = &fakeMigrator{stepsErr: migrate.ErrNoChange}
	require.NoError(t, executeMigrateDown(m, 1))

	m = &fakeMigrator{downErr: errors.New("boom")}
	require.Error(t, executeMigrateDown(m, 0))
}

func TestWriteWatermarksTable(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batchAt := now.Add(-90 * time.Second)
	watermarks := []state.Watermark{
		{
			ServiceID:        pkgsync.ServiceDevices,
			LastCursor:       "d42",
			LastBatchAt:      &batchAt,
			RecordsProcessed: 1200,
			AdapterVersion:   "1.2.0",
			AdapterHost:      "worker-1",
		},
		{ServiceID: pkgsync.ServiceTrips},
		{ServiceID: pkgsync.ServiceID("vehicle_alerts"), LastCursor: "a7"},
	}

	var out bytes.Buffer
	require.NoError(t, writeWatermarksTable(&out, watermarks, now))

	rendered := out.String()
	assert.Contains(t, rendered, "devices")
	assert.Contains(t, rendered, "d42")
	assert.Contains(t, rendered, "1200")
	assert.Contains(t, rendered, "1m30s ago")
	assert.Contains(t, rendered, "worker-1")
	assert.Contains(t, rendered, "trips")
	assert.Contains(t, rendered, "never")
	assert.Contains(t, rendered, "Device")
	assert.Contains(t, rendered, "Trip")
	assert.Contains(t, rendered, "vehicle_alerts")
}

func TestWriteWatermarksJSON(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, writeWatermarksJSON(&out, nil))
	assert.JSONEq(t, "[]", out.String())

	out.Reset()
	require.NoError(t, writeWatermarksJSON(&out, []state.Watermark{{ServiceID: pkgsync.ServiceUsers, LastCursor: "u1"}}))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "users", decoded[0]["serviceId"])
	assert.Equal(t, "u1", decoded[0]["lastCursor"])
}

func TestAge(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	then := now.Add(-2*time.Hour - 500*time.Millisecond)
	assert.Equal(t, "never", age(nil, now))
	assert.Equal(t, "2h0m0s ago", age(&then, now))
}
