package fkresolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/fleet-feed-connector/database"
	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
)

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	mapping := Mapping{
		"fk_status_data_device":     pkgsync.ServiceDevices,
		"fk_status_data_diagnostic": pkgsync.ServiceDiagnostics,
	}
	r := New(mapping)

	tests := []struct {
		name       string
		constraint string
		want       pkgsync.ServiceID
		wantOK     bool
	}{
		{name: "mapped device constraint", constraint: "fk_status_data_device", want: pkgsync.ServiceDevices, wantOK: true},
		{name: "mapped diagnostic constraint", constraint: "fk_status_data_diagnostic", want: pkgsync.ServiceDiagnostics, wantOK: true},
		{name: "unmapped constraint", constraint: "fk_unknown", wantOK: false},
		{name: "empty constraint", constraint: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := r.Resolve(tt.constraint)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_IsImmutable(t *testing.T) {
	t.Parallel()

	mapping := Mapping{"fk_trips_device": pkgsync.ServiceDevices}
	r := New(mapping)

	mapping["fk_trips_driver"] = pkgsync.ServiceUsers
	delete(mapping, "fk_trips_device")

	_, ok := r.Resolve("fk_trips_driver")
	assert.False(t, ok)
	got, ok := r.Resolve("fk_trips_device")
	assert.True(t, ok)
	assert.Equal(t, pkgsync.ServiceDevices, got)
}

func TestResolver_Constraints(t *testing.T) {
	t.Parallel()

	r := New(Mapping{
		"fk_trips_driver": pkgsync.ServiceUsers,
		"fk_trips_device": pkgsync.ServiceDevices,
	})

	assert.Equal(t, []string{"fk_trips_device", "fk_trips_driver"}, r.Constraints())
	assert.Empty(t, New(nil).Constraints())
}

func TestResolver_Verify(t *testing.T) {
	t.Parallel()

	pool, cleanupFunc := database.SetupTestDB(t)
	t.Cleanup(cleanupFunc)

	r := New(Mapping{
		"fk_trips_device": pkgsync.ServiceDevices,
	})

	unmapped, err := r.Verify(context.Background(), pool, []string{"trips"})
	require.NoError(t, err)
	require.Len(t, unmapped, 1)
	assert.Equal(t, ForeignKey{
		TableName:       "trips",
		ConstraintName:  "fk_trips_driver",
		ReferencedTable: "users",
	}, unmapped[0])

	unmapped, err = r.Verify(context.Background(), pool, []string{"devices"})
	require.NoError(t, err)
	assert.Empty(t, unmapped, "reference tables have no foreign keys")
}
