package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	testImage    = "postgres:16-alpine"
	testDatabase = "fleet_test"
	testUser     = "fleet"
	testPassword = "fleet"

	// TestImageEnv overrides the PostgreSQL image used by integration tests
	TestImageEnv = "FLEETSYNC_TEST_POSTGRES_IMAGE"
)

// containerLogger routes testcontainers output to slog at debug level
type containerLogger struct{}

func (containerLogger) Printf(format string, args ...any) {
	slog.Debug(fmt.Sprintf(format, args...), "component", "testcontainers")
}

var _ tclog.Logger = containerLogger{}

func testImageName() string {
	if img := os.Getenv(TestImageEnv); img != "" {
		return img
	}
	return testImage
}

// SetupTestDBContainer starts an empty PostgreSQL container and returns its
// connection string. Integration tests are skipped under -short.
func SetupTestDBContainer(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("database integration test skipped in -short mode")
	}

	container, err := postgres.Run(ctx, testImageName(),
		postgres.WithDatabase(testDatabase),
		postgres.WithUsername(testUser),
		postgres.WithPassword(testPassword),
		postgres.BasicWaitStrategies(),
		tc.WithLogger(containerLogger{}),
	)
	require.NoError(t, err, "failed to start postgres container")

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return connString, func() { tc.CleanupContainer(t, container) }
}

// SetupTestDB starts a container with the full schema and returns a pool on
// it. The schema is applied, reverted and applied again so every down
// migration is exercised by the suites that use it.
func SetupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()

	ctx := context.Background()
	connString, stop := SetupTestDBContainer(t, ctx)

	for i, step := range []func() error{
		func() error { return MigrateUp(connString) },
		func() error { return MigrateDown(connString, 0) },
		func() error { return MigrateUp(connString) },
	} {
		if err := step(); err != nil {
			stop()
			require.NoError(t, err, "schema step %d failed", i)
		}
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		stop()
		require.NoError(t, err)
	}

	return pool, func() {
		pool.Close()
		stop()
	}
}
