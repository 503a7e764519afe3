package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `database:
  host: localhost
  port: 5432
  user: fleet
  database: fleet
  sslMode: disable
upstream:
  server: my.fleet.example
  database: acme
  user: sync@acme.example
  timeout: "20s"
  requestsPerMinute: 120
coordination:
  waitPollInterval: "500ms"
  connectivityRecheckInterval: "15s"
commit:
  maxAttempts: 3
  initialBackoff: "100ms"
  maxBackoff: "2s"
maintenance:
  checkInterval: "10s"
  windows:
    - start: "02:00"
      duration: "30m"
server:
  address: ":9090"
synchronizers:
  devices:
    pollInterval: "1m"
    pageLimit: 100
  trips:
    enabled: false
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		yamlContent string
		errContains string
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name:        "valid full config",
			yamlContent: validYAML,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "my.fleet.example", cfg.Upstream.Server)
				assert.Equal(t, 20*time.Second, cfg.Upstream.GetTimeout())
				assert.Equal(t, 120, cfg.Upstream.GetRequestsPerMinute())
				assert.Equal(t, 500*time.Millisecond, cfg.GetWaitPollInterval())
				assert.Equal(t, 15*time.Second, cfg.GetConnectivityRecheckInterval())
				assert.Equal(t, ":9090", cfg.GetServerAddress())

				attempts, initial, maxBackoff := cfg.GetCommitPolicy()
				assert.Equal(t, 3, attempts)
				assert.Equal(t, 100*time.Millisecond, initial)
				assert.Equal(t, 2*time.Second, maxBackoff)

				require.Len(t, cfg.Maintenance.Windows, 1)
				assert.Equal(t, "02:00", cfg.Maintenance.Windows[0].Start)
			},
		},
		{
			name: "minimal config uses defaults",
			yamlContent: `database:
  host: db
  port: 5432
  user: u
  database: d
upstream:
  server: s
  database: d
  user: u
`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, DefaultWaitPollInterval, cfg.GetWaitPollInterval())
				assert.Equal(t, DefaultConnectivityRecheckInterval, cfg.GetConnectivityRecheckInterval())
				assert.Equal(t, DefaultServerAddress, cfg.GetServerAddress())
				assert.Equal(t, 30*time.Second, cfg.Upstream.GetTimeout())
				assert.Equal(t, DefaultRequestsPerMinute, cfg.Upstream.GetRequestsPerMinute())

				attempts, initial, maxBackoff := cfg.GetCommitPolicy()
				assert.Equal(t, DefaultCommitMaxAttempts, attempts)
				assert.Equal(t, DefaultCommitInitialBackoff, initial)
				assert.Equal(t, DefaultCommitMaxBackoff, maxBackoff)
			},
		},
		{
			name:        "missing database",
			yamlContent: "upstream:\n  server: s\n  database: d\n  user: u\n",
			errContains: "database configuration is required",
		},
		{
			name:        "missing upstream server",
			yamlContent: "database:\n  host: h\n  port: 5432\n  user: u\n  database: d\nupstream:\n  database: d\n  user: u\n",
			errContains: "upstream: server is required",
		},
		{
			name:        "invalid port",
			yamlContent: "database:\n  host: h\n  port: 70000\n  user: u\n  database: d\nupstream:\n  server: s\n  database: d\n  user: u\n",
			errContains: "port must be between 1 and 65535",
		},
		{
			name: "invalid poll interval",
			yamlContent: validYAML + `  users:
    pollInterval: "often"
`,
			errContains: "synchronizers.users.pollInterval",
		},
		{
			name: "invalid maintenance window",
			yamlContent: `database:
  host: h
  port: 5432
  user: u
  database: d
upstream:
  server: s
  database: d
  user: u
maintenance:
  windows:
    - start: "2am"
`,
			errContains: "start must be HH:MM",
		},
		{
			name:        "malformed yaml",
			yamlContent: "database: [",
			errContains: "failed to parse YAML config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfig(t, tt.yamlContent)
			cfg, err := LoadConfig(WithConfigPath(path))
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_PathErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig()
	assert.EqualError(t, err, "path is required")

	_, err = LoadConfig(WithConfigPath(""))
	assert.EqualError(t, err, "path is required")

	_, err = LoadConfig(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.ErrorContains(t, err, "failed to evaluate symlinks")
}

func TestConfig_Synchronizer(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, validYAML)
	cfg, err := LoadConfig(WithConfigPath(path))
	require.NoError(t, err)

	devices := cfg.Synchronizer("devices")
	assert.True(t, devices.Enabled)
	assert.Equal(t, time.Minute, devices.PollInterval)
	assert.Equal(t, 100, devices.PageLimit)

	trips := cfg.Synchronizer("trips")
	assert.False(t, trips.Enabled)
	assert.Equal(t, DefaultPollInterval, trips.PollInterval)
	assert.Equal(t, DefaultPageLimit, trips.PageLimit)

	unknown := cfg.Synchronizer("log_records")
	assert.Equal(t, Settings{Enabled: true, PollInterval: DefaultPollInterval, PageLimit: DefaultPageLimit}, unknown)
}

func TestDatabaseConfig_GetConnectionString(t *testing.T) {
	passwordFile := filepath.Join(t.TempDir(), "password")
	require.NoError(t, os.WriteFile(passwordFile, []byte("p@ss word\n"), 0600))

	t.Run("password from file is trimmed and escaped", func(t *testing.T) {
		d := &DatabaseConfig{
			Host: "db", Port: 5432, User: "fleet", Database: "fleet", PasswordFile: passwordFile,
		}
		conn, err := d.GetConnectionString()
		require.NoError(t, err)
		assert.Equal(t, "postgres://fleet:p%40ss+word@db:5432/fleet?sslmode=require", conn)
	})

	t.Run("password from environment", func(t *testing.T) {
		t.Setenv("FLEETSYNC_DATABASE_PASSWORD", "secret")
		d := &DatabaseConfig{Host: "db", Port: 5432, User: "fleet", Database: "fleet", SSLMode: "disable"}
		conn, err := d.GetConnectionString()
		require.NoError(t, err)
		assert.Equal(t, "postgres://fleet:secret@db:5432/fleet?sslmode=disable", conn)
	})

	t.Run("no password configured", func(t *testing.T) {
		t.Setenv("FLEETSYNC_DATABASE_PASSWORD", "")
		d := &DatabaseConfig{Host: "db", Port: 5432, User: "fleet", Database: "fleet"}
		_, err := d.GetConnectionString()
		assert.ErrorContains(t, err, "FLEETSYNC_DATABASE_PASSWORD")
	})
}

func TestUpstreamConfig_GetPassword(t *testing.T) {
	t.Setenv("FLEETSYNC_UPSTREAM_PASSWORD", "from-env")

	u := &UpstreamConfig{}
	password, err := u.GetPassword()
	require.NoError(t, err)
	assert.Equal(t, "from-env", password)

	u.PasswordFile = filepath.Join(t.TempDir(), "missing")
	_, err = u.GetPassword()
	assert.ErrorContains(t, err, "failed to read upstream password")
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FLEETSYNC_UPSTREAM_SERVER", "eu.fleet.example")
	t.Setenv("FLEETSYNC_UPSTREAM_REQUESTSPERMINUTE", "60")
	t.Setenv("FLEETSYNC_DATABASE_PORT", "6543")
	t.Setenv("FLEETSYNC_COORDINATION_PROBETIMEOUT", "2s")
	t.Setenv("FLEETSYNC_SYNCHRONIZERS_TRIPS_ENABLED", "true")
	t.Setenv("FLEETSYNC_SYNCHRONIZERS_USERS_PAGELIMIT", "50")
	t.Setenv("FLEETSYNC_SERVER_ADDRESS", "")

	cfg, err := LoadConfig(WithConfigPath(writeConfig(t, validYAML)))
	require.NoError(t, err)

	assert.Equal(t, "eu.fleet.example", cfg.Upstream.Server)
	assert.Equal(t, "acme", cfg.Upstream.Database, "keys without a variable keep the file value")
	assert.Equal(t, 60, cfg.Upstream.GetRequestsPerMinute())
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 2*time.Second, cfg.GetProbeTimeout())
	assert.True(t, cfg.Synchronizer("trips").Enabled)
	assert.Equal(t, 50, cfg.Synchronizer("users").PageLimit, "sections absent from the file can be set")
	assert.Equal(t, 100, cfg.Synchronizer("devices").PageLimit)
	assert.Equal(t, ":9090", cfg.GetServerAddress(), "empty variables are ignored")
	assert.Nil(t, cfg.Telemetry)
}

func TestLoadConfig_EnvironmentOverrideIsValidated(t *testing.T) {
	t.Setenv("FLEETSYNC_SYNCHRONIZERS_DEVICES_POLLINTERVAL", "sometimes")

	_, err := LoadConfig(WithConfigPath(writeConfig(t, validYAML)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "synchronizers.devices.pollInterval")
}

func TestProvider_ReloadAppliesEnvironment(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := LoadConfig(WithConfigPath(path))
	require.NoError(t, err)
	p := NewProvider(cfg, path)

	t.Setenv("FLEETSYNC_SYNCHRONIZERS_DEVICES_ENABLED", "false")
	require.NoError(t, p.Reload())
	assert.False(t, p.Current().Synchronizer("devices").Enabled)
	assert.Equal(t, 100, p.Current().Synchronizer("devices").PageLimit)
}

func TestEnvKeys(t *testing.T) {
	t.Parallel()

	keys := envKeys(reflect.TypeOf(Config{}), "", []string{"trips"})
	assert.Contains(t, keys, "upstream.server")
	assert.Contains(t, keys, "database.passwordFile")
	assert.Contains(t, keys, "coordination.probeTimeout")
	assert.Contains(t, keys, "telemetry.tracing.sampling")
	assert.Contains(t, keys, "synchronizers.trips.enabled")
	assert.NotContains(t, keys, "maintenance.windows")
	assert.NotContains(t, keys, "synchronizers.users.enabled")
}

func TestUnknownKeys(t *testing.T) {
	t.Parallel()

	require.NoError(t, unknownKeys([]byte(validYAML)))
	require.NoError(t, unknownKeys(nil))

	err := unknownKeys([]byte("upstream:\n  sever: typo.example\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sever")
}
