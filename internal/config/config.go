// Package config provides configuration loading and management for the fleet feed connector.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stacklok/fleet-feed-connector/internal/telemetry"
)

// EnvPrefix is the prefix of environment variables read by the connector
const EnvPrefix = "FLEETSYNC"

const (
	// DefaultWaitPollInterval is the default interval of coordinator wait loops
	DefaultWaitPollInterval = time.Second

	// DefaultConnectivityRecheckInterval is the default interval between dependency probes
	DefaultConnectivityRecheckInterval = 10 * time.Second

	// DefaultProbeTimeout bounds a single store or upstream probe
	DefaultProbeTimeout = 5 * time.Second

	// DefaultPollInterval is the default delay between feed polls once caught up
	DefaultPollInterval = 30 * time.Second

	// DefaultPageLimit is the default upstream page size
	DefaultPageLimit = 5000

	// DefaultCommitMaxAttempts is the default number of commit attempts for transient errors
	DefaultCommitMaxAttempts = 5

	// DefaultCommitInitialBackoff is the default delay before the first commit retry
	DefaultCommitInitialBackoff = 200 * time.Millisecond

	// DefaultCommitMaxBackoff is the default upper bound of the commit retry delay
	DefaultCommitMaxBackoff = 5 * time.Second

	// DefaultRequestsPerMinute is the default upstream request budget
	DefaultRequestsPerMinute = 300

	// DefaultServerAddress is the default listen address of the ops HTTP server
	DefaultServerAddress = ":8080"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Database     *DatabaseConfig               `yaml:"database,omitempty"`
	Upstream     UpstreamConfig                `yaml:"upstream"`
	Coordination *CoordinationConfig           `yaml:"coordination,omitempty"`
	Commit       *CommitConfig                 `yaml:"commit,omitempty"`
	Maintenance  *MaintenanceConfig            `yaml:"maintenance,omitempty"`
	Server       *ServerConfig                 `yaml:"server,omitempty"`
	Logging      *LoggingConfig                `yaml:"logging,omitempty"`
	Telemetry    *telemetry.Config             `yaml:"telemetry,omitempty"`
	Sync         map[string]SynchronizerConfig `yaml:"synchronizers,omitempty"`
}

// UpstreamConfig defines how the connector reaches the fleet-management API
type UpstreamConfig struct {
	// Server is the upstream host name, e.g. "my.fleet.example"
	Server string `yaml:"server"`

	// Database is the upstream tenant database name
	Database string `yaml:"database"`

	// User is the upstream API user
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the upstream password
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Timeout bounds a single upstream request (e.g., "30s")
	Timeout string `yaml:"timeout,omitempty"`

	// RequestsPerMinute is the client-side request budget shared by all synchronizers
	RequestsPerMinute int `yaml:"requestsPerMinute,omitempty"`

	// Insecure uses plain HTTP. Only meant for tests and local fakes.
	Insecure bool `yaml:"insecure,omitempty"`
}

// CoordinationConfig holds the timing of cooperative waits
type CoordinationConfig struct {
	// WaitPollInterval is the poll interval of all coordinator waits (e.g., "1s")
	WaitPollInterval string `yaml:"waitPollInterval,omitempty"`

	// ConnectivityRecheckInterval is the delay between probes of faulted dependencies
	ConnectivityRecheckInterval string `yaml:"connectivityRecheckInterval,omitempty"`

	// ProbeTimeout bounds each dependency probe (e.g., "5s")
	ProbeTimeout string `yaml:"probeTimeout,omitempty"`
}

// CommitConfig holds the retry policy for transient persistence errors
type CommitConfig struct {
	MaxAttempts    int    `yaml:"maxAttempts,omitempty"`
	InitialBackoff string `yaml:"initialBackoff,omitempty"`
	MaxBackoff     string `yaml:"maxBackoff,omitempty"`
}

// MaintenanceConfig lists daily maintenance windows during which all synchronizers pause
type MaintenanceConfig struct {
	Windows []MaintenanceWindowConfig `yaml:"windows,omitempty"`

	// CheckInterval is how often windows are evaluated (e.g., "30s")
	CheckInterval string `yaml:"checkInterval,omitempty"`
}

// MaintenanceWindowConfig is a daily window in UTC
type MaintenanceWindowConfig struct {
	// Start is the window start time in "HH:MM" (UTC)
	Start string `yaml:"start"`
	// Duration is the window length (e.g., "45m")
	Duration string `yaml:"duration"`
}

// ServerConfig configures the ops HTTP server
type ServerConfig struct {
	Address string `yaml:"address,omitempty"`
}

// LoggingConfig configures optional rotating file output
type LoggingConfig struct {
	// File is the path of the log file. Logs go to stderr only when empty.
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"maxSizeMB,omitempty"`
	MaxBackups int    `yaml:"maxBackups,omitempty"`
	MaxAgeDays int    `yaml:"maxAgeDays,omitempty"`
}

// SynchronizerConfig holds the per-synchronizer settings read before every iteration
type SynchronizerConfig struct {
	// Enabled defaults to true when omitted
	Enabled *bool `yaml:"enabled,omitempty"`

	// PollInterval is the delay between polls once the feed is caught up (e.g., "30s")
	PollInterval string `yaml:"pollInterval,omitempty"`

	// PageLimit is the upstream results limit per request
	PageLimit int `yaml:"pageLimit,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// This is the recommended approach for production deployments
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the minimum number of idle connections kept in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from FLEETSYNC_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	return readSecret(d.PasswordFile, EnvPrefix+"_DATABASE_PASSWORD", "database password")
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	escapedPassword := url.QueryEscape(password)

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		escapedPassword,
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// GetPassword returns the upstream password from PasswordFile or FLEETSYNC_UPSTREAM_PASSWORD
func (u *UpstreamConfig) GetPassword() (string, error) {
	return readSecret(u.PasswordFile, EnvPrefix+"_UPSTREAM_PASSWORD", "upstream password")
}

// GetTimeout returns the upstream request timeout, defaulting to 30s
func (u *UpstreamConfig) GetTimeout() time.Duration {
	return parseDurationOr(u.Timeout, 30*time.Second)
}

// GetRequestsPerMinute returns the upstream request budget
func (u *UpstreamConfig) GetRequestsPerMinute() int {
	if u.RequestsPerMinute <= 0 {
		return DefaultRequestsPerMinute
	}
	return u.RequestsPerMinute
}

func readSecret(file, envVar, what string) (string, error) {
	if file != "" {
		cleanPath := filepath.Clean(file)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read %s from file %s: %w", what, file, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}

	return "", fmt.Errorf("no %s configured: set passwordFile or %s environment variable", what, envVar)
}

// LoadConfig loads and parses configuration from a YAML file and applies
// FLEETSYNC_* environment overrides
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return parse(data)
}

func parse(data []byte) (*Config, error) {
	config, err := decode(data)
	if err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// GetWaitPollInterval returns the coordinator wait poll interval
func (c *Config) GetWaitPollInterval() time.Duration {
	if c.Coordination == nil {
		return DefaultWaitPollInterval
	}
	return parseDurationOr(c.Coordination.WaitPollInterval, DefaultWaitPollInterval)
}

// GetConnectivityRecheckInterval returns the delay between dependency probes
func (c *Config) GetConnectivityRecheckInterval() time.Duration {
	if c.Coordination == nil {
		return DefaultConnectivityRecheckInterval
	}
	return parseDurationOr(c.Coordination.ConnectivityRecheckInterval, DefaultConnectivityRecheckInterval)
}

// GetProbeTimeout returns the deadline of a single dependency probe
func (c *Config) GetProbeTimeout() time.Duration {
	if c.Coordination == nil {
		return DefaultProbeTimeout
	}
	return parseDurationOr(c.Coordination.ProbeTimeout, DefaultProbeTimeout)
}

// GetCommitPolicy returns the commit retry settings with defaults applied
func (c *Config) GetCommitPolicy() (maxAttempts int, initial, maxBackoff time.Duration) {
	maxAttempts = DefaultCommitMaxAttempts
	initial = DefaultCommitInitialBackoff
	maxBackoff = DefaultCommitMaxBackoff
	if c.Commit == nil {
		return maxAttempts, initial, maxBackoff
	}
	if c.Commit.MaxAttempts > 0 {
		maxAttempts = c.Commit.MaxAttempts
	}
	return maxAttempts,
		parseDurationOr(c.Commit.InitialBackoff, initial),
		parseDurationOr(c.Commit.MaxBackoff, maxBackoff)
}

// GetServerAddress returns the ops server listen address
func (c *Config) GetServerAddress() string {
	if c.Server == nil || c.Server.Address == "" {
		return DefaultServerAddress
	}
	return c.Server.Address
}

// Synchronizer returns the settings of the named synchronizer with defaults applied
func (c *Config) Synchronizer(name string) Settings {
	s := Settings{
		Enabled:      true,
		PollInterval: DefaultPollInterval,
		PageLimit:    DefaultPageLimit,
	}

	sc, ok := c.Sync[name]
	if !ok {
		return s
	}
	if sc.Enabled != nil {
		s.Enabled = *sc.Enabled
	}
	s.PollInterval = parseDurationOr(sc.PollInterval, DefaultPollInterval)
	if sc.PageLimit > 0 {
		s.PageLimit = sc.PageLimit
	}
	return s
}

// Settings are the resolved per-synchronizer settings
type Settings struct {
	Enabled      bool
	PollInterval time.Duration
	PageLimit    int
}

func parseDurationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error

	if c.Database == nil {
		errs = append(errs, fmt.Errorf("database configuration is required"))
	} else if err := c.Database.validate(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	if err := c.Upstream.validate(); err != nil {
		errs = append(errs, fmt.Errorf("upstream: %w", err))
	}

	if c.Coordination != nil {
		errs = append(errs,
			validateDuration(c.Coordination.WaitPollInterval, "coordination.waitPollInterval"),
			validateDuration(c.Coordination.ConnectivityRecheckInterval, "coordination.connectivityRecheckInterval"),
			validateDuration(c.Coordination.ProbeTimeout, "coordination.probeTimeout"),
		)
	}

	if c.Commit != nil {
		if c.Commit.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("commit.maxAttempts must not be negative"))
		}
		errs = append(errs,
			validateDuration(c.Commit.InitialBackoff, "commit.initialBackoff"),
			validateDuration(c.Commit.MaxBackoff, "commit.maxBackoff"),
		)
	}

	if c.Maintenance != nil {
		errs = append(errs, validateDuration(c.Maintenance.CheckInterval, "maintenance.checkInterval"))
		for i, w := range c.Maintenance.Windows {
			if _, err := time.Parse("15:04", w.Start); err != nil {
				errs = append(errs, fmt.Errorf("maintenance.windows[%d]: start must be HH:MM, got %q", i, w.Start))
			}
			if w.Duration == "" {
				errs = append(errs, fmt.Errorf("maintenance.windows[%d]: duration is required", i))
			} else {
				errs = append(errs, validateDuration(w.Duration, fmt.Sprintf("maintenance.windows[%d].duration", i)))
			}
		}
	}

	for name, sc := range c.Sync {
		if sc.PageLimit < 0 {
			errs = append(errs, fmt.Errorf("synchronizers.%s.pageLimit must not be negative", name))
		}
		errs = append(errs, validateDuration(sc.PollInterval, fmt.Sprintf("synchronizers.%s.pollInterval", name)))
	}

	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}

func (d *DatabaseConfig) validate() error {
	if d.Host == "" {
		return fmt.Errorf("host is required")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", d.Port)
	}
	if d.User == "" {
		return fmt.Errorf("user is required")
	}
	if d.Database == "" {
		return fmt.Errorf("database is required")
	}
	return validateDuration(d.ConnMaxLifetime, "connMaxLifetime")
}

func (u *UpstreamConfig) validate() error {
	if u.Server == "" {
		return fmt.Errorf("server is required")
	}
	if u.Database == "" {
		return fmt.Errorf("database is required")
	}
	if u.User == "" {
		return fmt.Errorf("user is required")
	}
	if u.RequestsPerMinute < 0 {
		return fmt.Errorf("requestsPerMinute must not be negative")
	}
	return validateDuration(u.Timeout, "timeout")
}

func validateDuration(value, field string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s: duration must be positive, got %q", field, value)
	}
	return nil
}
