package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/fleet-feed-connector/internal/app"
	"github.com/stacklok/fleet-feed-connector/internal/config"
	"github.com/stacklok/fleet-feed-connector/internal/logging"
	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
	"github.com/stacklok/fleet-feed-connector/internal/telemetry"
	"github.com/stacklok/fleet-feed-connector/internal/versions"
)

const telemetryShutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the connector",
	Long: `Run every enabled synchronizer until interrupted.

The connector requires a configuration file (--config) that specifies:
- The upstream server, database and credentials
- Per-synchronizer settings (page size, poll interval, enabled)
- Optional maintenance windows, telemetry and log file output

The process exits with status 1 when a synchronizer hits a fatal failure.`,
	RunE: runConnector,
}

func init() {
	runCmd.Flags().String("address", "", "Ops server listen address (overrides server.address)")
	runCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", runCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	if err := viper.BindPFlag("config", runCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}
	if err := runCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runConnector(cmd *cobra.Command, _ []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := logging.Level()
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}
	logCloser := logging.Setup(level, cfg.Logging)
	defer func() {
		if err := logCloser.Close(); err != nil {
			slog.Warn("Failed to close log file", "error", err)
		}
	}()

	slog.Info("Loaded configuration", "path", configPath, "upstream", cfg.Upstream.Server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx,
		telemetry.WithTelemetryConfig(cfg.Telemetry),
		telemetry.WithServiceVersion(versions.GetVersionInfo().Version),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Failed to shut down telemetry", "error", err)
		}
	}()

	opts := []app.ConnectorOption{
		app.WithConfigProvider(config.NewProvider(cfg, configPath)),
		app.WithTelemetry(tel),
	}
	if cmd.Flags().Changed("address") {
		opts = append(opts, app.WithAddress(viper.GetString("address")))
	}

	connector, err := app.NewConnector(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to build connector: %w", err)
	}

	if err := connector.Run(ctx); err != nil {
		var fatal *pkgsync.FatalError
		if errors.As(err, &fatal) {
			slog.Error("Synchronizer failed fatally", "service", fatal.Service, "error", fatal.Err, "fatal", true)
		}
		return err
	}
	return nil
}
