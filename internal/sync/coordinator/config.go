package coordinator

import (
	"log/slog"
	"time"

	"github.com/stacklok/fleet-feed-connector/internal/config"
)

// defaultPollInterval is the poll interval of every wait when nothing is configured
const defaultPollInterval = time.Second

// getWaitPollInterval extracts the wait poll interval from the coordination configuration
func getWaitPollInterval(cfg *config.CoordinationConfig) time.Duration {
	if cfg != nil && cfg.WaitPollInterval != "" {
		if interval, err := time.ParseDuration(cfg.WaitPollInterval); err == nil && interval > 0 {
			return interval
		}
		slog.Warn("Invalid wait poll interval, using default",
			"interval", cfg.WaitPollInterval,
			"default", defaultPollInterval)
	}

	return defaultPollInterval
}

// WithConfigProvider reads the poll interval from the provider's current configuration
func WithConfigProvider(p *config.Provider) Option {
	return WithPollInterval(func() time.Duration {
		return getWaitPollInterval(p.Current().Coordination)
	})
}

func (c *Coordinator) nextPollInterval() time.Duration {
	if d := c.pollInterval(); d > 0 {
		return d
	}
	return defaultPollInterval
}
