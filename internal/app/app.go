// Package app wires the connector together and runs it: the connectivity
// state machine with its monitor and maintenance scheduler, the coordinator,
// one processor per synchronizer, the initializer and the ops HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/fleet-feed-connector/internal/config"
	"github.com/stacklok/fleet-feed-connector/internal/connectivity"
	"github.com/stacklok/fleet-feed-connector/internal/sync/coordinator"
	"github.com/stacklok/fleet-feed-connector/internal/sync/processor"
)

const defaultShutdownTimeout = 30 * time.Second

// Connector runs every synchronizer of the process
type Connector struct {
	provider    *config.Provider
	sm          *connectivity.StateMachine
	coord       *coordinator.Coordinator
	processors  []*processor.Processor
	init        *initializer
	monitor     *connectivity.Monitor
	maintenance *connectivity.MaintenanceScheduler
	httpServer  *http.Server

	cleanup func()
}

// Connectivity returns the process-wide connectivity state machine
func (c *Connector) Connectivity() *connectivity.StateMachine {
	return c.sm
}

// Coordinator returns the service coordinator
func (c *Connector) Coordinator() *coordinator.Coordinator {
	return c.coord
}

// HTTPServer returns the ops server, or nil when it is disabled
func (c *Connector) HTTPServer() *http.Server {
	return c.httpServer
}

// Run blocks until ctx is cancelled or a component fails. Cancellation is a
// clean shutdown and returns nil; a fatal synchronizer failure is returned
// as *sync.FatalError after every other component has stopped.
func (c *Connector) Run(ctx context.Context) error {
	defer func() {
		if c.cleanup != nil {
			c.cleanup()
		}
	}()

	var listener net.Listener
	if c.httpServer != nil {
		var err error
		listener, err = net.Listen("tcp", c.httpServer.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", c.httpServer.Addr, err)
		}
		slog.Info("Ops server listening", "address", listener.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.init.Run(gctx) })
	g.Go(func() error { return c.monitor.Run(gctx) })
	g.Go(func() error { return c.maintenance.Run(gctx) })
	g.Go(func() error {
		if err := c.provider.Watch(gctx); err != nil {
			slog.Warn("Configuration hot reload disabled", "error", err)
		}
		return nil
	})

	for _, p := range c.processors {
		g.Go(func() error { return p.Run(gctx) })
	}

	if listener != nil {
		g.Go(func() error {
			if err := c.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := c.httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("Ops server forced to shut down", "error", err)
			}
			return nil
		})
	}

	slog.Info("Connector started", "synchronizers", len(c.processors))
	err := g.Wait()
	if err != nil {
		slog.Error("Connector stopped with error", "error", err)
		return err
	}
	slog.Info("Connector stopped")
	return nil
}
