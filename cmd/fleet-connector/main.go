// Package main is the entry point of the fleet feed connector.
package main

import (
	"os"

	"github.com/stacklok/fleet-feed-connector/cmd/fleet-connector/app"
	"github.com/stacklok/fleet-feed-connector/internal/logging"
)

func main() {
	// Logs go to stderr so stdout stays clean for commands that print data
	// (version --format json, status).
	logging.Setup(logging.Level(), nil)

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
