// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/passkeyhq/go-passkey/internal/config"
	"github.com/passkeyhq/go-passkey/internal/server"
)

// serveCmd starts the HTTP server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the passkey server",
	Long: `Start the passkey HTTP server with the configured relying party,
storage backend and listeners. The server runs until it receives
SIGINT or SIGTERM, then shuts down gracefully.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if envConfig := os.Getenv("PASSKEYD_CONFIG"); path == "" && envConfig != "" {
			path = envConfig
		}

		slog.Info("Starting passkeyd", "config", path, "version", Version)

		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		srv, err := server.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		shutdownCtx := server.SetupSignalHandler()

		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}

		<-shutdownCtx.Done()

		if err := srv.Shutdown(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}

		return nil
	},
}
