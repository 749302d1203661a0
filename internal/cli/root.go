// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

// Package cli implements the passkeyd command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "passkeyd",
	Short: "passkeyd - server-side passkey (WebAuthn) ceremony engine",
	Long: `passkeyd serves passkey registration and authentication ceremonies
over a JSON HTTP API: challenge issuance, attestation and assertion
verification, credential storage and sign counter tracking.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default is built-in development configuration)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
