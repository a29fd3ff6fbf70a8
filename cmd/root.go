// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package cmd provides the command-line interface for sqlgate, a gateway that
// serves named SQL files from a directory as HTTP and WebSocket endpoints.
// Commands are built with Cobra; interactive output uses pterm.
package cmd

import (
	"fmt"
	"os"

	apperrors "sqlgate/cli/internal/errors"
	"sqlgate/cli/internal/logging"

	"github.com/spf13/cobra"
)

var (
	showVersion   bool
	configFile    string
	logLevelFlag  string
	logFormatFlag string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sqlgate",
	Short: "Serve a directory of SQL files as an API",
	Long: `sqlgate turns every <name>.sql file in a directory into a named query
reachable over HTTP and JSON-RPC WebSocket. Files starting with '_' are
migrations, applied in name order before the server accepts traffic.

Supported databases: sqlite://path/to/file.db and postgres://user@host/db`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			printVersion(cmd.OutOrStdout())
			return nil
		}
		return cmd.Help()
	},
}

// Execute runs the CLI application.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.ConnectionAuth, apperrors.ConnectionMissingDatabase, apperrors.ConnectionFailed,
			apperrors.UnsupportedProtocol, apperrors.MigrationFailed:
			logging.PresentStartupError(err)
		default:
			fmt.Fprintln(os.Stderr, logging.PresentError("Error", err))
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: sqlgate.yaml in ., XDG config dir or $HOME)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Log format: text or json")
}
