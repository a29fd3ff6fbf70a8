// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"fmt"
	"strings"

	"sqlgate/cli/internal/config"
	"sqlgate/cli/internal/dsn"
	"sqlgate/cli/internal/logging"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// dbinfoCmd displays the active database URL with credentials masked.
var dbinfoCmd = &cobra.Command{
	Use:   "dbinfo",
	Short: "Show the active database URL and SQL directory",
	Long: `The dbinfo command shows which database sqlgate would connect to, where that
URL came from (config, DATABASE_URL or keychain), and what the SQL directory
contains. User names and passwords in the URL are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(false)
		if err != nil {
			return err
		}
		cfg := a.cfg
		if cfg.Database.URL == "" {
			pterm.Warning.Println("No database connection configured")
			pterm.Println("   Please run: sqlgate connect")
			return nil
		}

		var lines []string
		lines = append(lines, "URL:      "+logging.Mask(cfg.Database.URL))
		lines = append(lines, "Backend:  "+string(dsn.DetectDBType(cfg.Database.URL)))
		lines = append(lines, "Source:   "+describeSource(cfg.Database.URLSource))
		lines = append(lines, "SQL dir:  "+cfg.SQLDir)

		if src, err := a.source(); err == nil {
			names, _ := src.Names()
			migrations, _ := src.Migrations()
			lines = append(lines, fmt.Sprintf("Queries:  %d", len(names)))
			lines = append(lines, fmt.Sprintf("Migrations: %d", len(migrations)))
		} else {
			lines = append(lines, "SQL dir unreadable: "+logging.Err(err))
		}

		pterm.DefaultBox.
			WithTitle(pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint("Database Connection")).
			WithPadding(1).
			Println(strings.Join(lines, "\n"))
		pterm.Println()
		pterm.Println("To update this connection, run: sqlgate connect")
		pterm.Println()
		return nil
	},
}

func describeSource(s string) string {
	switch s {
	case config.SourceConfig:
		return "config file or SQLGATE_DATABASE_URL"
	case config.SourceEnv:
		return "DATABASE_URL environment variable"
	case config.SourceKeychain:
		return "OS keychain"
	}
	return "unknown"
}

func init() {
	rootCmd.AddCommand(dbinfoCmd)
}
