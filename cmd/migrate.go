// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"time"

	"sqlgate/cli/internal/migrate"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	Long: `The migrate command applies every migration file (name starting with '_')
that is not yet recorded in schema_migrations, in file name order. Each file
runs in its own transaction; the first failure stops the run.

Use --status to list migrations without applying anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(true)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if migrateStatus {
			db, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			src, err := a.source()
			if err != nil {
				return err
			}
			status, err := migrate.New(db, src, migrate.Options{Logger: a.logger}).Status(ctx)
			if err != nil {
				return err
			}
			if len(status) == 0 {
				pterm.Info.Println("No migrations found in " + a.cfg.SQLDir)
				return nil
			}
			data := pterm.TableData{{"Migration", "Status", "Applied at"}}
			for _, s := range status {
				state, at := pterm.FgYellow.Sprint("pending"), ""
				if s.Applied {
					state = pterm.FgGreen.Sprint("applied")
					if !s.AppliedAt.IsZero() {
						at = s.AppliedAt.Local().Format(time.DateTime)
					}
				}
				data = append(data, []string{s.Name, state, at})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		}

		start := time.Now()
		spin := startInlineSpinner(cmd.OutOrStdout(), "connecting", 100*time.Millisecond)
		db, _, applied, err := a.setup(ctx, func(name string) {
			spin.SetText("applying " + name)
		})
		spin.Stop()
		for _, name := range applied {
			pterm.Success.Println(name)
		}
		if err != nil {
			return err
		}
		defer db.Close()

		if len(applied) == 0 {
			pterm.Info.Println("Schema is up to date")
			return nil
		}
		pterm.Success.Printfln("Applied %d migration(s) in %s", len(applied), time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "List migrations and whether they are applied")
}
