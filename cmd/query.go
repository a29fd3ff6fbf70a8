// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"sqlgate/cli/internal/adapter"
	"sqlgate/cli/internal/pipeline"

	"github.com/goccy/go-json"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var queryJSON bool

var queryCmd = &cobra.Command{
	Use:   "query <name> [key=value ...]",
	Short: "Run one named query and print the rows",
	Long: `The query command runs <name>.sql from the SQL directory through the same
pipeline the server uses. Parameters are key=value pairs; values that parse as
JSON (numbers, true, false, null, objects, arrays) are bound as such, anything
else as a string.

Example: sqlgate query get_user id=42`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParamArgs(args[1:])
		if err != nil {
			return err
		}
		a, err := loadApp(true)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		db, src, _, err := a.setup(ctx, nil)
		if err != nil {
			return err
		}
		defer db.Close()

		rows, err := pipeline.New(db, src, a.logger).ExecuteNamedQuery(ctx, args[0], params)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if queryJSON {
			b, err := json.MarshalIndent(map[string]any{"data": rows}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
			return nil
		}
		if len(rows) == 0 {
			pterm.Info.Println("No rows")
			return nil
		}
		if err := pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(rowsTable(rows)).Render(); err != nil {
			return err
		}
		pterm.Fprintln(out, pterm.FgGray.Sprintf("%d row(s)", len(rows)))
		return nil
	},
}

// parseParamArgs turns key=value arguments into parameters.
func parseParamArgs(args []string) (adapter.Params, error) {
	params := make(adapter.Params, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid parameter %q: want key=value", arg)
		}
		params[strings.TrimSpace(key)] = parseValue(value)
	}
	return params, nil
}

func parseValue(s string) any {
	if !json.Valid([]byte(s)) {
		return s
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return s
	}
	return v
}

// rowsTable lays rows out with a header of every column, sorted by name.
func rowsTable(rows []adapter.Row) pterm.TableData {
	seen := map[string]struct{}{}
	for _, row := range rows {
		for col := range row {
			seen[col] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for col := range seen {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	data := pterm.TableData{cols}
	for _, row := range rows {
		line := make([]string, len(cols))
		for i, col := range cols {
			line[i] = formatCell(row[col])
		}
		data = append(data, line)
	}
	return data
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case string:
		return val
	}
	return fmt.Sprint(v)
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Print rows as JSON")
}
