// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"fmt"
	"strings"

	"sqlgate/cli/internal/dsn"
	apperrors "sqlgate/cli/internal/errors"

	"github.com/pterm/pterm"
)

// PresentError formats an error for user display with masking.
func PresentError(context string, err error) string {
	if err == nil {
		return ""
	}
	if context == "" {
		return Mask(err.Error())
	}
	return fmt.Sprintf("%s: %s", context, Mask(err.Error()))
}

// FormatStartupError renders a startup failure with troubleshooting hints
// chosen by error kind.
func FormatStartupError(err error) string {
	var builder strings.Builder

	switch apperrors.KindOf(err) {
	case apperrors.ConnectionAuth:
		builder.WriteString(pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint("Authentication failed"))
		builder.WriteString("\n\nThe database rejected the configured credentials.\n")
		builder.WriteString("  • Check the user and password in the database URL\n")
		builder.WriteString("  • Run 'sqlgate connect' to store a new URL\n")
	case apperrors.ConnectionMissingDatabase:
		builder.WriteString(pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint("Database does not exist"))
		builder.WriteString("\n\nThe server is reachable but the database named in the URL is missing.\n")
		builder.WriteString("  • Create it first, e.g. createdb <name>\n")
	case apperrors.ConnectionFailed:
		builder.WriteString(pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint("Cannot reach the database"))
		builder.WriteString("\n\nThis usually happens when:\n")
		builder.WriteString("  • The database server is not running\n")
		builder.WriteString("  • Host or port in the URL are wrong\n")
		builder.WriteString("  • A firewall blocks the connection\n")
	case apperrors.UnsupportedProtocol:
		builder.WriteString(pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint("Unsupported database URL"))
		builder.WriteString("\n\nSupported schemes: " + supportedSchemes() + "\n")
	case apperrors.MigrationFailed:
		builder.WriteString(pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint("Migration failed"))
		builder.WriteString("\n\nLater migrations were not applied and the server was not started.\n")
	default:
		builder.WriteString(pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint("Startup failed"))
		builder.WriteString("\n")
	}

	if err != nil {
		builder.WriteString("\n")
		builder.WriteString(pterm.NewStyle(pterm.FgGray).Sprint("Technical details: " + Mask(err.Error())))
	}
	return builder.String()
}

// PresentStartupError displays a formatted startup error
func PresentStartupError(err error) {
	fmt.Println()
	fmt.Println(FormatStartupError(err))
	fmt.Println()
}

func supportedSchemes() string {
	list := dsn.Schemes()
	for i, s := range list {
		list[i] = s + "://"
	}
	return strings.Join(list, ", ")
}
