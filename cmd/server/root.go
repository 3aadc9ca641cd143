package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var logFormat string

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth-service",
		Short: "Credential issuance and rotation service",
		Long: `auth-service registers users, logs them in and rotates refresh tokens.
Configuration is read from the environment (and a .env file when present).`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return setupLogging(logFormat)
		},
	}

	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format: json or text")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewAuditConsumerCmd())

	return cmd
}

// setupLogging configures the default slog logger.
func setupLogging(format string) error {
	var handler slog.Handler

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	case "text":
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	default:
		return fmt.Errorf("invalid log format %q: must be 'json' or 'text'", format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}
