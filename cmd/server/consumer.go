package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iliyamo/streaming-auth-service/internal/config"
	"github.com/iliyamo/streaming-auth-service/internal/queue"
)

// NewAuditConsumerCmd creates the audit-consumer subcommand.
func NewAuditConsumerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit-consumer",
		Short: "Append auth events from the broker to the audit log",
		Long: `Consume the auth.events queue and append one line per event to
AUDIT_LOG_DIR/auth-audit.log.  Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			audit := queue.NewAuditLog(cfg.AuditLogDir)
			slog.Info("audit consumer starting", "queue", queue.AuthEventsQueue, "path", audit.Path())
			c := &queue.Consumer{URL: cfg.AMQPURL, Audit: audit, Log: slog.Default()}
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			slog.Info("audit consumer stopped")
			return nil
		},
	}
}
