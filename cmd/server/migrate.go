package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/iliyamo/streaming-auth-service/internal/config"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the users table",
		Long:  `Create the users table in the store selected by STORE_DRIVER if it does not exist.`,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	ctx := cmd.Context()

	cmd.Println("Connecting to database...")
	st, err := openStore(ctx, cfg)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("driver", cfg.StoreDriver).Wrap(err)
	}
	defer st.close()

	cmd.Println("Running migrations...")
	if err := st.migrate(ctx); err != nil {
		return oops.Code("MIGRATION_FAILED").With("driver", cfg.StoreDriver).Wrap(err)
	}
	cmd.Println("Migrations completed successfully")
	return nil
}
