package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/iliyamo/streaming-auth-service/internal/config"
	"github.com/iliyamo/streaming-auth-service/internal/database"
	"github.com/iliyamo/streaming-auth-service/internal/handler"
	"github.com/iliyamo/streaming-auth-service/internal/repository"
	"github.com/iliyamo/streaming-auth-service/internal/service"
)

// openedStore is the credential store selected by STORE_DRIVER together with
// its readiness check and its cleanup.
type openedStore struct {
	store   service.CredentialStore
	ping    handler.Pinger
	migrate func(context.Context) error
	close   func()
}

func openStore(ctx context.Context, cfg config.Config) (openedStore, error) {
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		db, err := database.OpenMySQL(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return openedStore{}, err
		}
		return openedStore{
			store:   repository.NewUserRepo(db),
			ping:    db.PingContext,
			migrate: func(ctx context.Context) error { return database.MigrateMySQL(ctx, db) },
			close:   func() { _ = db.Close() },
		}, nil

	case config.DriverPostgres:
		pool, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return openedStore{}, err
		}
		return openedStore{
			store:   repository.NewPgUserRepo(pool),
			ping:    pool.Ping,
			migrate: func(ctx context.Context) error { return database.MigratePostgres(ctx, pool) },
			close:   pool.Close,
		}, nil

	case config.DriverMemory:
		slog.Warn("using in-memory credential store; all users are lost on restart")
		return openedStore{
			store:   repository.NewMemoryUserRepo(),
			ping:    func(context.Context) error { return nil },
			migrate: func(context.Context) error { return nil },
			close:   func() {},
		}, nil
	}
	return openedStore{}, oops.Code("CONFIG_INVALID").Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}
