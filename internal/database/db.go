// Package database opens the credential store connections and applies the
// users schema.
package database

import (
	"context"
	"database/sql"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// MySQLDSN builds the driver DSN.  parseTime maps DATETIME to time.Time,
// loc=UTC keeps times consistent and clientFoundRows makes RowsAffected
// count matched rows, which the fingerprint updates rely on.
func MySQLDSN(user, pass, host, port, name string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = pass
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, port)
	cfg.DBName = name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// OpenMySQL connects to MySQL and verifies the connection.
func OpenMySQL(ctx context.Context, user, pass, host, port, name string) (*sql.DB, error) {
	db, err := sql.Open("mysql", MySQLDSN(user, pass, host, port, name))
	if err != nil {
		return nil, oops.Code("DB_OPEN_FAILED").With("driver", "mysql").Wrap(err)
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, oops.Code("DB_OPEN_FAILED").With("driver", "mysql", "host", host).Wrap(err)
	}
	return db, nil
}

// OpenPostgres connects a pgx pool to url and verifies it.
func OpenPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, oops.Code("DB_OPEN_FAILED").With("driver", "postgres").Wrap(err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_OPEN_FAILED").With("driver", "postgres").Wrap(err)
	}
	return pool, nil
}

// MySQLSchema is the users table.  The email collation is binary so that
// uniqueness and lookups match the exact string, like the other stores.
const MySQLSchema = `CREATE TABLE IF NOT EXISTS users (
	id                 CHAR(36)     NOT NULL PRIMARY KEY,
	email              VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
	username           VARCHAR(100) NOT NULL,
	password_hash      VARCHAR(255) NOT NULL,
	refresh_token_hash VARCHAR(255) NULL,
	created_at         DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at         DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	UNIQUE KEY uq_users_email (email)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// PostgresSchema is the same table for Postgres.
const PostgresSchema = `CREATE TABLE IF NOT EXISTS users (
	id                 UUID         PRIMARY KEY,
	email              TEXT         NOT NULL UNIQUE,
	username           TEXT         NOT NULL,
	password_hash      TEXT         NOT NULL,
	refresh_token_hash TEXT         NULL,
	created_at         TIMESTAMPTZ  NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
)`

// MigrateMySQL creates the users table if it does not exist.
func MigrateMySQL(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, MySQLSchema); err != nil {
		return oops.Code("DB_MIGRATE_FAILED").With("driver", "mysql").Wrap(err)
	}
	return nil
}

// Execer is the part of a pgx pool MigratePostgres needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// MigratePostgres creates the users table if it does not exist.
func MigratePostgres(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, PostgresSchema); err != nil {
		return oops.Code("DB_MIGRATE_FAILED").With("driver", "postgres").Wrap(err)
	}
	return nil
}
