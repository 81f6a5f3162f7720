package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order and recorded in schema_migrations.
var migrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_share_downloads",
		SQL: `
			CREATE TABLE IF NOT EXISTS share_downloads (
				id                UUID         PRIMARY KEY,
				name              VARCHAR(255) NOT NULL,
				archive           BOOLEAN      NOT NULL DEFAULT FALSE,
				bytes_transferred BIGINT       NOT NULL DEFAULT 0,
				total_bytes       BIGINT       NOT NULL DEFAULT 0,
				completed         BOOLEAN      NOT NULL DEFAULT FALSE,
				started_at        TIMESTAMPTZ  NOT NULL,
				finished_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_share_downloads_started_at ON share_downloads(started_at);
		`,
	},
	{
		Version: "000002_index_share_downloads_name",
		SQL: `
			CREATE INDEX IF NOT EXISTS idx_share_downloads_name ON share_downloads(name);
		`,
	},
}

// DB wraps a pgxpool connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// New connects and pings. The caller owns Close.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database", "component", "database")
	return &DB{Pool: pool}, nil
}

// RunMigrations applies every migration not yet recorded, each in its own
// transaction.
func (db *DB) RunMigrations(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
			}
			if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
				return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		slog.Info("applied migration", "component", "database", "version", m.Version)
	}

	return nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := db.Pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan applied migrations: %w", err)
	}

	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func (db *DB) Close() {
	db.Pool.Close()
}
