package migrations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"backtest-lab/internal/logger"
	"backtest-lab/internal/storage/postgres"
)

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    name        TEXT PRIMARY KEY,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// RunPostgres applies pending embedded migrations, each in its own transaction,
// and records them in schema_migrations. Returns the number applied.
func RunPostgres(ctx context.Context, pool *postgres.Pool, log logrus.FieldLogger) (int, error) {
	if log == nil {
		log = logger.Discard()
	}
	log = log.WithField("component", "migrations").WithField("backend", "postgres")

	migrations, err := Load(PostgresFS, "postgres")
	if err != nil {
		return 0, err
	}

	if _, err := pool.Exec(ctx, createVersionTable); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := pool.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return 0, fmt.Errorf("list applied migrations: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("list applied migrations: %w", err)
	}

	n := 0
	for _, m := range migrations {
		if applied[m.Name] {
			continue
		}
		if err := applyPostgres(ctx, pool, m); err != nil {
			return n, err
		}
		log.WithField("migration", m.Name).Info("migration applied")
		n++
	}
	return n, nil
}

func applyPostgres(ctx context.Context, pool *postgres.Pool, m Migration) error {
	return pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.Name); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
		return nil
	})
}
