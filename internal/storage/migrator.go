package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/lmstats/assets"
)

// runMigrations applies embedded migrations not yet listed in schema_migrations, in name order.
func runMigrations(ctx context.Context, db *sqlx.DB) error {
	const migrationTableSchema = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	);`

	if _, err := db.ExecContext(ctx, migrationTableSchema); err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	migrations, err := assets.Migrations()
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.GetContext(ctx, &exists, "SELECT 1 FROM schema_migrations WHERE version = ?", m.Name)
		if err == nil {
			continue
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration status: %w", err)
		}

		log.Info().Str("file", m.Name).Msg("Applying database migration...")

		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(ctx context.Context, db *sqlx.DB, m assets.Migration) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("exec migration %s: %w", m.Name, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Name, FormatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Name, err)
	}

	return tx.Commit()
}
