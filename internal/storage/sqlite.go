// Package storage handles database connections, schema migrations, and data operations using SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/woozymasta/lmstats/internal/models"
	_ "modernc.org/sqlite" // Driver sqlite
)

// TimeLayout is the text form of timestamps; SQLite date functions parse it natively.
const TimeLayout = "2006-01-02 15:04:05"

// Repository manages the SQLite database connection.
type Repository struct {
	db *sqlx.DB
}

// New initializes a new SQLite connection, sets connection pool parameters, and runs migrations.
func New(ctx context.Context, dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// FormatTime renders t in the stored UTC layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Select runs a read query and scans all rows into dest (a pointer to a slice).
func (r *Repository) Select(ctx context.Context, dest any, query string, args ...any) error {
	return r.db.SelectContext(ctx, dest, query, args...)
}

// Get runs a read query and scans the single resulting row into dest.
func (r *Repository) Get(ctx context.Context, dest any, query string, args ...any) error {
	return r.db.GetContext(ctx, dest, query, args...)
}

// UpsertInstallation inserts a new installation or replaces the document of an existing one.
// created is kept from the first insert, lastseen always advances to inst.LastSeen.
func (r *Repository) UpsertInstallation(ctx context.Context, inst models.Installation) error {
	data, err := json.Marshal(inst.Data)
	if err != nil {
		return fmt.Errorf("encode installation %s: %w", inst.ID, err)
	}

	created := inst.Created
	if created.IsZero() {
		created = inst.LastSeen
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO installations (id, created, lastseen, data)
		VALUES (?, ?, ?, json(?))
		ON CONFLICT(id) DO UPDATE SET
			lastseen = MAX(installations.lastseen, excluded.lastseen),
			data     = excluded.data;
	`, inst.ID, FormatTime(created), FormatTime(inst.LastSeen), string(data))

	return err
}

// GetInstallation returns the installation by id, or nil if it does not exist.
func (r *Repository) GetInstallation(ctx context.Context, id string) (*models.Installation, error) {
	var row struct {
		ID       string `db:"id"`
		Created  string `db:"created"`
		LastSeen string `db:"lastseen"`
		Data     string `db:"data"`
	}

	err := r.db.GetContext(ctx, &row, `SELECT id, created, lastseen, data FROM installations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	inst := models.Installation{ID: row.ID}
	if inst.Created, err = time.Parse(TimeLayout, row.Created); err != nil {
		return nil, fmt.Errorf("parse created of %s: %w", id, err)
	}
	if inst.LastSeen, err = time.Parse(TimeLayout, row.LastSeen); err != nil {
		return nil, fmt.Errorf("parse lastseen of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(row.Data), &inst.Data); err != nil {
		return nil, fmt.Errorf("decode installation %s: %w", id, err)
	}

	return &inst, nil
}

// DeleteStaleInstallations removes installations not seen within maxAge.
func (r *Repository) DeleteStaleInstallations(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM installations WHERE unixepoch('now') - unixepoch(lastseen) > ?`,
		int64(maxAge.Seconds()),
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// UpsertSnapshot writes the aggregate document for date, overwriting an existing row of the same day.
func (r *Repository) UpsertSnapshot(ctx context.Context, date string, data []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (date, data) VALUES (?, json(?))
		ON CONFLICT(date) DO UPDATE SET data = excluded.data;
	`, date, string(data))

	return err
}

// Snapshots returns snapshot rows ordered by date.
// A positive secs keeps only rows younger than secs seconds.
func (r *Repository) Snapshots(ctx context.Context, secs int64) ([]models.Snapshot, error) {
	var rows []struct {
		Date string `db:"date"`
		Data string `db:"data"`
	}

	err := r.db.SelectContext(ctx, &rows, `
		SELECT date, data FROM snapshots
		WHERE ? <= 0 OR unixepoch('now') - unixepoch(date) < ?
		ORDER BY date
	`, secs, secs)
	if err != nil {
		return nil, err
	}

	out := make([]models.Snapshot, len(rows))
	for i, row := range rows {
		out[i] = models.Snapshot{Date: row.Date, Data: json.RawMessage(row.Data)}
	}

	return out, nil
}

// PluginCounts returns the precomputed plugin census with more than minCount installations, most popular first.
func (r *Repository) PluginCounts(ctx context.Context, minCount int64) ([]models.PluginCount, error) {
	var counts []models.PluginCount
	err := r.db.SelectContext(ctx, &counts,
		`SELECT name, count FROM plugin_counts WHERE count > ? ORDER BY count DESC`, minCount)

	return counts, err
}

// ReplacePluginCounts swaps the whole plugin census in one transaction.
func (r *Repository) ReplacePluginCounts(ctx context.Context, counts []models.PluginCount) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM plugin_counts`); err != nil {
		return fmt.Errorf("clear plugin counts: %w", err)
	}

	if len(counts) > 0 {
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO plugin_counts (name, count) VALUES (:name, :count)`, counts,
		); err != nil {
			return fmt.Errorf("insert plugin counts: %w", err)
		}
	}

	return tx.Commit()
}
