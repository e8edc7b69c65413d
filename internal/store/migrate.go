package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// migration is a single schema step. Statements are split on ';' and run in
// one transaction.
type migration struct {
	Version     int
	Description string
	SQLite      string
	Postgres    string
}

// schemaVersion is the version RunMigrations brings a database to.
const schemaVersion = 2

var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: chats, messages",
		SQLite: `
		CREATE TABLE IF NOT EXISTS chats (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			path        TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL,
			updated_at  DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			chat_id     TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			id          TEXT NOT NULL,
			group_id    TEXT NOT NULL DEFAULT '',
			role        TEXT NOT NULL,
			type        TEXT NOT NULL DEFAULT '',
			name        TEXT NOT NULL DEFAULT '',
			content     TEXT NOT NULL,
			created_at  DATETIME NOT NULL,
			PRIMARY KEY (chat_id, seq)
		);
		`,
		Postgres: `
		CREATE TABLE IF NOT EXISTS chats (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			path        TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			chat_id     TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			id          TEXT NOT NULL,
			group_id    TEXT NOT NULL DEFAULT '',
			role        TEXT NOT NULL,
			type        TEXT NOT NULL DEFAULT '',
			name        TEXT NOT NULL DEFAULT '',
			content     TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (chat_id, seq)
		);
		`,
	},
	{
		Version:     2,
		Description: "v2: chat listing index",
		SQLite:      `CREATE INDEX IF NOT EXISTS idx_chats_user_created ON chats(user_id, created_at)`,
		Postgres:    `CREATE INDEX IF NOT EXISTS idx_chats_user_created ON chats(user_id, created_at DESC)`,
	},
}

func (m migration) statements(d dialect) []string {
	body := m.SQLite
	if d == postgres {
		body = m.Postgres
	}
	var out []string
	for _, s := range strings.Split(body, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// RunMigrations applies pending migrations, tracked in schema_version.
func RunMigrations(ctx context.Context, db *sql.DB, d dialect, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT
		)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)
		if err := applyMigration(ctx, db, d, m); err != nil {
			return err
		}
		logger.Info("migration applied", "version", m.Version)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, d dialect, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.Version, err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range m.statements(d) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
		}
	}
	if _, err := tx.ExecContext(ctx,
		d.rebind("INSERT INTO schema_version (version, description) VALUES (?, ?)"),
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.Version, err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration, 0 for a fresh database.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
