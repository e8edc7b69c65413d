package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"askweb/internal/domain"
)

type dialect int

const (
	sqlite dialect = iota
	postgres
)

// rebind rewrites '?' placeholders into '$n' for Postgres.
func (d dialect) rebind(query string) string {
	if d != postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SQLStore is a ChatStore over database/sql. Messages are keyed by
// (chat_id, seq); since the log only grows, SaveChat inserts just the tail
// the database has not seen yet.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

var openDB = sql.Open

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := openDB("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLStore{db: db, dialect: sqlite, logger: logger}
	if err := RunMigrations(context.Background(), db, sqlite, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres store: url is required")
	}
	db, err := openDB("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	if err := RunMigrations(ctx, db, postgres, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLStore{db: db, dialect: postgres, logger: logger}, nil
}

func (s *SQLStore) q(query string) string { return s.dialect.rebind(query) }

func (s *SQLStore) SaveChat(ctx context.Context, chat domain.Chat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO chats (id, user_id, title, path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			path = excluded.path,
			updated_at = excluded.updated_at`),
		chat.ID, chat.UserID, chat.Title, chat.Path, chat.CreatedAt.UTC(), now,
	); err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}

	var stored int
	if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`), chat.ID).Scan(&stored); err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	if stored > len(chat.Messages) {
		s.logger.Warn("refusing to save a stale chat",
			"chat_id", chat.ID, "stored", stored, "session", len(chat.Messages))
		return fmt.Errorf("save chat %s: %w (stored %d, session %d)", chat.ID, domain.ErrStaleChat, stored, len(chat.Messages))
	}

	for seq := stored; seq < len(chat.Messages); seq++ {
		m := chat.Messages[seq]
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO messages (chat_id, seq, id, group_id, role, type, name, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			chat.ID, seq, m.ID, m.GroupID, string(m.Role), string(m.Type), m.Name, m.Content, m.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert message %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func (s *SQLStore) GetChat(ctx context.Context, id string) (*domain.Chat, error) {
	var c domain.Chat
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, user_id, title, path, created_at FROM chats WHERE id = ?`), id,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.Path, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, group_id, role, type, name, content, created_at
		FROM messages WHERE chat_id = ? ORDER BY seq`), id)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m         domain.Message
			role, typ string
		)
		if err := rows.Scan(&m.ID, &m.GroupID, &role, &typ, &m.Name, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = domain.Role(role)
		m.Type = domain.MessageType(typ)
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return &c, nil
}

// ListChats returns the newest chats first. An empty userID lists every user.
func (s *SQLStore) ListChats(ctx context.Context, userID string, limit int) ([]domain.ChatSummary, error) {
	query := `SELECT id, user_id, title, path, created_at FROM chats`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(limit))

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []domain.ChatSummary
	for rows.Next() {
		var c domain.ChatSummary
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Path, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
