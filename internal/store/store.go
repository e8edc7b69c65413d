// Package store persists chats for the session manager.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"askweb/internal/config"
	"askweb/internal/domain"
)

const defaultListLimit = 20

// New opens the chat store selected by cfg.Type.
func New(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (domain.ChatStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Type {
	case "", "sqlite":
		return NewSQLiteStore(config.ExpandPath(cfg.SQLitePath), logger)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresURL, logger)
	case "redis":
		return NewRedisStore(ctx, cfg.RedisURL, logger)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func summarize(c domain.Chat) domain.ChatSummary {
	return domain.ChatSummary{
		ID:        c.ID,
		CreatedAt: c.CreatedAt,
		UserID:    c.UserID,
		Path:      c.Path,
		Title:     c.Title,
	}
}
