package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"askweb/internal/domain"
)

const redisPrefix = "askweb:"

// RedisStore keeps each chat as a hash plus a list of JSON messages, and
// indexes chats per user in sorted sets scored by creation time.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore connects to url (redis://...) and verifies it with PING.
func NewRedisStore(ctx context.Context, url string, logger *slog.Logger) (*RedisStore, error) {
	if url == "" {
		return nil, errors.New("redis store: url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreWithClient(client, "", logger), nil
}

func NewRedisStoreWithClient(client *redis.Client, prefix string, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = redisPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

func (s *RedisStore) chatKey(id string) string     { return s.prefix + "chat:" + id }
func (s *RedisStore) messagesKey(id string) string { return s.prefix + "chat:" + id + ":messages" }
func (s *RedisStore) indexKey(userID string) string {
	if userID == "" {
		return s.prefix + "chats"
	}
	return s.prefix + "user:" + userID + ":chats"
}

func (s *RedisStore) SaveChat(ctx context.Context, chat domain.Chat) error {
	mkey := s.messagesKey(chat.ID)
	stored, err := s.client.LLen(ctx, mkey).Result()
	if err != nil {
		return fmt.Errorf("redis llen: %w", err)
	}

	if int(stored) > len(chat.Messages) {
		s.logger.Warn("refusing to save a stale chat",
			"chat_id", chat.ID, "stored", stored, "session", len(chat.Messages))
		return fmt.Errorf("save chat %s: %w (stored %d, session %d)", chat.ID, domain.ErrStaleChat, stored, len(chat.Messages))
	}

	tail := make([]any, 0, len(chat.Messages)-int(stored))
	for _, m := range chat.Messages[stored:] {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		tail = append(tail, data)
	}

	score := float64(chat.CreatedAt.UnixNano())
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.chatKey(chat.ID),
			"id", chat.ID,
			"userId", chat.UserID,
			"path", chat.Path,
			"title", chat.Title,
			"createdAt", chat.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if len(tail) > 0 {
			p.RPush(ctx, mkey, tail...)
		}
		p.ZAdd(ctx, s.indexKey(""), redis.Z{Score: score, Member: chat.ID})
		p.ZAdd(ctx, s.indexKey(chat.UserID), redis.Z{Score: score, Member: chat.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save chat: %w", err)
	}
	return nil
}

func (s *RedisStore) summary(ctx context.Context, id string) (*domain.ChatSummary, error) {
	fields, err := s.client.HGetAll(ctx, s.chatKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrChatNotFound
	}
	created, err := time.Parse(time.RFC3339Nano, fields["createdAt"])
	if err != nil {
		return nil, fmt.Errorf("chat %s: bad createdAt: %w", id, err)
	}
	return &domain.ChatSummary{
		ID:        fields["id"],
		CreatedAt: created,
		UserID:    fields["userId"],
		Path:      fields["path"],
		Title:     fields["title"],
	}, nil
}

func (s *RedisStore) GetChat(ctx context.Context, id string) (*domain.Chat, error) {
	sum, err := s.summary(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.LRange(ctx, s.messagesKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	chat := &domain.Chat{
		ID:        sum.ID,
		CreatedAt: sum.CreatedAt,
		UserID:    sum.UserID,
		Path:      sum.Path,
		Title:     sum.Title,
		Messages:  make([]domain.Message, 0, len(raw)),
	}
	for i, r := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode message %d of chat %s: %w", i, id, err)
		}
		chat.Messages = append(chat.Messages, m)
	}
	return chat, nil
}

func (s *RedisStore) ListChats(ctx context.Context, userID string, limit int) ([]domain.ChatSummary, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(userID), 0, int64(listLimit(limit)-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange: %w", err)
	}
	out := make([]domain.ChatSummary, 0, len(ids))
	for _, id := range ids {
		sum, err := s.summary(ctx, id)
		if errors.Is(err, domain.ErrChatNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *sum)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
