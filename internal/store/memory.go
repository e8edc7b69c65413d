package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"askweb/internal/domain"
)

// MemoryStore keeps chats in process memory. Used by tests and by
// `askweb chat --ephemeral`.
type MemoryStore struct {
	mu    sync.RWMutex
	chats map[string]domain.Chat
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chats: make(map[string]domain.Chat)}
}

func (s *MemoryStore) SaveChat(_ context.Context, chat domain.Chat) error {
	chat.Messages = append([]domain.Message(nil), chat.Messages...)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.chats[chat.ID]; ok && len(cur.Messages) > len(chat.Messages) {
		return fmt.Errorf("save chat %s: %w", chat.ID, domain.ErrStaleChat)
	}
	s.chats[chat.ID] = chat
	return nil
}

func (s *MemoryStore) GetChat(_ context.Context, id string) (*domain.Chat, error) {
	s.mu.RLock()
	c, ok := s.chats[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrChatNotFound
	}
	c.Messages = append([]domain.Message(nil), c.Messages...)
	return &c, nil
}

func (s *MemoryStore) ListChats(_ context.Context, userID string, limit int) ([]domain.ChatSummary, error) {
	s.mu.RLock()
	out := make([]domain.ChatSummary, 0, len(s.chats))
	for _, c := range s.chats {
		if userID != "" && c.UserID != userID {
			continue
		}
		out = append(out, summarize(c))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if n := listLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
