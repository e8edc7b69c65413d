package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"askweb/internal/domain"
	"askweb/internal/view"
)

const (
	titleMaxRunes = 100
	untitled      = "Untitled"
)

// Session is the live state of one chat. Submit holds its turn lock for the
// duration of a turn, so turns of the same chat never overlap.
type Session struct {
	turn sync.Mutex
	refs int // turns holding the session, guarded by SessionManager.mu

	mu   sync.RWMutex
	chat domain.Chat
}

func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chat.ID
}

// Messages returns a copy of the conversation log.
func (s *Session) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Message(nil), s.chat.Messages...)
}

// Snapshot returns a copy of the chat.
func (s *Session) Snapshot() domain.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.chat
	c.Messages = append([]domain.Message(nil), s.chat.Messages...)
	return c
}

func (s *Session) append(m domain.Message) {
	s.mu.Lock()
	s.chat.Messages = append(s.chat.Messages, m)
	s.mu.Unlock()
}

// SessionManager loads sessions from the chat store and keeps one Session
// per chat id only while turns hold it. Idle chats live in the store.
type SessionManager struct {
	store  domain.ChatStore
	userID string
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*Session
}

func NewSessionManager(store domain.ChatStore, userID string, logger *slog.Logger) *SessionManager {
	if userID == "" {
		userID = "anonymous"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		store:  store,
		userID: userID,
		logger: logger,
		active: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for id: the one a running turn holds, or a
// fresh copy from the store. An empty id, or one the store does not know,
// starts a new chat. Nothing is retained until a turn acquires the session.
func (sm *SessionManager) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = domain.NewID()
	} else if s := sm.lookup(id); s != nil {
		return s, nil
	}

	chat, err := sm.store.GetChat(ctx, id)
	switch {
	case errors.Is(err, domain.ErrChatNotFound):
		chat = &domain.Chat{
			ID:        id,
			CreatedAt: time.Now().UTC(),
			UserID:    sm.userID,
			Path:      ChatPath(id),
		}
		sm.logger.Debug("new chat", "chat_id", id)
	case err != nil:
		return nil, fmt.Errorf("load chat %s: %w", id, err)
	}
	return &Session{chat: *chat}, nil
}

func (sm *SessionManager) lookup(id string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active[id]
}

// Active reports how many sessions are held by running or queued turns.
func (sm *SessionManager) Active() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.active)
}

// acquire pins the session a turn will run on. When another turn already
// holds the chat, its session is returned so both serialize on one lock.
func (sm *SessionManager) acquire(s *Session) *Session {
	if sm == nil {
		return s
	}
	id := s.ID()
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if cur, ok := sm.active[id]; ok {
		cur.refs++
		return cur
	}
	s.refs = 1
	sm.active[id] = s
	return s
}

// release drops the session from memory once no turn holds it.
func (sm *SessionManager) release(s *Session) {
	if sm == nil {
		return
	}
	id := s.ID()
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s.refs--
	if s.refs <= 0 && sm.active[id] == s {
		delete(sm.active, id)
	}
}

// refresh adopts the stored log when it is ahead of the session, which
// happens when a caller kept a session across turns run through another one.
// Must be called with the turn lock held.
func (sm *SessionManager) refresh(ctx context.Context, s *Session) {
	if sm == nil {
		return
	}
	stored, err := sm.store.GetChat(ctx, s.ID())
	if err != nil {
		if !errors.Is(err, domain.ErrChatNotFound) {
			sm.logger.Warn("cannot refresh chat", "chat_id", s.ID(), "err", err)
		}
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(stored.Messages) > len(s.chat.Messages) {
		s.chat.Messages = append([]domain.Message(nil), stored.Messages...)
	}
}

// UIState projects the log of the session into view nodes, reading through
// to the session a running turn holds for the same chat.
func (sm *SessionManager) UIState(s *Session) []*view.Node {
	if cur := sm.lookup(s.ID()); cur != nil {
		s = cur
	}
	return view.ProjectAll(s.Messages())
}

// Commit saves the session through the chat store.
func (sm *SessionManager) Commit(ctx context.Context, s *Session) error {
	chat := s.Snapshot()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	if chat.UserID == "" {
		chat.UserID = sm.userID
	}
	chat.Path = ChatPath(chat.ID)
	chat.Title = DeriveTitle(chat.Messages)

	if err := sm.store.SaveChat(ctx, chat); err != nil {
		return fmt.Errorf("save chat %s: %w", chat.ID, err)
	}
	sm.logger.Debug("chat committed", "chat_id", chat.ID, "messages", len(chat.Messages))
	return nil
}

// ChatPath is the UI route of a chat.
func ChatPath(id string) string { return "/search/" + id }

// DeriveTitle is the first message's input field cut to 100 characters, or
// "Untitled" when there is none.
func DeriveTitle(msgs []domain.Message) string {
	if len(msgs) == 0 {
		return untitled
	}
	var form map[string]any
	if err := json.Unmarshal([]byte(msgs[0].Content), &form); err != nil {
		return untitled
	}
	input, _ := form["input"].(string)
	if input == "" {
		return untitled
	}
	r := []rune(input)
	if len(r) > titleMaxRunes {
		r = r[:titleMaxRunes]
	}
	return string(r)
}
