package domain

import (
	"context"
	"time"
)

// Chat is the persisted state of one conversation.
type Chat struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UserID    string    `json:"userId"`
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
}

// ChatSummary is a chat without its messages, used for listings.
type ChatSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UserID    string    `json:"userId"`
	Path      string    `json:"path"`
	Title     string    `json:"title"`
}

// ChatStore persists chats. SaveChat appends the messages of chat.Messages the
// store does not hold yet and fails with ErrStaleChat when the stored log is
// longer.
type ChatStore interface {
	SaveChat(ctx context.Context, chat Chat) error
	// GetChat returns ErrChatNotFound when the id is unknown.
	GetChat(ctx context.Context, id string) (*Chat, error)
	ListChats(ctx context.Context, userID string, limit int) ([]ChatSummary, error)
	Close() error
}
