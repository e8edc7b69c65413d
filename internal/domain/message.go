package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageType is the subtype discriminator within a role.
type MessageType string

const (
	TypeNone         MessageType = ""
	TypeInput        MessageType = "input"
	TypeInputRelated MessageType = "input_related"
	TypeInquiry      MessageType = "inquiry"
	TypeAnswer       MessageType = "answer"
	TypeRelated      MessageType = "related"
	TypeTool         MessageType = "tool"
)

// SkipContent is the literal content of the user message recorded when an
// inquiry is skipped.
const SkipContent = `{"action": "skip"}`

// InquiryPrefix prefixes the question text stored for an assistant inquiry.
const InquiryPrefix = "inquiry: "

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrChatNotFound   = errors.New("chat not found")
	// ErrStaleChat is returned by SaveChat when the stored log has more
	// messages than the one being saved. Stores never drop messages.
	ErrStaleChat      = errors.New("stored chat is ahead of the session")
)

// Message is one entry of the conversation log.
type Message struct {
	ID        string      `json:"id"`
	GroupID   string      `json:"groupId,omitempty"`
	Role      Role        `json:"role"`
	Type      MessageType `json:"type,omitempty"`
	Content   string      `json:"content"`
	Name      string      `json:"name,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Form is the set of fields submitted with a user turn.
type Form map[string]any

// String returns the form field as a string, or "" when absent.
func (f Form) String(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// Has reports whether the form carries the key at all.
func (f Form) Has(key string) bool {
	_, ok := f[key]
	return ok
}

// FormType picks the user message type for a submitted form.
func FormType(f Form) MessageType {
	switch {
	case f.Has("input"):
		return TypeInput
	case f.Has("related_query"):
		return TypeInputRelated
	default:
		return TypeInquiry
	}
}

// NewID returns a fresh message or chat identifier.
func NewID() string { return uuid.NewString() }

func newMessage(role Role, typ MessageType, content string) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Type:      typ,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewUserMessage encodes a submitted form as a user message.
func NewUserMessage(f Form) (Message, error) {
	if len(f) == 0 {
		return Message{}, fmt.Errorf("%w: empty form", ErrInvalidMessage)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return Message{}, fmt.Errorf("encode form: %w", err)
	}
	return newMessage(RoleUser, FormType(f), string(data)), nil
}

// NewSkipMessage records that the user skipped an inquiry. It carries no type.
func NewSkipMessage() Message {
	return newMessage(RoleUser, TypeNone, SkipContent)
}

// NewInquiryMessage records the clarifying question asked by the assistant.
func NewInquiryMessage(question string) Message {
	return newMessage(RoleAssistant, TypeInquiry, InquiryPrefix+question)
}

// NewAnswerMessage records the final answer text of a turn.
func NewAnswerMessage(groupID, text string) Message {
	m := newMessage(RoleAssistant, TypeAnswer, text)
	m.GroupID = groupID
	return m
}

// NewRelatedMessage records follow-up suggestions of a turn.
func NewRelatedMessage(groupID string, related RelatedQueries) (Message, error) {
	data, err := json.Marshal(related)
	if err != nil {
		return Message{}, fmt.Errorf("encode related queries: %w", err)
	}
	m := newMessage(RoleAssistant, TypeRelated, string(data))
	m.GroupID = groupID
	return m, nil
}

// NewToolMessage records a tool result. output must be JSON-serializable.
func NewToolMessage(groupID, name string, output any) (Message, error) {
	if strings.TrimSpace(name) == "" {
		return Message{}, fmt.Errorf("%w: tool message without name", ErrInvalidMessage)
	}
	var content string
	switch v := output.(type) {
	case string:
		content = v
	case json.RawMessage:
		content = string(v)
	default:
		data, err := json.Marshal(output)
		if err != nil {
			return Message{}, fmt.Errorf("encode tool output: %w", err)
		}
		content = string(data)
	}
	m := newMessage(RoleTool, TypeTool, content)
	m.GroupID = groupID
	m.Name = name
	return m, nil
}

// Validate checks that the (role, type) pair is one the log may contain.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	switch m.Role {
	case RoleUser:
		switch m.Type {
		case TypeInput, TypeInputRelated, TypeInquiry, TypeNone:
			return nil
		}
	case RoleAssistant:
		switch m.Type {
		case TypeAnswer, TypeRelated, TypeInquiry, TypeTool:
			return nil
		}
	case RoleTool:
		if m.Name == "" {
			return fmt.Errorf("%w: tool message %s without name", ErrInvalidMessage, m.ID)
		}
		return nil
	}
	return fmt.Errorf("%w: %s/%s", ErrInvalidMessage, m.Role, m.Type)
}

// Payload is implemented by every typed message body.
type Payload interface {
	payload()
}

type UserInput struct {
	Text string
	Form Form
}

type UserRelated struct {
	Query string
	Form  Form
}

type UserInquiryReply struct {
	Form Form
}

type UserSkip struct{}

type AssistantInquiry struct {
	Question string
}

type AssistantAnswer struct {
	Text string
}

type AssistantRelated struct {
	Related RelatedQueries
}

type ToolOutput struct {
	Name string
	Raw  json.RawMessage
}

func (UserInput) payload()        {}
func (UserRelated) payload()      {}
func (UserInquiryReply) payload() {}
func (UserSkip) payload()         {}
func (AssistantInquiry) payload() {}
func (AssistantAnswer) payload()  {}
func (AssistantRelated) payload() {}
func (ToolOutput) payload()       {}

// Payload decodes the content according to the message's (role, type).
func (m Message) Payload() (Payload, error) {
	switch m.Role {
	case RoleUser:
		if m.Type == TypeNone {
			return UserSkip{}, nil
		}
		var f Form
		if err := json.Unmarshal([]byte(m.Content), &f); err != nil {
			return nil, fmt.Errorf("%w: user content: %v", ErrInvalidMessage, err)
		}
		switch m.Type {
		case TypeInput:
			return UserInput{Text: f.String("input"), Form: f}, nil
		case TypeInputRelated:
			return UserRelated{Query: f.String("related_query"), Form: f}, nil
		case TypeInquiry:
			return UserInquiryReply{Form: f}, nil
		}
	case RoleAssistant:
		switch m.Type {
		case TypeInquiry:
			return AssistantInquiry{Question: strings.TrimPrefix(m.Content, InquiryPrefix)}, nil
		case TypeAnswer:
			return AssistantAnswer{Text: m.Content}, nil
		case TypeRelated:
			var r RelatedQueries
			if err := json.Unmarshal([]byte(m.Content), &r); err != nil {
				return nil, fmt.Errorf("%w: related content: %v", ErrInvalidMessage, err)
			}
			return AssistantRelated{Related: r}, nil
		case TypeTool:
			return ToolOutput{Name: m.Name, Raw: json.RawMessage(m.Content)}, nil
		}
	case RoleTool:
		if !json.Valid([]byte(m.Content)) {
			return nil, fmt.Errorf("%w: tool content is not JSON", ErrInvalidMessage)
		}
		return ToolOutput{Name: m.Name, Raw: json.RawMessage(m.Content)}, nil
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrInvalidMessage, m.Role, m.Type)
}
