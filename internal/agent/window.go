package agent

import (
	"github.com/cloudwego/eino/schema"

	"askweb/internal/domain"
)

const (
	maxMessagesSingle = 5
	maxMessagesMulti  = 10
)

// MaxMessages is the reasoning window size for the given mode.
func MaxMessages(singleToolCall bool) int {
	if singleToolCall {
		return maxMessagesSingle
	}
	return maxMessagesMulti
}

// TrimWindow drops tool messages and keeps the last max of the rest, in order.
func TrimWindow(log []domain.Message, max int) []domain.Message {
	kept := make([]domain.Message, 0, len(log))
	for _, m := range log {
		if m.Role == domain.RoleTool {
			continue
		}
		kept = append(kept, m)
	}
	return lastN(kept, max)
}

// ReinterpretTools turns tool messages into assistant messages carrying the
// same JSON content (type stays tool) and keeps the last max messages. The
// writer reads search results this way.
func ReinterpretTools(log []domain.Message, max int) []domain.Message {
	out := make([]domain.Message, 0, len(log))
	for _, m := range log {
		if m.Role == domain.RoleTool {
			m.Role = domain.RoleAssistant
			m.Type = domain.TypeTool
		}
		out = append(out, m)
	}
	return lastN(out, max)
}

func lastN(msgs []domain.Message, n int) []domain.Message {
	if n > 0 && len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}

// Window is the working message list handed to the reasoning stages. The
// research step appends its tool-call and tool-result messages to it.
type Window struct {
	msgs []*schema.Message
}

// NewWindow converts log messages into model messages.
func NewWindow(log []domain.Message) *Window {
	w := &Window{msgs: make([]*schema.Message, 0, len(log))}
	for _, m := range log {
		w.msgs = append(w.msgs, toSchema(m))
	}
	return w
}

func (w *Window) Append(msgs ...*schema.Message) {
	w.msgs = append(w.msgs, msgs...)
}

// Messages returns the current messages. The slice must not be modified.
func (w *Window) Messages() []*schema.Message {
	return w.msgs
}

func (w *Window) Len() int { return len(w.msgs) }

// Clone returns an independent copy of the message list.
func (w *Window) Clone() *Window {
	return &Window{msgs: append([]*schema.Message(nil), w.msgs...)}
}

func toSchema(m domain.Message) *schema.Message {
	switch m.Role {
	case domain.RoleUser:
		return schema.UserMessage(m.Content)
	case domain.RoleTool:
		return schema.ToolMessage(m.Content, m.ID)
	default:
		return schema.AssistantMessage(m.Content, nil)
	}
}

// withSystem prepends a system prompt to the window messages.
func withSystem(prompt string, msgs []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs)+1)
	out = append(out, schema.SystemMessage(prompt))
	return append(out, msgs...)
}
