package agent

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// emptyAnswer is used when the writer model returns no text.
const emptyAnswer = "Sorry, I could not put together an answer from the search results."

// Writer writes the final answer from accumulated tool outputs.
type Writer interface {
	Write(ctx context.Context, ui Emitter, text *TextBuffer, window []*schema.Message) (string, error)
}

// Write always returns non-empty text when err is nil.
func (l *LLM) Write(ctx context.Context, ui Emitter, text *TextBuffer, window []*schema.Message) (string, error) {
	text.Reset()
	msg, err := l.stream(ctx, l.writer, "write", withSystem(render(l.prompts.Writer, l.now()), window), func(c *schema.Message) {
		text.Append(c.Content)
	})
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(stripRolePrefix(msg.Content))
	if answer == "" {
		answer = emptyAnswer
		text.Set(answer)
	}
	return answer, nil
}
