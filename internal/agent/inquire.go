package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"askweb/internal/domain"
	"askweb/internal/view"
)

// Inquirer streams a clarifying question to the UI.
type Inquirer interface {
	Inquire(ctx context.Context, ui Emitter, window []*schema.Message) (*domain.Inquiry, error)
}

func (l *LLM) Inquire(ctx context.Context, ui Emitter, window []*schema.Message) (*domain.Inquiry, error) {
	id := domain.NewID()
	var (
		acc  strings.Builder
		last string
	)
	msg, err := l.stream(ctx, l.model, "inquire", withSystem(render(l.prompts.Inquire, l.now()), window), func(c *schema.Message) {
		acc.WriteString(c.Content)
		q, _ := partialString(acc.String(), "question")
		if q != "" && q != last {
			last = q
			ui.Emit(Update{Kind: UpdateComponent, Node: view.InquiryNode(id, &domain.Inquiry{Question: q})})
		}
	})
	if err != nil {
		return nil, err
	}

	var inq domain.Inquiry
	if err := decodeJSONObject(msg.Content, &inq); err != nil {
		return nil, fmt.Errorf("inquire: %w", err)
	}
	inq.Question = strings.TrimSpace(inq.Question)
	if inq.Question == "" {
		return nil, errors.New("inquire: model returned no question")
	}
	ui.Emit(Update{Kind: UpdateComponent, Node: view.InquiryNode(id, &inq)})
	return &inq, nil
}
