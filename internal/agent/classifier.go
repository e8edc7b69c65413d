package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

const (
	ActionProceed = "proceed"
	ActionInquire = "inquire"
)

// NextAction is the classifier's decision for a turn.
type NextAction struct {
	Next string `json:"next"`
}

// Classifier decides whether a turn needs a clarifying question first.
type Classifier interface {
	Classify(ctx context.Context, window []*schema.Message) (*NextAction, error)
}

func (l *LLM) Classify(ctx context.Context, window []*schema.Message) (*NextAction, error) {
	msg, err := l.generate(ctx, l.model, "classify", withSystem(render(l.prompts.Classifier, l.now()), window))
	if err != nil {
		return nil, err
	}

	var a NextAction
	if err := decodeJSONObject(msg.Content, &a); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	a.Next = strings.ToLower(strings.TrimSpace(a.Next))
	switch a.Next {
	case ActionProceed, ActionInquire:
		return &a, nil
	}
	return nil, fmt.Errorf("classify: unknown next action %q", a.Next)
}
