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

const relatedCount = 3

// RelatedSuggester proposes follow-up queries for a finished turn.
type RelatedSuggester interface {
	Suggest(ctx context.Context, ui Emitter, window []*schema.Message) (*domain.RelatedQueries, error)
}

func (l *LLM) Suggest(ctx context.Context, ui Emitter, window []*schema.Message) (*domain.RelatedQueries, error) {
	id := domain.NewID()
	var acc strings.Builder
	seen := 0
	msg, err := l.stream(ctx, l.model, "related", withSystem(render(l.prompts.Related, l.now()), window), func(c *schema.Message) {
		acc.WriteString(c.Content)
		done := completedStrings(acc.String(), "query")
		if len(done) > seen {
			seen = len(done)
			ui.Emit(Update{Kind: UpdateRelated, Node: view.RelatedNode(id, toRelated(done))})
		}
	})
	if err != nil {
		return nil, err
	}

	var out domain.RelatedQueries
	if err := decodeJSONObject(msg.Content, &out); err != nil {
		return nil, fmt.Errorf("related: %w", err)
	}
	items := make([]domain.RelatedQuery, 0, relatedCount)
	for _, it := range out.Items {
		q := strings.TrimSpace(it.Query)
		if q == "" {
			continue
		}
		items = append(items, domain.RelatedQuery{Query: q})
		if len(items) == relatedCount {
			break
		}
	}
	if len(items) == 0 {
		return nil, errors.New("related: model returned no queries")
	}
	return &domain.RelatedQueries{Items: items}, nil
}

func toRelated(queries []string) []domain.RelatedQuery {
	out := make([]domain.RelatedQuery, len(queries))
	for i, q := range queries {
		out[i] = domain.RelatedQuery{Query: q}
	}
	return out
}
