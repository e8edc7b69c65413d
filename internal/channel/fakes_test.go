package channel

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/cloudwego/eino/schema"

	"askweb/internal/agent"
	"askweb/internal/domain"
	"askweb/internal/store"
	"askweb/internal/view"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStages answers every turn with a fixed script.
type fakeStages struct {
	mu      sync.Mutex
	inquire *domain.Inquiry // non-nil: the classifier asks for clarification once
	answer  string
	related []string
	gate    chan struct{} // when set, Research waits on it
}

func (f *fakeStages) Classify(_ context.Context, window []*schema.Message) (*agent.NextAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inquire != nil {
		return &agent.NextAction{Next: agent.ActionInquire}, nil
	}
	return &agent.NextAction{Next: agent.ActionProceed}, nil
}

func (f *fakeStages) Inquire(_ context.Context, ui agent.Emitter, _ []*schema.Message) (*domain.Inquiry, error) {
	f.mu.Lock()
	inq := f.inquire
	f.inquire = nil
	f.mu.Unlock()
	ui.Emit(agent.Update{Kind: agent.UpdateComponent, Node: view.InquiryNode("inq", inq)})
	return inq, nil
}

func (f *fakeStages) Research(_ context.Context, _ agent.Emitter, text *agent.TextBuffer, _ *agent.Window, _ bool) (*agent.ResearchResult, error) {
	if f.gate != nil {
		<-f.gate
	}
	text.Append(f.answer)
	return &agent.ResearchResult{
		FullResponse: f.answer,
		ToolResponses: []agent.ToolResponse{{
			ToolName: "search",
			Result: &domain.SearchResults{
				Query:           "capital of France",
				Results:         []domain.SearchResultItem{{Title: "Paris", URL: "https://en.wikipedia.org/wiki/Paris", Content: "Paris is the capital."}},
				NumberOfResults: 1,
			},
		}},
	}, nil
}

func (f *fakeStages) Write(context.Context, agent.Emitter, *agent.TextBuffer, []*schema.Message) (string, error) {
	return f.answer, nil
}

func (f *fakeStages) Suggest(context.Context, agent.Emitter, []*schema.Message) (*domain.RelatedQueries, error) {
	out := &domain.RelatedQueries{}
	for _, q := range f.related {
		out.Items = append(out.Items, domain.RelatedQuery{Query: q})
	}
	return out, nil
}

func newTestController(stages *fakeStages) (*agent.Controller, *store.MemoryStore) {
	st := store.NewMemoryStore()
	sessions := agent.NewSessionManager(st, "u1", testLogger())
	return agent.NewController(agent.ControllerConfig{
		Classifier: stages,
		Inquirer:   stages,
		Researcher: stages,
		Writer:     stages,
		Related:    stages,
		Sessions:   sessions,
		Logger:     testLogger(),
	}), st
}
