package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askweb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fakes ---

type fakeStore struct {
	mu    sync.Mutex
	chats map[string]domain.Chat
	saves int
	err   error
}

func newFakeStore() *fakeStore { return &fakeStore{chats: make(map[string]domain.Chat)} }

func (s *fakeStore) SaveChat(_ context.Context, chat domain.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saves++
	chat.Messages = append([]domain.Message(nil), chat.Messages...)
	s.chats[chat.ID] = chat
	return nil
}

func (s *fakeStore) GetChat(_ context.Context, id string) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, domain.ErrChatNotFound
	}
	return &c, nil
}

func (s *fakeStore) ListChats(context.Context, string, int) ([]domain.ChatSummary, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

type fakeStages struct {
	mu sync.Mutex

	next            *NextAction
	classifyErr     error
	classifyCalls   int
	classifyWindows [][]*schema.Message

	inquiry      *domain.Inquiry
	inquireErr   error
	inquireCalls int

	research        []*ResearchResult
	researchErr     error
	researchCalls   int
	researchWindows [][]*schema.Message

	answer      string
	writeErr    error
	writeCalls  int
	writeWindow []*schema.Message

	related        *domain.RelatedQueries
	relatedErr     error
	relatedCalls   int
	relatedWindows [][]*schema.Message
}

func (f *fakeStages) Classify(_ context.Context, window []*schema.Message) (*NextAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classifyCalls++
	f.classifyWindows = append(f.classifyWindows, window)
	return f.next, f.classifyErr
}

func (f *fakeStages) Inquire(_ context.Context, _ Emitter, _ []*schema.Message) (*domain.Inquiry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inquireCalls++
	return f.inquiry, f.inquireErr
}

func (f *fakeStages) Research(_ context.Context, _ Emitter, text *TextBuffer, window *Window, _ bool) (*ResearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.researchCalls++
	f.researchWindows = append(f.researchWindows, append([]*schema.Message(nil), window.Messages()...))
	if f.researchErr != nil {
		return nil, f.researchErr
	}
	i := f.researchCalls - 1
	if i >= len(f.research) {
		i = len(f.research) - 1
	}
	res := *f.research[i]
	text.Set(res.FullResponse)
	window.Append(schema.AssistantMessage(res.FullResponse, nil))
	return &res, nil
}

func (f *fakeStages) Write(_ context.Context, _ Emitter, text *TextBuffer, window []*schema.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls++
	f.writeWindow = window
	if f.writeErr != nil {
		return "", f.writeErr
	}
	text.Set(f.answer)
	return f.answer, nil
}

func (f *fakeStages) Suggest(_ context.Context, _ Emitter, window []*schema.Message) (*domain.RelatedQueries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relatedCalls++
	f.relatedWindows = append(f.relatedWindows, window)
	return f.related, f.relatedErr
}

func defaultRelated() *domain.RelatedQueries {
	return &domain.RelatedQueries{Items: []domain.RelatedQuery{
		{Query: "population of Paris"}, {Query: "history of Paris"}, {Query: "Paris landmarks"},
	}}
}

type harness struct {
	stages   *fakeStages
	store    *fakeStore
	sessions *SessionManager
	ctrl     *Controller
}

func newHarness(t *testing.T, stages *fakeStages, single bool, maxIter int) *harness {
	t.Helper()
	store := newFakeStore()
	sessions := NewSessionManager(store, "tester", testLogger())
	ctrl := NewController(ControllerConfig{
		Classifier:     stages,
		Inquirer:       stages,
		Researcher:     stages,
		Writer:         stages,
		Related:        stages,
		Sessions:       sessions,
		Logger:         testLogger(),
		SingleToolCall: single,
		MaxIterations:  maxIter,
	})
	return &harness{stages: stages, store: store, sessions: sessions, ctrl: ctrl}
}

func (h *harness) submit(t *testing.T, sess *Session, in Submission) []Update {
	t.Helper()
	updates, err := Collect(h.ctrl.Submit(context.Background(), sess, in))
	require.NoError(t, err)
	return updates
}

func (h *harness) newSession(t *testing.T) *Session {
	t.Helper()
	sess, err := h.sessions.GetOrCreate(context.Background(), "")
	require.NoError(t, err)
	return sess
}

type roleType struct {
	Role domain.Role
	Type domain.MessageType
}

func shape(msgs []domain.Message) []roleType {
	out := make([]roleType, len(msgs))
	for i, m := range msgs {
		out[i] = roleType{m.Role, m.Type}
	}
	return out
}

func flags(updates []Update, kind UpdateKind) []bool {
	var out []bool
	for _, u := range updates {
		if u.Kind == kind {
			out = append(out, u.Flag)
		}
	}
	return out
}

// --- scenarios ---

func TestSubmit_PlainAnswer(t *testing.T) {
	stages := &fakeStages{
		next:     &NextAction{Next: ActionProceed},
		research: []*ResearchResult{{FullResponse: "Paris is the capital of France."}},
		related:  defaultRelated(),
	}
	h := newHarness(t, stages, false, 0)
	sess := h.newSession(t)

	updates := h.submit(t, sess, Submission{Form: domain.Form{"input": "capital of France"}})

	msgs := sess.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []roleType{
		{domain.RoleUser, domain.TypeInput},
		{domain.RoleAssistant, domain.TypeAnswer},
		{domain.RoleAssistant, domain.TypeRelated},
	}, shape(msgs))
	assert.Equal(t, "Paris is the capital of France.", msgs[1].Content)
	assert.NotEmpty(t, msgs[1].GroupID)
	assert.Equal(t, msgs[1].GroupID, msgs[2].GroupID)

	assert.Equal(t, []bool{true, false}, flags(updates, UpdateGenerating))
	assert.Equal(t, []bool{true}, flags(updates, UpdateCollapsed))
	assert.Equal(t, 1, stages.researchCalls)
	assert.Equal(t, 0, stages.writeCalls)

	saved := h.store.chats[sess.ID()]
	assert.Equal(t, "capital of France", saved.Title)
	assert.Equal(t, "/search/"+sess.ID(), saved.Path)
	assert.Equal(t, "tester", saved.UserID)
	assert.Len(t, saved.Messages, 3)
}

func TestSubmit_ClarificationPath(t *testing.T) {
	stages := &fakeStages{
		next:    &NextAction{Next: ActionInquire},
		inquiry: &domain.Inquiry{Question: "About what topic?", Options: []domain.InquiryOption{{Value: "a", Label: "A"}}},
	}
	h := newHarness(t, stages, false, 0)
	sess := h.newSession(t)

	updates := h.submit(t, sess, Submission{Form: domain.Form{"input": "tell me about it"}})

	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, roleType{domain.RoleAssistant, domain.TypeInquiry}, shape(msgs)[1])
	assert.Equal(t, "inquiry: About what topic?", msgs[1].Content)

	assert.Zero(t, stages.researchCalls)
	assert.Zero(t, stages.relatedCalls)
	assert.NotContains(t, flags(updates, UpdateCollapsed), true)
	assert.Equal(t, 1, h.store.saves)
}

func TestSubmit_SkipBypassesClassifier(t *testing.T) {
	stages := &fakeStages{
		next:     &NextAction{Next: ActionInquire},
		research: []*ResearchResult{{FullResponse: "Here is what I found."}},
		related:  defaultRelated(),
	}
	h := newHarness(t, stages, false, 0)
	sess := h.newSession(t)

	h.submit(t, sess, Submission{Skip: true})

	assert.Zero(t, stages.classifyCalls)
	assert.Zero(t, stages.inquireCalls)

	msgs := sess.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, domain.SkipContent, msgs[0].Content)
	assert.Equal(t, domain.TypeNone, msgs[0].Type)

	require.Len(t, stages.researchWindows, 1)
	w := stages.researchWindows[0]
	require.NotEmpty(t, w)
	assert.Equal(t, domain.SkipContent, w[len(w)-1].Content)
	assert.Equal(t, schema.User, w[len(w)-1].Role)
}

func TestSubmit_ToolOnlyModeFallsBackToWriter(t *testing.T) {
	results := domain.SearchResults{
		Query:           "capital of France",
		Results:         []domain.SearchResultItem{{Title: "Paris", URL: "https://example.com/paris", Content: "Paris is the capital."}},
		Images:          []string{},
		NumberOfResults: 1,
	}
	stages := &fakeStages{
		next:     &NextAction{Next: ActionProceed},
		research: []*ResearchResult{{ToolResponses: []ToolResponse{{ToolName: "search", Result: results}}}},
		answer:   "Paris is the capital of France [1](https://example.com/paris).",
		related:  defaultRelated(),
	}
	h := newHarness(t, stages, true, 0)
	sess := h.newSession(t)

	h.submit(t, sess, Submission{Form: domain.Form{"input": "capital of France"}})

	assert.Equal(t, 1, stages.researchCalls)
	require.Equal(t, 1, stages.writeCalls)

	var toolSeen bool
	for _, m := range stages.writeWindow {
		assert.NotEqual(t, schema.Tool, m.Role)
		if m.Role == schema.Assistant && json.Valid([]byte(m.Content)) {
			var got domain.SearchResults
			require.NoError(t, json.Unmarshal([]byte(m.Content), &got))
			assert.Equal(t, 1, got.NumberOfResults)
			toolSeen = true
		}
	}
	assert.True(t, toolSeen, "writer should see the tool output as an assistant message")

	msgs := sess.Messages()
	assert.Equal(t, []roleType{
		{domain.RoleUser, domain.TypeInput},
		{domain.RoleTool, domain.TypeTool},
		{domain.RoleAssistant, domain.TypeAnswer},
		{domain.RoleAssistant, domain.TypeRelated},
	}, shape(msgs))
	assert.Equal(t, "search", msgs[1].Name)
	assert.Equal(t, stages.answer, msgs[2].Content)
	assert.Equal(t, msgs[1].GroupID, msgs[2].GroupID)
}

func TestSubmit_SearchErrorIsContained(t *testing.T) {
	failure := `An error occurred while searching for "capital of France".`
	stages := &fakeStages{
		next: &NextAction{Next: ActionProceed},
		research: []*ResearchResult{{
			FullResponse:  failure,
			HasError:      true,
			ToolResponses: []ToolResponse{{ToolName: "search", Result: domain.EmptySearchResults("capital of France")}},
		}},
		related: defaultRelated(),
	}
	for _, single := range []bool{false, true} {
		t.Run(fmt.Sprintf("single=%v", single), func(t *testing.T) {
			stages.relatedCalls = 0
			h := newHarness(t, stages, single, 0)
			sess := h.newSession(t)

			h.submit(t, sess, Submission{Form: domain.Form{"input": "capital of France"}})

			var answers, related int
			for _, m := range sess.Messages() {
				switch m.Type {
				case domain.TypeAnswer:
					answers++
					assert.Equal(t, failure, m.Content)
				case domain.TypeRelated:
					related++
				}
			}
			assert.Equal(t, 1, answers)
			assert.Zero(t, related)
			assert.Zero(t, stages.relatedCalls)
			assert.Equal(t, 1, h.store.saves)
		})
	}
}

func TestSubmit_WindowIsTrimmedAndToolFree(t *testing.T) {
	stages := &fakeStages{
		next:     &NextAction{Next: ActionProceed},
		research: []*ResearchResult{{FullResponse: "ok"}},
		related:  defaultRelated(),
	}
	h := newHarness(t, stages, false, 0)
	sess := h.newSession(t)
	for i := 0; i < 12; i++ {
		sess.append(domain.NewAnswerMessage("g", fmt.Sprintf("answer %d", i)))
		tm, err := domain.NewToolMessage("g", "search", domain.EmptySearchResults("q"))
		require.NoError(t, err)
		sess.append(tm)
	}

	h.submit(t, sess, Submission{Form: domain.Form{"input": "latest"}})

	require.Len(t, stages.classifyWindows, 1)
	w := stages.classifyWindows[0]
	require.Len(t, w, 10)
	for _, m := range w {
		assert.NotEqual(t, schema.Tool, m.Role)
	}
	assert.Equal(t, "answer 3", w[0].Content)
	assert.JSONEq(t, `{"input":"latest"}`, w[9].Content)
}

func TestSubmit_ClassifierFailureProceeds(t *testing.T) {
	stages := &fakeStages{
		classifyErr: errors.New("model down"),
		research:    []*ResearchResult{{FullResponse: "answer"}},
		related:     defaultRelated(),
	}
	h := newHarness(t, stages, false, 0)
	sess := h.newSession(t)

	h.submit(t, sess, Submission{Form: domain.Form{"input": "q"}})

	assert.Equal(t, 1, stages.researchCalls)
	assert.Len(t, sess.Messages(), 3)
}

func TestSubmit_InquiryFailureFallsThroughToResearch(t *testing.T) {
	stages := &fakeStages{
		next:       &NextAction{Next: ActionInquire},
		inquireErr: errors.New("bad json"),
		research:   []*ResearchResult{{FullResponse: "answer"}},
		related:    defaultRelated(),
	}
	h := newHarness(t, stages, false, 0)
	sess := h.newSession(t)

	h.submit(t, sess, Submission{Form: domain.Form{"input": "q"}})

	for _, m := range sess.Messages() {
		assert.NotEqual(t, domain.TypeInquiry, m.Type)
	}
	assert.Equal(t, 1, stages.researchCalls)
}

func TestSubmit_WriterFailureCommitsFixedAnswer(t *testing.T) {
	stages := &fakeStages{
		next:     &NextAction{Next: ActionProceed},
		research: []*ResearchResult{{ToolResponses: []ToolResponse{{ToolName: "search", Result: domain.EmptySearchResults("q")}}}},
		writeErr: errors.New("writer down"),
		related:  defaultRelated(),
	}
	h := newHarness(t, stages, true, 0)
	sess := h.newSession(t)

	h.submit(t, sess, Submission{Form: domain.Form{"input": "q"}})

	msgs := sess.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, domain.TypeAnswer, last.Type)
	assert.Equal(t, writerFailureAnswer, last.Content)
	assert.Zero(t, stages.relatedCalls)
}

func TestSubmit_MultiStepStopsAtIterationCap(t *testing.T) {
	stages := &fakeStages{
		next:     &NextAction{Next: ActionProceed},
		research: []*ResearchResult{{ToolResponses: []ToolResponse{{ToolName: "search", Result: domain.EmptySearchResults("q")}}}},
		answer:   "summary",
		related:  defaultRelated(),
	}
	h := newHarness(t, stages, false, 3)
	sess := h.newSession(t)

	h.submit(t, sess, Submission{Form: domain.Form{"input": "q"}})

	assert.Equal(t, 3, stages.researchCalls)
	assert.Equal(t, 1, stages.writeCalls)

	var tools int
	for _, m := range sess.Messages() {
		if m.Role == domain.RoleTool {
			tools++
		}
	}
	assert.Equal(t, 3, tools)
}

func TestSubmit_MultiStepContinuesUntilAnswer(t *testing.T) {
	stages := &fakeStages{
		next: &NextAction{Next: ActionProceed},
		research: []*ResearchResult{
			{ToolResponses: []ToolResponse{{ToolName: "search", Result: domain.EmptySearchResults("q")}}},
			{FullResponse: "final"},
		},
		related: defaultRelated(),
	}
	h := newHarness(t, stages, false, 0)
	sess := h.newSession(t)

	h.submit(t, sess, Submission{Form: domain.Form{"input": "q"}})

	assert.Equal(t, 2, stages.researchCalls)
	assert.Zero(t, stages.writeCalls)
	msgs := sess.Messages()
	assert.Equal(t, "final", msgs[len(msgs)-2].Content)
}

func TestSubmit_RelatedUsesPreResearchWindow(t *testing.T) {
	stages := &fakeStages{
		next:     &NextAction{Next: ActionProceed},
		research: []*ResearchResult{{FullResponse: "answer"}},
		related:  defaultRelated(),
	}
	h := newHarness(t, stages, false, 0)
	sess := h.newSession(t)

	h.submit(t, sess, Submission{Form: domain.Form{"input": "q"}})

	require.Len(t, stages.relatedWindows, 1)
	w := stages.relatedWindows[0]
	require.Len(t, w, 1)
	assert.Equal(t, schema.User, w[0].Role)
}

func TestSubmit_LogOnlyGrows(t *testing.T) {
	stages := &fakeStages{
		next:     &NextAction{Next: ActionProceed},
		research: []*ResearchResult{{FullResponse: "answer"}},
		related:  defaultRelated(),
	}
	h := newHarness(t, stages, false, 0)
	sess := h.newSession(t)

	var prev []domain.Message
	for i := 0; i < 3; i++ {
		h.submit(t, sess, Submission{Form: domain.Form{"input": fmt.Sprintf("q%d", i)}})
		cur := sess.Messages()
		require.Len(t, cur, len(prev)+3)
		assert.Equal(t, prev, cur[:len(prev)])
		prev = cur
	}
}

func TestSubmit_TurnsOfOneChatAreSerialized(t *testing.T) {
	stages := &fakeStages{
		next:     &NextAction{Next: ActionProceed},
		research: []*ResearchResult{{FullResponse: "answer"}},
		related:  defaultRelated(),
	}
	h := newHarness(t, stages, false, 0)
	sess := h.newSession(t)

	first := h.ctrl.Submit(context.Background(), sess, Submission{Form: domain.Form{"input": "one"}})
	second := h.ctrl.Submit(context.Background(), sess, Submission{Form: domain.Form{"input": "two"}})
	_, err1 := Collect(first)
	_, err2 := Collect(second)
	require.NoError(t, err1)
	require.NoError(t, err2)

	msgs := sess.Messages()
	require.Len(t, msgs, 6)
	for i := 0; i < 6; i += 3 {
		assert.Equal(t, []roleType{
			{domain.RoleUser, domain.TypeInput},
			{domain.RoleAssistant, domain.TypeAnswer},
			{domain.RoleAssistant, domain.TypeRelated},
		}, shape(msgs[i:i+3]))
	}
}

func TestSubmit_CommitErrorIsReturned(t *testing.T) {
	stages := &fakeStages{
		next:     &NextAction{Next: ActionProceed},
		research: []*ResearchResult{{FullResponse: "answer"}},
		related:  defaultRelated(),
	}
	h := newHarness(t, stages, false, 0)
	h.store.err = errors.New("disk full")
	sess := h.newSession(t)

	_, err := Collect(h.ctrl.Submit(context.Background(), sess, Submission{Form: domain.Form{"input": "q"}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, sess.Messages(), 3)
}

func TestSubmit_SurvivesCallerCancellation(t *testing.T) {
	stages := &fakeStages{
		next:     &NextAction{Next: ActionProceed},
		research: []*ResearchResult{{FullResponse: "answer"}},
		related:  defaultRelated(),
	}
	h := newHarness(t, stages, false, 0)
	sess := h.newSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Collect(h.ctrl.Submit(ctx, sess, Submission{Form: domain.Form{"input": "q"}}))
	require.NoError(t, err)
	assert.Equal(t, 1, h.store.saves)
}

func TestSubmit_NoInquiryAndAnswerInSameTurn(t *testing.T) {
	for _, next := range []string{ActionProceed, ActionInquire} {
		stages := &fakeStages{
			next:     &NextAction{Next: next},
			inquiry:  &domain.Inquiry{Question: "which?"},
			research: []*ResearchResult{{FullResponse: "answer"}},
			related:  defaultRelated(),
		}
		h := newHarness(t, stages, false, 0)
		sess := h.newSession(t)
		h.submit(t, sess, Submission{Form: domain.Form{"input": "q"}})

		var inquiry, answer bool
		for _, m := range sess.Messages() {
			if m.Role == domain.RoleAssistant && m.Type == domain.TypeInquiry {
				inquiry = true
			}
			if m.Type == domain.TypeAnswer {
				answer = true
			}
		}
		assert.False(t, inquiry && answer, "next=%s", next)
		assert.True(t, inquiry || answer, "next=%s", next)
	}
}
