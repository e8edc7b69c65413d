package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"askweb/internal/domain"
	"askweb/internal/metrics"
	"askweb/internal/tracing"
	"askweb/internal/view"
)

const (
	defaultMaxIterations = 10

	// writerFailureAnswer is committed when the writer model fails outright.
	writerFailureAnswer = "An error occurred while writing the answer."
	// researchFailureAnswer is committed when a research step cannot run at all.
	researchFailureAnswer = "An error occurred while researching your question."
)

// Submission is one user action: a submitted form, or a skipped inquiry.
type Submission struct {
	Form domain.Form
	Skip bool
}

// Controller sequences a turn: classify, inquire or research, write,
// suggest follow-ups, commit.
type Controller struct {
	classifier     Classifier
	inquirer       Inquirer
	researcher     Researcher
	writer         Writer
	related        RelatedSuggester
	sessions       *SessionManager
	logger         *slog.Logger
	singleToolCall bool
	maxIterations  int
}

// ControllerConfig holds the collaborators of a Controller.
type ControllerConfig struct {
	Classifier     Classifier
	Inquirer       Inquirer
	Researcher     Researcher
	Writer         Writer
	Related        RelatedSuggester
	Sessions       *SessionManager
	Logger         *slog.Logger
	SingleToolCall bool
	MaxIterations  int
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		classifier:     cfg.Classifier,
		inquirer:       cfg.Inquirer,
		researcher:     cfg.Researcher,
		writer:         cfg.Writer,
		related:        cfg.Related,
		sessions:       cfg.Sessions,
		logger:         cfg.Logger,
		singleToolCall: cfg.SingleToolCall,
		maxIterations:  cfg.MaxIterations,
	}
}

// NewControllerFromLLM wires every stage to the same LLM.
func NewControllerFromLLM(llm *LLM, sessions *SessionManager, singleToolCall bool, maxIterations int, logger *slog.Logger) *Controller {
	return NewController(ControllerConfig{
		Classifier:     llm,
		Inquirer:       llm,
		Researcher:     llm,
		Writer:         llm,
		Related:        llm,
		Sessions:       sessions,
		Logger:         logger,
		SingleToolCall: singleToolCall,
		MaxIterations:  maxIterations,
	})
}

// Sessions returns the session manager the controller commits through.
func (c *Controller) Sessions() *SessionManager { return c.sessions }

// Submit starts a turn and returns its handle immediately. The turn keeps
// running if ctx is cancelled; only collaborator timeouts bound it.
func (c *Controller) Submit(ctx context.Context, sess *Session, in Submission) *Turn {
	turn := newTurn(domain.NewID())
	turn.Emit(Update{Kind: UpdateGenerating, Flag: true})

	ctx = context.WithoutCancel(ctx)
	go func() {
		s := c.sessions.acquire(sess)
		s.turn.Lock()
		c.sessions.refresh(ctx, s)

		metrics.ActiveTurns.Inc()
		err := c.run(ctx, s, in, turn)
		metrics.ActiveTurns.Dec()

		s.turn.Unlock()
		c.sessions.release(s)
		turn.finish(err)
	}()
	return turn
}

type turnState struct {
	outcome       string
	iterations    int
	errorOccurred bool
}

func (c *Controller) run(ctx context.Context, sess *Session, in Submission, turn *Turn) (err error) {
	start := time.Now()
	ctx, span := tracing.StartTurn(ctx, sess.ID(), turn.ID)
	st := &turnState{outcome: "answer"}
	defer func() {
		if err != nil {
			st.outcome = "error"
		}
		metrics.ObserveTurn(st.outcome, start, st.iterations)
		tracing.End(span, err)
	}()

	logger := c.logger.With("chat_id", sess.ID(), "turn_id", turn.ID)
	maxMessages := MaxMessages(c.singleToolCall)

	if msg, ok, err := userMessage(in); err != nil {
		logger.Warn("invalid submission", "err", err)
	} else if ok {
		sess.append(msg)
	}
	window := NewWindow(TrimWindow(sess.Messages(), maxMessages))

	if !in.Skip && c.classify(ctx, logger, window) == ActionInquire {
		if done := c.inquire(ctx, logger, sess, turn, window); done {
			st.outcome = "inquiry"
			turn.Emit(Update{Kind: UpdateCollapsed, Flag: false})
			turn.Emit(Update{Kind: UpdateGenerating, Flag: false})
			return c.commit(ctx, logger, sess)
		}
	}

	turn.Emit(Update{Kind: UpdateCollapsed, Flag: true})
	snapshot := window.Clone()
	groupID := domain.NewID()
	text := NewTextBuffer(turn)

	answer := c.research(ctx, logger, sess, turn, text, window, groupID, st)

	if strings.TrimSpace(answer) == "" {
		answer = c.write(ctx, logger, sess, turn, text, maxMessages, st)
	}

	answerMsg := domain.NewAnswerMessage(groupID, answer)
	sess.append(answerMsg)
	turn.Emit(Update{Kind: UpdateAppend, Node: view.Project(answerMsg)})

	if !st.errorOccurred {
		c.suggest(ctx, logger, sess, turn, snapshot, groupID)
	} else {
		st.outcome = "answer_error"
	}

	turn.Emit(Update{Kind: UpdateGenerating, Flag: false})
	return c.commit(ctx, logger, sess)
}

// userMessage builds the user entry of a turn. ok is false when the
// submission carries nothing to record.
func userMessage(in Submission) (domain.Message, bool, error) {
	if in.Skip {
		return domain.NewSkipMessage(), true, nil
	}
	if len(in.Form) == 0 {
		return domain.Message{}, false, nil
	}
	m, err := domain.NewUserMessage(in.Form)
	if err != nil {
		return domain.Message{}, false, err
	}
	return m, true, nil
}

// classify never fails the turn: no usable decision means proceed.
func (c *Controller) classify(ctx context.Context, logger *slog.Logger, window *Window) string {
	if c.classifier == nil {
		return ActionProceed
	}
	next, err := c.classifier.Classify(ctx, window.Messages())
	if err != nil {
		logger.Warn("classifier failed, proceeding", "err", err)
		return ActionProceed
	}
	if next == nil || next.Next == "" {
		return ActionProceed
	}
	return next.Next
}

// inquire reports whether the turn ended with a clarifying question. A failed
// inquiry falls through to research.
func (c *Controller) inquire(ctx context.Context, logger *slog.Logger, sess *Session, turn *Turn, window *Window) bool {
	inq, err := c.inquirer.Inquire(ctx, turn, window.Messages())
	if err != nil || inq == nil || strings.TrimSpace(inq.Question) == "" {
		logger.Warn("inquiry failed, researching instead", "err", err)
		return false
	}
	sess.append(domain.NewInquiryMessage(inq.Question))
	return true
}

func (c *Controller) research(ctx context.Context, logger *slog.Logger, sess *Session, turn *Turn, text *TextBuffer, window *Window, groupID string, st *turnState) string {
	var answer string
	for st.iterations < c.maxIterations {
		st.iterations++
		res, err := c.researcher.Research(ctx, turn, text, window, c.singleToolCall)
		if err != nil {
			logger.Error("research step failed", "iteration", st.iterations, "err", err)
			st.errorOccurred = true
			text.Set(researchFailureAnswer)
			return researchFailureAnswer
		}
		if res.HasError {
			st.errorOccurred = true
		}

		for _, tr := range res.ToolResponses {
			msg, err := domain.NewToolMessage(groupID, tr.ToolName, tr.Result)
			if err != nil {
				logger.Error("cannot record tool output", "tool", tr.ToolName, "err", err)
				st.errorOccurred = true
				continue
			}
			sess.append(msg)
			turn.Emit(Update{Kind: UpdateAppend, Node: view.Project(msg)})
		}

		answer = res.FullResponse
		hasAnswer := strings.TrimSpace(answer) != ""
		if c.singleToolCall && (len(res.ToolResponses) > 0 || hasAnswer) {
			break
		}
		if !c.singleToolCall && hasAnswer {
			break
		}
	}
	if st.iterations >= c.maxIterations && strings.TrimSpace(answer) == "" {
		logger.Warn("research iteration cap reached without an answer", "iterations", st.iterations)
	}
	return answer
}

// write derives the answer from the tool outputs recorded so far.
func (c *Controller) write(ctx context.Context, logger *slog.Logger, sess *Session, turn *Turn, text *TextBuffer, maxMessages int, st *turnState) string {
	history := NewWindow(ReinterpretTools(sess.Messages(), maxMessages))
	answer, err := c.writer.Write(ctx, turn, text, history.Messages())
	if err != nil || strings.TrimSpace(answer) == "" {
		logger.Error("writer failed", "err", err)
		st.errorOccurred = true
		text.Set(writerFailureAnswer)
		return writerFailureAnswer
	}
	return answer
}

func (c *Controller) suggest(ctx context.Context, logger *slog.Logger, sess *Session, turn *Turn, window *Window, groupID string) {
	if c.related == nil {
		return
	}
	related, err := c.related.Suggest(ctx, turn, window.Messages())
	if err != nil || related == nil || len(related.Items) == 0 {
		logger.Warn("related queries skipped", "err", err)
		return
	}
	msg, err := domain.NewRelatedMessage(groupID, *related)
	if err != nil {
		logger.Warn("related queries skipped", "err", err)
		return
	}
	sess.append(msg)
	turn.Emit(Update{Kind: UpdateAppend, Node: view.Project(msg)})
}

func (c *Controller) commit(ctx context.Context, logger *slog.Logger, sess *Session) error {
	if c.sessions == nil {
		return nil
	}
	if err := c.sessions.Commit(ctx, sess); err != nil {
		logger.Error("commit failed", "err", err)
		return fmt.Errorf("commit turn: %w", err)
	}
	return nil
}
