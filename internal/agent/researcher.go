package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"askweb/internal/tool"
)

const streamErrorSuffix = "\nError occurred while executing the tool"

// ToolResponse is one tool output produced by a research step.
type ToolResponse struct {
	ToolName string
	Result   any
}

// ResearchResult is the outcome of one research step.
type ResearchResult struct {
	FullResponse  string
	HasError      bool
	ToolResponses []ToolResponse
}

// Researcher runs one reasoning step that may call tools.
type Researcher interface {
	Research(ctx context.Context, ui Emitter, text *TextBuffer, window *Window, singleToolCall bool) (*ResearchResult, error)
}

func (l *LLM) Research(ctx context.Context, ui Emitter, text *TextBuffer, window *Window, singleToolCall bool) (*ResearchResult, error) {
	prompt := l.prompts.Researcher
	if singleToolCall {
		prompt = l.prompts.ResearcherSingle
	}

	m, err := l.researchModel()
	if err != nil {
		return nil, err
	}

	res := &ResearchResult{}
	text.Reset()
	msg, err := l.stream(ctx, m, "research", withSystem(render(prompt, l.now()), window.Messages()), func(c *schema.Message) {
		text.Append(c.Content)
	})
	if msg == nil {
		l.logger.Error("research model call failed", "err", err)
		res.HasError = true
		res.FullResponse = "Error: " + err.Error()
		text.Set(res.FullResponse)
		return res, nil
	}

	content := stripRolePrefix(msg.Content)
	calls := msg.ToolCalls
	if len(calls) == 0 && l.tools != nil {
		if extracted := extractToolCallsFromContent(content); len(extracted) > 0 && l.tools.Get(extracted[0].Function.Name) != nil {
			l.logger.Debug("tool call recovered from content", "tool", extracted[0].Function.Name)
			calls = extracted
			content = ""
			text.Reset()
		}
	}
	if singleToolCall && len(calls) > 1 {
		calls = calls[:1]
	}

	res.FullResponse = content
	if err != nil {
		l.logger.Warn("research stream failed", "err", err)
		res.HasError = true
		res.FullResponse += streamErrorSuffix
		text.Append(streamErrorSuffix)
	}

	window.Append(schema.AssistantMessage(content, calls))
	for _, call := range calls {
		l.runTool(ctx, call, res, text, window)
	}
	return res, nil
}

func (l *LLM) researchModel() (model.ToolCallingChatModel, error) {
	if l.tools == nil || len(l.tools.Names()) == 0 {
		return l.model, nil
	}
	bound, err := l.model.WithTools(l.tools.Infos())
	if err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}
	return bound, nil
}

// runTool executes one call, records its output and feeds it back into the
// window. A degraded result replaces the step's answer with its failure sentence.
func (l *LLM) runTool(ctx context.Context, call schema.ToolCall, res *ResearchResult, text *TextBuffer, window *Window) {
	name := call.Function.Name
	args, err := tool.ParseArgs(call.Function.Arguments)
	var out *toolOutcome
	if err == nil {
		out = l.execute(ctx, name, args)
	} else {
		out = &toolOutcome{err: err}
	}

	if out.err != nil {
		l.logger.Error("tool failed", "tool", name, "err", out.err)
		res.HasError = true
		res.FullResponse = fmt.Sprintf("An error occurred while running the %s tool.", name)
		text.Set(res.FullResponse)
		window.Append(schema.ToolMessage("error: "+out.err.Error(), call.ID))
		return
	}

	if out.failure != "" {
		res.HasError = true
		res.FullResponse = out.failure
		text.Set(out.failure)
	}
	data, err := json.Marshal(out.output)
	if err != nil {
		data = []byte(`{}`)
	}
	window.Append(schema.ToolMessage(string(data), call.ID))
	res.ToolResponses = append(res.ToolResponses, ToolResponse{ToolName: name, Result: out.output})
}

type toolOutcome struct {
	output  any
	failure string
	err     error
}

func (l *LLM) execute(ctx context.Context, name string, args map[string]any) *toolOutcome {
	if l.tools == nil {
		return &toolOutcome{err: fmt.Errorf("unknown tool: %s", name)}
	}
	r, err := l.tools.Execute(ctx, name, args)
	if err != nil {
		return &toolOutcome{err: err}
	}
	return &toolOutcome{output: r.Output, failure: r.Failure}
}
