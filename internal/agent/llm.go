package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"askweb/internal/metrics"
	"askweb/internal/tool"
	"askweb/internal/tracing"
)

// LLM implements every reasoning stage of a turn on eino chat models.
type LLM struct {
	model   model.ToolCallingChatModel
	writer  model.ToolCallingChatModel
	tools   *tool.Registry
	prompts *Prompts
	logger  *slog.Logger
	now     func() time.Time
}

// LLMConfig holds the models and prompts used by the stages.
type LLMConfig struct {
	Model model.ToolCallingChatModel
	// Writer backs the answer finalizer. Model is used when nil.
	Writer  model.ToolCallingChatModel
	Tools   *tool.Registry
	Prompts *Prompts
	Logger  *slog.Logger
	Now     func() time.Time
}

func NewLLM(cfg LLMConfig) *LLM {
	if cfg.Writer == nil {
		cfg.Writer = cfg.Model
	}
	if cfg.Prompts == nil {
		cfg.Prompts = DefaultPrompts()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LLM{
		model:   cfg.Model,
		writer:  cfg.Writer,
		tools:   cfg.Tools,
		prompts: cfg.Prompts,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

func (l *LLM) generate(ctx context.Context, m model.ToolCallingChatModel, stage string, msgs []*schema.Message) (*schema.Message, error) {
	ctx, span := tracing.Start(ctx, stage)
	start := time.Now()
	out, err := m.Generate(ctx, msgs)
	metrics.ObserveLLM(stage, start, err)
	tracing.End(span, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stage, err)
	}
	return out, nil
}

// stream runs a streaming call, handing every chunk to onChunk. When the
// stream breaks midway the chunks received so far are returned with the
// error; a nil message means the call never started.
func (l *LLM) stream(ctx context.Context, m model.ToolCallingChatModel, stage string, msgs []*schema.Message, onChunk func(*schema.Message)) (*schema.Message, error) {
	ctx, span := tracing.Start(ctx, stage)
	start := time.Now()

	sr, err := m.Stream(ctx, msgs)
	if err != nil {
		metrics.ObserveLLM(stage, start, err)
		tracing.End(span, err)
		return nil, fmt.Errorf("%s: %w", stage, err)
	}
	defer sr.Close()

	var (
		chunks  []*schema.Message
		recvErr error
	)
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			recvErr = fmt.Errorf("%s stream: %w", stage, err)
			break
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	metrics.ObserveLLM(stage, start, recvErr)
	tracing.End(span, recvErr)

	if len(chunks) == 0 {
		return &schema.Message{Role: schema.Assistant}, recvErr
	}
	msg, err := schema.ConcatMessages(chunks)
	if err != nil {
		return &schema.Message{Role: schema.Assistant}, fmt.Errorf("%s: concat stream: %w", stage, err)
	}
	return msg, recvErr
}
