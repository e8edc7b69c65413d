package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"askweb/internal/config"
)

// Constructor builds a chat model from a provider entry.
type Constructor func(ctx context.Context, name string, pc config.ProviderConfig) (model.ToolCallingChatModel, error)

// Factory creates and caches chat models from config.
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger
	ctor   Constructor
	cache  map[string]model.ToolCallingChatModel
	mu     sync.RWMutex
}

// NewFactory creates a factory that builds OpenAI-compatible eino models.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:    cfg,
		logger: logger,
		ctor:   NewOpenAICompatible,
		cache:  make(map[string]model.ToolCallingChatModel),
	}
}

// SetConstructor replaces the model constructor. Cached models are dropped.
func (f *Factory) SetConstructor(ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctor = ctor
	f.cache = make(map[string]model.ToolCallingChatModel)
}

// Get returns the model for the named provider, or the default if name is empty.
// Created models are cached; double-checked locking avoids building twice.
func (f *Factory) Get(ctx context.Context, name string) (model.ToolCallingChatModel, error) {
	if name == "" {
		name = f.cfg.Model.Default
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers.ByName(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	m, err := f.ctor(ctx, name, pc)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	if pc.RateLimitPerMin > 0 {
		m = NewRateLimited(m, pc.RateLimitPerMin, pc.Burst)
	}

	f.logger.Debug("chat model created", "provider", name, "model", pc.DefaultModel)
	f.cache[name] = m
	return m, nil
}

// Default returns the model backing the classifier, inquiry, research and related stages.
func (f *Factory) Default(ctx context.Context) (model.ToolCallingChatModel, error) {
	return f.Get(ctx, "")
}

// Writer returns the model backing the answer finalizer.
func (f *Factory) Writer(ctx context.Context) (model.ToolCallingChatModel, error) {
	return f.Get(ctx, f.cfg.WriterProvider())
}

// NewOpenAICompatible builds an eino OpenAI chat model pointed at the
// provider's base URL. Ollama and Groq expose the same API.
func NewOpenAICompatible(ctx context.Context, name string, pc config.ProviderConfig) (model.ToolCallingChatModel, error) {
	if pc.DefaultModel == "" {
		return nil, fmt.Errorf("no model configured")
	}
	key := pc.APIKey
	if key == "" {
		if name != "ollama" {
			return nil, fmt.Errorf("api key not configured")
		}
		key = "ollama"
	}
	timeout := time.Duration(pc.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:   pc.DefaultModel,
		APIKey:  key,
		BaseURL: pc.APIBase,
		Timeout: timeout,
	})
}
