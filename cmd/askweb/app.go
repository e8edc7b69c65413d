package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"askweb/internal/agent"
	"askweb/internal/cache"
	"askweb/internal/config"
	"askweb/internal/domain"
	"askweb/internal/provider"
	"askweb/internal/search"
	"askweb/internal/store"
	"askweb/internal/tool"
	"askweb/internal/tracing"
)

// app is the wired object graph shared by chat, serve and search.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      domain.ChatStore
	search     domain.SearchProvider
	tools      *tool.Registry
	controller *agent.Controller

	closers []func() error
}

type appOptions struct {
	// Ephemeral keeps chats in memory instead of the configured store.
	Ephemeral bool
	// Constructor overrides how provider models are built.
	Constructor provider.Constructor
	// SearchOnly skips the models and the chat store.
	SearchOnly bool
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	shutdown, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(sctx)
	})

	if a.search, err = a.buildSearch(ctx); err != nil {
		return nil, err
	}
	a.tools = a.buildTools()
	if opts.SearchOnly {
		return a, nil
	}

	if opts.Ephemeral {
		a.store = store.NewMemoryStore()
	} else if a.store, err = store.New(ctx, cfg.Store, logger); err != nil {
		return nil, fmt.Errorf("open chat store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	factory := provider.NewFactory(cfg, logger)
	if opts.Constructor != nil {
		factory.SetConstructor(opts.Constructor)
	}
	primary, err := factory.Default(ctx)
	if err != nil {
		return nil, fmt.Errorf("default model: %w", err)
	}
	writer, err := factory.Writer(ctx)
	if err != nil {
		return nil, fmt.Errorf("writer model: %w", err)
	}

	prompts := agent.DefaultPrompts()
	if cfg.Agent.PromptsFile != "" {
		if prompts, err = agent.LoadPrompts(cfg.Agent.PromptsFile); err != nil {
			return nil, err
		}
	}

	llm := agent.NewLLM(agent.LLMConfig{
		Model:   primary,
		Writer:  writer,
		Tools:   a.tools,
		Prompts: prompts,
		Logger:  logger,
	})
	sessions := agent.NewSessionManager(a.store, cfg.General.UserID, logger)
	a.controller = agent.NewControllerFromLLM(llm, sessions, cfg.Agent.SingleToolCall, cfg.Agent.MaxIterations, logger)
	return a, nil
}

func (a *app) buildSearch(ctx context.Context) (domain.SearchProvider, error) {
	sc := a.cfg.Search
	scfg := search.Config{
		Provider:   sc.Provider,
		TavilyKey:  sc.TavilyAPIKey,
		ExaKey:     sc.ExaAPIKey,
		SearXNGURL: sc.SearXNGURL,
		Timeout:    time.Duration(sc.TimeoutSeconds) * time.Second,
		Retries:    sc.Retries,
		Logger:     a.logger,
	}
	if sc.Cache.Enabled {
		redisURL := sc.Cache.RedisURL
		if redisURL == "" {
			redisURL = a.cfg.Store.RedisURL
		}
		c, err := cache.New(ctx, cache.Config{Type: sc.Cache.Type, RedisURL: redisURL})
		if err != nil {
			return nil, fmt.Errorf("open search cache: %w", err)
		}
		a.closers = append(a.closers, c.Close)
		scfg.Cache = c
		scfg.CacheTTL = time.Duration(sc.Cache.TTLSeconds) * time.Second
	}
	return search.New(scfg)
}

// buildTools registers search always; the extra tools only when enabled and,
// for video search, credentialed.
func (a *app) buildTools() *tool.Registry {
	reg := tool.NewRegistry(a.logger)
	reg.Register(tool.NewWebSearchTool(a.search, a.logger))
	if a.cfg.Tools.Retrieve {
		reg.Register(tool.NewRetrieveTool(a.cfg.Tools.JinaAPIKey, "", a.logger))
	}
	if a.cfg.Tools.VideoSearch && a.cfg.Tools.SerperAPIKey != "" {
		reg.Register(tool.NewVideoSearchTool(a.cfg.Tools.SerperAPIKey, "", a.logger))
	}
	a.logger.Debug("tools registered", "tools", reg.Names())
	return reg
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
