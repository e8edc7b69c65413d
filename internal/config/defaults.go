package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:   "~/.askweb",
			LogLevel:  "info",
			LogFormat: "text",
			UserID:    "anonymous",
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				Enabled:         true,
				APIBase:         "https://api.openai.com/v1",
				DefaultModel:    "gpt-4o",
				TimeoutSeconds:  120,
				RateLimitPerMin: 60,
				Burst:           10,
			},
			Ollama: ProviderConfig{
				Enabled:        true,
				APIBase:        "http://localhost:11434/v1",
				DefaultModel:   "llama3.1:8b",
				TimeoutSeconds: 300,
			},
			Groq: ProviderConfig{
				Enabled:         true,
				APIBase:         "https://api.groq.com/openai/v1",
				DefaultModel:    "llama-3.1-70b-versatile",
				TimeoutSeconds:  60,
				RateLimitPerMin: 30,
				Burst:           5,
			},
			Custom: ProviderConfig{
				Enabled:        true,
				TimeoutSeconds: 120,
			},
		},
		Model: ModelConfig{
			Default: "openai",
		},
		Agent: AgentConfig{
			SingleToolCall: false,
			MaxIterations:  10,
		},
		Search: SearchConfig{
			Provider:       "tavily",
			TimeoutSeconds: 15,
			Retries:        1,
			Cache: CacheConfig{
				Enabled:    false,
				Type:       "memory",
				TTLSeconds: 3600,
			},
		},
		Tools: ToolsConfig{
			Retrieve:    true,
			VideoSearch: true,
		},
		Store: StoreConfig{
			Type:       "sqlite",
			SQLitePath: "~/.askweb/chats.db",
		},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			WebSocket: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			ServiceName: "askweb",
			Endpoint:    "localhost:4318",
			Insecure:    true,
			SampleRatio: 1,
		},
	}
}
