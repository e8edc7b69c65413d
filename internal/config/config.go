package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration for askweb.
type Config struct {
	General   GeneralConfig   `json:"general" mapstructure:"general"`
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`
	Model     ModelConfig     `json:"model" mapstructure:"model"`
	Agent     AgentConfig     `json:"agent" mapstructure:"agent"`
	Search    SearchConfig    `json:"search" mapstructure:"search"`
	Tools     ToolsConfig     `json:"tools" mapstructure:"tools"`
	Store     StoreConfig     `json:"store" mapstructure:"store"`
	Server    ServerConfig    `json:"server" mapstructure:"server"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
	Tracing   TracingConfig   `json:"tracing" mapstructure:"tracing"`
}

type GeneralConfig struct {
	DataDir   string `json:"dataDir" mapstructure:"dataDir"`
	LogLevel  string `json:"logLevel" mapstructure:"logLevel"`
	LogFormat string `json:"logFormat" mapstructure:"logFormat"` // "text" | "json"
	LogFile   string `json:"logFile,omitempty" mapstructure:"logFile"`
	UserID    string `json:"userId" mapstructure:"userId"`
}

// ProvidersConfig holds the OpenAI-compatible endpoints the agent can use.
type ProvidersConfig struct {
	OpenAI ProviderConfig `json:"openai" mapstructure:"openai"`
	Ollama ProviderConfig `json:"ollama" mapstructure:"ollama"`
	Groq   ProviderConfig `json:"groq" mapstructure:"groq"`
	// Custom is any other OpenAI-compatible endpoint, typically used for the
	// answer writer in single-tool-call mode.
	Custom ProviderConfig `json:"custom" mapstructure:"custom"`
}

type ProviderConfig struct {
	Enabled         bool   `json:"enabled" mapstructure:"enabled"`
	APIBase         string `json:"apiBase,omitempty" mapstructure:"apiBase"`
	APIKey          string `json:"apiKey,omitempty" mapstructure:"apiKey"`
	DefaultModel    string `json:"defaultModel,omitempty" mapstructure:"defaultModel"`
	TimeoutSeconds  int    `json:"timeoutSeconds,omitempty" mapstructure:"timeoutSeconds"`
	RateLimitPerMin int    `json:"rateLimitPerMinute,omitempty" mapstructure:"rateLimitPerMinute"`
	Burst           int    `json:"burst,omitempty" mapstructure:"burst"`
}

// ModelConfig names which provider backs each stage.
type ModelConfig struct {
	Default string `json:"default" mapstructure:"default"`
	// Writer is the provider for the answer writer. Empty means Default,
	// unless single-tool-call mode is on and the custom provider is set.
	Writer string `json:"writer,omitempty" mapstructure:"writer"`
}

type AgentConfig struct {
	SingleToolCall bool   `json:"singleToolCall" mapstructure:"singleToolCall"`
	MaxIterations  int    `json:"maxIterations" mapstructure:"maxIterations"`
	PromptsFile    string `json:"promptsFile,omitempty" mapstructure:"promptsFile"`
}

type SearchConfig struct {
	Provider       string      `json:"provider" mapstructure:"provider"` // "tavily" | "exa" | "searxng"
	TavilyAPIKey   string      `json:"tavilyApiKey,omitempty" mapstructure:"tavilyApiKey"`
	ExaAPIKey      string      `json:"exaApiKey,omitempty" mapstructure:"exaApiKey"`
	SearXNGURL     string      `json:"searxngUrl,omitempty" mapstructure:"searxngUrl"`
	TimeoutSeconds int         `json:"timeoutSeconds" mapstructure:"timeoutSeconds"`
	Retries        int         `json:"retries" mapstructure:"retries"`
	Cache          CacheConfig `json:"cache" mapstructure:"cache"`
}

type CacheConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Type       string `json:"type" mapstructure:"type"` // "memory" | "redis"
	RedisURL   string `json:"redisUrl,omitempty" mapstructure:"redisUrl"`
	TTLSeconds int    `json:"ttlSeconds" mapstructure:"ttlSeconds"`
}

type ToolsConfig struct {
	Retrieve     bool   `json:"retrieve" mapstructure:"retrieve"`
	JinaAPIKey   string `json:"jinaApiKey,omitempty" mapstructure:"jinaApiKey"`
	VideoSearch  bool   `json:"videoSearch" mapstructure:"videoSearch"`
	SerperAPIKey string `json:"serperApiKey,omitempty" mapstructure:"serperApiKey"`
}

type StoreConfig struct {
	Type        string `json:"type" mapstructure:"type"` // "sqlite" | "postgres" | "redis" | "memory"
	SQLitePath  string `json:"sqlitePath" mapstructure:"sqlitePath"`
	PostgresURL string `json:"postgresUrl,omitempty" mapstructure:"postgresUrl"`
	RedisURL    string `json:"redisUrl,omitempty" mapstructure:"redisUrl"`
}

type ServerConfig struct {
	Host           string   `json:"host" mapstructure:"host"`
	Port           int      `json:"port" mapstructure:"port"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty" mapstructure:"allowedOrigins"`
	WebSocket      bool     `json:"websocket" mapstructure:"websocket"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"serviceName" mapstructure:"serviceName"`
	Endpoint    string  `json:"endpoint" mapstructure:"endpoint"`
	Insecure    bool    `json:"insecure" mapstructure:"insecure"`
	SampleRatio float64 `json:"sampleRatio" mapstructure:"sampleRatio"`
}

// envBindings maps config keys to the conventional environment variables
// that also configure them. ASKWEB_<SECTION>_<KEY> works for every key.
var envBindings = map[string][]string{
	"providers.openai.apiKey":       {"OPENAI_API_KEY"},
	"providers.openai.apiBase":      {"OPENAI_API_BASE", "OPENAI_BASE_URL"},
	"providers.openai.defaultModel": {"OPENAI_API_MODEL"},
	"providers.ollama.apiBase":      {"OLLAMA_BASE_URL"},
	"providers.ollama.defaultModel": {"OLLAMA_MODEL"},
	"providers.groq.apiKey":         {"GROQ_API_KEY"},
	"providers.groq.defaultModel":   {"GROQ_API_MODEL"},
	"providers.custom.apiKey":       {"SPECIFIC_API_KEY"},
	"providers.custom.apiBase":      {"SPECIFIC_API_BASE"},
	"providers.custom.defaultModel": {"SPECIFIC_API_MODEL"},
	"agent.singleToolCall":          {"USE_SPECIFIC_API_FOR_WRITER"},
	"search.provider":               {"SEARCH_API"},
	"search.tavilyApiKey":           {"TAVILY_API_KEY"},
	"search.exaApiKey":              {"EXA_API_KEY"},
	"search.searxngUrl":             {"SEARXNG_API_URL"},
	"tools.serperApiKey":            {"SERPER_API_KEY"},
	"tools.jinaApiKey":              {"JINA_API_KEY"},
	"store.postgresUrl":             {"DATABASE_URL"},
	"store.redisUrl":                {"REDIS_URL"},
}

// DefaultConfigDir returns the default config directory (~/.askweb).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".askweb"
	}
	return filepath.Join(home, ".askweb")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the JSON config at path and overlays environment variables.
// The file must exist.
func Load(path string) (*Config, error) {
	return load(path, true)
}

// LoadOrDefaults is Load, except a missing file yields defaults plus
// environment overrides.
func LoadOrDefaults(path string) (*Config, error) {
	return load(path, false)
}

func load(path string, requireFile bool) (*Config, error) {
	path = ExpandPath(path)

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("ASKWEB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, val := range ListPaths(Defaults()) {
		v.SetDefault(key, val)
	}
	for key, envs := range envBindings {
		args := append([]string{key, "ASKWEB_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !requireFile:
	default:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.SQLitePath = ExpandPath(cfg.Store.SQLitePath)
	cfg.Agent.PromptsFile = ExpandPath(cfg.Agent.PromptsFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if _, ok := cfg.Providers.ByName(cfg.Model.Default); !ok {
		errs = append(errs, fmt.Sprintf("model.default references unknown provider: %s", cfg.Model.Default))
	}
	if cfg.Model.Writer != "" {
		if _, ok := cfg.Providers.ByName(cfg.Model.Writer); !ok {
			errs = append(errs, fmt.Sprintf("model.writer references unknown provider: %s", cfg.Model.Writer))
		}
	}

	if cfg.Agent.MaxIterations < 1 || cfg.Agent.MaxIterations > 50 {
		errs = append(errs, "agent.maxIterations must be between 1 and 50")
	}

	switch strings.ToLower(cfg.Search.Provider) {
	case "tavily", "exa", "searxng":
	default:
		errs = append(errs, "search.provider must be one of: tavily, exa, searxng")
	}
	if cfg.Search.TimeoutSeconds < 1 {
		errs = append(errs, "search.timeoutSeconds must be >= 1")
	}
	if cfg.Search.Cache.Enabled {
		switch cfg.Search.Cache.Type {
		case "memory":
		case "redis":
			if cfg.Search.Cache.RedisURL == "" && cfg.Store.RedisURL == "" {
				errs = append(errs, "search.cache.redisUrl (or store.redisUrl) is required for a redis cache")
			}
		default:
			errs = append(errs, "search.cache.type must be one of: memory, redis")
		}
	}

	switch cfg.Store.Type {
	case "sqlite":
		if cfg.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlitePath is required for the sqlite store")
		}
	case "postgres":
		if cfg.Store.PostgresURL == "" {
			errs = append(errs, "store.postgresUrl is required for the postgres store")
		}
	case "redis":
		if cfg.Store.RedisURL == "" {
			errs = append(errs, "store.redisUrl is required for the redis store")
		}
	case "memory":
	default:
		errs = append(errs, "store.type must be one of: sqlite, postgres, redis, memory")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, "tracing.endpoint is required when tracing is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ByName returns the provider entry with the given name.
func (p ProvidersConfig) ByName(name string) (ProviderConfig, bool) {
	switch name {
	case "openai":
		return p.OpenAI, true
	case "ollama":
		return p.Ollama, true
	case "groq":
		return p.Groq, true
	case "custom":
		return p.Custom, true
	}
	return ProviderConfig{}, false
}

// WriterProvider resolves which provider backs the answer writer.
func (c *Config) WriterProvider() string {
	if c.Model.Writer != "" {
		return c.Model.Writer
	}
	if c.Agent.SingleToolCall && c.Providers.Custom.APIBase != "" {
		return "custom"
	}
	return c.Model.Default
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
