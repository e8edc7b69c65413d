package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"askweb/internal/domain"
	"askweb/internal/metrics"
	"askweb/internal/tracing"

	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
)

// Registry holds all available tools and executes them.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

func (r *Registry) Register(t domain.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.logger.Debug("registered tool", "name", t.Name())
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Execute runs the named tool. A degraded result (Failure set) is not an error.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*domain.ToolResult, error) {
	t := r.Get(name)
	if t == nil {
		return nil, fmt.Errorf("unknown tool: %s (available: %v)", name, r.Names())
	}

	ctx, span := tracing.Start(ctx, "tool", attribute.String("tool.name", name))
	start := time.Now()
	res, err := t.Execute(ctx, args)
	metrics.ObserveTool(name, start, err != nil || (res != nil && res.Failure != ""))
	tracing.End(span, err)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	if res == nil {
		res = &domain.ToolResult{}
	}
	r.logger.Debug("tool executed", "name", name, "failed", res.Failure != "", "duration", time.Since(start))
	return res, nil
}

// Infos returns tool schemas for binding to a chat model, sorted by name.
func (r *Registry) Infos() []*schema.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]*schema.ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, ToolInfo(t))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ToolInfo converts a tool's parameter description to the eino schema.
func ToolInfo(t domain.Tool) *schema.ToolInfo {
	params := make(map[string]*schema.ParameterInfo, len(t.Parameters()))
	for name, p := range t.Parameters() {
		info := &schema.ParameterInfo{
			Type:     schema.DataType(p.Type),
			Desc:     p.Description,
			Required: p.Required,
			Enum:     p.Enum,
		}
		if p.ItemType != "" {
			info.ElemInfo = &schema.ParameterInfo{Type: schema.DataType(p.ItemType)}
		}
		params[name] = info
	}
	return &schema.ToolInfo{
		Name:        t.Name(),
		Desc:        t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}
}

// ParseArgs decodes the JSON argument string of a model tool call.
func ParseArgs(raw string) (map[string]any, error) {
	args := make(map[string]any)
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("parse tool arguments: %w", err)
	}
	return args, nil
}

func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// ArgsInt reads a numeric argument, accepting numbers and numeric strings.
func ArgsInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// ArgsStrings reads a string-array argument. A single string is accepted as a
// one-element list.
func ArgsStrings(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}
