package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// tree is the config as its JSON document, keyed by the json tags.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// section walks every key but the last and returns the object holding the
// leaf.
func section(root map[string]any, path string) (map[string]any, string, error) {
	keys := strings.Split(path, ".")
	node := root
	for i, k := range keys[:len(keys)-1] {
		next, ok := node[k].(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("key not found: %s", strings.Join(keys[:i+1], "."))
		}
		node = next
	}
	leaf := keys[len(keys)-1]
	if leaf == "" {
		return nil, "", fmt.Errorf("invalid path: %q", path)
	}
	return node, leaf, nil
}

// GetByPath returns the value at a dot path such as "search.provider".
// Sections come back as objects.
func GetByPath(cfg *Config, path string) (any, error) {
	root, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	node, leaf, err := section(root, path)
	if err != nil {
		return nil, err
	}
	v, ok := node[leaf]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", path)
	}
	return v, nil
}

// SetByPath assigns raw to the leaf at path, converted to the type the leaf
// already holds. Unset optional strings are accepted as strings.
func SetByPath(cfg *Config, path string, raw string) error {
	root, err := tree(cfg)
	if err != nil {
		return err
	}
	node, leaf, err := section(root, path)
	if err != nil {
		return err
	}

	var candidates []any
	switch cur := node[leaf].(type) {
	case map[string]any:
		return fmt.Errorf("%s is a section, set one of its keys", path)
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s expects true or false", path)
		}
		candidates = []any{b}
	case float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s expects a number", path)
		}
		candidates = []any{f}
	case []any:
		candidates = []any{splitList(raw)}
	case string:
		candidates = []any{raw}
	case nil:
		// Omitted when empty: a string or a list.
		candidates = []any{raw, splitList(raw)}
	default:
		return fmt.Errorf("%s has unsupported type %T", path, cur)
	}

	var next Config
	for _, v := range candidates {
		node[leaf] = v
		if err = decodeTree(root, &next); err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	if _, err := GetByPath(&next, path); err != nil && raw != "" {
		return err
	}
	*cfg = next
	return nil
}

func decodeTree(root map[string]any, cfg *Config) error {
	data, err := json.Marshal(root)
	if err != nil {
		return err
	}
	*cfg = Config{}
	return json.Unmarshal(data, cfg)
}

// splitList reads "a,b" as a list; an empty value clears it.
func splitList(raw string) []string {
	out := []string{}
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Sanitize returns a copy of cfg with credentials masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Server.AllowedOrigins = append([]string(nil), cfg.Server.AllowedOrigins...)

	for _, p := range []*ProviderConfig{&out.Providers.OpenAI, &out.Providers.Ollama, &out.Providers.Groq, &out.Providers.Custom} {
		p.APIKey = maskString(p.APIKey)
	}
	out.Search.TavilyAPIKey = maskString(out.Search.TavilyAPIKey)
	out.Search.ExaAPIKey = maskString(out.Search.ExaAPIKey)
	out.Tools.JinaAPIKey = maskString(out.Tools.JinaAPIKey)
	out.Tools.SerperAPIKey = maskString(out.Tools.SerperAPIKey)

	out.Store.PostgresURL = maskURL(out.Store.PostgresURL)
	out.Store.RedisURL = maskURL(out.Store.RedisURL)
	out.Search.Cache.RedisURL = maskURL(out.Search.Cache.RedisURL)
	return &out
}

// maskURL hides the password of a connection URL.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if raw == "" || err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// maskString keeps four characters on each side of longer secrets.
func maskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens the config into dot paths and leaf values. Load feeds
// it to viper as defaults.
func ListPaths(cfg *Config) map[string]any {
	root, err := tree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if sub, ok := v.(map[string]any); ok {
				walk(k, sub)
				continue
			}
			out[k] = v
		}
	}
	walk("", root)
	return out
}
