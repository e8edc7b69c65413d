package tool

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"askweb/internal/domain"
	"askweb/internal/search"

	"github.com/go-resty/resty/v2"
)

const (
	searchTimeout     = 15 * time.Second
	fetchMaxOutput    = 10000
	userAgentString   = "askweb/0.1"
	defaultMaxResults = 5
	maxMaxResults     = 20
)

// WebSearchTool searches the web through the configured search provider.
type WebSearchTool struct {
	provider domain.SearchProvider
	logger   *slog.Logger
}

func NewWebSearchTool(provider domain.SearchProvider, logger *slog.Logger) *WebSearchTool {
	return &WebSearchTool{provider: provider, logger: logger}
}

func (t *WebSearchTool) Name() string { return "search" }
func (t *WebSearchTool) Description() string {
	return "Search the web for information"
}
func (t *WebSearchTool) Parameters() map[string]domain.ToolParam {
	return map[string]domain.ToolParam{
		"query":           {Type: "string", Description: "The query to search for", Required: true},
		"max_results":     {Type: "integer", Description: "The maximum number of results to return (default 5, at most 20)"},
		"search_depth":    {Type: "string", Description: "The depth of the search", Enum: []string{"basic", "advanced"}},
		"include_domains": {Type: "array", ItemType: "string", Description: "A list of domains to specifically include in the search results"},
		"exclude_domains": {Type: "array", ItemType: "string", Description: "A list of domains to specifically exclude from the search results"},
	}
}

// Execute never fails on provider errors: they become an empty result with a
// failure sentence naming the query.
func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
	query := ArgsString(args, "query")
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("missing argument: query")
	}
	opts := domain.SearchOptions{
		MaxResults:     min(max(ArgsInt(args, "max_results", defaultMaxResults), 1), maxMaxResults),
		Depth:          domain.DepthBasic,
		IncludeDomains: ArgsStrings(args, "include_domains"),
		ExcludeDomains: ArgsStrings(args, "exclude_domains"),
	}
	if ArgsString(args, "search_depth") == string(domain.DepthAdvanced) {
		opts.Depth = domain.DepthAdvanced
	}

	filled := search.PadQuery(query)
	res, err := t.provider.Search(ctx, filled, opts)
	if err != nil {
		t.logger.Error("search API error", "provider", t.provider.Name(), "query", filled, "err", err)
		return &domain.ToolResult{
			Output:  domain.EmptySearchResults(filled),
			Failure: fmt.Sprintf(`An error occurred while searching for "%s".`, filled),
		}, nil
	}
	return &domain.ToolResult{Output: res}, nil
}

const jinaEndpoint = "https://r.jina.ai/"

// RetrieveTool reads a single page through the Jina reader.
type RetrieveTool struct {
	client  *resty.Client
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

func NewRetrieveTool(apiKey, baseURL string, logger *slog.Logger) *RetrieveTool {
	if baseURL == "" {
		baseURL = jinaEndpoint
	}
	client := resty.New()
	client.SetTimeout(searchTimeout)
	client.SetHeader("User-Agent", userAgentString)
	return &RetrieveTool{client: client, apiKey: apiKey, baseURL: baseURL, logger: logger}
}

func (t *RetrieveTool) Name() string { return "retrieve" }
func (t *RetrieveTool) Description() string {
	return "Retrieve content from the web"
}
func (t *RetrieveTool) Parameters() map[string]domain.ToolParam {
	return map[string]domain.ToolParam{
		"url": {Type: "string", Description: "The url to retrieve", Required: true},
	}
}

type jinaResponse struct {
	Code int `json:"code"`
	Data struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		Content     string `json:"content"`
	} `json:"data"`
}

func (t *RetrieveTool) Execute(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
	rawURL := ArgsString(args, "url")
	if rawURL == "" {
		return nil, fmt.Errorf("missing argument: url")
	}

	// Validate URL scheme to prevent SSRF
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return t.failure(rawURL, fmt.Errorf("unsupported URL: %s (only http/https allowed)", rawURL)), nil
	}

	req := t.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("X-With-Generated-Alt", "true")
	if t.apiKey != "" {
		req.SetHeader("Authorization", "Bearer "+t.apiKey)
	}
	resp, err := req.Get(t.baseURL + rawURL)
	if err != nil {
		return t.failure(rawURL, err), nil
	}
	if !resp.IsSuccess() {
		return t.failure(rawURL, fmt.Errorf("HTTP %d from reader", resp.StatusCode())), nil
	}

	var body jinaResponse
	if err := jsonUnmarshal(resp.Body(), &body); err != nil || body.Data.Content == "" {
		if err == nil {
			err = fmt.Errorf("empty content")
		}
		return t.failure(rawURL, err), nil
	}

	content := truncateUTF8(body.Data.Content, fetchMaxOutput)
	return &domain.ToolResult{Output: &domain.SearchResults{
		Results:         []domain.SearchResultItem{{Title: body.Data.Title, URL: rawURL, Content: content}},
		Images:          []string{},
		Query:           "",
		NumberOfResults: 1,
	}}, nil
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func (t *RetrieveTool) failure(rawURL string, err error) *domain.ToolResult {
	t.logger.Error("retrieve error", "url", rawURL, "err", err)
	return &domain.ToolResult{
		Output:  domain.EmptySearchResults(""),
		Failure: fmt.Sprintf(`An error occurred while retrieving "%s".`, rawURL),
	}
}
