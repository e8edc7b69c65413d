package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"askweb/internal/domain"

	"github.com/go-resty/resty/v2"
)

const serperEndpoint = "https://google.serper.dev"

// VideoSearchTool searches for videos through Serper.
type VideoSearchTool struct {
	client  *resty.Client
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

func NewVideoSearchTool(apiKey, baseURL string, logger *slog.Logger) *VideoSearchTool {
	if baseURL == "" {
		baseURL = serperEndpoint
	}
	client := resty.New()
	client.SetTimeout(searchTimeout)
	client.SetHeader("User-Agent", userAgentString)
	return &VideoSearchTool{client: client, apiKey: apiKey, baseURL: baseURL, logger: logger}
}

func (t *VideoSearchTool) Name() string { return "video_search" }
func (t *VideoSearchTool) Description() string {
	return "Search for videos from YouTube"
}
func (t *VideoSearchTool) Parameters() map[string]domain.ToolParam {
	return map[string]domain.ToolParam{
		"query": {Type: "string", Description: "The query to search for", Required: true},
	}
}

func (t *VideoSearchTool) Execute(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
	query := ArgsString(args, "query")
	if query == "" {
		return nil, fmt.Errorf("missing argument: query")
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("X-API-KEY", t.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"q": query}).
		Post(t.baseURL + "/videos")
	if err == nil && !resp.IsSuccess() {
		err = fmt.Errorf("HTTP %d from serper", resp.StatusCode())
	}
	var out domain.VideoResults
	if err == nil {
		err = jsonUnmarshal(resp.Body(), &out)
	}
	if err != nil {
		t.logger.Error("video search API error", "query", query, "err", err)
		empty := domain.VideoResults{Videos: []domain.Video{}}
		empty.SearchParameters.Q = query
		return &domain.ToolResult{
			Output:  empty,
			Failure: fmt.Sprintf(`An error occurred while searching for videos with "%s".`, query),
		}, nil
	}
	if out.Videos == nil {
		out.Videos = []domain.Video{}
	}
	return &domain.ToolResult{Output: out}, nil
}

func jsonUnmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
