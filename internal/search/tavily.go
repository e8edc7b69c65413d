package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"askweb/internal/domain"

	"github.com/go-resty/resty/v2"
)

const tavilyEndpoint = "https://api.tavily.com"

// Tavily calls the Tavily search API.
type Tavily struct {
	client  *resty.Client
	apiKey  string
	baseURL string
}

func NewTavily(client *resty.Client, apiKey, baseURL string) *Tavily {
	if baseURL == "" {
		baseURL = tavilyEndpoint
	}
	return &Tavily{client: client, apiKey: apiKey, baseURL: baseURL}
}

func (t *Tavily) Name() string { return ProviderTavily }

type tavilyRequest struct {
	APIKey                   string   `json:"api_key"`
	Query                    string   `json:"query"`
	MaxResults               int      `json:"max_results"`
	SearchDepth              string   `json:"search_depth"`
	IncludeImages            bool     `json:"include_images"`
	IncludeImageDescriptions bool     `json:"include_image_descriptions"`
	IncludeAnswers           bool     `json:"include_answers"`
	IncludeDomains           []string `json:"include_domains"`
	ExcludeDomains           []string `json:"exclude_domains"`
}

type tavilyResponse struct {
	Query   string            `json:"query"`
	Images  []json.RawMessage `json:"images"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResults, error) {
	if t.apiKey == "" {
		return nil, errors.New("TAVILY_API_KEY is not set in the environment variables")
	}
	depth := opts.Depth
	if depth == "" {
		depth = domain.DepthBasic
	}
	req := tavilyRequest{
		APIKey:                   t.apiKey,
		Query:                    query,
		MaxResults:               max(opts.MaxResults, 5),
		SearchDepth:              string(depth),
		IncludeImages:            true,
		IncludeImageDescriptions: true,
		IncludeAnswers:           true,
		IncludeDomains:           nonNil(opts.IncludeDomains),
		ExcludeDomains:           nonNil(opts.ExcludeDomains),
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(t.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("tavily request: %w", err)
	}
	if err := statusError("Tavily", resp); err != nil {
		return nil, err
	}

	var body tavilyResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode tavily response: %w", err)
	}

	out := domain.EmptySearchResults(query)
	if body.Query != "" {
		out.Query = body.Query
	}
	for _, r := range body.Results {
		out.Results = append(out.Results, domain.SearchResultItem{Title: r.Title, URL: r.URL, Content: r.Content})
	}
	for _, raw := range body.Images {
		if u := imageURL(raw); u != "" {
			out.Images = append(out.Images, u)
		}
	}
	out.NumberOfResults = len(out.Results)
	return out, nil
}

// imageURL accepts both the plain-string and the {url, description} image
// shapes Tavily returns depending on include_image_descriptions.
func imageURL(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.URL
	}
	return ""
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
