package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"askweb/internal/domain"

	"github.com/go-resty/resty/v2"
)

const exaEndpoint = "https://api.exa.ai"

// Exa calls the Exa neural search API.
type Exa struct {
	client  *resty.Client
	apiKey  string
	baseURL string
}

func NewExa(client *resty.Client, apiKey, baseURL string) *Exa {
	if baseURL == "" {
		baseURL = exaEndpoint
	}
	return &Exa{client: client, apiKey: apiKey, baseURL: baseURL}
}

func (e *Exa) Name() string { return ProviderExa }

type exaRequest struct {
	Query          string      `json:"query"`
	NumResults     int         `json:"numResults"`
	IncludeDomains []string    `json:"includeDomains,omitempty"`
	ExcludeDomains []string    `json:"excludeDomains,omitempty"`
	Contents       exaContents `json:"contents"`
}

type exaContents struct {
	Highlights bool `json:"highlights"`
	Text       bool `json:"text"`
}

type exaResponse struct {
	Results []struct {
		Title      string   `json:"title"`
		URL        string   `json:"url"`
		Text       string   `json:"text"`
		Highlights []string `json:"highlights"`
	} `json:"results"`
}

func (e *Exa) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResults, error) {
	if e.apiKey == "" {
		return nil, errors.New("EXA_API_KEY is not set in the environment variables")
	}
	n := opts.MaxResults
	if n <= 0 {
		n = 10
	}
	resp, err := e.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-api-key", e.apiKey).
		SetBody(exaRequest{
			Query:          query,
			NumResults:     n,
			IncludeDomains: opts.IncludeDomains,
			ExcludeDomains: opts.ExcludeDomains,
			Contents:       exaContents{Highlights: true, Text: true},
		}).
		Post(e.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("exa request: %w", err)
	}
	if err := statusError("Exa", resp); err != nil {
		return nil, err
	}

	var body exaResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode exa response: %w", err)
	}

	out := domain.EmptySearchResults(query)
	for _, r := range body.Results {
		content := r.Text
		if len(r.Highlights) > 0 && r.Highlights[0] != "" {
			content = r.Highlights[0]
		}
		out.Results = append(out.Results, domain.SearchResultItem{Title: r.Title, URL: r.URL, Content: content})
	}
	out.NumberOfResults = len(out.Results)
	return out, nil
}
