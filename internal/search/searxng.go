package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"askweb/internal/domain"

	"github.com/go-resty/resty/v2"
)

// SearXNG queries a self-hosted SearXNG instance through its JSON API.
type SearXNG struct {
	client  *resty.Client
	baseURL string
}

func NewSearXNG(client *resty.Client, baseURL string) *SearXNG {
	return &SearXNG{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *SearXNG) Name() string { return ProviderSearXNG }

type searxngResponse struct {
	Query   string `json:"query"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
		ImgSrc  string `json:"img_src"`
	} `json:"results"`
}

func (s *SearXNG) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResults, error) {
	if s.baseURL == "" {
		return nil, errors.New("SEARXNG_API_URL is not set in the environment variables")
	}
	params := map[string]string{
		"q":          siteQuery(query, opts),
		"format":     "json",
		"categories": "general,images",
	}
	if opts.Depth == domain.DepthAdvanced {
		params["safesearch"] = "0"
		params["engines"] = "google,bing,duckduckgo,wikipedia"
	} else {
		params["time_range"] = "year"
		params["safesearch"] = "1"
		params["engines"] = "google,bing"
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(params).
		Get(s.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("searxng request: %w", err)
	}
	if err := statusError("SearXNG", resp); err != nil {
		return nil, err
	}

	var body searxngResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode searxng response: %w", err)
	}

	limit := opts.MaxResults
	if limit <= 0 {
		limit = 10
	}
	out := domain.EmptySearchResults(query)
	for _, r := range body.Results {
		if r.ImgSrc != "" {
			src := r.ImgSrc
			if !strings.HasPrefix(src, "http") {
				src = s.baseURL + src
			}
			out.Images = append(out.Images, src)
			continue
		}
		if len(out.Results) < limit {
			out.Results = append(out.Results, domain.SearchResultItem{Title: r.Title, URL: r.URL, Content: r.Content})
		}
	}
	out.NumberOfResults = len(out.Results)
	return out, nil
}

// siteQuery folds domain filters into the query using site: operators.
func siteQuery(query string, opts domain.SearchOptions) string {
	var b strings.Builder
	b.WriteString(query)
	if len(opts.IncludeDomains) > 0 {
		sites := make([]string, len(opts.IncludeDomains))
		for i, d := range opts.IncludeDomains {
			sites[i] = "site:" + d
		}
		b.WriteString(" ")
		b.WriteString(strings.Join(sites, " OR "))
	}
	for _, d := range opts.ExcludeDomains {
		b.WriteString(" -site:")
		b.WriteString(d)
	}
	return b.String()
}
