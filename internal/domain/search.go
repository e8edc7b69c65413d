package domain

import "context"

// SearchDepth selects how thorough a provider search should be.
type SearchDepth string

const (
	DepthBasic    SearchDepth = "basic"
	DepthAdvanced SearchDepth = "advanced"
)

// SearchResultItem is one web result.
type SearchResultItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SearchResults is the normalized shape every provider returns.
type SearchResults struct {
	Results         []SearchResultItem `json:"results"`
	Images          []string           `json:"images"`
	Query           string             `json:"query"`
	NumberOfResults int                `json:"number_of_results"`
}

// SearchOptions are the knobs accepted by every provider.
type SearchOptions struct {
	MaxResults     int         `json:"max_results"`
	Depth          SearchDepth `json:"search_depth"`
	IncludeDomains []string    `json:"include_domains,omitempty"`
	ExcludeDomains []string    `json:"exclude_domains,omitempty"`
}

// SearchProvider is a web search backend.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, opts SearchOptions) (*SearchResults, error)
}

// EmptySearchResults is the result recorded when a search fails.
func EmptySearchResults(query string) *SearchResults {
	return &SearchResults{
		Results: []SearchResultItem{},
		Images:  []string{},
		Query:   query,
	}
}
