// Package search binds web search vendors to domain.SearchProvider.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"askweb/internal/cache"
	"askweb/internal/domain"
	"askweb/internal/metrics"
	"askweb/internal/tracing"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
)

const (
	ProviderTavily  = "tavily"
	ProviderExa     = "exa"
	ProviderSearXNG = "searxng"

	defaultTimeout = 15 * time.Second
	userAgent      = "askweb/0.1"

	// minQueryLen is the shortest query some vendors accept.
	minQueryLen = 5
)

// Config selects and configures a provider.
type Config struct {
	Provider   string
	TavilyKey  string
	ExaKey     string
	SearXNGURL string
	BaseURL    string // overrides the vendor endpoint (tests, proxies)
	Timeout    time.Duration
	Retries    int
	Cache      cache.Store
	CacheTTL   time.Duration
	Logger     *slog.Logger
}

// New builds the configured provider, wrapped with metrics and, when a cache
// is set, response caching. Credentials are checked per call so a missing
// key surfaces as a search error rather than a startup failure.
func New(cfg Config) (domain.SearchProvider, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := newClient(cfg)

	var p domain.SearchProvider
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderTavily:
		p = NewTavily(client, cfg.TavilyKey, cfg.BaseURL)
	case ProviderExa:
		p = NewExa(client, cfg.ExaKey, cfg.BaseURL)
	case ProviderSearXNG:
		u := cfg.SearXNGURL
		if cfg.BaseURL != "" {
			u = cfg.BaseURL
		}
		p = NewSearXNG(client, u)
	default:
		return nil, fmt.Errorf("unknown search provider: %s", cfg.Provider)
	}

	p = Instrument(p)
	if cfg.Cache != nil {
		p = NewCached(p, cfg.Cache, cfg.CacheTTL, cfg.Logger)
	}
	return p, nil
}

func newClient(cfg Config) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := resty.New()
	c.SetTimeout(timeout)
	c.SetHeader("User-Agent", userAgent)
	if cfg.Retries > 0 {
		c.SetRetryCount(cfg.Retries)
		c.SetRetryWaitTime(500 * time.Millisecond)
		c.SetRetryMaxWaitTime(3 * time.Second)
	}
	return c
}

// PadQuery right-pads queries shorter than five characters with spaces.
func PadQuery(q string) string {
	if n := utf8.RuneCountInString(q); n < minQueryLen {
		return q + strings.Repeat(" ", minQueryLen-n)
	}
	return q
}

// statusError converts a non-2xx response into an error.
func statusError(vendor string, resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	return fmt.Errorf("%s API error: %s", vendor, strings.TrimSpace(resp.Status()))
}

type instrumented struct {
	next domain.SearchProvider
}

// Instrument records metrics and a span around every call of p.
func Instrument(p domain.SearchProvider) domain.SearchProvider {
	return &instrumented{next: p}
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResults, error) {
	ctx, span := tracing.Start(ctx, "search",
		attribute.String("search.provider", i.next.Name()),
		attribute.String("search.query", query),
		attribute.String("search.depth", string(opts.Depth)),
	)
	start := time.Now()
	res, err := i.next.Search(ctx, query, opts)
	metrics.ObserveSearch(i.next.Name(), start, err)
	if res != nil {
		span.SetAttributes(attribute.Int("search.results", res.NumberOfResults))
	}
	tracing.End(span, err)
	return res, err
}
