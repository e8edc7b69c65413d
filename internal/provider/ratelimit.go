package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"
)

// RateLimited throttles calls to a chat model with a token bucket.
type RateLimited struct {
	next    model.ToolCallingChatModel
	limiter *rate.Limiter
}

// NewRateLimited wraps m so that at most perMinute calls start per minute,
// with bursts of up to burst calls.
func NewRateLimited(m model.ToolCallingChatModel, perMinute, burst int) *RateLimited {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 10
	}
	return &RateLimited{
		next:    m,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
	}
}

func (r *RateLimited) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.Generate(ctx, in, opts...)
}

func (r *RateLimited) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.Stream(ctx, in, opts...)
}

// WithTools binds tools on the wrapped model; the returned model shares this limiter.
func (r *RateLimited) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound, err := r.next.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimited{next: bound, limiter: r.limiter}, nil
}
