// Package ratelimit paces outbound REST requests so the connector stays
// inside Binance's request-weight budget. Binance accounts requests by
// weight rather than by count, so the limiter hands out a configurable
// number of tokens per call. Backed by Uber's token-bucket limiter.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/ratelimit"
)

// Rate is a budget of Limit tokens per Interval. With Binance weights a
// token corresponds to one weight unit, e.g. {1200, time.Minute} mirrors
// the venue's 1200 weight/min REST budget.
type Rate struct {
	Limit    int
	Interval time.Duration
}

// Limiter paces operations against a token budget.
type Limiter interface {
	// Wait blocks until one token is available or ctx is cancelled.
	Wait(ctx context.Context) error

	// WaitN blocks until weight tokens are available or ctx is cancelled.
	// Endpoints with a documented weight above 1 call this instead of Wait.
	WaitN(ctx context.Context, weight int) error

	// SetRate replaces the budget at runtime.
	SetRate(rate Rate) error
}

type uberLimiter struct {
	mu      sync.Mutex
	limiter ratelimit.Limiter
	rate    Rate
}

// NewWeightLimiter creates a token-bucket limiter for the given budget.
func NewWeightLimiter(rate Rate) Limiter {
	return &uberLimiter{
		limiter: newBucket(rate),
		rate:    rate,
	}
}

func newBucket(rate Rate) ratelimit.Limiter {
	perSecond := int(float64(rate.Limit) / rate.Interval.Seconds())
	if perSecond < 1 {
		perSecond = 1
	}
	return ratelimit.New(perSecond)
}

func (l *uberLimiter) Wait(ctx context.Context) error {
	return l.WaitN(ctx, 1)
}

func (l *uberLimiter) WaitN(ctx context.Context, weight int) error {
	if weight < 1 {
		weight = 1
	}
	for i := 0; i < weight; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("rate limit wait cancelled: %w", err)
		}
		l.mu.Lock()
		bucket := l.limiter
		l.mu.Unlock()
		bucket.Take()
	}
	return nil
}

func (l *uberLimiter) SetRate(rate Rate) error {
	if rate.Limit <= 0 || rate.Interval <= 0 {
		return fmt.Errorf("invalid rate limit: %+v", rate)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter = newBucket(rate)
	l.rate = rate
	return nil
}
