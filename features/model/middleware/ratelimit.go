// Package middleware provides model.Client decorators shared by the LLM
// adapters.
package middleware

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/helioai/lio-agent/runtime/agent/model"
)

type (
	// AdaptiveRateLimiter applies an AIMD token budget to model calls. It
	// estimates the tokens each request consumes, blocks until the budget
	// allows it, halves the budget when the provider reports rate limiting
	// and recovers it linearly after successful calls.
	//
	// A single limiter is meant to be shared by every client talking to the
	// same provider account within a process.
	AdaptiveRateLimiter struct {
		mu sync.Mutex

		limiter *rate.Limiter

		currentTPM   float64
		minTPM       float64
		maxTPM       float64
		recoveryRate float64

		onChange func(tpm float64)
	}

	// LimiterOption configures an AdaptiveRateLimiter.
	LimiterOption func(*AdaptiveRateLimiter)

	limitedClient struct {
		next    model.Client
		limiter *AdaptiveRateLimiter
	}
)

// WithOnChange registers fn to be called (outside the limiter lock) every
// time the effective tokens-per-minute budget changes.
func WithOnChange(fn func(tpm float64)) LimiterOption {
	return func(l *AdaptiveRateLimiter) {
		l.onChange = fn
	}
}

// NewAdaptiveRateLimiter returns a limiter starting at initialTPM tokens per
// minute and never exceeding maxTPM. Non-positive initialTPM defaults to
// 60000. The floor is 10% of the initial budget.
func NewAdaptiveRateLimiter(initialTPM, maxTPM float64, opts ...LimiterOption) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	l := &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Middleware returns a model.Client decorator enforcing the limiter.
func (l *AdaptiveRateLimiter) Middleware() func(model.Client) model.Client {
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &limitedClient{next: next, limiter: l}
	}
}

// CurrentTPM returns the effective tokens-per-minute budget.
func (l *AdaptiveRateLimiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

func (c *limitedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	resp, err := c.next.Complete(ctx, req)
	c.limiter.observe(err)
	return resp, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req *model.Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, model.ErrRateLimited) {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()
	l.set(l.currentTPM * 0.5)
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()
	l.set(l.currentTPM + l.recoveryRate)
}

// set clamps tpm, applies it and releases l.mu. Callers must hold l.mu.
func (l *AdaptiveRateLimiter) set(tpm float64) {
	if tpm < l.minTPM {
		tpm = l.minTPM
	}
	if tpm > l.maxTPM {
		tpm = l.maxTPM
	}
	if tpm == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
	cb := l.onChange
	l.mu.Unlock()

	if cb != nil {
		cb(tpm)
	}
}

// estimateTokens approximates the prompt size as one token per three
// characters plus a fixed completion allowance.
func estimateTokens(req *model.Request) int {
	charCount := 0
	for _, m := range req.Messages {
		if m == nil {
			continue
		}
		charCount += len(m.Content)
		for _, tc := range m.ToolCalls {
			charCount += len(tc.Arguments)
		}
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
