package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"github.com/helioai/lio-agent/runtime/agent/model"
)

type fakeClient struct {
	completeErr   error
	completeCalls int
}

func (f *fakeClient) Complete(_ context.Context, _ *model.Request) (*model.Response, error) {
	f.completeCalls++
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &model.Response{Content: "ok"}, nil
}

func helloRequest() *model.Request {
	return &model.Request{
		Messages:  []*model.Message{model.Text(model.ConversationRoleUser, "hello")},
		MaxTokens: 10,
	}
}

func TestAdaptiveRateLimiter_BackoffOnRateLimited(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 60000)
	initialTPM := limiter.CurrentTPM()

	client := &fakeClient{completeErr: model.ErrRateLimited}
	wrapped := limiter.Middleware()(client)

	_, err := wrapped.Complete(context.Background(), helloRequest())
	if !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if got := limiter.CurrentTPM(); got != initialTPM/2 {
		t.Fatalf("expected TPM to halve to %f, got %f", initialTPM/2, got)
	}
}

func TestAdaptiveRateLimiter_BackoffOnProviderError(t *testing.T) {
	var changes []float64
	limiter := NewAdaptiveRateLimiter(60000, 60000, WithOnChange(func(tpm float64) {
		changes = append(changes, tpm)
	}))

	client := &fakeClient{
		completeErr: model.NewProviderError("openai", http.StatusTooManyRequests, "rate_limit_exceeded", "slow down", nil),
	}
	wrapped := limiter.Middleware()(client)

	if _, err := wrapped.Complete(context.Background(), helloRequest()); err == nil {
		t.Fatal("expected error")
	}
	if len(changes) != 1 || changes[0] != 30000 {
		t.Fatalf("expected one change to 30000, got %v", changes)
	}
}

func TestAdaptiveRateLimiter_IgnoresOtherErrors(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 60000)
	client := &fakeClient{
		completeErr: model.NewProviderError("openai", http.StatusBadRequest, "", "bad", nil),
	}
	wrapped := limiter.Middleware()(client)

	if _, err := wrapped.Complete(context.Background(), helloRequest()); err == nil {
		t.Fatal("expected error")
	}
	if got := limiter.CurrentTPM(); got != 60000 {
		t.Fatalf("expected TPM unchanged, got %f", got)
	}
}

func TestAdaptiveRateLimiter_FloorsAtTenPercent(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(1000, 1000)
	for i := 0; i < 10; i++ {
		limiter.backoff()
	}
	if got := limiter.CurrentTPM(); got != 100 {
		t.Fatalf("expected floor of 100, got %f", got)
	}
}

func TestAdaptiveRateLimiter_ProbeOnSuccess(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 120000)

	limiter.mu.Lock()
	initialTPM := limiter.currentTPM
	limiter.recoveryRate = 1000
	limiter.mu.Unlock()

	client := &fakeClient{}
	wrapped := limiter.Middleware()(client)

	resp, err := wrapped.Complete(context.Background(), helloRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("expected response to pass through, got %q", resp.Content)
	}
	if got := limiter.CurrentTPM(); got != initialTPM+1000 {
		t.Fatalf("expected TPM to increase to %f, got %f", initialTPM+1000, got)
	}
}

func TestAdaptiveRateLimiter_ProbeCapsAtMax(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 60000)
	limiter.probe()
	if got := limiter.CurrentTPM(); got != 60000 {
		t.Fatalf("expected TPM capped at 60000, got %f", got)
	}
}

func TestAdaptiveRateLimiter_RespectsContextWhenQueued(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60, 60)

	limiter.mu.Lock()
	// Any non-zero token request fails immediately against a zero limiter.
	limiter.limiter = rate.NewLimiter(0, 0)
	limiter.mu.Unlock()

	client := &fakeClient{}
	wrapped := limiter.Middleware()(client)

	req := &model.Request{
		Messages: []*model.Message{
			model.Text(model.ConversationRoleUser, strings.Repeat("a", 600)),
		},
	}
	if _, err := wrapped.Complete(context.Background(), req); err == nil {
		t.Fatal("expected limiter error")
	}
	if client.completeCalls != 0 {
		t.Fatalf("expected underlying client not to be called, got %d calls", client.completeCalls)
	}
}

func TestMiddlewareNilClient(t *testing.T) {
	if NewAdaptiveRateLimiter(0, 0).Middleware()(nil) != nil {
		t.Fatal("expected nil client to stay nil")
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	small := estimateTokens(&model.Request{
		Messages: []*model.Message{model.Text(model.ConversationRoleUser, "short")},
	})
	big := estimateTokens(&model.Request{
		Messages: []*model.Message{
			model.Text(model.ConversationRoleUser, "this is a much longer message"),
			{
				Role:      model.ConversationRoleAssistant,
				ToolCalls: []model.ToolCall{{ID: "1", Name: "searchBooks", Arguments: `{"query":"go"}`}},
			},
		},
	})

	if small <= 0 {
		t.Fatalf("expected positive token estimate for small request, got %d", small)
	}
	if big <= small {
		t.Fatalf("expected larger estimate for larger request, small=%d big=%d", small, big)
	}
	if empty := estimateTokens(&model.Request{}); empty != 500 {
		t.Fatalf("expected 500 for empty request, got %d", empty)
	}
}
