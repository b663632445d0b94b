package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helioai/lio-agent/runtime/agent/model"
	"github.com/helioai/lio-agent/runtime/agent/session"
	"github.com/helioai/lio-agent/runtime/agent/session/inmem"
	"github.com/helioai/lio-agent/runtime/agent/telemetry"
	"github.com/helioai/lio-agent/runtime/agent/tools"
)

type (
	flakyModel struct {
		mu       sync.Mutex
		failures int
		err      error
		calls    int
	}

	gaugeRecorder struct {
		telemetry.Metrics
		mu     sync.Mutex
		gauges map[string]float64
	}
)

func (m *flakyModel) Complete(context.Context, *model.Request) (*model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return nil, m.err
	}
	return &model.Response{Content: "All good."}, nil
}

func (m *flakyModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (r *gaugeRecorder) RecordGauge(name string, value float64, _ ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name] = value
}

func (r *gaugeRecorder) gauge(name string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.gauges[name]
	return v, ok
}

func newSearchTool(t *testing.T) *tools.Base {
	t.Helper()
	b, err := tools.NewBase(tools.Options{
		Metadata: tools.Metadata{
			Name:        "searchBooks",
			Description: "Search books",
			Version:     "1.0.0",
			Category:    "search",
		},
		Kind: tools.KindBookSearch,
		Executor: func(context.Context, tools.Input) (tools.Result, error) {
			return tools.OK("ok"), nil
		},
	})
	require.NoError(t, err)
	return b
}

func newTestService(t *testing.T, llm model.Client, mutate func(*Options)) *Service {
	t.Helper()
	opts := Options{
		Model:      llm,
		Tools:      []tools.Tool{newSearchTool(t)},
		History:    inmem.New(session.DefaultLimit),
		RetryDelay: -1,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "model client is required")
}

func TestNewRejectsInvalidTools(t *testing.T) {
	b, err := tools.NewBase(tools.Options{
		Metadata: tools.Metadata{Name: "searchBooks", Description: "Search books"},
		Kind:     tools.KindBookSearch,
		Executor: func(context.Context, tools.Input) (tools.Result, error) { return tools.OK(nil), nil },
	})
	require.NoError(t, err)

	_, err = New(Options{Model: &flakyModel{}, Tools: []tools.Tool{b}})
	require.ErrorContains(t, err, "tool version is required")
}

func TestNewIgnoresDuplicateTools(t *testing.T) {
	first, second := newSearchTool(t), newSearchTool(t)
	s := newTestService(t, &flakyModel{}, func(o *Options) { o.Tools = []tools.Tool{first, second} })

	got, ok := s.Tools().Get("searchBooks")
	require.True(t, ok)
	require.Same(t, first, got)
}

func TestProcessChatRecordsHistory(t *testing.T) {
	ctx := context.Background()
	store := inmem.New(session.DefaultLimit)
	s := newTestService(t, &flakyModel{}, func(o *Options) {
		o.History = store
		o.ModelName = "gpt-5-mini"
	})

	resp, err := s.ProcessChat(ctx, ChatRequest{
		Message:   "How are my campaigns?",
		SessionID: "s1",
		Context:   map[string]any{"widgetId": "507f1f77bcf86cd799439011"},
	})
	require.NoError(t, err)
	require.Equal(t, "All good.", resp.Response)
	require.Equal(t, "s1", resp.SessionID)
	require.Equal(t, "gpt-5-mini", resp.Metadata.Model)
	require.Equal(t, 2, resp.Metadata.MemorySize)
	require.Equal(t, map[string]any{"widgetId": "507f1f77bcf86cd799439011"}, resp.Context)

	msgs, err := store.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, session.RoleUser, msgs[0].Role)
	require.Equal(t, "How are my campaigns?", msgs[0].Content)
	require.Equal(t, `[context] {"widgetId":"507f1f77bcf86cd799439011"}`, msgs[1].Content)
	require.Equal(t, KindContext, msgs[1].Kind)
	require.Equal(t, session.RoleAssistant, msgs[2].Role)
	require.Equal(t, "All good.", msgs[2].Content)
	require.NotEmpty(t, msgs[0].RequestID)
	require.Equal(t, msgs[0].RequestID, msgs[2].RequestID)

	m := s.Metrics()
	require.Equal(t, 1, m.TotalRequests)
	require.Equal(t, 1, m.SuccessfulRequests)
	require.Equal(t, 1, m.Sessions.Total)
	require.Contains(t, m.Tools, "searchBooks")
}

func TestProcessChatMintsSessionID(t *testing.T) {
	s := newTestService(t, &flakyModel{}, nil)
	resp, err := s.ProcessChat(context.Background(), ChatRequest{Message: "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)
	_, ok := s.Session(resp.SessionID)
	require.True(t, ok)
}

func TestProcessChatRejectsEmptyMessage(t *testing.T) {
	llm := &flakyModel{}
	s := newTestService(t, llm, nil)

	_, err := s.ProcessWithRetry(context.Background(), ChatRequest{Message: " "}, 3)
	require.ErrorIs(t, err, ErrInvalidMessage)
	require.Zero(t, llm.Calls())
	require.Zero(t, s.Metrics().TotalRequests)
}

func TestProcessWithRetryReusesRequestID(t *testing.T) {
	ctx := context.Background()
	store := inmem.New(session.DefaultLimit)
	llm := &flakyModel{failures: 1, err: errors.New("upstream timeout")}
	s := newTestService(t, llm, func(o *Options) { o.History = store })

	resp, err := s.ProcessWithRetry(ctx, ChatRequest{
		Message:   "hello",
		SessionID: "s1",
		Context:   map[string]any{"page": "home"},
	}, 3)
	require.NoError(t, err)
	require.Equal(t, "All good.", resp.Response)
	require.Equal(t, 2, llm.Calls())

	msgs, err := store.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "hello", msgs[0].Content)
	require.Equal(t, KindContext, msgs[1].Kind)
	require.Equal(t, "All good.", msgs[2].Content)

	m := s.Metrics()
	require.Equal(t, 2, m.TotalRequests)
	require.Equal(t, 1, m.SuccessfulRequests)
	require.Equal(t, 1, m.FailedRequests)
	require.InDelta(t, 0.5, m.Engine.ErrorRate, 1e-9)
}

func TestProcessWithRetryReturnsLastError(t *testing.T) {
	errDown := errors.New("provider down")
	llm := &flakyModel{failures: 10, err: errDown}
	s := newTestService(t, llm, nil)

	_, err := s.ProcessWithRetry(context.Background(), ChatRequest{Message: "hello"}, 3)
	require.ErrorIs(t, err, errDown)
	require.Equal(t, 3, llm.Calls())
	require.Equal(t, 3, s.Metrics().FailedRequests)
}

func TestProcessWithRetryUsesDefaultAttempts(t *testing.T) {
	llm := &flakyModel{failures: 10, err: errors.New("down")}
	s := newTestService(t, llm, func(o *Options) { o.MaxRetries = 2 })

	_, err := s.ProcessWithRetry(context.Background(), ChatRequest{Message: "hello"}, 0)
	require.Error(t, err)
	require.Equal(t, 2, llm.Calls())
}

func TestProcessWithRetryStopsOnCancel(t *testing.T) {
	llm := &flakyModel{failures: 10, err: errors.New("down")}
	s := newTestService(t, llm, func(o *Options) { o.RetryDelay = time.Hour })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.ProcessWithRetry(ctx, ChatRequest{Message: "hello"}, 3)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, llm.Calls())
}

func TestClearSessionDropsHistory(t *testing.T) {
	ctx := context.Background()
	store := inmem.New(session.DefaultLimit)
	s := newTestService(t, &flakyModel{}, func(o *Options) { o.History = store })

	_, err := s.ProcessChat(ctx, ChatRequest{Message: "hi", SessionID: "s1"})
	require.NoError(t, err)

	require.True(t, s.ClearSession(ctx, "s1"))
	msgs, err := store.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.False(t, s.ClearSession(ctx, "s1"))
}

func TestHealthThresholds(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		s := newTestService(t, &flakyModel{}, func(o *Options) { o.MaxSessions = 10 })
		_, err := s.ProcessChat(ctx, ChatRequest{Message: "hi"})
		require.NoError(t, err)
		h := s.Health()
		require.Equal(t, StatusHealthy, h.Status)
		require.Equal(t, 1, h.Details.ActiveSessions)
		require.Equal(t, 10, h.Details.MaxSessions)
		require.Equal(t, 1, h.Details.TotalTools)
	})

	t.Run("degraded by saturation", func(t *testing.T) {
		s := newTestService(t, &flakyModel{}, func(o *Options) { o.MaxSessions = 10 })
		for i := range 9 {
			_, err := s.ProcessChat(ctx, ChatRequest{Message: "hi", SessionID: fmt.Sprintf("s%d", i)})
			require.NoError(t, err)
		}
		require.Equal(t, StatusDegraded, s.Health().Status)
	})

	t.Run("unhealthy by saturation", func(t *testing.T) {
		s := newTestService(t, &flakyModel{}, func(o *Options) { o.MaxSessions = 2 })
		for i := range 2 {
			_, err := s.ProcessChat(ctx, ChatRequest{Message: "hi", SessionID: fmt.Sprintf("s%d", i)})
			require.NoError(t, err)
		}
		require.Equal(t, StatusUnhealthy, s.Health().Status)
	})

	t.Run("degraded by error rate", func(t *testing.T) {
		llm := &flakyModel{failures: 1, err: errors.New("down")}
		s := newTestService(t, llm, nil)
		for range 5 {
			_, _ = s.ProcessChat(ctx, ChatRequest{Message: "hi", SessionID: "s"})
		}
		h := s.Health()
		require.InDelta(t, 0.2, h.Details.ErrorRate, 1e-9)
		require.Equal(t, StatusDegraded, h.Status)
	})

	t.Run("unhealthy by error rate", func(t *testing.T) {
		llm := &flakyModel{failures: 1, err: errors.New("down")}
		s := newTestService(t, llm, nil)
		for range 2 {
			_, _ = s.ProcessChat(ctx, ChatRequest{Message: "hi", SessionID: "s"})
		}
		require.Equal(t, StatusUnhealthy, s.Health().Status)
	})
}

func TestToolPassthroughs(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, &flakyModel{}, nil)

	require.NoError(t, s.DisableTool(ctx, "searchBooks"))
	require.False(t, s.ToolStats()["searchBooks"].Enabled)
	require.Empty(t, s.Tools().Enabled())
	require.NoError(t, s.EnableTool(ctx, "searchBooks"))
	require.True(t, s.ToolStats()["searchBooks"].Enabled)

	require.Error(t, s.EnableTool(ctx, "missing"))
	require.True(t, s.UnregisterTool(ctx, "searchBooks"))
	require.False(t, s.UnregisterTool(ctx, "searchBooks"))
	require.True(t, s.RegisterTool(ctx, newSearchTool(t)))
	s.ClearAllCaches(ctx)
}

func TestMonitorRecordsGauges(t *testing.T) {
	rec := &gaugeRecorder{Metrics: telemetry.NewNoopMetrics(), gauges: map[string]float64{}}
	s := newTestService(t, &flakyModel{}, func(o *Options) {
		o.Metrics = rec
		o.MetricsInterval = 5 * time.Millisecond
	})
	_, err := s.ProcessChat(context.Background(), ChatRequest{Message: "hi"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool {
		v, ok := rec.gauge(telemetry.MetricActiveSessions)
		return ok && v == 1
	}, time.Second, 5*time.Millisecond)
	v, ok := rec.gauge(telemetry.MetricErrorRate)
	require.True(t, ok)
	require.Zero(t, v)
}
