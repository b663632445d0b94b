// Package service is the entry point used by transports. It composes the
// tool registry, the agent engine and the history store, persists chat
// history around each turn, and reports request metrics and health.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/helioai/lio-agent/runtime/agent/engine"
	"github.com/helioai/lio-agent/runtime/agent/model"
	"github.com/helioai/lio-agent/runtime/agent/registry"
	"github.com/helioai/lio-agent/runtime/agent/session"
	"github.com/helioai/lio-agent/runtime/agent/session/inmem"
	"github.com/helioai/lio-agent/runtime/agent/telemetry"
	"github.com/helioai/lio-agent/runtime/agent/tools"
)

type (
	// Options configures a Service.
	Options struct {
		// Model is the chat completion client. Required.
		Model model.Client
		// Tools are registered at construction. The first tool of a given
		// name wins.
		Tools []tools.Tool
		// ToolDefaults is applied to every registered tool.
		ToolDefaults tools.ConfigPatch
		// History stores chat history. Defaults to an in-memory store
		// retaining MemoryLimit messages.
		History session.Store
		// MemoryLimit bounds the default in-memory history. Defaults to 50.
		MemoryLimit int

		// ModelName is reported in responses and overrides the adapter
		// default model when set.
		ModelName    string
		SystemPrompt string
		MaxTokens    int
		Temperature  float32
		LLMTimeout   time.Duration

		// SessionTimeout defaults to 1h.
		SessionTimeout time.Duration
		// MaxSessions drives the health thresholds. Defaults to 1000.
		MaxSessions int
		// MaxRetries is the default attempt count of ProcessWithRetry.
		// Defaults to 3.
		MaxRetries int
		// RetryDelay is multiplied by the attempt number between attempts.
		// Defaults to 1s. A negative value disables the delay.
		RetryDelay time.Duration
		// MetricsInterval is the Monitor period. Defaults to 1m.
		MetricsInterval time.Duration

		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
		Clock   func() time.Time
	}

	// Service processes chat requests. It is safe for concurrent use.
	Service struct {
		tools           *registry.Manager
		engine          *engine.Engine
		history         session.Store
		modelName       string
		sessionTimeout  time.Duration
		maxSessions     int
		maxRetries      int
		retryDelay      time.Duration
		metricsInterval time.Duration
		logger          telemetry.Logger
		metrics         telemetry.Metrics
		now             func() time.Time

		mu       sync.Mutex
		requests requestCounters
	}

	// ChatRequest is one inbound chat message.
	ChatRequest struct {
		Message   string         `json:"message"`
		SessionID string         `json:"sessionId,omitempty"`
		Context   map[string]any `json:"context,omitempty"`
		// RequestID identifies the turn across retries. Minted when empty.
		RequestID string `json:"requestId,omitempty"`
	}

	// ChatResponse is the reply to a ChatRequest.
	ChatResponse struct {
		Response  string           `json:"response"`
		SessionID string           `json:"sessionId"`
		Timestamp time.Time        `json:"timestamp"`
		Metadata  ResponseMetadata `json:"metadata"`
		Context   map[string]any   `json:"context,omitempty"`
	}

	// ResponseMetadata describes how a response was produced.
	ResponseMetadata struct {
		ResponseTime time.Duration `json:"responseTime"`
		ToolsUsed    []string      `json:"toolsUsed"`
		MemorySize   int           `json:"memorySize"`
		Model        string        `json:"model"`
	}

	requestCounters struct {
		total        int
		successful   int
		failed       int
		responseTime time.Duration
	}
)

const (
	defaultMaxSessions     = 1000
	defaultMaxRetries      = 3
	defaultRetryDelay      = time.Second
	defaultMetricsInterval = time.Minute
	defaultSessionTimeout  = time.Hour
	defaultModelName       = "gpt-5-mini"
	contextNoteLimit       = 1500

	// KindContext marks the history entry recording the request context.
	KindContext = "context"
)

// ErrInvalidMessage is returned for requests without message text. It is
// never retried.
var ErrInvalidMessage = errors.New("invalid message")

// New composes a Service from opts.
func New(opts Options) (*Service, error) {
	if opts.Model == nil {
		return nil, errors.New("model client is required")
	}
	s := &Service{
		history:         opts.History,
		modelName:       opts.ModelName,
		sessionTimeout:  opts.SessionTimeout,
		maxSessions:     opts.MaxSessions,
		maxRetries:      opts.MaxRetries,
		retryDelay:      opts.RetryDelay,
		metricsInterval: opts.MetricsInterval,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		now:             opts.Clock,
	}
	if s.logger == nil {
		s.logger = telemetry.NewNoopLogger()
	}
	if s.metrics == nil {
		s.metrics = telemetry.NewNoopMetrics()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.history == nil {
		limit := opts.MemoryLimit
		if limit <= 0 {
			limit = session.DefaultLimit
		}
		s.history = inmem.New(limit)
	}
	if s.modelName == "" {
		s.modelName = defaultModelName
	}
	if s.sessionTimeout <= 0 {
		s.sessionTimeout = defaultSessionTimeout
	}
	if s.maxSessions <= 0 {
		s.maxSessions = defaultMaxSessions
	}
	if s.maxRetries <= 0 {
		s.maxRetries = defaultMaxRetries
	}
	switch {
	case s.retryDelay == 0:
		s.retryDelay = defaultRetryDelay
	case s.retryDelay < 0:
		s.retryDelay = 0
	}
	if s.metricsInterval <= 0 {
		s.metricsInterval = defaultMetricsInterval
	}

	s.tools = registry.NewManager(
		registry.WithLogger(s.logger),
		registry.WithDefaultConfig(opts.ToolDefaults),
	)
	ctx := context.Background()
	for _, t := range opts.Tools {
		if _, dup := s.tools.Get(t.Metadata().Name); !dup {
			if v := s.tools.Validate(t); !v.Valid {
				return nil, fmt.Errorf("tool %s: %s", t.Metadata().Name, strings.Join(v.Errors, "; "))
			}
		}
		s.tools.Register(ctx, t)
	}

	eng, err := engine.New(engine.Options{
		Model:          opts.Model,
		Tools:          s.tools,
		History:        s.history,
		ModelName:      opts.ModelName,
		SystemPrompt:   opts.SystemPrompt,
		MaxTokens:      opts.MaxTokens,
		Temperature:    opts.Temperature,
		LLMTimeout:     opts.LLMTimeout,
		SessionTimeout: s.sessionTimeout,
		Logger:         s.logger,
		Metrics:        s.metrics,
		Tracer:         opts.Tracer,
		Clock:          s.now,
	})
	if err != nil {
		return nil, err
	}
	s.engine = eng
	return s, nil
}

// Run sweeps idle sessions and periodically reports metrics until ctx is
// done.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.engine.Start(ctx)
		return nil
	})
	g.Go(func() error {
		s.Monitor(ctx)
		return nil
	})
	return g.Wait()
}

// ProcessChat runs one chat turn and records it in the session history.
func (s *Service) ProcessChat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return ChatResponse{}, fmt.Errorf("%w: message is required", ErrInvalidMessage)
	}
	start := s.now()
	s.mu.Lock()
	s.requests.total++
	s.mu.Unlock()

	if req.SessionID == "" {
		req.SessionID = engine.NewSessionID()
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	s.logger.Info(ctx, "processing chat request",
		"session_id", req.SessionID,
		"request_id", req.RequestID,
		"length", len(req.Message),
		"has_context", len(req.Context) > 0)

	s.appendHistory(ctx, req.SessionID, session.Message{
		Role:      session.RoleUser,
		Content:   req.Message,
		Timestamp: start,
		RequestID: req.RequestID,
	})
	if len(req.Context) > 0 {
		s.appendHistory(ctx, req.SessionID, session.Message{
			Role:      session.RoleAssistant,
			Content:   "[context] " + contextNote(req.Context),
			Timestamp: start,
			RequestID: req.RequestID,
			Kind:      KindContext,
		})
	}

	reply, err := s.engine.ProcessMessage(ctx, engine.Turn{
		Message:   req.Message,
		SessionID: req.SessionID,
		Context:   req.Context,
		RequestID: req.RequestID,
	})
	if err != nil {
		s.record(s.now().Sub(start), false)
		s.logger.Error(ctx, "chat request failed", "session_id", req.SessionID, "request_id", req.RequestID, "err", err)
		if errors.Is(err, engine.ErrEmptyMessage) {
			return ChatResponse{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
		}
		return ChatResponse{}, fmt.Errorf("process chat: %w", err)
	}

	s.appendHistory(ctx, reply.SessionID, session.Message{
		Role:      session.RoleAssistant,
		Content:   reply.Response,
		Timestamp: s.now(),
		RequestID: req.RequestID,
	})

	elapsed := s.now().Sub(start)
	s.record(elapsed, true)
	s.logger.Info(ctx, "chat request processed",
		"session_id", reply.SessionID,
		"response_time", elapsed.String(),
		"tools", reply.Metadata.ToolsUsed,
		"memory_size", reply.Metadata.MemorySize)

	return ChatResponse{
		Response:  reply.Response,
		SessionID: reply.SessionID,
		Timestamp: s.now(),
		Metadata: ResponseMetadata{
			ResponseTime: elapsed,
			ToolsUsed:    reply.Metadata.ToolsUsed,
			MemorySize:   reply.Metadata.MemorySize,
			Model:        s.modelName,
		},
		Context: req.Context,
	}, nil
}

// ProcessWithRetry retries ProcessChat up to maxRetries times (the service
// default when maxRetries <= 0), sleeping RetryDelay*attempt in between.
// Every attempt reuses the same session and request ids so history appends
// stay idempotent. Invalid messages are not retried.
func (s *Service) ProcessWithRetry(ctx context.Context, req ChatRequest, maxRetries int) (ChatResponse, error) {
	if maxRetries <= 0 {
		maxRetries = s.maxRetries
	}
	if req.SessionID == "" {
		req.SessionID = engine.NewSessionID()
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		resp, err := s.ProcessChat(ctx, req)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, ErrInvalidMessage) {
			return ChatResponse{}, err
		}
		lastErr = err
		s.logger.Warn(ctx, "chat attempt failed", "attempt", attempt, "max_attempts", maxRetries, "err", err)
		if attempt == maxRetries {
			break
		}
		if s.retryDelay > 0 {
			timer := time.NewTimer(s.retryDelay * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ChatResponse{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return ChatResponse{}, lastErr
}

// Session returns the engine session with the given id.
func (s *Service) Session(id string) (engine.Session, bool) {
	return s.engine.Session(id)
}

// Sessions returns every engine session.
func (s *Service) Sessions() []engine.Session {
	return s.engine.Sessions()
}

// ClearSession deletes the engine session and its history. It reports
// whether the engine session existed.
func (s *Service) ClearSession(ctx context.Context, id string) bool {
	if err := s.history.Clear(ctx, id); err != nil {
		s.logger.Warn(ctx, "clear history", "session_id", id, "err", err)
	}
	return s.engine.ClearSession(id)
}

// Tools returns the tool registry.
func (s *Service) Tools() *registry.Manager { return s.tools }

// RegisterTool adds t to the registry.
func (s *Service) RegisterTool(ctx context.Context, t tools.Tool) bool {
	return s.tools.Register(ctx, t)
}

// UnregisterTool removes the named tool.
func (s *Service) UnregisterTool(ctx context.Context, name string) bool {
	return s.tools.Unregister(ctx, name)
}

// EnableTool enables the named tool.
func (s *Service) EnableTool(ctx context.Context, name string) error {
	return s.tools.Enable(ctx, name)
}

// DisableTool disables the named tool.
func (s *Service) DisableTool(ctx context.Context, name string) error {
	return s.tools.Disable(ctx, name)
}

// ToolStats returns usage statistics keyed by tool name.
func (s *Service) ToolStats() map[string]tools.Stats {
	return s.tools.Stats()
}

// ClearAllCaches drops the result cache of every tool.
func (s *Service) ClearAllCaches(ctx context.Context) {
	s.tools.ClearAllCaches(ctx)
}

func (s *Service) appendHistory(ctx context.Context, sessionID string, msg session.Message) {
	if err := s.history.Append(ctx, sessionID, msg); err != nil {
		s.logger.Warn(ctx, "append history", "session_id", sessionID, "role", msg.Role, "err", err)
	}
}

func (s *Service) record(elapsed time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests.responseTime += elapsed
	if ok {
		s.requests.successful++
	} else {
		s.requests.failed++
	}
}

// contextNote renders ctx as JSON truncated to contextNoteLimit bytes on a
// rune boundary.
func contextNote(ctx map[string]any) string {
	raw, err := json.Marshal(ctx)
	if err != nil {
		return "{}"
	}
	s := string(raw)
	if len(s) <= contextNoteLimit {
		return s
	}
	cut := 0
	for i := range s {
		if i > contextNoteLimit {
			break
		}
		cut = i
	}
	return s[:cut]
}
