// Package engine runs a single conversational turn: it asks the model which
// tools to call, executes them sequentially, then asks the model again for
// the final answer with tools disabled.
//
// The engine also owns the process-local session table. Sessions carry the
// caller supplied context (for example the widget the user is looking at)
// and per-session statistics. They are created lazily and removed when idle
// longer than SessionTimeout.
//
//	eng, err := engine.New(engine.Options{Model: client, Tools: manager})
//	go eng.Start(ctx)
//	reply, err := eng.ProcessMessage(ctx, engine.Turn{Message: "how did my campaigns do?"})
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/helioai/lio-agent/runtime/agent/model"
	"github.com/helioai/lio-agent/runtime/agent/session"
	"github.com/helioai/lio-agent/runtime/agent/session/inmem"
	"github.com/helioai/lio-agent/runtime/agent/telemetry"
	"github.com/helioai/lio-agent/runtime/agent/tools"
)

type (
	// Registry resolves the tools offered to the model.
	Registry interface {
		Get(name string) (tools.Tool, bool)
		Enabled() []tools.Tool
	}

	// Options configures an Engine.
	Options struct {
		// Model is the chat completion client. Required.
		Model model.Client
		// Tools resolves tools by name. Required.
		Tools Registry
		// History provides prior turns. Defaults to an in-memory store.
		History session.Store
		// ModelName overrides the adapter default model.
		ModelName string
		// SystemPrompt defaults to DefaultSystemPrompt.
		SystemPrompt string
		MaxTokens    int
		Temperature  float32
		// LLMTimeout bounds each model call. Defaults to 30s.
		LLMTimeout time.Duration
		// SessionTimeout is the idle time after which a session is swept.
		// Defaults to 1h.
		SessionTimeout time.Duration
		// SweepInterval is the period of the idle session sweep. Defaults
		// to 5m.
		SweepInterval time.Duration
		// HistoryWindow is the number of prior messages sent to the model.
		// Defaults to 12.
		HistoryWindow int

		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
		// Clock returns the current time. Defaults to time.Now.
		Clock func() time.Time
	}

	// Engine processes turns. It is safe for concurrent use.
	Engine struct {
		model          model.Client
		tools          Registry
		history        session.Store
		modelName      string
		systemPrompt   string
		maxTokens      int
		temperature    float32
		llmTimeout     time.Duration
		sessionTimeout time.Duration
		sweepInterval  time.Duration
		historyWindow  int
		logger         telemetry.Logger
		metrics        telemetry.Metrics
		tracer         telemetry.Tracer
		now            func() time.Time

		mu       sync.Mutex
		sessions map[string]*Session
		counters counters
	}

	// Turn is one user message.
	Turn struct {
		Message   string
		SessionID string
		// Context is merged into the session metadata. Later turns
		// overwrite earlier keys.
		Context map[string]any
		// RequestID identifies the turn. History entries carrying it are
		// not replayed to the model as prior messages.
		RequestID string
	}

	// Reply is the outcome of a turn.
	Reply struct {
		Response  string        `json:"response"`
		SessionID string        `json:"sessionId"`
		Metadata  ReplyMetadata `json:"metadata"`
	}

	// ReplyMetadata describes how a reply was produced.
	ReplyMetadata struct {
		ResponseTime time.Duration `json:"responseTime"`
		ToolsUsed    []string      `json:"toolsUsed"`
		MemorySize   int           `json:"memorySize"`
	}

	counters struct {
		messages     int
		errors       int
		responseTime time.Duration
		toolUsage    map[string]int
	}
)

// Session metadata keys written by the engine.
const (
	MetaWidgetID              = "widgetId"
	MetaLastAnalysisKey       = "lastAnalysisKey"
	MetaLastAnalysisWidgetID  = "lastAnalysisWidgetId"
	MetaLastAnalysisTimeRange = "lastAnalysisTimeRange"
)

const (
	defaultLLMTimeout     = 30 * time.Second
	defaultSessionTimeout = time.Hour
	defaultSweepInterval  = 5 * time.Minute
	defaultHistoryWindow  = 12
	defaultTimeRange      = "14d"
	sessionContextLimit   = 1500
)

// ErrEmptyMessage is returned when a turn carries no text.
var ErrEmptyMessage = errors.New("message is required")

// New returns an engine configured with opts.
func New(opts Options) (*Engine, error) {
	if opts.Model == nil {
		return nil, errors.New("model client is required")
	}
	if opts.Tools == nil {
		return nil, errors.New("tool registry is required")
	}
	e := &Engine{
		model:          opts.Model,
		tools:          opts.Tools,
		history:        opts.History,
		modelName:      opts.ModelName,
		systemPrompt:   opts.SystemPrompt,
		maxTokens:      opts.MaxTokens,
		temperature:    opts.Temperature,
		llmTimeout:     opts.LLMTimeout,
		sessionTimeout: opts.SessionTimeout,
		sweepInterval:  opts.SweepInterval,
		historyWindow:  opts.HistoryWindow,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		tracer:         opts.Tracer,
		now:            opts.Clock,
		sessions:       make(map[string]*Session),
		counters:       counters{toolUsage: make(map[string]int)},
	}
	if e.history == nil {
		e.history = inmem.New(session.DefaultLimit)
	}
	if e.systemPrompt == "" {
		e.systemPrompt = DefaultSystemPrompt
	}
	if e.llmTimeout <= 0 {
		e.llmTimeout = defaultLLMTimeout
	}
	if e.sessionTimeout <= 0 {
		e.sessionTimeout = defaultSessionTimeout
	}
	if e.sweepInterval <= 0 {
		e.sweepInterval = defaultSweepInterval
	}
	if e.historyWindow <= 0 {
		e.historyWindow = defaultHistoryWindow
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	if e.metrics == nil {
		e.metrics = telemetry.NewNoopMetrics()
	}
	if e.tracer == nil {
		e.tracer = telemetry.NewNoopTracer()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return "session_" + uuid.NewString()
}

// ProcessMessage runs one turn. Model failures are returned wrapped and
// counted against the engine and session error statistics. Tool failures
// are reported to the model as tool messages and do not fail the turn.
func (e *Engine) ProcessMessage(ctx context.Context, turn Turn) (Reply, error) {
	if strings.TrimSpace(turn.Message) == "" {
		return Reply{}, ErrEmptyMessage
	}
	sid := turn.SessionID
	if sid == "" {
		sid = NewSessionID()
	}
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "agent.turn")
	defer span.End()
	e.metrics.IncCounter(telemetry.MetricTurns, 1)

	meta := e.touch(sid, turn.Context, start)
	e.logger.Info(ctx, "processing message", "session_id", sid, "request_id", turn.RequestID, "length", len(turn.Message))

	output, used, err := e.run(ctx, sid, turn, meta)
	if err != nil {
		e.recordError(sid)
		e.metrics.IncCounter(telemetry.MetricTurnErrors, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		e.logger.Error(ctx, "turn failed", "session_id", sid, "err", err)
		return Reply{}, err
	}
	output = Redact(output, meta)

	elapsed := e.now().Sub(start)
	e.recordSuccess(sid, elapsed, used)
	e.metrics.RecordTimer(telemetry.MetricTurnDuration, elapsed)

	memory := 0
	if msgs, err := e.history.History(ctx, sid, 0); err == nil {
		memory = len(msgs)
	} else {
		e.logger.Warn(ctx, "read history size", "session_id", sid, "err", err)
	}
	e.logger.Info(ctx, "message processed", "session_id", sid, "response_time", elapsed.String(), "tools", len(used))

	return Reply{
		Response:  output,
		SessionID: sid,
		Metadata: ReplyMetadata{
			ResponseTime: elapsed,
			ToolsUsed:    used,
			MemorySize:   memory,
		},
	}, nil
}

// run performs the two model phases and the tool round in between. It
// returns the raw model output and the names of the tools that ran.
func (e *Engine) run(ctx context.Context, sid string, turn Turn, meta map[string]any) (string, []string, error) {
	msgs := e.buildMessages(ctx, sid, turn, meta)

	enabled := e.tools.Enabled()
	defs := make([]*model.ToolDefinition, 0, len(enabled))
	for _, t := range enabled {
		spec := t.Spec()
		defs = append(defs, &model.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.Parameters,
		})
	}

	first, err := e.complete(ctx, msgs, defs, model.ToolChoiceAuto)
	if err != nil {
		return "", nil, fmt.Errorf("select tools: %w", err)
	}
	if len(first.ToolCalls) == 0 {
		return first.Content, []string{}, nil
	}

	msgs = append(msgs, &model.Message{
		Role:      model.ConversationRoleAssistant,
		Content:   first.Content,
		ToolCalls: first.ToolCalls,
	})
	used := make([]string, 0, len(first.ToolCalls))
	for _, call := range first.ToolCalls {
		msg, ran := e.callTool(ctx, sid, call, meta)
		msgs = append(msgs, msg)
		if ran && !slices.Contains(used, call.Name) {
			used = append(used, call.Name)
		}
	}

	// Providers reject transcripts with tool calls unless the tools are
	// declared, so phase two resends them with tool use disabled.
	final, err := e.complete(ctx, msgs, defs, model.ToolChoiceNone)
	if err != nil {
		return "", nil, fmt.Errorf("synthesize answer: %w", err)
	}
	return final.Content, used, nil
}

// callTool executes one model requested tool call and returns the tool
// message answering it. ran reports whether the tool was invoked.
func (e *Engine) callTool(ctx context.Context, sid string, call model.ToolCall, meta map[string]any) (msg *model.Message, ran bool) {
	t, ok := e.tools.Get(call.Name)
	if !ok {
		e.logger.Warn(ctx, "model requested unknown tool", "session_id", sid, "tool", call.Name)
		return model.ToolResult(call, errorContent(fmt.Sprintf("Tool '%s' not found", call.Name))), false
	}

	args := tools.Input{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil || args == nil {
			e.logger.Debug(ctx, "discarding malformed tool arguments", "tool", call.Name, "err", err)
			args = tools.Input{}
		}
	}
	if id, ok := meta[MetaWidgetID].(string); ok && id != "" && t.Kind().ScopeAware() {
		args["widgetId"] = id
	}

	// The model never sees the injected context, so only its own
	// arguments are validated.
	modelArgs := make(tools.Input, len(args))
	for k, v := range args {
		if k != "context" {
			modelArgs[k] = v
		}
	}
	if err := t.ValidateArgs(modelArgs); err != nil {
		e.logger.Warn(ctx, "invalid tool arguments", "tool", call.Name, "err", err)
		res := tools.Fail(fmt.Sprintf("Invalid arguments for %s: %v", call.Name, err))
		return model.ToolResult(call, errorContent(res.Error)), false
	}

	toolCtx := map[string]any{}
	if c, ok := args["context"].(map[string]any); ok {
		for k, v := range c {
			toolCtx[k] = v
		}
	}
	for k, v := range meta {
		toolCtx[k] = v
	}
	args["context"] = toolCtx

	res, err := t.ExecuteWithRetry(ctx, args)
	if err != nil {
		e.logger.Error(ctx, "tool execution failed", "session_id", sid, "tool", call.Name, "err", err)
		return model.ToolResult(call, errorContent(err.Error())), true
	}
	if !res.Success {
		return model.ToolResult(call, errorContent(res.Error)), true
	}
	if t.Kind().ScopeAware() {
		e.rememberAnalysis(sid, t, args, meta)
	}
	raw, err := json.Marshal(res.Data)
	if err != nil {
		return model.ToolResult(call, errorContent(fmt.Sprintf("encode %s result: %v", call.Name, err))), true
	}
	return model.ToolResult(call, string(raw)), true
}

// rememberAnalysis records the cache key of the last successful analysis so
// follow-up turns can refer to it.
func (e *Engine) rememberAnalysis(sid string, t tools.Tool, args tools.Input, meta map[string]any) {
	widgetID, _ := args["widgetId"].(string)
	if widgetID == "" {
		widgetID, _ = meta[MetaWidgetID].(string)
	}
	timeRange, _ := args["timeRange"].(string)
	if timeRange == "" {
		timeRange = defaultTimeRange
	}
	key := t.CacheKey(tools.Input{"widgetId": widgetID, "timeRange": timeRange})

	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sid]
	if !ok {
		return
	}
	s.Metadata[MetaLastAnalysisKey] = key
	s.Metadata[MetaLastAnalysisWidgetID] = widgetID
	s.Metadata[MetaLastAnalysisTimeRange] = timeRange
}

func (e *Engine) complete(ctx context.Context, msgs []*model.Message, defs []*model.ToolDefinition, choice model.ToolChoice) (*model.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "agent.llm")
	defer span.End()

	start := e.now()
	e.metrics.IncCounter(telemetry.MetricLLMCalls, 1, "tool_choice", string(choice))
	resp, err := e.model.Complete(ctx, &model.Request{
		Model:       e.modelName,
		Messages:    msgs,
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
		Tools:       defs,
		ToolChoice:  choice,
	})
	e.metrics.RecordTimer(telemetry.MetricLLMDuration, e.now().Sub(start), "tool_choice", string(choice))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		return nil, err
	}
	if resp == nil {
		return &model.Response{}, nil
	}
	return resp, nil
}

func (e *Engine) buildMessages(ctx context.Context, sid string, turn Turn, meta map[string]any) []*model.Message {
	msgs := []*model.Message{
		model.Text(model.ConversationRoleSystem, e.systemPrompt),
		model.Text(model.ConversationRoleSystem, "Session context: "+sessionContext(meta)),
	}
	past, err := e.history.History(ctx, sid, 0)
	if err != nil {
		e.logger.Warn(ctx, "read history", "session_id", sid, "err", err)
	}
	prior := make([]session.Message, 0, len(past))
	for _, m := range past {
		if turn.RequestID != "" && m.RequestID == turn.RequestID {
			continue
		}
		prior = append(prior, m)
	}
	if len(prior) > e.historyWindow {
		prior = prior[len(prior)-e.historyWindow:]
	}
	for _, m := range prior {
		msgs = append(msgs, model.Text(historyRole(m.Role), m.Content))
	}
	return append(msgs, model.Text(model.ConversationRoleUser, turn.Message))
}

func historyRole(role string) model.ConversationRole {
	switch role {
	case session.RoleUser:
		return model.ConversationRoleUser
	case session.RoleSystem:
		return model.ConversationRoleSystem
	default:
		return model.ConversationRoleAssistant
	}
}

// sessionContext renders meta as JSON truncated to sessionContextLimit
// bytes on a rune boundary.
func sessionContext(meta map[string]any) string {
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	s := string(raw)
	if len(s) <= sessionContextLimit {
		return s
	}
	cut := 0
	for i := range s {
		if i > sessionContextLimit {
			break
		}
		cut = i
	}
	return s[:cut]
}

func errorContent(msg string) string {
	raw, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"tool failed"}`
	}
	return string(raw)
}
