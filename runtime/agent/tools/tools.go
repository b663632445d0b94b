// Package tools defines the tool capability contract, its metadata and
// configuration, and Base, the shared execution wrapper adding rate limiting,
// result caching, per-attempt timeouts and retries around a tool executor.
package tools

import (
	"context"
	"errors"
	"time"
)

type (
	// Tool is a named capability the model can invoke.
	Tool interface {
		// Metadata returns a copy of the tool's immutable metadata.
		Metadata() Metadata
		// Kind identifies the tool within the closed set of known kinds.
		Kind() Kind
		// Config returns a copy of the current configuration.
		Config() Config
		// UpdateConfig applies the non-nil fields of patch.
		UpdateConfig(patch ConfigPatch)
		// Spec returns the function definition advertised to the model.
		Spec() FunctionSpec
		// ValidateArgs checks args against the compiled parameter schema.
		ValidateArgs(args Input) error
		// CacheKey returns the result cache key for in.
		CacheKey(in Input) string
		// Execute runs the tool once without rate limiting, caching or retries.
		Execute(ctx context.Context, in Input) (Result, error)
		// ExecuteWithRetry runs the tool through the full execution policy.
		ExecuteWithRetry(ctx context.Context, in Input) (Result, error)
		// Stats returns usage counters.
		Stats() Stats
		// ClearCache drops every cached result.
		ClearCache()
	}

	// Executor performs one tool invocation.
	Executor func(ctx context.Context, in Input) (Result, error)

	// Input holds decoded tool arguments.
	Input map[string]any

	// Metadata describes a tool. It is immutable once the tool is built.
	Metadata struct {
		Name        string     `json:"name"`
		Description string     `json:"description"`
		Version     string     `json:"version"`
		Category    string     `json:"category"`
		Tags        []string   `json:"tags,omitempty"`
		RateLimit   *RateLimit `json:"rateLimit,omitempty"`
		// Timeout, when set, seeds Config.Timeout.
		Timeout time.Duration `json:"timeout,omitempty"`
	}

	// RateLimit allows Requests calls per Window.
	RateLimit struct {
		Requests int           `json:"requests"`
		Window   time.Duration `json:"window"`
	}

	// Config is the mutable execution policy of a tool.
	Config struct {
		Enabled    bool          `json:"enabled"`
		MaxRetries int           `json:"maxRetries"`
		// RetryDelay is multiplied by the attempt number between attempts.
		RetryDelay    time.Duration `json:"retryDelay"`
		Timeout       time.Duration `json:"timeout"`
		CacheEnabled  bool          `json:"cacheEnabled"`
		CacheTTL      time.Duration `json:"cacheTTL"`
		CacheSize     int           `json:"cacheSize"`
		RateLimitMode RateLimitMode `json:"rateLimitMode"`
	}

	// ConfigPatch carries a partial Config update. Nil fields are left
	// unchanged.
	ConfigPatch struct {
		Enabled       *bool          `json:"enabled,omitempty" yaml:"enabled"`
		MaxRetries    *int           `json:"maxRetries,omitempty" yaml:"maxRetries"`
		RetryDelay    *time.Duration `json:"retryDelay,omitempty" yaml:"retryDelay"`
		Timeout       *time.Duration `json:"timeout,omitempty" yaml:"timeout"`
		CacheEnabled  *bool          `json:"cacheEnabled,omitempty" yaml:"cacheEnabled"`
		CacheTTL      *time.Duration `json:"cacheTTL,omitempty" yaml:"cacheTTL"`
		CacheSize     *int           `json:"cacheSize,omitempty" yaml:"cacheSize"`
		RateLimitMode *RateLimitMode `json:"rateLimitMode,omitempty" yaml:"rateLimitMode"`
	}

	// Result is the outcome of a tool call. Success implies Data is set and
	// Error is empty; a failed result always carries an Error message.
	Result struct {
		Success  bool            `json:"success"`
		Data     any             `json:"data,omitempty"`
		Error    string          `json:"error,omitempty"`
		Metadata *ResultMetadata `json:"metadata,omitempty"`
	}

	// ResultMetadata describes how a result was produced.
	ResultMetadata struct {
		ExecutionTime time.Duration `json:"executionTime"`
		CacheHit      bool          `json:"cacheHit"`
		Retries       int           `json:"retries"`
	}

	// FunctionSpec is the function definition presented to the model.
	FunctionSpec struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	}

	// Stats reports tool usage.
	Stats struct {
		Name         string    `json:"name"`
		Category     string    `json:"category"`
		Enabled      bool      `json:"enabled"`
		CallCount    int       `json:"callCount"`
		LastCallTime time.Time `json:"lastCallTime,omitzero"`
		CacheSize    int       `json:"cacheSize"`
	}

	// RateLimitMode selects the behavior when the rate limit is exhausted.
	RateLimitMode string
)

const (
	// RateLimitWait blocks until a token is available or ctx is done.
	RateLimitWait RateLimitMode = "wait"
	// RateLimitReject fails fast with ErrRateLimited.
	RateLimitReject RateLimitMode = "reject"
)

var (
	// ErrRateLimited is returned when a call is rejected by the tool rate
	// limiter. It is never retried.
	ErrRateLimited = errors.New("tool rate limit exceeded")
	// ErrToolDisabled is returned when executing a disabled tool.
	ErrToolDisabled = errors.New("tool is disabled")
)

// DefaultConfig returns the execution policy applied to new tools.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		MaxRetries:    3,
		RetryDelay:    time.Second,
		Timeout:       30 * time.Second,
		CacheEnabled:  true,
		CacheTTL:      5 * time.Minute,
		CacheSize:     256,
		RateLimitMode: RateLimitWait,
	}
}

// DefaultParameters returns the permissive parameter schema used when a tool
// does not declare one.
func DefaultParameters() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": true,
	}
}

// OK returns a successful result carrying data.
func OK(data any) Result {
	if data == nil {
		data = map[string]any{}
	}
	return Result{Success: true, Data: data}
}

// Fail returns a failed result with the given message.
func Fail(msg string) Result {
	if msg == "" {
		msg = "tool failed"
	}
	return Result{Success: false, Error: msg}
}

// Apply returns c with the non-nil fields of p applied.
func (c Config) Apply(p ConfigPatch) Config {
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.MaxRetries != nil {
		c.MaxRetries = *p.MaxRetries
	}
	if p.RetryDelay != nil {
		c.RetryDelay = *p.RetryDelay
	}
	if p.Timeout != nil {
		c.Timeout = *p.Timeout
	}
	if p.CacheEnabled != nil {
		c.CacheEnabled = *p.CacheEnabled
	}
	if p.CacheTTL != nil {
		c.CacheTTL = *p.CacheTTL
	}
	if p.CacheSize != nil {
		c.CacheSize = *p.CacheSize
	}
	if p.RateLimitMode != nil {
		c.RateLimitMode = *p.RateLimitMode
	}
	return c
}

// Merge returns p with the non-nil fields of o applied on top.
func (p ConfigPatch) Merge(o ConfigPatch) ConfigPatch {
	if o.Enabled != nil {
		p.Enabled = o.Enabled
	}
	if o.MaxRetries != nil {
		p.MaxRetries = o.MaxRetries
	}
	if o.RetryDelay != nil {
		p.RetryDelay = o.RetryDelay
	}
	if o.Timeout != nil {
		p.Timeout = o.Timeout
	}
	if o.CacheEnabled != nil {
		p.CacheEnabled = o.CacheEnabled
	}
	if o.CacheTTL != nil {
		p.CacheTTL = o.CacheTTL
	}
	if o.CacheSize != nil {
		p.CacheSize = o.CacheSize
	}
	if o.RateLimitMode != nil {
		p.RateLimitMode = o.RateLimitMode
	}
	return p
}

// ParseRateLimitMode returns the mode named s, defaulting to RateLimitWait.
func ParseRateLimitMode(s string) RateLimitMode {
	if RateLimitMode(s) == RateLimitReject {
		return RateLimitReject
	}
	return RateLimitWait
}

func (m Metadata) clone() Metadata {
	if m.Tags != nil {
		m.Tags = append([]string(nil), m.Tags...)
	}
	if m.RateLimit != nil {
		rl := *m.RateLimit
		m.RateLimit = &rl
	}
	return m
}
