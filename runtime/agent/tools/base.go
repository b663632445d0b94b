package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/helioai/lio-agent/runtime/agent/telemetry"
)

type (
	// Options configures a Base.
	Options struct {
		// Metadata describes the tool. Name and Description are required.
		Metadata Metadata
		// Kind is the tool kind. Required.
		Kind Kind
		// Executor performs one invocation. Required.
		Executor Executor
		// Parameters is the JSON Schema of the arguments. Defaults to
		// DefaultParameters.
		Parameters map[string]any
		// CacheKey overrides the default cache key derivation.
		CacheKey func(Input) string
		// Config overrides fields of DefaultConfig.
		Config ConfigPatch

		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
		// Clock returns the current time. Defaults to time.Now.
		Clock func() time.Time
	}

	// Base implements Tool around an Executor. Concrete tools embed *Base.
	Base struct {
		meta     Metadata
		kind     Kind
		exec     Executor
		spec     FunctionSpec
		schema   *jsonschema.Schema
		cacheKey func(Input) string
		logger   telemetry.Logger
		metrics  telemetry.Metrics
		tracer   telemetry.Tracer
		now      func() time.Time

		mu        sync.Mutex
		cfg       Config
		limiter   *rate.Limiter
		cache     *lru.Cache[string, cacheEntry]
		callCount int
		lastCall  time.Time
	}

	cacheEntry struct {
		data     any
		storedAt time.Time
	}

	attemptOutcome struct {
		res Result
		err error
	}
)

var _ Tool = (*Base)(nil)

// NewBase builds a Base from opts.
func NewBase(opts Options) (*Base, error) {
	if opts.Metadata.Name == "" {
		return nil, errors.New("tool name is required")
	}
	if opts.Metadata.Description == "" {
		return nil, fmt.Errorf("tool %s: description is required", opts.Metadata.Name)
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("tool %s: executor is required", opts.Metadata.Name)
	}
	if !opts.Kind.Valid() {
		return nil, fmt.Errorf("tool %s: unknown kind %q", opts.Metadata.Name, opts.Kind)
	}
	if rl := opts.Metadata.RateLimit; rl != nil && (rl.Requests <= 0 || rl.Window <= 0) {
		return nil, fmt.Errorf("tool %s: rate limit requests and window must be positive", opts.Metadata.Name)
	}
	params := opts.Parameters
	if params == nil {
		params = DefaultParameters()
	}
	spec := FunctionSpec{
		Name:        opts.Metadata.Name,
		Description: opts.Metadata.Description,
		Parameters:  params,
	}
	schema, err := CompileSchema(spec)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", opts.Metadata.Name, err)
	}
	cfg := DefaultConfig()
	if opts.Metadata.Timeout > 0 {
		cfg.Timeout = opts.Metadata.Timeout
	}
	cfg = cfg.Apply(opts.Config)
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultConfig().CacheSize
	}
	cache, err := lru.New[string, cacheEntry](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("tool %s: create cache: %w", opts.Metadata.Name, err)
	}
	b := &Base{
		meta:     opts.Metadata.clone(),
		kind:     opts.Kind,
		exec:     opts.Executor,
		spec:     spec,
		schema:   schema,
		cacheKey: opts.CacheKey,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		now:      opts.Clock,
		cfg:      cfg,
		cache:    cache,
	}
	if b.logger == nil {
		b.logger = telemetry.NewNoopLogger()
	}
	if b.metrics == nil {
		b.metrics = telemetry.NewNoopMetrics()
	}
	if b.tracer == nil {
		b.tracer = telemetry.NewNoopTracer()
	}
	if b.now == nil {
		b.now = time.Now
	}
	if rl := b.meta.RateLimit; rl != nil {
		b.limiter = rate.NewLimiter(rate.Limit(float64(rl.Requests)/rl.Window.Seconds()), rl.Requests)
	}
	return b, nil
}

func (b *Base) Metadata() Metadata { return b.meta.clone() }

func (b *Base) Kind() Kind { return b.kind }

func (b *Base) Spec() FunctionSpec { return b.spec }

// HasExecutor reports whether the tool can run.
func (b *Base) HasExecutor() bool { return b.exec != nil }

func (b *Base) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// UpdateConfig applies patch. Shrinking CacheSize evicts the least recently
// used entries.
func (b *Base) UpdateConfig(patch ConfigPatch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.cfg.Apply(patch)
	if next.CacheSize <= 0 {
		next.CacheSize = b.cfg.CacheSize
	}
	if next.CacheSize != b.cfg.CacheSize {
		b.cache.Resize(next.CacheSize)
	}
	b.cfg = next
}

func (b *Base) ValidateArgs(args Input) error {
	return ValidateArgs(b.schema, args)
}

// CacheKey returns "<name>_<JSON of in>" unless the tool overrides it.
// encoding/json sorts map keys so equal inputs produce equal keys.
func (b *Base) CacheKey(in Input) string {
	if b.cacheKey != nil {
		return b.cacheKey(in)
	}
	raw, err := json.Marshal(in)
	if err != nil {
		raw = fmt.Appendf(nil, "%v", in)
	}
	return b.meta.Name + "_" + string(raw)
}

func (b *Base) Execute(ctx context.Context, in Input) (Result, error) {
	return b.exec(ctx, in)
}

// ExecuteWithRetry runs the tool through rate limiting, the result cache and
// up to MaxRetries attempts. Errors from the last attempt are returned
// unchanged. A failed Result is not an error and is not retried.
func (b *Base) ExecuteWithRetry(ctx context.Context, in Input) (Result, error) {
	cfg := b.Config()
	name := b.meta.Name
	if !cfg.Enabled {
		return Result{}, fmt.Errorf("%s: %w", name, ErrToolDisabled)
	}
	start := b.now()
	b.recordCall(start)
	b.metrics.IncCounter(telemetry.MetricToolCalls, 1, "tool", name)
	ctx, span := b.tracer.Start(ctx, "agent.tool")
	defer span.End()
	defer func() {
		b.metrics.RecordTimer(telemetry.MetricToolDuration, b.now().Sub(start), "tool", name)
	}()

	if err := b.acquire(ctx, cfg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limited")
		return Result{}, err
	}

	var key string
	if cfg.CacheEnabled {
		key = b.CacheKey(in)
		if data, ok := b.lookup(key, cfg.CacheTTL); ok {
			b.metrics.IncCounter(telemetry.MetricToolCacheHits, 1, "tool", name)
			span.AddEvent("cache_hit", "key", key)
			return Result{
				Success:  true,
				Data:     data,
				Metadata: &ResultMetadata{ExecutionTime: b.now().Sub(start), CacheHit: true},
			}, nil
		}
	}

	attempts := max(cfg.MaxRetries, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := b.attempt(ctx, cfg, in)
		if err == nil {
			if res.Success && cfg.CacheEnabled {
				b.store(key, res.Data)
			}
			res.Metadata = &ResultMetadata{ExecutionTime: b.now().Sub(start), Retries: attempt - 1}
			return res, nil
		}
		lastErr = err
		b.logger.Warn(ctx, "tool attempt failed", "tool", name, "attempt", attempt, "max_attempts", attempts, "err", err)
		if attempt == attempts {
			break
		}
		b.metrics.IncCounter(telemetry.MetricToolRetries, 1, "tool", name)
		if cfg.RetryDelay > 0 {
			timer := time.NewTimer(cfg.RetryDelay * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				span.RecordError(ctx.Err())
				return Result{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "tool failed")
	b.logger.Error(ctx, "tool failed after retries", "tool", name, "attempts", attempts, "err", lastErr)
	return Result{}, lastErr
}

func (b *Base) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:         b.meta.Name,
		Category:     b.meta.Category,
		Enabled:      b.cfg.Enabled,
		CallCount:    b.callCount,
		LastCallTime: b.lastCall,
		CacheSize:    b.cache.Len(),
	}
}

func (b *Base) ClearCache() {
	b.cache.Purge()
}

// attempt runs the executor once. With a timeout configured, the wrapper
// stops waiting when the deadline passes; executors that ignore ctx keep
// running in the background.
func (b *Base) attempt(ctx context.Context, cfg Config, in Input) (Result, error) {
	if cfg.Timeout <= 0 {
		return b.safeExec(ctx, in)
	}
	actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	done := make(chan attemptOutcome, 1)
	go func() {
		res, err := b.safeExec(actx, in)
		done <- attemptOutcome{res: res, err: err}
	}()
	select {
	case out := <-done:
		return out.res, out.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%s timed out after %s: %w", b.meta.Name, cfg.Timeout, actx.Err())
	}
}

func (b *Base) safeExec(ctx context.Context, in Input) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", b.meta.Name, r)
		}
	}()
	return b.exec(ctx, in)
}

func (b *Base) acquire(ctx context.Context, cfg Config) error {
	if b.limiter == nil {
		return nil
	}
	if cfg.RateLimitMode == RateLimitReject {
		if !b.limiter.Allow() {
			return fmt.Errorf("%s: %w", b.meta.Name, ErrRateLimited)
		}
		return nil
	}
	return b.limiter.Wait(ctx)
}

func (b *Base) lookup(key string, ttl time.Duration) (any, bool) {
	e, ok := b.cache.Get(key)
	if !ok {
		return nil, false
	}
	if ttl > 0 && b.now().Sub(e.storedAt) >= ttl {
		b.cache.Remove(key)
		return nil, false
	}
	return e.data, true
}

func (b *Base) store(key string, data any) {
	b.cache.Add(key, cacheEntry{data: data, storedAt: b.now()})
}

func (b *Base) recordCall(at time.Time) {
	b.mu.Lock()
	b.callCount++
	b.lastCall = at
	b.mu.Unlock()
}
