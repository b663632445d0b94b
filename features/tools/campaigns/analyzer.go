// Package campaigns implements the campaign analyzer tool. The analyzer reads
// a widget's campaigns, messages, templates and attributed orders from a
// DataSource, aggregates them in memory and caches the report both in the
// tool's own result cache and in a durable Cache shared across instances.
// Concurrent identical requests are coalesced into a single computation.
package campaigns

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/helioai/lio-agent/runtime/agent/telemetry"
	"github.com/helioai/lio-agent/runtime/agent/tools"
)

// Name is the tool name advertised to the model.
const Name = "analyzeCampaigns"

// Result messages returned to the model for input and readiness errors.
const (
	MsgDatabaseNotConnected = "Database not connected. Please ensure the database is properly initialized."
	MsgMissingWidgetID      = "Missing required widgetId"
	MsgInvalidWidgetID      = "Invalid widgetId provided. Please provide a valid MongoDB ObjectId."
)

const (
	keyPrefix        = "campaign:analysis:"
	defaultTimeRange = "14d"
)

const description = "Comprehensive campaign analysis tool that provides deep insights into campaign performance, failures, template usage, message analytics, and attribution data. Extracts widgetId from input and performs optimized database queries."

const usage = `

Available parameters:
- widgetId (required): MongoDB ObjectId of the widget to analyze
- timeRange (optional): Analysis time range ('7d', '14d', '30d', '90d', 'all', default: '14d')
- includeFailed (optional): Include failed campaigns in analysis (default: true)
- includeMessages (optional): Include detailed message analysis (default: true)
- includeAttribution (optional): Include attribution and revenue data (default: true)

Example usage:
{
  "widgetId": "507f1f77bcf86cd799439011",
  "timeRange": "30d",
  "includeFailed": true,
  "includeMessages": true,
  "includeAttribution": true
}`

var objectIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

type (
	// Options configures the analyzer.
	Options struct {
		// Source provides campaign records. Required.
		Source DataSource
		// Cache is the durable analysis cache. Optional.
		Cache Cache
		// Config overrides the analyzer's default execution policy.
		Config tools.ConfigPatch

		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
		// Clock returns the current time. Defaults to time.Now.
		Clock func() time.Time
	}

	// Tool is the campaign analyzer.
	Tool struct {
		*tools.Base

		source DataSource
		cache  Cache
		logger telemetry.Logger
		now    func() time.Time
		flight singleflight.Group
	}

	// query is a normalized analysis request.
	query struct {
		widgetID           string
		timeRange          string
		includeFailed      bool
		includeMessages    bool
		includeAttribution bool
	}
)

var _ tools.Tool = (*Tool)(nil)

// New returns the campaign analyzer tool.
func New(opts Options) (*Tool, error) {
	if opts.Source == nil {
		return nil, errors.New("data source is required")
	}
	t := &Tool{
		source: opts.Source,
		cache:  opts.Cache,
		logger: opts.Logger,
		now:    opts.Clock,
	}
	if t.logger == nil {
		t.logger = telemetry.NewNoopLogger()
	}
	if t.now == nil {
		t.now = time.Now
	}
	cfg := tools.ConfigPatch{
		MaxRetries: ptr(2),
		RetryDelay: ptr(2 * time.Second),
		Timeout:    ptr(30 * time.Second),
		CacheTTL:   ptr(15 * time.Minute),
	}
	base, err := tools.NewBase(tools.Options{
		Metadata: tools.Metadata{
			Name:        Name,
			Description: description,
			Version:     "1.0.0",
			Category:    "analytics",
			Tags:        []string{"campaign", "analysis", "performance", "failure", "attribution"},
			RateLimit:   &tools.RateLimit{Requests: 50, Window: time.Hour},
			Timeout:     30 * time.Second,
		},
		Kind:       tools.KindCampaignAnalyzer,
		Executor:   t.analyze,
		Parameters: parameters(),
		CacheKey:   func(in tools.Input) string { return parseQuery(in).key() },
		Config:     cfg.Merge(opts.Config),
		Logger:     t.logger,
		Metrics:    opts.Metrics,
		Tracer:     opts.Tracer,
		Clock:      opts.Clock,
	})
	if err != nil {
		return nil, err
	}
	t.Base = base
	return t, nil
}

// Spec advertises the parameter documentation along with the description.
func (t *Tool) Spec() tools.FunctionSpec {
	spec := t.Base.Spec()
	spec.Description += usage
	return spec
}

// CacheKey returns the normalized analysis key for in.
func CacheKey(in tools.Input) string {
	return parseQuery(in).key()
}

func (t *Tool) analyze(ctx context.Context, in tools.Input) (tools.Result, error) {
	if err := t.source.Ping(ctx); err != nil {
		t.logger.Warn(ctx, "campaign data source unavailable", "err", err)
		return tools.Fail(MsgDatabaseNotConnected), nil
	}
	q := parseQuery(in)
	if q.widgetID == "" {
		return tools.Fail(MsgMissingWidgetID), nil
	}
	if !objectIDPattern.MatchString(q.widgetID) {
		return tools.Fail(MsgInvalidWidgetID), nil
	}

	key := q.key()
	v, err, shared := t.flight.Do(key, func() (any, error) {
		var cached Analysis
		if t.cache != nil && t.cache.GetJSON(ctx, key, &cached) {
			return &cached, nil
		}
		a, err := t.compute(ctx, q)
		if err != nil {
			return nil, err
		}
		if t.cache != nil {
			t.cache.SetJSON(ctx, key, a, t.Config().CacheTTL)
		}
		return a, nil
	})
	if err != nil {
		return tools.Result{}, fmt.Errorf("analyze campaigns for widget %s: %w", q.widgetID, err)
	}
	if shared {
		t.logger.Debug(ctx, "campaign analysis coalesced", "key", key)
	}
	return tools.OK(v), nil
}

// compute fetches the records in parallel and aggregates them. Messages are
// read for delivered campaigns once campaigns are known.
func (t *Tool) compute(ctx context.Context, q query) (*Analysis, error) {
	now := t.now()
	since := Since(q.timeRange, now)
	var d dataset
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cs, err := t.source.Campaigns(gctx, q.widgetID, since, q.statuses())
		if err != nil {
			return fmt.Errorf("fetch campaigns: %w", err)
		}
		d.campaigns = cs
		if !q.includeMessages {
			return nil
		}
		d.hasMessages = true
		ids := deliveredCampaignIDs(cs)
		if len(ids) == 0 {
			return nil
		}
		ms, err := t.source.Messages(gctx, ids, since)
		if err != nil {
			return fmt.Errorf("fetch messages: %w", err)
		}
		d.messages = ms
		return nil
	})
	g.Go(func() error {
		ts, err := t.source.Templates(gctx, since)
		if err != nil {
			return fmt.Errorf("fetch templates: %w", err)
		}
		d.templates = ts
		return nil
	})
	if q.includeAttribution {
		g.Go(func() error {
			as, err := t.source.Attributions(gctx, q.widgetID, since)
			if err != nil {
				return fmt.Errorf("fetch attributions: %w", err)
			}
			d.attributions = as
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	a := aggregate(q, d, now)
	t.logger.Info(ctx, "campaign analysis computed",
		"widget_id", q.widgetID,
		"time_range", q.timeRange,
		"campaigns", len(d.campaigns),
		"messages", len(d.messages))
	return a, nil
}

// Since returns the start of the analysis window. "all" covers everything
// since the Unix epoch and unknown ranges fall back to 30 days.
func Since(timeRange string, now time.Time) time.Time {
	day := 24 * time.Hour
	switch timeRange {
	case "7d":
		return now.Add(-7 * day)
	case "14d":
		return now.Add(-14 * day)
	case "30d":
		return now.Add(-30 * day)
	case "90d":
		return now.Add(-90 * day)
	case "all":
		return time.Unix(0, 0).UTC()
	default:
		return now.Add(-30 * day)
	}
}

func parseQuery(in tools.Input) query {
	q := query{
		widgetID:           widgetID(in),
		timeRange:          defaultTimeRange,
		includeFailed:      flag(in, "includeFailed"),
		includeMessages:    flag(in, "includeMessages"),
		includeAttribution: flag(in, "includeAttribution"),
	}
	if tr, ok := in["timeRange"].(string); ok && tr != "" {
		q.timeRange = tr
	}
	return q
}

func (q query) key() string {
	return keyPrefix + strings.Join([]string{
		q.widgetID,
		q.timeRange,
		strconv.FormatBool(q.includeFailed),
		strconv.FormatBool(q.includeMessages),
		strconv.FormatBool(q.includeAttribution),
	}, ":")
}

func (q query) statuses() []string {
	s := []string{StatusCompleted, StatusProcessing}
	if q.includeFailed {
		s = append(s, StatusFailed)
	}
	return s
}

// widgetID reads the widget from the arguments, then from the merged
// request context.
func widgetID(in tools.Input) string {
	if id, ok := in["widgetId"].(string); ok && id != "" {
		return id
	}
	var ctx map[string]any
	switch c := in["context"].(type) {
	case map[string]any:
		ctx = c
	case tools.Input:
		ctx = c
	}
	if id, ok := ctx["widgetId"].(string); ok {
		return id
	}
	return ""
}

// flag is true unless the argument is explicitly false.
func flag(in tools.Input, name string) bool {
	v, ok := in[name].(bool)
	return !ok || v
}

func deliveredCampaignIDs(cs []Campaign) []string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		if c.Status != StatusFailed {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"widgetId": map[string]any{"type": "string", "description": "MongoDB ObjectId"},
			"timeRange": map[string]any{
				"type":    "string",
				"enum":    []any{"7d", "14d", "30d", "90d", "all"},
				"default": defaultTimeRange,
			},
			"includeFailed":      map[string]any{"type": "boolean", "default": true},
			"includeMessages":    map[string]any{"type": "boolean", "default": true},
			"includeAttribution": map[string]any{"type": "boolean", "default": true},
		},
		"additionalProperties": true,
	}
}

func ptr[T any](v T) *T { return &v }
