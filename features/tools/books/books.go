// Package books implements the searchBooks tool backed by the Google Books
// volumes API.
package books

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/helioai/lio-agent/runtime/agent/telemetry"
	"github.com/helioai/lio-agent/runtime/agent/tools"
)

// Name is the tool name advertised to the model.
const Name = "searchBooks"

// DefaultEndpoint is the Google Books volumes endpoint.
const DefaultEndpoint = "https://www.googleapis.com/books/v1/volumes"

const description = "Search for books using Google Books API. Use this when users ask about books, authors, or reading recommendations. Supports filtering by language, ordering, and result limits."

const usage = `

Available parameters:
- query (required): Search term for books
- maxResults (optional): Number of results (1-40, default: 5)
- language (optional): Language code (e.g., 'en', 'es', 'fr', default: 'en')
- orderBy (optional): Sort order ('relevance' or 'newest', default: 'relevance')

Example usage:
{
  "query": "machine learning",
  "maxResults": 10,
  "language": "en",
  "orderBy": "relevance"
}`

type (
	// Options configures the books tool.
	Options struct {
		// APIKey is the Google API key. Optional; unauthenticated requests
		// are subject to lower quotas.
		APIKey string
		// Endpoint overrides DefaultEndpoint.
		Endpoint string
		// HTTPClient overrides the instrumented default client.
		HTTPClient *http.Client
		// Config overrides the tool's default execution policy.
		Config tools.ConfigPatch

		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// Tool searches books.
	Tool struct {
		*tools.Base

		apiKey   string
		endpoint string
		http     *http.Client
		logger   telemetry.Logger
	}

	// Book is one search result.
	Book struct {
		Title         string   `json:"title"`
		Authors       []string `json:"authors"`
		Link          string   `json:"link"`
		Description   string   `json:"description,omitempty"`
		PublishedDate string   `json:"publishedDate,omitempty"`
		ISBN          string   `json:"isbn,omitempty"`
		PageCount     int      `json:"pageCount,omitempty"`
		Categories    []string `json:"categories,omitempty"`
		AverageRating float64  `json:"averageRating,omitempty"`
		RatingsCount  int      `json:"ratingsCount,omitempty"`
	}

	searchRequest struct {
		query      string
		maxResults int
		language   string
		orderBy    string
	}

	volumesResponse struct {
		TotalItems int `json:"totalItems"`
		Items      []struct {
			ID         string     `json:"id"`
			VolumeInfo volumeInfo `json:"volumeInfo"`
		} `json:"items"`
	}

	volumeInfo struct {
		Title               string   `json:"title"`
		Authors             []string `json:"authors"`
		InfoLink            string   `json:"infoLink"`
		Description         string   `json:"description"`
		PublishedDate       string   `json:"publishedDate"`
		IndustryIdentifiers []struct {
			Type       string `json:"type"`
			Identifier string `json:"identifier"`
		} `json:"industryIdentifiers"`
		PageCount     int      `json:"pageCount"`
		Categories    []string `json:"categories"`
		AverageRating float64  `json:"averageRating"`
		RatingsCount  int      `json:"ratingsCount"`
	}
)

var _ tools.Tool = (*Tool)(nil)

// New returns the books tool.
func New(opts Options) (*Tool, error) {
	t := &Tool{
		apiKey:   opts.APIKey,
		endpoint: opts.Endpoint,
		http:     opts.HTTPClient,
		logger:   opts.Logger,
	}
	if t.endpoint == "" {
		t.endpoint = DefaultEndpoint
	}
	if t.http == nil {
		t.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if t.logger == nil {
		t.logger = telemetry.NewNoopLogger()
	}
	cfg := tools.ConfigPatch{
		MaxRetries: ptr(3),
		RetryDelay: ptr(time.Second),
		Timeout:    ptr(10 * time.Second),
		CacheTTL:   ptr(30 * time.Minute),
	}
	base, err := tools.NewBase(tools.Options{
		Metadata: tools.Metadata{
			Name:        Name,
			Description: description,
			Version:     "1.0.0",
			Category:    "search",
			Tags:        []string{"books", "search", "reading", "recommendations"},
			RateLimit:   &tools.RateLimit{Requests: 100, Window: time.Hour},
			Timeout:     10 * time.Second,
		},
		Kind:       tools.KindBookSearch,
		Executor:   t.search,
		Parameters: parameters(),
		CacheKey:   cacheKey,
		Config:     cfg.Merge(opts.Config),
		Logger:     t.logger,
		Metrics:    opts.Metrics,
		Tracer:     opts.Tracer,
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

func (t *Tool) search(ctx context.Context, in tools.Input) (tools.Result, error) {
	req := parseRequest(in)
	if req.query == "" {
		return tools.Fail("Query is required"), nil
	}
	q := url.Values{}
	q.Set("q", req.query)
	q.Set("maxResults", strconv.Itoa(req.maxResults))
	q.Set("langRestrict", req.language)
	q.Set("orderBy", req.orderBy)
	q.Set("key", t.apiKey)

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return tools.Result{}, fmt.Errorf("build books request: %w", err)
	}
	hreq.Header.Set("Accept", "application/json")
	resp, err := t.http.Do(hreq)
	if err != nil {
		return tools.Result{}, fmt.Errorf("google books request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tools.Result{}, fmt.Errorf("google books API error: %s", resp.Status)
	}
	var body volumesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return tools.Result{}, fmt.Errorf("decode books response: %w", err)
	}

	books := make([]Book, 0, len(body.Items))
	for _, item := range body.Items {
		books = append(books, toBook(item.VolumeInfo))
	}
	t.logger.Debug(ctx, "book search completed", "query", req.query, "results", len(books), "total_items", body.TotalItems)
	return tools.OK(books), nil
}

func toBook(v volumeInfo) Book {
	authors := v.Authors
	if len(authors) == 0 {
		authors = []string{"Unknown Author"}
	}
	b := Book{
		Title:         v.Title,
		Authors:       authors,
		Link:          v.InfoLink,
		Description:   v.Description,
		PublishedDate: v.PublishedDate,
		PageCount:     v.PageCount,
		Categories:    v.Categories,
		AverageRating: v.AverageRating,
		RatingsCount:  v.RatingsCount,
	}
	for _, id := range v.IndustryIdentifiers {
		if id.Type == "ISBN_13" || id.Type == "ISBN_10" {
			b.ISBN = id.Identifier
			break
		}
	}
	return b
}

func parseRequest(in tools.Input) searchRequest {
	r := searchRequest{maxResults: 5, language: "en", orderBy: "relevance"}
	if q, ok := in["query"].(string); ok {
		r.query = strings.TrimSpace(q)
	}
	switch n := in["maxResults"].(type) {
	case float64:
		r.maxResults = int(n)
	case int:
		r.maxResults = n
	}
	if l, ok := in["language"].(string); ok && l != "" {
		r.language = l
	}
	if o, ok := in["orderBy"].(string); ok && o != "" {
		r.orderBy = o
	}
	return r
}

// cacheKey ignores request context so repeated searches share entries.
func cacheKey(in tools.Input) string {
	r := parseRequest(in)
	return fmt.Sprintf("%s_%s:%d:%s:%s", Name, r.query, r.maxResults, r.language, r.orderBy)
}

func parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":      map[string]any{"type": "string", "description": "Search term for books"},
			"maxResults": map[string]any{"type": "number", "minimum": 1, "maximum": 40},
			"language":   map[string]any{"type": "string"},
			"orderBy": map[string]any{
				"type":    "string",
				"enum":    []any{"relevance", "newest"},
				"default": "relevance",
			},
		},
		"required":             []any{"query"},
		"additionalProperties": false,
	}
}

func ptr[T any](v T) *T { return &v }
