package campaigns

import (
	"context"
	"time"
)

type (
	// DataSource performs the bulk reads the analyzer aggregates in memory.
	// Implementations filter by scope and time window only.
	DataSource interface {
		// Ping reports whether the backing store is reachable.
		Ping(ctx context.Context) error
		// Campaigns returns the widget's campaigns created at or after since
		// with at least 10 recipients and one of the given statuses.
		Campaigns(ctx context.Context, widgetID string, since time.Time, statuses []string) ([]Campaign, error)
		// Messages returns campaign messages created at or after since.
		Messages(ctx context.Context, campaignIDs []string, since time.Time) ([]Message, error)
		// Templates returns messaging templates created at or after since.
		Templates(ctx context.Context, since time.Time) ([]Template, error)
		// Attributions returns attributed orders for the widget.
		Attributions(ctx context.Context, widgetID string, since time.Time) ([]Attribution, error)
	}

	// Cache is the durable analysis cache shared across instances. It never
	// fails: errors degrade to misses and dropped writes.
	Cache interface {
		GetJSON(ctx context.Context, key string, dst any) bool
		SetJSON(ctx context.Context, key string, value any, ttl time.Duration)
	}

	// Campaign is a messaging campaign.
	Campaign struct {
		ID            string
		Name          string
		Status        string
		FailureReason string
		ErrorHistory  []ErrorEntry
		Template      *TemplateRef
		Metrics       DeliveryCounts
		CreatedAt     time.Time
	}

	// TemplateRef identifies the template a campaign sent.
	TemplateRef struct {
		ID   string
		Name string
	}

	// DeliveryCounts are the per-campaign delivery counters.
	DeliveryCounts struct {
		TotalRecipients int
		Sent            int
		Delivered       int
		Read            int
		Failed          int
		Click           int
	}

	// ErrorEntry is one provider error recorded against a campaign or
	// message.
	ErrorEntry struct {
		Code    string    `json:"code,omitempty"`
		Message string    `json:"message,omitempty"`
		At      time.Time `json:"at,omitzero"`
	}

	// Message is a single templated message sent by a campaign.
	Message struct {
		CampaignID    string
		Status        string
		FailureReason string
		// ErrorCodes lists the codes found in the message error history.
		ErrorCodes []string
	}

	// Template is a messaging template.
	Template struct {
		ID        string
		Name      string
		Category  string
		CreatedAt time.Time
	}

	// Attribution is an order attributed to a marketing source.
	Attribution struct {
		OrderID     string
		Campaign    string
		TotalAmount float64
		CreatedAt   time.Time
	}
)

// Campaign statuses read by the analyzer.
const (
	StatusCompleted  = "completed"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
)

// MinRecipients filters out test campaigns.
const MinRecipients = 10
