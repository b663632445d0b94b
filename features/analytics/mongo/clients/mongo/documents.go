package mongo

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/helioai/lio-agent/features/tools/campaigns"
)

type campaignDocument struct {
	ID            bson.ObjectID   `bson:"_id"`
	WidgetID      bson.ObjectID   `bson:"widgetId"`
	Name          string          `bson:"name"`
	Status        string          `bson:"status"`
	FailureReason string          `bson:"failureReason,omitempty"`
	ErrorHistory  []bson.M        `bson:"errorHistory,omitempty"`
	Template      bson.ObjectID   `bson:"template,omitempty"`
	Metrics       metricsDocument `bson:"metrics"`
	CreatedAt     time.Time       `bson:"createdAt"`
}

type metricsDocument struct {
	TotalRecipients int `bson:"totalRecipients"`
	Sent            int `bson:"sent"`
	Delivered       int `bson:"delivered"`
	Read            int `bson:"read"`
	Failed          int `bson:"failed"`
	Click           int `bson:"click"`
}

type messageDocument struct {
	SourceID      bson.ObjectID `bson:"sourceId"`
	Status        string        `bson:"status"`
	FailureReason string        `bson:"failureReason,omitempty"`
	ErrorHistory  []bson.M      `bson:"errorHistory,omitempty"`
}

type templateDocument struct {
	ID        bson.ObjectID `bson:"_id"`
	Name      string        `bson:"name"`
	Category  string        `bson:"category,omitempty"`
	CreatedAt time.Time     `bson:"createdAt"`
}

type attributionDocument struct {
	OrderID     string    `bson:"orderId"`
	Campaign    string    `bson:"campaign,omitempty"`
	TotalAmount float64   `bson:"totalAmount"`
	CreatedAt   time.Time `bson:"createdAt"`
}

func (d campaignDocument) toCampaign(templateNames map[bson.ObjectID]string) campaigns.Campaign {
	c := campaigns.Campaign{
		ID:            d.ID.Hex(),
		Name:          d.Name,
		Status:        d.Status,
		FailureReason: d.FailureReason,
		ErrorHistory:  errorEntries(d.ErrorHistory),
		Metrics: campaigns.DeliveryCounts{
			TotalRecipients: d.Metrics.TotalRecipients,
			Sent:            d.Metrics.Sent,
			Delivered:       d.Metrics.Delivered,
			Read:            d.Metrics.Read,
			Failed:          d.Metrics.Failed,
			Click:           d.Metrics.Click,
		},
		CreatedAt: d.CreatedAt,
	}
	if !d.Template.IsZero() {
		c.Template = &campaigns.TemplateRef{ID: d.Template.Hex(), Name: templateNames[d.Template]}
	}
	return c
}

func (d templateDocument) toTemplate() campaigns.Template {
	return campaigns.Template{
		ID:        d.ID.Hex(),
		Name:      d.Name,
		Category:  d.Category,
		CreatedAt: d.CreatedAt,
	}
}

// errorCodes extracts the "code" of each error history entry. Codes are
// stored as numbers or strings depending on the writer.
func errorCodes(history []bson.M) []string {
	var out []string
	for _, e := range history {
		if code := codeString(e["code"]); code != "" {
			out = append(out, code)
		}
	}
	return out
}

func errorEntries(history []bson.M) []campaigns.ErrorEntry {
	if len(history) == 0 {
		return nil
	}
	out := make([]campaigns.ErrorEntry, 0, len(history))
	for _, e := range history {
		entry := campaigns.ErrorEntry{Code: codeString(e["code"])}
		if msg, ok := e["message"].(string); ok {
			entry.Message = msg
		}
		switch at := e["timestamp"].(type) {
		case bson.DateTime:
			entry.At = at.Time().UTC()
		case time.Time:
			entry.At = at.UTC()
		}
		out = append(out, entry)
	}
	return out
}

func codeString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return fmt.Sprintf("%.0f", c)
	default:
		return fmt.Sprint(c)
	}
}
