// Package mongo implements the low-level MongoDB reads backing campaign
// analytics.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"goa.design/clue/health"

	"github.com/helioai/lio-agent/features/tools/campaigns"
)

const (
	defaultTimeout = 10 * time.Second
	clientName     = "analytics-mongo"

	defaultCampaigns    = "campaigns"
	defaultMessages     = "whatsapp_messages"
	defaultTemplates    = "whatsapp_templates"
	defaultAttributions = "attributions"

	sourceTypeCampaign = "Campaign"
)

// Client exposes the analytics reads. It satisfies campaigns.DataSource.
type Client interface {
	health.Pinger

	Campaigns(ctx context.Context, widgetID string, since time.Time, statuses []string) ([]campaigns.Campaign, error)
	Messages(ctx context.Context, campaignIDs []string, since time.Time) ([]campaigns.Message, error)
	Templates(ctx context.Context, since time.Time) ([]campaigns.Template, error)
	Attributions(ctx context.Context, widgetID string, since time.Time) ([]campaigns.Attribution, error)
}

// Options configures the Mongo client implementation.
type Options struct {
	Client   *mongodriver.Client
	Database string
	// Collection names default to campaigns, whatsapp_messages,
	// whatsapp_templates and attributions.
	CampaignCollection    string
	MessageCollection     string
	TemplateCollection    string
	AttributionCollection string
	// EnsureIndexes creates the query indexes on startup.
	EnsureIndexes bool
	Timeout       time.Duration
}

type client struct {
	mongo        *mongodriver.Client
	campaigns    collection
	messages     collection
	templates    collection
	attributions collection
	timeout      time.Duration
}

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	db := opts.Client.Database(opts.Database)
	coll := func(name, def string) collection {
		if name == "" {
			name = def
		}
		return mongoCollection{coll: db.Collection(name)}
	}
	c, err := newClientWithCollections(opts.Client,
		coll(opts.CampaignCollection, defaultCampaigns),
		coll(opts.MessageCollection, defaultMessages),
		coll(opts.TemplateCollection, defaultTemplates),
		coll(opts.AttributionCollection, defaultAttributions),
		opts.Timeout)
	if err != nil {
		return nil, err
	}
	if opts.EnsureIndexes {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := ensureIndexes(ctx, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	if c.mongo == nil {
		return errors.New("mongo client is not configured")
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Campaigns(ctx context.Context, widgetID string, since time.Time, statuses []string) ([]campaigns.Campaign, error) {
	wid, err := bson.ObjectIDFromHex(widgetID)
	if err != nil {
		return nil, fmt.Errorf("invalid widget id %q: %w", widgetID, err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"widgetId":                wid,
		"createdAt":               bson.M{"$gte": since},
		"metrics.totalRecipients": bson.M{"$gte": campaigns.MinRecipients},
		"status":                  bson.M{"$in": statuses},
	}
	var docs []campaignDocument
	if err := c.find(ctx, c.campaigns, filter, &docs, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})); err != nil {
		return nil, fmt.Errorf("find campaigns: %w", err)
	}
	names, err := c.templateNames(ctx, docs)
	if err != nil {
		return nil, err
	}
	out := make([]campaigns.Campaign, len(docs))
	for i, d := range docs {
		out[i] = d.toCampaign(names)
	}
	return out, nil
}

func (c *client) Messages(ctx context.Context, campaignIDs []string, since time.Time) ([]campaigns.Message, error) {
	if len(campaignIDs) == 0 {
		return nil, nil
	}
	ids := make([]bson.ObjectID, 0, len(campaignIDs))
	for _, id := range campaignIDs {
		oid, err := bson.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		ids = append(ids, oid)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"sourceId":   bson.M{"$in": ids},
		"sourceType": sourceTypeCampaign,
		"createdAt":  bson.M{"$gte": since},
	}
	projection := bson.M{"status": 1, "failureReason": 1, "errorHistory": 1, "sourceId": 1}
	var docs []messageDocument
	if err := c.find(ctx, c.messages, filter, &docs, options.Find().SetProjection(projection)); err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	out := make([]campaigns.Message, len(docs))
	for i, d := range docs {
		out[i] = campaigns.Message{
			CampaignID:    d.SourceID.Hex(),
			Status:        d.Status,
			FailureReason: d.FailureReason,
			ErrorCodes:    errorCodes(d.ErrorHistory),
		}
	}
	return out, nil
}

func (c *client) Templates(ctx context.Context, since time.Time) ([]campaigns.Template, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var docs []templateDocument
	if err := c.find(ctx, c.templates, bson.M{"createdAt": bson.M{"$gte": since}}, &docs); err != nil {
		return nil, fmt.Errorf("find templates: %w", err)
	}
	out := make([]campaigns.Template, len(docs))
	for i, d := range docs {
		out[i] = d.toTemplate()
	}
	return out, nil
}

func (c *client) Attributions(ctx context.Context, widgetID string, since time.Time) ([]campaigns.Attribution, error) {
	wid, err := bson.ObjectIDFromHex(widgetID)
	if err != nil {
		return nil, fmt.Errorf("invalid widget id %q: %w", widgetID, err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var docs []attributionDocument
	if err := c.find(ctx, c.attributions, bson.M{"widgetId": wid, "createdAt": bson.M{"$gte": since}}, &docs); err != nil {
		return nil, fmt.Errorf("find attributions: %w", err)
	}
	out := make([]campaigns.Attribution, len(docs))
	for i, d := range docs {
		out[i] = campaigns.Attribution{
			OrderID:     d.OrderID,
			Campaign:    d.Campaign,
			TotalAmount: d.TotalAmount,
			CreatedAt:   d.CreatedAt,
		}
	}
	return out, nil
}

// templateNames resolves the templates referenced by docs, the way a
// populate on the template reference would.
func (c *client) templateNames(ctx context.Context, docs []campaignDocument) (map[bson.ObjectID]string, error) {
	seen := make(map[bson.ObjectID]struct{})
	var ids []bson.ObjectID
	for _, d := range docs {
		if d.Template.IsZero() {
			continue
		}
		if _, ok := seen[d.Template]; ok {
			continue
		}
		seen[d.Template] = struct{}{}
		ids = append(ids, d.Template)
	}
	names := make(map[bson.ObjectID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var tmpls []templateDocument
	if err := c.find(ctx, c.templates, bson.M{"_id": bson.M{"$in": ids}}, &tmpls, options.Find().SetProjection(bson.M{"name": 1, "category": 1})); err != nil {
		return nil, fmt.Errorf("find campaign templates: %w", err)
	}
	for _, t := range tmpls {
		names[t.ID] = t.Name
	}
	return names, nil
}

func (c *client) find(ctx context.Context, coll collection, filter any, results any, opts ...options.Lister[options.FindOptions]) error {
	cur, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return err
	}
	return cur.All(ctx, results)
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, c *client) error {
	specs := []struct {
		coll collection
		keys bson.D
	}{
		{c.campaigns, bson.D{{Key: "widgetId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{c.messages, bson.D{{Key: "sourceId", Value: 1}, {Key: "sourceType", Value: 1}, {Key: "createdAt", Value: -1}}},
		{c.templates, bson.D{{Key: "createdAt", Value: -1}}},
		{c.attributions, bson.D{{Key: "widgetId", Value: 1}, {Key: "createdAt", Value: -1}}},
	}
	for _, s := range specs {
		if _, err := s.coll.Indexes().CreateMany(ctx, []mongodriver.IndexModel{{Keys: s.keys}}); err != nil {
			return fmt.Errorf("ensure index: %w", err)
		}
	}
	return nil
}

func newClientWithCollections(mongoClient *mongodriver.Client, camps, msgs, tmpls, attrs collection, timeout time.Duration) (*client, error) {
	if camps == nil || msgs == nil || tmpls == nil || attrs == nil {
		return nil, errors.New("collections are required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{
		mongo:        mongoClient,
		campaigns:    camps,
		messages:     msgs,
		templates:    tmpls,
		attributions: attrs,
		timeout:      timeout,
	}, nil
}

type collection interface {
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	Indexes() indexView
}

type cursor interface {
	All(ctx context.Context, results any) error
}

type indexView interface {
	CreateMany(ctx context.Context, models []mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) ([]string, error)
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateMany(ctx context.Context, models []mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) ([]string, error) {
	return v.view.CreateMany(ctx, models, opts...)
}
