// Package mongo provides the MongoDB-backed campaigns.DataSource. Use
// clients/mongo to build the low-level client and pass it to NewStore.
package mongo

import (
	"context"
	"errors"
	"time"

	clientsmongo "github.com/helioai/lio-agent/features/analytics/mongo/clients/mongo"
	"github.com/helioai/lio-agent/features/tools/campaigns"
)

// Options configures the Store wrapper.
type Options struct {
	Client clientsmongo.Client
}

// Store implements campaigns.DataSource by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

var _ campaigns.DataSource = (*Store)(nil)

// NewStore builds a Mongo-backed data source using the provided client.
func NewStore(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: opts.Client}, nil
}

// NewStoreFromMongo instantiates the underlying client using the given options.
func NewStoreFromMongo(opts clientsmongo.Options) (*Store, error) {
	client, err := clientsmongo.New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(Options{Client: client})
}

// Name implements health.Pinger.
func (s *Store) Name() string { return s.client.Name() }

// Ping implements health.Pinger and campaigns.DataSource.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func (s *Store) Campaigns(ctx context.Context, widgetID string, since time.Time, statuses []string) ([]campaigns.Campaign, error) {
	if len(statuses) == 0 {
		statuses = []string{campaigns.StatusCompleted, campaigns.StatusProcessing}
	}
	return s.client.Campaigns(ctx, widgetID, since, statuses)
}

func (s *Store) Messages(ctx context.Context, campaignIDs []string, since time.Time) ([]campaigns.Message, error) {
	if len(campaignIDs) == 0 {
		return nil, nil
	}
	return s.client.Messages(ctx, campaignIDs, since)
}

func (s *Store) Templates(ctx context.Context, since time.Time) ([]campaigns.Template, error) {
	return s.client.Templates(ctx, since)
}

func (s *Store) Attributions(ctx context.Context, widgetID string, since time.Time) ([]campaigns.Attribution, error) {
	return s.client.Attributions(ctx, widgetID, since)
}
