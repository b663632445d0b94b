package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helioai/lio-agent/features/tools/campaigns"
)

type stubClient struct {
	statuses    []string
	messageHits int
	pingErr     error
}

func (s *stubClient) Name() string                 { return "stub" }
func (s *stubClient) Ping(context.Context) error { return s.pingErr }

func (s *stubClient) Campaigns(_ context.Context, _ string, _ time.Time, statuses []string) ([]campaigns.Campaign, error) {
	s.statuses = statuses
	return []campaigns.Campaign{{ID: "c1"}}, nil
}

func (s *stubClient) Messages(context.Context, []string, time.Time) ([]campaigns.Message, error) {
	s.messageHits++
	return nil, nil
}

func (s *stubClient) Templates(context.Context, time.Time) ([]campaigns.Template, error) {
	return nil, nil
}

func (s *stubClient) Attributions(context.Context, string, time.Time) ([]campaigns.Attribution, error) {
	return nil, nil
}

func TestNewStoreRequiresClient(t *testing.T) {
	_, err := NewStore(Options{})
	require.EqualError(t, err, "client is required")
}

func TestStoreDefaultsStatuses(t *testing.T) {
	c := &stubClient{}
	s, err := NewStore(Options{Client: c})
	require.NoError(t, err)

	_, err = s.Campaigns(context.Background(), "w", time.Time{}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"completed", "processing"}, c.statuses)

	_, err = s.Messages(context.Background(), nil, time.Time{})
	require.NoError(t, err)
	require.Zero(t, c.messageHits)
}

func TestStorePing(t *testing.T) {
	c := &stubClient{pingErr: errors.New("down")}
	s, err := NewStore(Options{Client: c})
	require.NoError(t, err)
	require.EqualError(t, s.Ping(context.Background()), "down")
	require.Equal(t, "stub", s.Name())
}
