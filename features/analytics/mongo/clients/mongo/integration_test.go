package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/helioai/lio-agent/features/tools/campaigns"
)

var (
	testMongoClient    *mongodriver.Client
	testMongoContainer testcontainers.Container
	skipIntegration    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "mongo:7",
				ExposedPorts: []string{"27017/tcp"},
				WaitingFor:   wait.ForLog("Waiting for connections"),
				Tmpfs:        map[string]string{"/data/db": "rw"},
			},
			Started: true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, integration tests will be skipped: %v\n", containerErr)
		skipIntegration = true
	} else if endpoint, err := testMongoContainer.Endpoint(ctx, "mongodb"); err != nil {
		fmt.Printf("Failed to get container endpoint: %v\n", err)
		skipIntegration = true
	} else if testMongoClient, err = mongodriver.Connect(options.Client().ApplyURI(endpoint)); err != nil {
		fmt.Printf("Failed to connect to MongoDB: %v\n", err)
		skipIntegration = true
	} else if err := testMongoClient.Ping(ctx, nil); err != nil {
		fmt.Printf("Failed to ping MongoDB: %v\n", err)
		skipIntegration = true
	}

	code := m.Run()

	if testMongoClient != nil {
		_ = testMongoClient.Disconnect(ctx)
	}
	if testMongoContainer != nil {
		_ = testMongoContainer.Terminate(ctx)
	}
	os.Exit(code)
}

func TestIntegrationReadsAnalytics(t *testing.T) {
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	ctx := context.Background()
	dbName := fmt.Sprintf("analytics_%d", time.Now().UnixNano())
	db := testMongoClient.Database(dbName)
	t.Cleanup(func() { _ = db.Drop(context.Background()) })

	now := time.Now().UTC().Truncate(time.Millisecond)
	wid := bson.NewObjectID()
	tid := bson.NewObjectID()
	recent := bson.NewObjectID()
	old := bson.NewObjectID()

	_, err := db.Collection(defaultTemplates).InsertOne(ctx, bson.M{
		"_id": tid, "name": "spring_promo", "category": "MARKETING", "createdAt": now.Add(-time.Hour),
	})
	require.NoError(t, err)
	_, err = db.Collection(defaultCampaigns).InsertMany(ctx, []any{
		bson.M{
			"_id": recent, "widgetId": wid, "name": "Spring", "status": campaigns.StatusCompleted,
			"template": tid, "createdAt": now.Add(-24 * time.Hour),
			"metrics": bson.M{"totalRecipients": 50, "sent": 50, "delivered": 45, "read": 20, "failed": 5},
		},
		bson.M{
			"_id": old, "widgetId": wid, "name": "Winter", "status": campaigns.StatusCompleted,
			"createdAt": now.Add(-60 * 24 * time.Hour),
			"metrics":   bson.M{"totalRecipients": 50},
		},
		bson.M{
			"_id": bson.NewObjectID(), "widgetId": wid, "name": "Test send", "status": campaigns.StatusCompleted,
			"createdAt": now.Add(-time.Hour),
			"metrics":   bson.M{"totalRecipients": 2},
		},
	})
	require.NoError(t, err)
	_, err = db.Collection(defaultMessages).InsertMany(ctx, []any{
		bson.M{"sourceId": recent, "sourceType": sourceTypeCampaign, "status": "failed", "createdAt": now,
			"errorHistory": []bson.M{{"code": 131049, "message": "capped"}}},
		bson.M{"sourceId": recent, "sourceType": "Flow", "status": "failed", "createdAt": now},
	})
	require.NoError(t, err)
	_, err = db.Collection(defaultAttributions).InsertOne(ctx, bson.M{
		"widgetId": wid, "orderId": "o1", "campaign": "Spring", "totalAmount": 42.5, "createdAt": now,
	})
	require.NoError(t, err)

	c, err := New(Options{Client: testMongoClient, Database: dbName, EnsureIndexes: true})
	require.NoError(t, err)
	require.NoError(t, c.Ping(ctx))

	since := now.Add(-7 * 24 * time.Hour)
	camps, err := c.Campaigns(ctx, wid.Hex(), since, []string{campaigns.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, camps, 1)
	require.Equal(t, recent.Hex(), camps[0].ID)
	require.NotNil(t, camps[0].Template)
	require.Equal(t, "spring_promo", camps[0].Template.Name)
	require.Equal(t, 45, camps[0].Metrics.Delivered)

	msgs, err := c.Messages(ctx, []string{recent.Hex()}, since)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, []string{"131049"}, msgs[0].ErrorCodes)

	tmpls, err := c.Templates(ctx, since)
	require.NoError(t, err)
	require.Len(t, tmpls, 1)
	require.Equal(t, "MARKETING", tmpls[0].Category)

	attrs, err := c.Attributions(ctx, wid.Hex(), since)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	require.InDelta(t, 42.5, attrs[0].TotalAmount, 1e-9)
}
