package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
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
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections"),
			},
			Started: true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, integration tests will be skipped: %v\n", containerErr)
		skipIntegration = true
	} else if endpoint, err := testRedisContainer.Endpoint(ctx, ""); err != nil {
		fmt.Printf("Failed to get container endpoint: %v\n", err)
		skipIntegration = true
	} else {
		testRedisClient = redis.NewClient(&redis.Options{Addr: endpoint})
		if err := testRedisClient.Ping(ctx).Err(); err != nil {
			fmt.Printf("Failed to ping redis: %v\n", err)
			skipIntegration = true
		}
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}
	os.Exit(code)
}

type payload struct {
	Total int    `json:"total"`
	Label string `json:"label"`
}

func TestSetThenGet(t *testing.T) {
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	ctx := context.Background()
	require.NoError(t, testRedisClient.FlushDB(ctx).Err())
	c, err := New(Options{Client: testRedisClient})
	require.NoError(t, err)

	var got payload
	require.False(t, c.GetJSON(ctx, "k", &got))

	c.SetJSON(ctx, "k", payload{Total: 3, Label: "x"}, time.Minute)
	require.True(t, c.GetJSON(ctx, "k", &got))
	require.Equal(t, payload{Total: 3, Label: "x"}, got)

	ttl, err := testRedisClient.TTL(ctx, "k").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 50*time.Second)

	c.Delete(ctx, "k")
	require.False(t, c.GetJSON(ctx, "k", &got))
}

func TestUndecodableEntryIsAMiss(t *testing.T) {
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	ctx := context.Background()
	require.NoError(t, testRedisClient.FlushDB(ctx).Err())
	c, err := New(Options{Client: testRedisClient})
	require.NoError(t, err)

	require.NoError(t, testRedisClient.Set(ctx, "k", "not json", 0).Err())
	var got payload
	require.False(t, c.GetJSON(ctx, "k", &got))
}

func TestUnavailableRedisDegradesSilently(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	defer rdb.Close()
	c, err := New(Options{Client: rdb, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	ctx := context.Background()
	c.SetJSON(ctx, "k", payload{Total: 1}, time.Minute)
	var got payload
	require.False(t, c.GetJSON(ctx, "k", &got))
	require.Error(t, c.Ping(ctx))
}
