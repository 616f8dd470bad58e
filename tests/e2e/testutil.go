package e2e

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/loomworks/loom/internal/audit"
	"github.com/loomworks/loom/internal/dispatch"
	"github.com/loomworks/loom/internal/events"
)

// Package-level shared state set by TestMain.
var (
	testLogger   *zap.Logger
	testRedisURL string
	testPGDSN    string
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("loom_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// newBusPair creates a caller bus and a worker bus on the shared Redis,
// with a local mediator serving the worker side.
func newBusPair(t *testing.T) (*dispatch.Bus, *dispatch.Mediator) {
	t.Helper()

	callerBus, err := dispatch.NewBus(testRedisURL, testLogger)
	if err != nil {
		t.Fatalf("caller bus: %v", err)
	}
	t.Cleanup(func() { callerBus.Close() })

	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.log"), testLogger)
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	reg := dispatch.NewRegistry()
	reg.Register(&dispatch.Definition{
		Name: "echo",
		Handler: func(_ context.Context, params map[string]string) dispatch.Observation {
			return dispatch.Success(params["text"])
		},
	})
	reg.Register(&dispatch.Definition{
		Name: "stall",
		Handler: func(ctx context.Context, _ map[string]string) dispatch.Observation {
			<-ctx.Done()
			return dispatch.Failure("cancelled")
		},
	})
	worker := dispatch.NewMediator(reg, nil, dispatch.Config{}, log, events.NewHub(testLogger), testLogger)
	return callerBus, worker
}
