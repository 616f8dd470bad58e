package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loomworks/loom/internal/dispatch"
	pgstore "github.com/loomworks/loom/internal/store"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	testLogger, _ = zap.NewDevelopment()

	redisURL, redisCleanup, err := startRedis(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer redisCleanup()
	testRedisURL = redisURL

	pgDSN, pgCleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres: %v\n", err)
		os.Exit(1)
	}
	defer pgCleanup()
	testPGDSN = pgDSN

	os.Exit(m.Run())
}

func TestMediatedDispatchRoundTrip(t *testing.T) {
	callerBus, worker := newBusPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go callerBus.Serve(ctx, func(ctx context.Context, skill string, params map[string]string) dispatch.Observation {
		return worker.Dispatch(ctx, "", "", skill, params, 0)
	})
	time.Sleep(200 * time.Millisecond)

	obs := callerBus.Call(context.Background(), "echo", map[string]string{"text": "over the wire"}, 5*time.Second)
	if !obs.OK {
		t.Fatalf("mediated call failed: %+v", obs)
	}
	if obs.Obs != "over the wire" {
		t.Errorf("obs = %q", obs.Obs)
	}
}

func TestMediatedDispatchWorkerTimeout(t *testing.T) {
	callerBus, worker := newBusPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go callerBus.Serve(ctx, func(ctx context.Context, skill string, params map[string]string) dispatch.Observation {
		return worker.Dispatch(ctx, "", "", skill, params, 500)
	})
	time.Sleep(200 * time.Millisecond)

	obs := callerBus.Call(context.Background(), "stall", nil, 3*time.Second)
	if obs.OK {
		t.Fatal("stalled skill should fail")
	}
	if obs.Err != "Execution timed out" {
		t.Errorf("err = %q", obs.Err)
	}
}

func TestMediatedDispatchNoWorker(t *testing.T) {
	callerBus, err := dispatch.NewBus(testRedisURL, testLogger)
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	defer callerBus.Close()

	obs := callerBus.Call(context.Background(), "echo", nil, time.Second)
	if obs.OK {
		t.Fatal("call with no worker should fail")
	}
	if obs.Err != "Execution timed out" {
		t.Errorf("unavailable remote should surface as timeout, got %q", obs.Err)
	}
}

func TestStorePersistsSummariesAndDecisions(t *testing.T) {
	store, err := pgstore.New(testPGDSN, testLogger)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	sessionID := uuid.New().String()
	if err := store.SaveSummary(ctx, &pgstore.SummaryRecord{
		SessionID: sessionID,
		Query:     "index the repo",
		Text:      "done",
		Converged: true,
	}); err != nil {
		t.Fatalf("save summary: %v", err)
	}

	recent, err := store.RecentSummaries(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	found := false
	for _, r := range recent {
		if r.SessionID == sessionID && r.Converged {
			found = true
		}
	}
	if !found {
		t.Errorf("summary not persisted: %+v", recent)
	}

	if err := store.SavePatchDecision(ctx, uuid.New().String(), sessionID,
		"list_dir", "skill", "applied", "walk failed"); err != nil {
		t.Fatalf("save patch decision: %v", err)
	}
}
