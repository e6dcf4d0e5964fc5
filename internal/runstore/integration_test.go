//go:build integration

package runstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/contentpipe/config"
	"github.com/mohammad-safakhou/contentpipe/internal/review"
	"github.com/mohammad-safakhou/contentpipe/internal/runstore"
)

func exercise(t *testing.T, st runstore.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.SaveRun(ctx, runstore.Run{ID: "it-1", Topic: "AI", Graph: "v2", Engine: "stub",
		Status: runstore.StatusAwaitingReview, State: []byte(`{"topic":"AI"}`)}))
	require.NoError(t, st.SaveCheckpoint(ctx, runstore.Checkpoint{RunID: "it-1", TaskID: "researcher",
		Stage: "researcher", Status: runstore.CheckpointCompleted}))
	require.NoError(t, st.SaveReview(ctx, review.Request{ID: "6f1c7a0e-0000-4000-8000-000000000001", RunID: "it-1",
		Stage: "research", StateKey: "review_research", Status: review.StatusPending, CreatedAt: time.Now().UTC()}))

	req, err := st.DecideReview(ctx, "it-1", "research", review.Decision{Approved: true, Reviewer: "ana"}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, review.StatusApproved, req.Status)
	_, err = st.DecideReview(ctx, "it-1", "research", review.Decision{Approved: false}, time.Now().UTC())
	assert.ErrorIs(t, err, review.ErrAlreadyDecided)

	cps, err := st.Checkpoints(ctx, "it-1")
	require.NoError(t, err)
	assert.Len(t, cps, 1)

	run, err := st.GetRun(ctx, "it-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"AI"}`, string(run.State))
}

func TestPostgresStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("contentpipe"),
		tcPostgres.WithUsername("contentpipe"),
		tcPostgres.WithPassword("contentpipe"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	require.NoError(t, err)
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://contentpipe:contentpipe@%s:%s/contentpipe?sslmode=disable", host, port.Port())

	require.Eventually(t, func() bool { return runstore.Migrate("", dsn, "up", 0) == nil }, 30*time.Second, time.Second)

	st, err := runstore.NewPostgres(ctx, dsn)
	require.NoError(t, err)
	defer st.Close()
	exercise(t, st)

	require.NoError(t, runstore.Migrate("", dsn, "down", 0))
}

func TestRedisStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	require.NoError(t, err)
	defer func() { _ = redisC.Terminate(ctx) }()

	uri, err := redisC.ConnectionString(ctx)
	require.NoError(t, err)
	st, err := runstore.Open(ctx, config.StorageConfig{Driver: config.DriverRedis,
		Redis: config.RedisConfig{URL: uri, Prefix: "it"}}, nil)
	require.NoError(t, err)
	defer st.Close()
	exercise(t, st)
}
