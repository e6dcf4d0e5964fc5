package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/contentpipe/config"
	"github.com/mohammad-safakhou/contentpipe/internal/review"
)

func newRedisStore(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedis(client, "test")
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemory(),
		"redis":  newRedisStore(t),
	}
}

func TestRunsRoundTrip(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := st.GetRun(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			run := Run{ID: "r1", Topic: "AI", Graph: "v2", Engine: "stub", Status: StatusRunning,
				State: json.RawMessage(`{"topic":"AI"}`)}
			require.NoError(t, st.SaveRun(ctx, run))
			first, err := st.GetRun(ctx, "r1")
			require.NoError(t, err)
			assert.False(t, first.CreatedAt.IsZero())

			run.Status = StatusAwaitingReview
			require.NoError(t, st.SaveRun(ctx, run))
			got, err := st.GetRun(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, StatusAwaitingReview, got.Status)
			assert.JSONEq(t, `{"topic":"AI"}`, string(got.State))
			assert.Equal(t, first.CreatedAt.Unix(), got.CreatedAt.Unix())

			require.NoError(t, st.SaveRun(ctx, Run{ID: "r2", Topic: "B", Status: StatusCompleted}))
			all, err := st.ListRuns(ctx, "", 0)
			require.NoError(t, err)
			assert.Len(t, all, 2)
			waiting, err := st.ListRuns(ctx, StatusAwaitingReview, 0)
			require.NoError(t, err)
			require.Len(t, waiting, 1)
			assert.Equal(t, "r1", waiting[0].ID)
			limited, err := st.ListRuns(ctx, "", 1)
			require.NoError(t, err)
			assert.Len(t, limited, 1)
		})
	}
}

func TestCheckpoints(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, st.SaveCheckpoint(ctx, Checkpoint{RunID: "r1", TaskID: "script", Stage: "script", Status: CheckpointStarted}))
			require.NoError(t, st.SaveCheckpoint(ctx, Checkpoint{RunID: "r1", TaskID: "script", Stage: "script", Status: CheckpointCompleted, Attempt: 1}))
			require.NoError(t, st.SaveCheckpoint(ctx, Checkpoint{RunID: "r1", TaskID: "researcher", Stage: "researcher", Status: CheckpointCompleted}))

			cps, err := st.Checkpoints(ctx, "r1")
			require.NoError(t, err)
			require.Len(t, cps, 2)
			assert.Equal(t, "researcher", cps[0].TaskID)
			assert.Equal(t, CheckpointCompleted, cps[1].Status)
			assert.Equal(t, 1, cps[1].Attempt)

			none, err := st.Checkpoints(ctx, "other")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestReviewLifecycle(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
			req := review.Request{ID: "id-1", RunID: "r1", Stage: "research", StateKey: "review_research",
				Status: review.StatusPending, CreatedAt: created}
			require.NoError(t, st.SaveReview(ctx, req))

			dup := req
			dup.ID = "id-2"
			require.NoError(t, st.SaveReview(ctx, dup))
			got, err := st.GetReview(ctx, "r1", "research")
			require.NoError(t, err)
			assert.Equal(t, "id-1", got.ID)

			pending, err := st.ListReviews(ctx, review.StatusPending)
			require.NoError(t, err)
			assert.Len(t, pending, 1)

			at := created.Add(time.Hour)
			decided, err := st.DecideReview(ctx, "r1", "research", review.Decision{Approved: true, Reviewer: "ana"}, at)
			require.NoError(t, err)
			assert.Equal(t, review.StatusApproved, decided.Status)
			require.NotNil(t, decided.DecidedAt)
			assert.True(t, decided.DecidedAt.Equal(at))

			_, err = st.DecideReview(ctx, "r1", "research", review.Decision{Approved: false}, at)
			assert.ErrorIs(t, err, review.ErrAlreadyDecided)

			_, err = st.DecideReview(ctx, "r1", "script", review.Decision{Approved: true}, at)
			assert.ErrorIs(t, err, review.ErrNotFound)

			pending, err = st.ListReviews(ctx, review.StatusPending)
			require.NoError(t, err)
			assert.Empty(t, pending)
			all, err := st.ListReviews(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestDecideReviewSingleWinner(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, st.SaveReview(ctx, review.Request{ID: "x", RunID: "r", Stage: "s",
				Status: review.StatusPending, CreatedAt: time.Now()}))

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := st.DecideReview(ctx, "r", "s", review.Decision{Approved: i%2 == 0}, time.Now())
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
						return
					}
					if !errors.Is(err, review.ErrAlreadyDecided) {
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
		})
	}
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, config.StorageConfig{Driver: config.DriverMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, st)

	mr := miniredis.RunT(t)
	st, err = Open(ctx, config.StorageConfig{Driver: config.DriverRedis, Redis: config.RedisConfig{URL: "redis://" + mr.Addr()}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, st)
	require.NoError(t, st.Close())

	_, err = Open(ctx, config.StorageConfig{Driver: "cassandra"}, nil)
	assert.Error(t, err)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusAwaitingReview.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
