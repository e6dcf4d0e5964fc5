package runstore

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/contentpipe/internal/review"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Postgres{DB: db}, mock
}

var reviewCols = []string{"id", "run_id", "stage", "state_key", "markdown_key", "reason", "status", "reviewer", "feedback", "created_at", "decided_at"}

func TestPostgresSaveRun(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
		WithArgs("r1", "AI", "v2", "stub", "running", true, `{"topic":"AI"}`, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.SaveRun(context.Background(), Run{ID: "r1", Topic: "AI", Graph: "v2", Engine: "stub",
		Status: StatusRunning, IncludeNewsletter: true, State: []byte(`{"topic":"AI"}`)})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveRunRequiresID(t *testing.T) {
	st, _ := newMockPostgres(t)
	assert.Error(t, st.SaveRun(context.Background(), Run{}))
}

func TestPostgresGetRun(t *testing.T) {
	st, mock := newMockPostgres(t)
	now := time.Now()
	cols := []string{"id", "topic", "graph", "engine", "status", "include_newsletter", "state", "error", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM runs WHERE id = $1")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("r1", "AI", "v2", "live", "awaiting_review", false, []byte(`{"a":1}`), "", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM runs WHERE id = $1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	run, err := st.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingReview, run.Status)
	assert.JSONEq(t, `{"a":1}`, string(run.State))

	_, err = st.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListRunsFilters(t *testing.T) {
	st, mock := newMockPostgres(t)
	cols := []string{"id", "topic", "graph", "engine", "status", "include_newsletter", "state", "error", "created_at", "updated_at"}
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM runs WHERE status = $1 ORDER BY updated_at DESC LIMIT $2")).
		WithArgs("completed", 5).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("r1", "AI", "v1", "stub", "completed", false, nil, "", now, now))

	runs, err := st.ListRuns(context.Background(), StatusCompleted, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveCheckpoint(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_checkpoints")).
		WithArgs("r1", "script", "script", CheckpointFailed, 2, "boom").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.SaveCheckpoint(context.Background(), Checkpoint{RunID: "r1", TaskID: "script", Stage: "script",
		Status: CheckpointFailed, Attempt: 2, Error: "boom"})
	require.NoError(t, err)
	assert.Error(t, st.SaveCheckpoint(context.Background(), Checkpoint{RunID: "r1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDecideReview(t *testing.T) {
	st, mock := newMockPostgres(t)
	created := time.Now().Add(-time.Hour)
	decidedAt := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE reviews SET status = $3")).
		WithArgs("r1", "research", "approved", "ana", "ok", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(reviewCols).
			AddRow("id-1", "r1", "research", "review_research", "research_md", "", "approved", "ana", "ok", created, decidedAt))

	req, err := st.DecideReview(context.Background(), "r1", "research",
		review.Decision{Approved: true, Reviewer: "ana", Feedback: "ok"}, decidedAt)
	require.NoError(t, err)
	assert.Equal(t, review.StatusApproved, req.Status)
	require.NotNil(t, req.DecidedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDecideReviewAlreadyDecided(t *testing.T) {
	st, mock := newMockPostgres(t)
	created := time.Now().Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE reviews SET status = $3")).
		WillReturnRows(sqlmock.NewRows(reviewCols))
	mock.ExpectQuery(regexp.QuoteMeta("FROM reviews WHERE run_id = $1 AND stage = $2")).
		WithArgs("r1", "research").
		WillReturnRows(sqlmock.NewRows(reviewCols).
			AddRow("id-1", "r1", "research", "review_research", "", "", "rejected", "bo", "", created, created))

	req, err := st.DecideReview(context.Background(), "r1", "research", review.Decision{Approved: true}, time.Now())
	assert.ErrorIs(t, err, review.ErrAlreadyDecided)
	assert.Equal(t, review.StatusRejected, req.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDecideReviewMissing(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE reviews SET status = $3")).
		WillReturnRows(sqlmock.NewRows(reviewCols))
	mock.ExpectQuery(regexp.QuoteMeta("FROM reviews WHERE run_id = $1 AND stage = $2")).
		WillReturnError(sql.ErrNoRows)

	_, err := st.DecideReview(context.Background(), "r1", "research", review.Decision{Approved: true}, time.Now())
	assert.ErrorIs(t, err, review.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListReviews(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM reviews WHERE status = $1 ORDER BY created_at")).
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows(reviewCols).
			AddRow("id-1", "r1", "research", "review_research", "", "", "pending", "", "", time.Now(), nil))

	reqs, err := st.ListReviews(context.Background(), review.StatusPending)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Nil(t, reqs[0].DecidedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
