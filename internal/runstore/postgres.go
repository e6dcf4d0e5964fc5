package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/contentpipe/internal/review"
)

// Postgres persists runs in the tables created by the bundled migrations.
type Postgres struct {
	DB *sql.DB
}

// NewPostgres opens and pings dsn.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{DB: db}, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

const runColumns = `id, topic, graph, engine, status, include_newsletter, state, error, created_at, updated_at`

func (p *Postgres) SaveRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := p.DB.ExecContext(ctx, `
INSERT INTO runs (id, topic, graph, engine, status, include_newsletter, state, error, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW())
ON CONFLICT (id) DO UPDATE SET
  status     = EXCLUDED.status,
  state      = EXCLUDED.state,
  error      = EXCLUDED.error,
  updated_at = NOW();
`, run.ID, run.Topic, run.Graph, run.Engine, string(run.Status), run.IncludeNewsletter, nullableJSON(run.State), run.Error)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run    Run
		status string
		state  []byte
	)
	if err := row.Scan(&run.ID, &run.Topic, &run.Graph, &run.Engine, &status, &run.IncludeNewsletter,
		&state, &run.Error, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return Run{}, err
	}
	run.Status = Status(status)
	if len(state) > 0 {
		run.State = state
	}
	return run, nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (Run, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return run, err
}

func (p *Postgres) ListRuns(ctx context.Context, status Status, limit int) ([]Run, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT ` + runColumns + ` FROM runs`)
	if status != "" {
		args = append(args, string(status))
		sb.WriteString(fmt.Sprintf(" WHERE status = $%d", len(args)))
	}
	sb.WriteString(" ORDER BY updated_at DESC")
	if limit > 0 {
		args = append(args, limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}
	rows, err := p.DB.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	if cp.RunID == "" || cp.TaskID == "" {
		return fmt.Errorf("run_id and task_id are required")
	}
	_, err := p.DB.ExecContext(ctx, `
INSERT INTO run_checkpoints (run_id, task_id, stage, status, attempt, error, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (run_id, task_id) DO UPDATE SET
  stage      = EXCLUDED.stage,
  status     = EXCLUDED.status,
  attempt    = EXCLUDED.attempt,
  error      = EXCLUDED.error,
  updated_at = NOW();
`, cp.RunID, cp.TaskID, cp.Stage, cp.Status, cp.Attempt, cp.Error)
	return err
}

func (p *Postgres) Checkpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	rows, err := p.DB.QueryContext(ctx, `
SELECT run_id, task_id, stage, status, attempt, error, updated_at
FROM run_checkpoints
WHERE run_id = $1
ORDER BY task_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.RunID, &cp.TaskID, &cp.Stage, &cp.Status, &cp.Attempt, &cp.Error, &cp.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

const reviewColumns = `id, run_id, stage, state_key, markdown_key, reason, status, reviewer, feedback, created_at, decided_at`

func scanReview(row scanner) (review.Request, error) {
	var (
		req     review.Request
		status  string
		decided sql.NullTime
	)
	if err := row.Scan(&req.ID, &req.RunID, &req.Stage, &req.StateKey, &req.MarkdownKey, &req.Reason,
		&status, &req.Reviewer, &req.Feedback, &req.CreatedAt, &decided); err != nil {
		return review.Request{}, err
	}
	req.Status = review.Status(status)
	if decided.Valid {
		t := decided.Time
		req.DecidedAt = &t
	}
	return req, nil
}

func (p *Postgres) SaveReview(ctx context.Context, req review.Request) error {
	_, err := p.DB.ExecContext(ctx, `
INSERT INTO reviews (id, run_id, stage, state_key, markdown_key, reason, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (run_id, stage) DO NOTHING;
`, req.ID, req.RunID, req.Stage, req.StateKey, req.MarkdownKey, req.Reason, string(req.Status), req.CreatedAt)
	return err
}

func (p *Postgres) GetReview(ctx context.Context, runID, stage string) (review.Request, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE run_id = $1 AND stage = $2`, runID, stage)
	req, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return review.Request{}, review.ErrNotFound
	}
	return req, err
}

func (p *Postgres) ListReviews(ctx context.Context, status review.Status) ([]review.Request, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`
	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []review.Request
	for rows.Next() {
		req, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// DecideReview flips a pending row in a single conditional UPDATE.
func (p *Postgres) DecideReview(ctx context.Context, runID, stage string, d review.Decision, at time.Time) (review.Request, error) {
	row := p.DB.QueryRowContext(ctx, `
UPDATE reviews SET status = $3, reviewer = $4, feedback = $5, decided_at = $6
WHERE run_id = $1 AND stage = $2 AND status = 'pending'
RETURNING `+reviewColumns, runID, stage, string(d.Status()), d.Reviewer, d.Feedback, at)
	req, err := scanReview(row)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return review.Request{}, err
	}
	current, gerr := p.GetReview(ctx, runID, stage)
	if gerr != nil {
		return review.Request{}, gerr
	}
	return current, review.ErrAlreadyDecided
}

func (p *Postgres) Close() error { return p.DB.Close() }

var _ Store = (*Postgres)(nil)
