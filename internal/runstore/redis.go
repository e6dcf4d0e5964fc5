package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/contentpipe/internal/review"
)

// Redis stores runs as JSON strings, checkpoints as a hash per run and
// review requests as JSON strings indexed by a sorted set.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an already connected client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "contentpipe"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) runKey(id string) string           { return fmt.Sprintf("%s:run:%s", r.prefix, id) }
func (r *Redis) runsIndex() string                 { return r.prefix + ":runs" }
func (r *Redis) checkpointKey(runID string) string { return fmt.Sprintf("%s:checkpoints:%s", r.prefix, runID) }
func (r *Redis) reviewsIndex() string              { return r.prefix + ":reviews" }
func (r *Redis) reviewKey(runID, stage string) string {
	return fmt.Sprintf("%s:review:%s:%s", r.prefix, runID, stage)
}

func (r *Redis) SaveRun(ctx context.Context, run Run) error {
	now := time.Now().UTC()
	existing, err := r.GetRun(ctx, run.ID)
	switch {
	case err == nil:
		run.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
		if run.CreatedAt.IsZero() {
			run.CreatedAt = now
		}
	default:
		return err
	}
	run.UpdatedAt = now
	b, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.runKey(run.ID), b, 0)
		p.ZAdd(ctx, r.runsIndex(), redis.Z{Score: float64(now.UnixNano()), Member: run.ID})
		return nil
	})
	return err
}

func (r *Redis) GetRun(ctx context.Context, id string) (Run, error) {
	raw, err := r.client.Get(ctx, r.runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	var run Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return Run{}, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, nil
}

func (r *Redis) ListRuns(ctx context.Context, status Status, limit int) ([]Run, error) {
	ids, err := r.client.ZRevRange(ctx, r.runsIndex(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(ids))
	for _, id := range ids {
		run, err := r.GetRun(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if status != "" && run.Status != status {
			continue
		}
		out = append(out, run)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *Redis) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	b, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.checkpointKey(cp.RunID), cp.TaskID, b).Err()
}

func (r *Redis) Checkpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	fields, err := r.client.HGetAll(ctx, r.checkpointKey(runID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Checkpoint, 0, len(fields))
	for task, raw := range fields {
		var cp Checkpoint
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			return nil, fmt.Errorf("decode checkpoint %s/%s: %w", runID, task, err)
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (r *Redis) SaveReview(ctx context.Context, req review.Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	key := r.reviewKey(req.RunID, req.Stage)
	ok, err := r.client.SetNX(ctx, key, b, 0).Result()
	if err != nil || !ok {
		return err
	}
	return r.client.ZAdd(ctx, r.reviewsIndex(), redis.Z{
		Score:  float64(req.CreatedAt.UnixNano()),
		Member: key,
	}).Err()
}

func (r *Redis) GetReview(ctx context.Context, runID, stage string) (review.Request, error) {
	return r.loadReview(ctx, r.client, r.reviewKey(runID, stage))
}

func (r *Redis) loadReview(ctx context.Context, c redis.Cmdable, key string) (review.Request, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return review.Request{}, review.ErrNotFound
	}
	if err != nil {
		return review.Request{}, err
	}
	var req review.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return review.Request{}, fmt.Errorf("decode review %s: %w", key, err)
	}
	return req, nil
}

func (r *Redis) ListReviews(ctx context.Context, status review.Status) ([]review.Request, error) {
	keys, err := r.client.ZRange(ctx, r.reviewsIndex(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var out []review.Request
	for _, key := range keys {
		req, err := r.loadReview(ctx, r.client, key)
		if errors.Is(err, review.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if status == "" || req.Status == status {
			out = append(out, req)
		}
	}
	return out, nil
}

// DecideReview updates a pending request under WATCH so two reviewers racing
// on the same gate cannot both win.
func (r *Redis) DecideReview(ctx context.Context, runID, stage string, d review.Decision, at time.Time) (review.Request, error) {
	key := r.reviewKey(runID, stage)
	var decided review.Request
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		req, err := r.loadReview(ctx, tx, key)
		if err != nil {
			return err
		}
		if req.Status != review.StatusPending {
			decided = req
			return review.ErrAlreadyDecided
		}
		req.Status = d.Status()
		req.Reviewer = d.Reviewer
		req.Feedback = d.Feedback
		req.DecidedAt = &at
		b, err := json.Marshal(req)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, 0)
			return nil
		})
		if err != nil {
			return err
		}
		decided = req
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		current, gerr := r.GetReview(ctx, runID, stage)
		if gerr != nil {
			return review.Request{}, gerr
		}
		return current, review.ErrAlreadyDecided
	}
	return decided, err
}

func (r *Redis) Close() error { return r.client.Close() }

var _ Store = (*Redis)(nil)
