package runstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohammad-safakhou/contentpipe/internal/review"
)

// Memory keeps everything in process memory.
type Memory struct {
	mu          sync.RWMutex
	runs        map[string]Run
	checkpoints map[string]map[string]Checkpoint
	reviews     map[string]review.Request
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs:        make(map[string]Run),
		checkpoints: make(map[string]map[string]Checkpoint),
		reviews:     make(map[string]review.Request),
	}
}

func reviewKey(runID, stage string) string { return runID + "/" + stage }

func (m *Memory) SaveRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.runs[run.ID]; ok {
		run.CreatedAt = existing.CreatedAt
	} else if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	run.State = append([]byte(nil), run.State...)
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	run.State = append([]byte(nil), run.State...)
	return run, nil
}

func (m *Memory) ListRuns(_ context.Context, status Status, limit int) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoints[cp.RunID] == nil {
		m.checkpoints[cp.RunID] = make(map[string]Checkpoint)
	}
	cp.UpdatedAt = time.Now().UTC()
	m.checkpoints[cp.RunID][cp.TaskID] = cp
	return nil
}

func (m *Memory) Checkpoints(_ context.Context, runID string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Checkpoint, 0, len(m.checkpoints[runID]))
	for _, cp := range m.checkpoints[runID] {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (m *Memory) SaveReview(_ context.Context, req review.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := reviewKey(req.RunID, req.Stage)
	if _, ok := m.reviews[k]; ok {
		return nil
	}
	m.reviews[k] = req
	return nil
}

func (m *Memory) GetReview(_ context.Context, runID, stage string) (review.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.reviews[reviewKey(runID, stage)]
	if !ok {
		return review.Request{}, review.ErrNotFound
	}
	return req, nil
}

func (m *Memory) ListReviews(_ context.Context, status review.Status) ([]review.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []review.Request
	for _, r := range m.reviews {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DecideReview(_ context.Context, runID, stage string, d review.Decision, at time.Time) (review.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := reviewKey(runID, stage)
	req, ok := m.reviews[k]
	if !ok {
		return review.Request{}, review.ErrNotFound
	}
	if req.Status != review.StatusPending {
		return req, review.ErrAlreadyDecided
	}
	req.Status = d.Status()
	req.Reviewer = d.Reviewer
	req.Feedback = d.Feedback
	req.DecidedAt = &at
	m.reviews[k] = req
	return req, nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
