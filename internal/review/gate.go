package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
)

// Gate opens review requests and applies decisions to run state.
type Gate struct {
	store   Store
	logger  *zap.Logger
	now     func() time.Time
	onEvent func(stage string, status Status)
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithObserver is called whenever a request is opened or decided.
func WithObserver(fn func(stage string, status Status)) Option {
	return func(g *Gate) { g.onEvent = fn }
}

// NewGate builds a gate over store.
func NewGate(store Store, opts ...Option) *Gate {
	g := &Gate{store: store, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Open writes a pending gate record under spec.StateKey and persists a
// pending request. Opening a gate that already has a request returns the
// existing one untouched.
func (g *Gate) Open(ctx context.Context, runID string, st *pipeline.State, spec GateSpec) (Request, error) {
	if existing, err := g.store.GetReview(ctx, runID, spec.Stage); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Request{}, err
	}

	now := g.now().UTC()
	_, hasMarkdown := st.Get(spec.MarkdownKey)
	reason := spec.Reason
	if reason == "" {
		reason = fmt.Sprintf("Review %s before continuing", spec.Stage)
	}
	st.Set(spec.StateKey, map[string]any{
		"status":       string(StatusPending),
		"reason":       reason,
		"markdown_key": spec.MarkdownKey,
		"has_markdown": hasMarkdown && spec.MarkdownKey != "",
		"created_at":   now.Format(time.RFC3339),
	})

	req := Request{
		ID:          uuid.NewString(),
		RunID:       runID,
		Stage:       spec.Stage,
		StateKey:    spec.StateKey,
		MarkdownKey: spec.MarkdownKey,
		Reason:      reason,
		Status:      StatusPending,
		CreatedAt:   now,
	}
	if err := g.store.SaveReview(ctx, req); err != nil {
		return Request{}, fmt.Errorf("save review %s/%s: %w", runID, spec.Stage, err)
	}
	g.logger.Info("review requested", zap.String("run_id", runID), zap.String("stage", spec.Stage))
	g.notify(spec.Stage, StatusPending)
	return req, nil
}

// Lookup returns the request for runID and stage.
func (g *Gate) Lookup(ctx context.Context, runID, stage string) (Request, error) {
	return g.store.GetReview(ctx, runID, stage)
}

// List returns requests with status; an empty status lists all.
func (g *Gate) List(ctx context.Context, status Status) ([]Request, error) {
	return g.store.ListReviews(ctx, status)
}

// Decide records d for the pending request. A request is decided once.
func (g *Gate) Decide(ctx context.Context, runID, stage string, d Decision) (Request, error) {
	req, err := g.store.DecideReview(ctx, runID, stage, d, g.now().UTC())
	if err != nil {
		return Request{}, err
	}
	g.logger.Info("review decided",
		zap.String("run_id", runID),
		zap.String("stage", stage),
		zap.String("status", string(req.Status)),
		zap.String("reviewer", req.Reviewer),
	)
	g.notify(stage, req.Status)
	return req, nil
}

// Apply copies a decided request into st: the gate record under StateKey and
// an entry in meta.reviews. It returns ErrRejected for a rejection and false
// while the request is still pending.
func (g *Gate) Apply(st *pipeline.State, req Request) (bool, error) {
	if req.Status == StatusPending {
		return false, nil
	}
	record := st.Map(req.StateKey)
	if record == nil {
		record = map[string]any{"markdown_key": req.MarkdownKey, "reason": req.Reason}
	}
	record["status"] = string(req.Status)
	if req.Reviewer != "" {
		record["reviewer"] = req.Reviewer
	}
	if req.Feedback != "" {
		record["feedback"] = req.Feedback
	}
	if req.DecidedAt != nil {
		record["decided_at"] = req.DecidedAt.UTC().Format(time.RFC3339)
	}
	st.Set(req.StateKey, record)
	st.AppendReview(pipeline.ReviewRecord{
		Stage:     req.Stage,
		Status:    string(req.Status),
		Reviewer:  req.Reviewer,
		Feedback:  req.Feedback,
		DecidedAt: req.DecidedAt,
	})
	if req.Status == StatusRejected {
		return true, fmt.Errorf("%w: %s", ErrRejected, req.Stage)
	}
	return true, nil
}

func (g *Gate) notify(stage string, status Status) {
	if g.onEvent != nil {
		g.onEvent(stage, status)
	}
}
