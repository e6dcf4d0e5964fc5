// Package review is the human approval gate of the declarative workflow. A
// gate suspends a run until a reviewer approves or rejects the stage.
package review

import (
	"context"
	"errors"
	"time"
)

// Status of a review request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

var (
	// ErrRejected aborts a run whose stage was rejected.
	ErrRejected = errors.New("review rejected")
	// ErrAlreadyDecided is returned for a second decision on one request.
	ErrAlreadyDecided = errors.New("review already decided")
	// ErrNotFound is returned when no request exists for a run and stage.
	ErrNotFound = errors.New("review not found")
)

// GateSpec describes one gate in a graph.
type GateSpec struct {
	Stage       string `yaml:"stage" json:"stage"`
	StateKey    string `yaml:"state_key" json:"state_key"`
	MarkdownKey string `yaml:"markdown_key" json:"markdown_key"`
	Reason      string `yaml:"reason" json:"reason,omitempty"`
}

// Request is a persisted review request.
type Request struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	Stage       string     `json:"stage"`
	StateKey    string     `json:"state_key"`
	MarkdownKey string     `json:"markdown_key,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Status      Status     `json:"status"`
	Reviewer    string     `json:"reviewer,omitempty"`
	Feedback    string     `json:"feedback,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

// Decision is a reviewer's verdict.
type Decision struct {
	Approved bool   `json:"approved"`
	Reviewer string `json:"reviewer,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

// Status maps the decision onto a request status.
func (d Decision) Status() Status {
	if d.Approved {
		return StatusApproved
	}
	return StatusRejected
}

// Store persists review requests. DecideReview must move a request out of
// pending atomically and fail with ErrAlreadyDecided otherwise.
type Store interface {
	SaveReview(ctx context.Context, req Request) error
	GetReview(ctx context.Context, runID, stage string) (Request, error)
	ListReviews(ctx context.Context, status Status) ([]Request, error)
	DecideReview(ctx context.Context, runID, stage string, d Decision, at time.Time) (Request, error)
}
