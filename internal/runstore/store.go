// Package runstore persists runs, their checkpoints and review requests so
// suspended runs can be resumed from another process.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/contentpipe/config"
	"github.com/mohammad-safakhou/contentpipe/internal/review"
)

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("run not found")

// Status of a run.
type Status string

const (
	StatusRunning        Status = "running"
	StatusAwaitingReview Status = "awaiting_review"
	StatusCompleted      Status = "completed"
	StatusRejected       Status = "rejected"
	StatusFailed         Status = "failed"
)

// Terminal reports whether no further work happens for the run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusFailed
}

// Run is one pipeline execution with its latest state snapshot.
type Run struct {
	ID                string          `json:"id"`
	Topic             string          `json:"topic"`
	Graph             string          `json:"graph"`
	Engine            string          `json:"engine"`
	Status            Status          `json:"status"`
	IncludeNewsletter bool            `json:"include_newsletter"`
	State             json.RawMessage `json:"state,omitempty"`
	Error             string          `json:"error,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Checkpoint statuses.
const (
	CheckpointStarted   = "started"
	CheckpointCompleted = "completed"
	CheckpointFailed    = "failed"
	CheckpointSuspended = "suspended"
)

// Checkpoint records the progress of one task of a run.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	TaskID    string    `json:"task_id"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the persistence contract shared by the memory, redis and
// postgres backends.
type Store interface {
	review.Store
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, status Status, limit int) ([]Run, error)
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	Checkpoints(ctx context.Context, runID string) ([]Checkpoint, error)
	Close() error
}

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Info("run store: memory")
		return NewMemory(), nil
	case config.DriverRedis:
		client, err := Conn(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("run store: redis", zap.String("prefix", cfg.Redis.Prefix))
		return NewRedis(client, cfg.Redis.Prefix), nil
	case config.DriverPostgres:
		st, err := NewPostgres(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("run store: postgres")
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Conn opens a redis client from cfg, preferring cfg.URL, and pings it.
func Conn(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.Addr(), Password: cfg.Password, DB: cfg.DB}
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
	}
	client := redis.NewClient(opts)
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if pong != "PONG" {
		_ = client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}
