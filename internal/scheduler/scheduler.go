// Package scheduler starts configured topics on cron schedules while the
// server is running.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/contentpipe/config"
	"github.com/mohammad-safakhou/contentpipe/internal/workflow"
)

const (
	defaultInterval = 30 * time.Second
	lockTTL         = 2 * time.Minute
)

// Starter begins a run.
type Starter interface {
	Start(ctx context.Context, opts workflow.StartOptions) (workflow.Result, error)
}

type job struct {
	cfg  config.ScheduleConfig
	expr *cronexpr.Expression
	last time.Time
}

// Scheduler fires each schedule at most once per cron slot across every
// process sharing its Locker.
type Scheduler struct {
	starter      Starter
	locker       Locker
	logger       *zap.Logger
	now          func() time.Time
	interval     time.Duration
	defaultGraph string

	mu   sync.Mutex
	jobs []*job
	wg   sync.WaitGroup
}

type Option func(*Scheduler)

func WithLocker(l Locker) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithDefaultGraph sets the graph for schedules that name none.
func WithDefaultGraph(g string) Option {
	return func(s *Scheduler) { s.defaultGraph = g }
}

// New parses every cron expression. Schedules become due from the moment the
// scheduler is created; missed slots before that are not replayed.
func New(schedules []config.ScheduleConfig, starter Starter, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		starter:      starter,
		logger:       zap.NewNop(),
		now:          time.Now,
		interval:     defaultInterval,
		defaultGraph: config.GraphV1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = NewLocalLocker(s.now)
	}
	start := s.now()
	for _, sc := range schedules {
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		expr, err := cronexpr.Parse(sc.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedules.%s: %w", sc.ID, err)
		}
		s.jobs = append(s.jobs, &job{cfg: sc, expr: expr, last: start})
	}
	return s, nil
}

// Run ticks until ctx is cancelled, then waits for the runs it started.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		return nil
	}
	s.logger.Info("scheduler started", zap.Int("schedules", len(s.jobs)), zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick starts every schedule whose next slot has passed and returns the ids it
// started.
func (s *Scheduler) Tick(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var fired []string
	for _, j := range s.jobs {
		slot := j.expr.Next(j.last)
		if slot.IsZero() || slot.After(now) {
			continue
		}
		j.last = now
		key := "sched:lock:" + j.cfg.ID + ":" + strconv.FormatInt(slot.Unix(), 10)
		ok, err := s.locker.Acquire(ctx, key, lockTTL)
		if err != nil {
			s.logger.Warn("schedule lock failed", zap.String("schedule", j.cfg.ID), zap.Error(err))
			continue
		}
		if !ok {
			s.logger.Debug("schedule slot taken", zap.String("schedule", j.cfg.ID), zap.Time("slot", slot))
			continue
		}
		fired = append(fired, j.cfg.ID)
		s.fire(ctx, j.cfg)
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, sc config.ScheduleConfig) {
	graph := sc.Graph
	if graph == "" {
		graph = s.defaultGraph
	}
	opts := workflow.StartOptions{Topic: sc.Topic, IncludeNewsletter: sc.IncludeNewsletter, Graph: graph}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.starter.Start(ctx, opts)
		if err != nil {
			s.logger.Warn("scheduled run failed", zap.String("schedule", sc.ID), zap.Error(err))
			return
		}
		s.logger.Info("scheduled run finished",
			zap.String("schedule", sc.ID),
			zap.String("run_id", res.Run.ID),
			zap.String("status", string(res.Run.Status)))
	}()
}

// Wait blocks until started runs return.
func (s *Scheduler) Wait() { s.wg.Wait() }
