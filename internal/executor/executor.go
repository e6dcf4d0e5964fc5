package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task represents a node in the execution DAG.
type Task struct {
	ID         string
	Stage      string
	DependsOn  []string
	MaxRetries int
	RetryDelay time.Duration
}

// Graph encapsulates a set of tasks keyed by ID.
type Graph struct {
	Tasks map[string]Task
}

// Executor is responsible for running tasks in dependency order.
type Executor struct {
	checkpoints CheckpointManager
	metrics     Metrics
}

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	RetryCounter func(context.Context, Task, int)
	Duration     func(context.Context, Task, time.Duration)
}

// Option configures executor behaviour.
type Option func(*Executor)

// WithCheckpointManager sets the checkpoint manager implementation.
func WithCheckpointManager(mgr CheckpointManager) Option {
	return func(ex *Executor) {
		ex.checkpoints = mgr
	}
}

// WithMetrics sets executor metrics callbacks.
func WithMetrics(m Metrics) Option {
	return func(ex *Executor) {
		ex.metrics = m
	}
}

// New creates a new Executor instance.
func New(opts ...Option) *Executor {
	ex := &Executor{checkpoints: NewNoopCheckpointManager()}
	for _, opt := range opts {
		opt(ex)
	}
	if ex.checkpoints == nil {
		ex.checkpoints = NewNoopCheckpointManager()
	}
	return ex
}

// ErrUnknownDependency indicates a dependency reference that is missing from the graph.
var ErrUnknownDependency = errors.New("unknown dependency")

// ErrCycleDetected indicates the graph contains a cycle.
var ErrCycleDetected = errors.New("cycle detected")

// ErrSuspended is returned by a task that waits on something outside the
// run, such as a human review. It is checkpointed and never retried.
var ErrSuspended = errors.New("run suspended")

// TaskRunner executes the concrete work for a task.
type TaskRunner interface {
	RunTask(ctx context.Context, runID string, task Task) error
}

// TaskRunnerFunc adapts a function to TaskRunner.
type TaskRunnerFunc func(ctx context.Context, runID string, task Task) error

// RunTask calls f.
func (f TaskRunnerFunc) RunTask(ctx context.Context, runID string, task Task) error {
	return f(ctx, runID, task)
}

// Levels groups task IDs by dependency depth. Tasks in one level only depend
// on earlier levels; IDs inside a level are sorted.
func (g Graph) Levels() ([][]string, error) {
	indegree := make(map[string]int, len(g.Tasks))
	adjacency := make(map[string][]string, len(g.Tasks))
	for id, task := range g.Tasks {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, dep := range task.DependsOn {
			if _, ok := g.Tasks[dep]; !ok {
				return nil, fmt.Errorf("%w: %s -> %s", ErrUnknownDependency, id, dep)
			}
			adjacency[dep] = append(adjacency[dep], id)
			indegree[id]++
		}
	}

	var current []string
	for id := range g.Tasks {
		if indegree[id] == 0 {
			current = append(current, id)
		}
	}
	var (
		levels [][]string
		seen   int
	)
	for len(current) > 0 {
		sort.Strings(current)
		levels = append(levels, current)
		seen += len(current)
		var next []string
		for _, id := range current {
			for _, child := range adjacency[id] {
				indegree[child]--
				if indegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		current = next
	}
	if seen != len(g.Tasks) {
		return nil, ErrCycleDetected
	}
	return levels, nil
}

// Execute runs the graph level by level; tasks inside a level run
// concurrently. Tasks the checkpoint manager reports as completed are
// skipped. It returns the IDs executed by this call in level order. When a
// task suspends, the rest of its level still finishes and Execute returns an
// error wrapping ErrSuspended.
func (e *Executor) Execute(ctx context.Context, runID string, g Graph, runner TaskRunner) ([]string, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	if err := e.checkpoints.StartRun(ctx, runID); err != nil {
		return nil, err
	}
	done, err := e.checkpoints.Completed(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoints: %w", err)
	}

	order := make([]string, 0, len(g.Tasks))
	for _, level := range levels {
		pending := make([]Task, 0, len(level))
		for _, id := range level {
			if done[id] {
				continue
			}
			task := g.Tasks[id]
			if task.ID == "" {
				task.ID = id
			}
			if task.Stage == "" {
				task.Stage = task.ID
			}
			pending = append(pending, task)
		}
		if len(pending) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return order, err
		}

		errs := make([]error, len(pending))
		if len(pending) == 1 {
			errs[0] = e.runTask(ctx, runID, pending[0], runner)
		} else {
			var group errgroup.Group
			for i, task := range pending {
				i, task := i, task
				group.Go(func() error {
					errs[i] = e.runTask(ctx, runID, task, runner)
					return nil
				})
			}
			_ = group.Wait()
		}

		var suspended error
		for i, task := range pending {
			switch {
			case errs[i] == nil:
				order = append(order, task.ID)
			case errors.Is(errs[i], ErrSuspended):
				if suspended == nil {
					suspended = errs[i]
				}
			default:
				return order, fmt.Errorf("task %s: %w", task.ID, errs[i])
			}
		}
		if suspended != nil {
			return order, suspended
		}
	}
	return order, nil
}

func (e *Executor) runTask(ctx context.Context, runID string, task Task, runner TaskRunner) error {
	maxRetries := task.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	attempt := 0
	for {
		attemptStart := time.Now()
		if err := e.checkpoints.SaveTaskStart(ctx, runID, task, attempt); err != nil {
			return err
		}
		var runErr error
		if runner != nil {
			runErr = runner.RunTask(ctx, runID, task)
		}
		if runErr == nil {
			if err := e.checkpoints.SaveTaskSuccess(ctx, runID, task, attempt); err != nil {
				return err
			}
			if e.metrics.Duration != nil {
				e.metrics.Duration(ctx, task, time.Since(attemptStart))
			}
			return nil
		}
		if errors.Is(runErr, ErrSuspended) {
			if err := e.checkpoints.SaveTaskSuspended(ctx, runID, task, attempt); err != nil {
				return err
			}
			return runErr
		}
		nextAttempt := attempt + 1
		if err := e.checkpoints.SaveTaskFailure(ctx, runID, task, nextAttempt, runErr); err != nil {
			return err
		}
		if e.metrics.RetryCounter != nil {
			e.metrics.RetryCounter(ctx, task, nextAttempt)
		}
		if nextAttempt > maxRetries || ctx.Err() != nil {
			return runErr
		}
		attempt = nextAttempt
		if task.RetryDelay > 0 {
			timer := time.NewTimer(task.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}
