package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/contentpipe/config"
	"github.com/mohammad-safakhou/contentpipe/internal/executor"
	"github.com/mohammad-safakhou/contentpipe/internal/normalize"
	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
	"github.com/mohammad-safakhou/contentpipe/internal/review"
	"github.com/mohammad-safakhou/contentpipe/internal/runstore"
)

var (
	// ErrRunBusy is returned when the run is already executing in this process.
	ErrRunBusy = errors.New("run is already executing")
	// ErrNotResumable is returned for finished runs and v1 runs.
	ErrNotResumable = errors.New("run cannot be resumed")
)

// StartOptions describes a new run.
type StartOptions struct {
	Topic             string
	IncludeNewsletter bool
	Graph             string
	RunID             string
}

// Result is a run record together with its decoded state.
type Result struct {
	Run   runstore.Run
	State *pipeline.State
}

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	Run      func(graph, status string)
	Executor executor.Metrics
}

// Runner starts and resumes runs and persists their snapshots.
type Runner struct {
	orch    *pipeline.Orchestrator
	gate    *review.Gate
	store   runstore.Store
	def     *Definition
	logger  *zap.Logger
	obs     pipeline.Observer
	metrics Metrics
	done    func(context.Context, Result)

	mu     sync.Mutex
	active map[string]chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithDefinition replaces the built-in graph.
func WithDefinition(d *Definition) Option {
	return func(r *Runner) {
		if d != nil {
			r.def = d
		}
	}
}

// WithObserver receives run level events.
func WithObserver(obs pipeline.Observer) Option {
	return func(r *Runner) { r.obs = obs }
}

// WithMetrics sets metrics callbacks.
func WithMetrics(m Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithFinished is called once a run reaches a terminal status.
func WithFinished(fn func(context.Context, Result)) Option {
	return func(r *Runner) { r.done = fn }
}

// NewRunner wires an orchestrator, a review gate and a run store.
func NewRunner(orch *pipeline.Orchestrator, gate *review.Gate, store runstore.Store, opts ...Option) *Runner {
	r := &Runner{
		orch:   orch,
		gate:   gate,
		store:  store,
		def:    DefaultDefinition(),
		logger: zap.NewNop(),
		active: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Gate exposes the review gate used by the runner.
func (r *Runner) Gate() *review.Gate { return r.gate }

// Store exposes the run store.
func (r *Runner) Store() runstore.Store { return r.store }

func (r *Runner) lock(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[runID]; busy {
		return false
	}
	r.active[runID] = make(chan struct{})
	return true
}

func (r *Runner) unlock(runID string) {
	r.mu.Lock()
	if ch, ok := r.active[runID]; ok {
		close(ch)
		delete(r.active, runID)
	}
	r.mu.Unlock()
}

// Idle returns a channel that is closed once runID is not executing in this
// process. It is already closed when the run is idle.
func (r *Runner) Idle(runID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.active[runID]; ok {
		return ch
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Start begins a run. A v1 run executes to completion; a v2 run executes until
// its first pending review and comes back with status awaiting_review.
func (r *Runner) Start(ctx context.Context, opts StartOptions) (Result, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Graph == "" {
		opts.Graph = config.GraphV1
	}
	if !r.lock(opts.RunID) {
		return Result{}, ErrRunBusy
	}
	defer r.unlock(opts.RunID)

	run := runstore.Run{
		ID:                opts.RunID,
		Topic:             opts.Topic,
		Graph:             opts.Graph,
		Engine:            r.orch.Engine().Name(),
		Status:            runstore.StatusRunning,
		IncludeNewsletter: opts.IncludeNewsletter,
	}

	switch opts.Graph {
	case config.GraphV1:
		st, err := r.orch.Run(ctx, opts.Topic, pipeline.RunOptions{IncludeNewsletter: opts.IncludeNewsletter, RunID: run.ID})
		return r.finish(ctx, run, st, err)
	case config.GraphV2:
		st := pipeline.NewState(opts.Topic)
		if err := r.persist(ctx, &run, st); err != nil {
			return Result{}, err
		}
		r.emit(run.ID, pipeline.EventRunStarted, "", opts.Topic)
		return r.execute(ctx, run, st)
	default:
		return Result{}, fmt.Errorf("unknown graph %q", opts.Graph)
	}
}

// Resume continues a suspended v2 run from its last snapshot. Completed tasks
// are skipped; a pending review suspends the run again.
func (r *Runner) Resume(ctx context.Context, runID string) (Result, error) {
	if !r.lock(runID) {
		return Result{}, ErrRunBusy
	}
	defer r.unlock(runID)

	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	if run.Graph != config.GraphV2 || run.Status.Terminal() {
		return Result{Run: run}, fmt.Errorf("%w: %s is %s (%s)", ErrNotResumable, runID, run.Status, run.Graph)
	}
	st, err := DecodeState(run.State)
	if err != nil {
		return Result{Run: run}, err
	}
	r.logger.Info("resuming run", zap.String("run_id", runID), zap.String("topic", run.Topic))
	run.Status = runstore.StatusRunning
	if err := r.persist(ctx, &run, st); err != nil {
		return Result{}, err
	}
	return r.execute(ctx, run, st)
}

// Decide records a reviewer's decision for a run awaiting review. The run is
// not resumed; callers follow up with Resume.
func (r *Runner) Decide(ctx context.Context, runID, stage string, d review.Decision) (review.Request, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return review.Request{}, err
	}
	if run.Status.Terminal() {
		return review.Request{}, fmt.Errorf("%w: %s is %s", ErrNotResumable, runID, run.Status)
	}
	return r.gate.Decide(ctx, runID, stage, d)
}

// Load returns a stored run and its decoded state.
func (r *Runner) Load(ctx context.Context, runID string) (Result, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	st, err := DecodeState(run.State)
	if err != nil {
		return Result{Run: run}, err
	}
	return Result{Run: run, State: st}, nil
}

// DecodeState rebuilds a state snapshot.
func DecodeState(raw json.RawMessage) (*pipeline.State, error) {
	st := pipeline.NewState("")
	if len(raw) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

// execute runs the compiled graph over st, guarding st with a mutex because
// tasks of one level run concurrently.
func (r *Runner) execute(ctx context.Context, run runstore.Run, st *pipeline.State) (Result, error) {
	graph, err := Compile(r.def, CompileOptions{IncludeOptional: run.IncludeNewsletter})
	if err != nil {
		return Result{}, err
	}
	var mu sync.Mutex
	snapshot := func() error {
		mu.Lock()
		defer mu.Unlock()
		return r.persist(ctx, &run, st)
	}

	task := executor.TaskRunnerFunc(func(ctx context.Context, runID string, t executor.Task) error {
		node := graph.Nodes[t.ID]
		switch node.Kind {
		case NodeStage:
			mu.Lock()
			branch := st.Branch()
			mu.Unlock()
			if err := r.orch.Step(ctx, runID, branch, node.Stage); err != nil {
				return err
			}
			stage, _ := pipeline.StageByName(r.orch.Engine(), node.Stage)
			mu.Lock()
			st.Merge(branch, stage.Key(), stage.Key()+"_markdown")
			mu.Unlock()
			return snapshot()
		case NodeReview:
			return r.gateTask(ctx, runID, &mu, st, node.Gate, snapshot)
		case NodeNormalize:
			mu.Lock()
			changed := normalize.Fields(st, node.Keys...)
			mu.Unlock()
			if len(changed) > 0 {
				r.logger.Debug("normalized fields", zap.String("run_id", runID), zap.Strings("keys", changed))
			}
			return snapshot()
		}
		return fmt.Errorf("unknown task %s", t.ID)
	})

	ex := executor.New(
		executor.WithCheckpointManager(executor.NewStoreCheckpointManager(r.store)),
		executor.WithMetrics(r.metrics.Executor),
	)
	order, execErr := ex.Execute(ctx, run.ID, graph.Exec, task)
	r.logger.Debug("graph pass finished", zap.String("run_id", run.ID), zap.Strings("executed", order))

	switch {
	case execErr == nil:
		run.Status = runstore.StatusCompleted
		r.emit(run.ID, pipeline.EventRunCompleted, "", "")
	case errors.Is(execErr, executor.ErrSuspended):
		run.Status = runstore.StatusAwaitingReview
		r.emit(run.ID, pipeline.EventRunSuspended, "", execErr.Error())
		execErr = nil
	case errors.Is(execErr, review.ErrRejected):
		run.Status = runstore.StatusRejected
		run.Error = execErr.Error()
		r.emit(run.ID, pipeline.EventRunFailed, "", execErr.Error())
	default:
		run.Status = runstore.StatusFailed
		run.Error = execErr.Error()
		r.emit(run.ID, pipeline.EventRunFailed, "", execErr.Error())
	}
	r.logger.Info("run pass finished", zap.String("run_id", run.ID), zap.String("status", string(run.Status)))
	if r.metrics.Run != nil {
		r.metrics.Run(run.Graph, string(run.Status))
	}
	// the snapshot must land even when ctx was cancelled mid-run
	if err := r.persist(context.WithoutCancel(ctx), &run, st); err != nil {
		return Result{Run: run, State: st}, errors.Join(execErr, err)
	}
	res := Result{Run: run, State: st}
	r.finished(ctx, res)
	return res, execErr
}

func (r *Runner) gateTask(ctx context.Context, runID string, mu *sync.Mutex, st *pipeline.State, spec review.GateSpec, snapshot func() error) error {
	req, err := r.gate.Lookup(ctx, runID, spec.Stage)
	if errors.Is(err, review.ErrNotFound) {
		mu.Lock()
		_, err = r.gate.Open(ctx, runID, st, spec)
		mu.Unlock()
		if err != nil {
			return err
		}
		if err := snapshot(); err != nil {
			return err
		}
		r.emit(runID, pipeline.EventReviewPending, spec.Stage, spec.StateKey)
		return fmt.Errorf("%w: awaiting %s review", executor.ErrSuspended, spec.Stage)
	}
	if err != nil {
		return err
	}
	if req.Status == review.StatusPending {
		return fmt.Errorf("%w: awaiting %s review", executor.ErrSuspended, spec.Stage)
	}
	mu.Lock()
	_, applyErr := r.gate.Apply(st, req)
	mu.Unlock()
	r.emit(runID, pipeline.EventReviewDecided, spec.Stage, string(req.Status))
	if err := snapshot(); err != nil {
		return err
	}
	return applyErr
}

func (r *Runner) finish(ctx context.Context, run runstore.Run, st *pipeline.State, runErr error) (Result, error) {
	run.Status = runstore.StatusCompleted
	if runErr != nil {
		run.Status = runstore.StatusFailed
		run.Error = runErr.Error()
	}
	if r.metrics.Run != nil {
		r.metrics.Run(run.Graph, string(run.Status))
	}
	if err := r.persist(context.WithoutCancel(ctx), &run, st); err != nil {
		return Result{Run: run, State: st}, errors.Join(runErr, err)
	}
	res := Result{Run: run, State: st}
	r.finished(ctx, res)
	return res, runErr
}

func (r *Runner) finished(ctx context.Context, res Result) {
	if r.done != nil && res.Run.Status.Terminal() {
		r.done(context.WithoutCancel(ctx), res)
	}
}

func (r *Runner) persist(ctx context.Context, run *runstore.Run, st *pipeline.State) error {
	if st != nil {
		b, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
		run.State = b
	}
	run.UpdatedAt = time.Now().UTC()
	if err := r.store.SaveRun(ctx, *run); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (r *Runner) emit(runID, typ, stage, detail string) {
	if r.obs == nil {
		return
	}
	r.obs.Observe(pipeline.Event{RunID: runID, Type: typ, Stage: stage, Detail: detail, At: time.Now().UTC()})
}
