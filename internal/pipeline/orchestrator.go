package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/mohammad-safakhou/contentpipe/internal/pipeline")

// SchemaChecker validates a field value against its record schema.
type SchemaChecker interface {
	Check(key string, v any) error
}

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	StageDuration func(stage string, d time.Duration, err error)
	Repair        func(stage, heuristic string)
	Correction    func(key string)
	Review        func(stage, status string)
}

// RunOptions controls a single v1 run.
type RunOptions struct {
	IncludeNewsletter bool
	RunID             string
}

// FieldHook is applied to a field after a stage stores it.
type FieldHook func(st *State, key string)

// Orchestrator drives stages in order, validating and repairing their output.
type Orchestrator struct {
	engine  Engine
	policy  RepairPolicy
	schemas SchemaChecker
	metrics Metrics
	logger  *zap.Logger
	obs     Observer
	decode  FieldHook
	after   FieldHook
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRepairPolicy overrides the repair policy.
func WithRepairPolicy(p RepairPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithSchemaChecker enables advisory schema checks.
func WithSchemaChecker(c SchemaChecker) Option {
	return func(o *Orchestrator) { o.schemas = c }
}

// WithMetrics sets metrics callbacks.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithObserver sets the event observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.obs = obs }
}

// WithDecodeHook runs h on a stage's field before validation, letting callers
// decode outputs that arrived as encoded text.
func WithDecodeHook(h FieldHook) Option {
	return func(o *Orchestrator) { o.decode = h }
}

// WithAfterStage runs h once a stage and its repairs are done.
func WithAfterStage(h FieldHook) Option {
	return func(o *Orchestrator) { o.after = h }
}

// NewOrchestrator builds an orchestrator around engine.
func NewOrchestrator(engine Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine: engine,
		policy: DefaultRepairPolicy(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Engine returns the engine the orchestrator drives.
func (o *Orchestrator) Engine() Engine { return o.engine }

// Run executes research, script, the thumbnail/captions fork, voiceover and,
// when requested, the newsletter. On error the partially built state is
// returned alongside it.
func (o *Orchestrator) Run(ctx context.Context, topic string, opts RunOptions) (*State, error) {
	runID := opts.RunID
	if runID == "" {
		runID = RunID(topic)
	}
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("pipeline.run_id", runID),
		attribute.String("pipeline.engine", o.engine.Name()),
	))
	defer span.End()

	st := NewState(topic)
	o.logger.Info("run started", zap.String("run_id", runID), zap.String("topic", topic), zap.String("engine", o.engine.Name()))
	o.emit(runID, EventRunStarted, "", topic)

	fail := func(err error) (*State, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("run failed", zap.String("run_id", runID), zap.Error(err))
		o.emit(runID, EventRunFailed, "", err.Error())
		return st, err
	}

	if err := o.Step(ctx, runID, st, StageResearcher); err != nil {
		return fail(err)
	}
	o.AutoApprove(runID, st, "research")

	if err := o.Step(ctx, runID, st, StageScriptwriter); err != nil {
		return fail(err)
	}
	o.AutoApprove(runID, st, "script")

	if err := o.Fork(ctx, runID, st, StageThumbnails, StageCaptioner); err != nil {
		return fail(err)
	}
	if err := o.Step(ctx, runID, st, StageVoiceover); err != nil {
		return fail(err)
	}
	if opts.IncludeNewsletter {
		if err := o.Step(ctx, runID, st, StageNewsletter); err != nil {
			return fail(err)
		}
	}

	o.logger.Info("run completed", zap.String("run_id", runID), zap.Strings("keys", st.Keys()))
	o.emit(runID, EventRunCompleted, "", "")
	return st, nil
}

// AutoApprove appends an automatic review record for stage.
func (o *Orchestrator) AutoApprove(runID string, st *State, stage string) {
	status := fmt.Sprintf("auto-approved (%s)", o.engine.Name())
	st.AppendReview(ReviewRecord{Stage: stage, Status: status})
	if o.metrics.Review != nil {
		o.metrics.Review(stage, "auto-approved")
	}
	o.emit(runID, EventReviewDecided, stage, status)
}

// Step runs one stage by name, validates its output and applies the repair
// rules that belong to it. Each rule fires at most once.
func (o *Orchestrator) Step(ctx context.Context, runID string, st *State, name string) error {
	stage, ok := StageByName(o.engine, name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	if err := o.invoke(ctx, runID, st, stage, AttemptInitial); err != nil {
		return err
	}

	switch name {
	case StageScriptwriter:
		repaired := false
		if ScriptIsEmpty(st.Fields[KeyScript]) {
			if err := o.repair(ctx, runID, st, stage, HeuristicEmptyScript, AttemptRepairSchema); err != nil {
				return err
			}
			repaired = true
		}
		// a rewrite request for a script that is still empty would repeat the
		// request that just failed
		if repaired && ScriptIsEmpty(st.Fields[KeyScript]) {
			break
		}
		if o.policy.OffTopic(st.ScriptDraft(), st.Fields[KeyResearch], st.Topic) {
			if err := o.repair(ctx, runID, st, stage, HeuristicOffTopic, AttemptRepairOnTopic); err != nil {
				return err
			}
		}
	case StageCaptioner:
		if CaptionsIncomplete(st.Fields[KeyCaptions]) {
			if err := o.repair(ctx, runID, st, stage, HeuristicCaptions, AttemptRepairCaptions); err != nil {
				return err
			}
		}
	case StageVoiceover:
		text := StringField(st.Map(KeyVoiceover), "text")
		if o.policy.OffTopic(text, st.Fields[KeyResearch], st.Topic) {
			if err := o.repair(ctx, runID, st, stage, HeuristicOffTopic, AttemptRepairOnTopic); err != nil {
				return err
			}
		}
	}

	if o.after != nil {
		o.after(st, stage.Key())
	}
	return nil
}

// Fork runs the named stages concurrently. Each works on its own branch of
// st; results and audit records are merged back in argument order once all
// branches finish.
func (o *Orchestrator) Fork(ctx context.Context, runID string, st *State, names ...string) error {
	branches := make([]*State, len(names))
	keys := make([]string, len(names))
	for i, name := range names {
		stage, ok := StageByName(o.engine, name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStage, name)
		}
		keys[i] = stage.Key()
		branches[i] = st.Branch()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			return o.Step(gctx, runID, branches[i], name)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range names {
		st.Merge(branches[i], keys[i], keys[i]+"_markdown")
	}
	return nil
}

func (o *Orchestrator) repair(ctx context.Context, runID string, st *State, stage Stage, heuristic string, attempt Attempt) error {
	o.logger.Warn("repairing stage output",
		zap.String("run_id", runID),
		zap.String("stage", stage.Name()),
		zap.String("heuristic", heuristic),
	)
	st.Meta.Repairs = append(st.Meta.Repairs, RepairRecord{
		Stage:     stage.Name(),
		Heuristic: heuristic,
		Attempt:   attempt.String(),
	})
	if o.metrics.Repair != nil {
		o.metrics.Repair(stage.Name(), heuristic)
	}
	o.emit(runID, EventRepair, stage.Name(), heuristic)
	return o.invoke(ctx, runID, st, stage, attempt)
}

func (o *Orchestrator) invoke(ctx context.Context, runID string, st *State, stage Stage, attempt Attempt) error {
	ctx, span := tracer.Start(ctx, "stage."+stage.Name(), trace.WithAttributes(
		attribute.String("pipeline.run_id", runID),
		attribute.String("pipeline.attempt", attempt.String()),
	))
	defer span.End()

	log := o.logger.With(
		zap.String("run_id", runID),
		zap.String("stage", stage.Name()),
		zap.String("attempt", attempt.String()),
	)
	log.Debug("stage started")
	o.emit(runID, EventStageStarted, stage.Name(), attempt.String())

	start := time.Now()
	v, err := stage.Run(ctx, st, attempt)
	elapsed := time.Since(start)
	if o.metrics.StageDuration != nil {
		o.metrics.StageDuration(stage.Name(), elapsed, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.emit(runID, EventStageFailed, stage.Name(), err.Error())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", stage.Name(), ctxErr)
		}
		return fmt.Errorf("%w: %s: %w", ErrStageFailed, stage.Name(), err)
	}

	key := stage.Key()
	st.Set(key, v)
	if o.decode != nil {
		o.decode(st, key)
	}
	if Validate(st, key, KindOf(key)) {
		log.Warn("stage output replaced by default", zap.String("key", key), zap.String("expected", KindOf(key).String()))
		if o.metrics.Correction != nil {
			o.metrics.Correction(key)
		}
		o.emit(runID, EventCorrected, stage.Name(), key)
	}
	if o.schemas != nil {
		if err := o.schemas.Check(key, st.Fields[key]); err != nil {
			log.Warn("stage output does not match schema", zap.String("key", key), zap.Error(err))
			st.Meta.Schema = append(st.Meta.Schema, SchemaRecord{Key: key, Error: err.Error()})
		}
	}

	log.Debug("stage completed", zap.Duration("elapsed", elapsed), zap.Strings("keys", st.Keys()))
	o.emit(runID, EventStageCompleted, stage.Name(), key)
	return nil
}

func (o *Orchestrator) emit(runID, typ, stage, detail string) {
	if o.obs == nil {
		return
	}
	o.obs.Observe(Event{RunID: runID, Type: typ, Stage: stage, Detail: detail, At: time.Now().UTC()})
}
