package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/contentpipe/config"
	"github.com/mohammad-safakhou/contentpipe/internal/archive"
	"github.com/mohammad-safakhou/contentpipe/internal/capability"
	"github.com/mohammad-safakhou/contentpipe/internal/engine"
	"github.com/mohammad-safakhou/contentpipe/internal/events"
	"github.com/mohammad-safakhou/contentpipe/internal/logging"
	"github.com/mohammad-safakhou/contentpipe/internal/normalize"
	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
	"github.com/mohammad-safakhou/contentpipe/internal/review"
	"github.com/mohammad-safakhou/contentpipe/internal/runstore"
	"github.com/mohammad-safakhou/contentpipe/internal/schema"
	"github.com/mohammad-safakhou/contentpipe/internal/telemetry"
	"github.com/mohammad-safakhou/contentpipe/internal/workflow"
)

// app holds everything a command needs to drive runs.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	tools   *capability.Registry
	engine  pipeline.Engine
	metrics *telemetry.Metrics
	tele    *telemetry.Telemetry
	store   runstore.Store
	bus     *events.Bus
	archive *archive.Index
	runner  *workflow.Runner
}

type appOptions struct {
	engine string
	// storeOnly skips tools, engines and the archive for commands that only
	// touch stored runs.
	storeOnly bool
}

func loadConfig(flags *rootFlags) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(flags.cfgPath)
	if err != nil {
		return nil, nil, err
	}
	debug := flags.debug || cfg.General.Debug
	logger, err := logging.New(cfg.General.LogLevel, debug)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newApp(ctx context.Context, flags *rootFlags, opts appOptions) (*app, error) {
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: telemetry.NewMetrics()}

	a.tele, err = telemetry.Setup(ctx, cfg.Telemetry, telemetry.Options{ServiceVersion: version, Registry: a.metrics.Registry})
	if err != nil {
		return nil, err
	}
	a.store, err = runstore.Open(ctx, cfg.Storage, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	name := opts.engine
	if name == "" {
		name = cfg.Engine.Default
	}
	if opts.storeOnly {
		name = config.EngineStub
	} else {
		a.tools, err = capability.Build(cfg.Tools, cfg.Capability, logger.Named("capability"))
		if err != nil {
			a.Close()
			return nil, err
		}
		if cfg.Archive.Enabled {
			a.archive, err = archive.Open(cfg.Archive.Path, logger.Named("archive"))
			if err != nil {
				a.Close()
				return nil, err
			}
		}
	}
	a.bus = events.NewBus(logger.Named("events"))

	a.engine, err = engine.Select(ctx, name, cfg, a.tools, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.runner, err = a.newRunner(a.engine)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// newRunner wires the orchestrator, review gate and run store around eng.
func (a *app) newRunner(eng pipeline.Engine) (*workflow.Runner, error) {
	obs := events.Fanout(a.bus, logObserver{a.logger})
	opts := []pipeline.Option{
		pipeline.WithLogger(a.logger.Named("pipeline")),
		pipeline.WithRepairPolicy(pipeline.RepairPolicy{Blacklist: blacklist(a.cfg.Pipeline.OffTopicBlacklist)}),
		pipeline.WithMetrics(a.metrics.Pipeline()),
		pipeline.WithObserver(obs),
		pipeline.WithDecodeHook(normalize.FieldHook),
		pipeline.WithAfterStage(normalize.MarkdownHook),
	}
	if a.cfg.Pipeline.SchemaChecks {
		opts = append(opts, pipeline.WithSchemaChecker(schema.NewRegistry()))
	}
	orch := pipeline.NewOrchestrator(eng, opts...)

	var def *workflow.Definition
	if a.cfg.Workflow.GraphFile != "" {
		d, err := workflow.LoadDefinition(a.cfg.Workflow.GraphFile)
		if err != nil {
			return nil, err
		}
		def = d
	}
	gate := review.NewGate(a.store,
		review.WithLogger(a.logger.Named("review")),
		review.WithObserver(a.metrics.ReviewObserver),
	)
	return workflow.NewRunner(orch, gate, a.store,
		workflow.WithLogger(a.logger.Named("workflow")),
		workflow.WithDefinition(def),
		workflow.WithObserver(obs),
		workflow.WithMetrics(a.metrics.Workflow()),
		workflow.WithFinished(a.archiveRun),
	), nil
}

func (a *app) archiveRun(_ context.Context, res workflow.Result) {
	if a.archive == nil || res.State == nil {
		return
	}
	if err := a.archive.Add(res.Run, res.State); err != nil {
		a.logger.Warn("archive run failed", zap.String("run_id", res.Run.ID), zap.Error(err))
	}
}

// stubFallback swaps in the offline engine after a live transport failure.
func (a *app) stubFallback(err error) (*workflow.Runner, bool) {
	if !a.cfg.Engine.FallbackToStub || a.engine.Name() == config.EngineStub || !errors.Is(err, pipeline.ErrStageFailed) {
		return nil, false
	}
	a.logger.Warn("live engine failed, retrying with stub engine", zap.Error(err))
	a.engine = engine.Stub(a.cfg)
	r, rerr := a.newRunner(a.engine)
	if rerr != nil {
		a.logger.Error("stub engine unavailable", zap.Error(rerr))
		return nil, false
	}
	a.runner = r
	return r, true
}

func (a *app) Close() {
	ctx := context.Background()
	if a.tools != nil {
		_ = a.tools.Close()
	}
	if a.archive != nil {
		_ = a.archive.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.tele != nil {
		if err := a.tele.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func blacklist(terms []string) []string {
	if len(terms) == 0 {
		return pipeline.DefaultBlacklist
	}
	return terms
}

// logObserver writes run events to the debug log.
type logObserver struct{ logger *zap.Logger }

func (o logObserver) Observe(e pipeline.Event) {
	o.logger.Debug("event",
		zap.String("run_id", e.RunID),
		zap.String("type", e.Type),
		zap.String("stage", e.Stage),
		zap.String("detail", e.Detail))
}

const memoryStoreHint = "storage.driver is memory, so runs are gone once this process exits; " +
	"set storage.driver to redis or postgres to resume or review them from another command"

// warnIfEphemeral tells the user that a suspended run cannot outlive the
// process when runs live in memory.
func (a *app) warnIfEphemeral(w io.Writer, res workflow.Result) {
	if a.cfg.Storage.Driver != config.DriverMemory || res.Run.Status != runstore.StatusAwaitingReview {
		return
	}
	a.logger.Warn("suspended run kept in memory only", zap.String("run_id", res.Run.ID))
	fmt.Fprintf(w, "warning: %s\n", memoryStoreHint)
}

// storeHint explains a missing run when runs live in memory.
func (a *app) storeHint(err error) error {
	if err == nil || a.cfg.Storage.Driver != config.DriverMemory {
		return err
	}
	if errors.Is(err, runstore.ErrNotFound) || errors.Is(err, review.ErrNotFound) {
		return fmt.Errorf("%w (%s)", err, memoryStoreHint)
	}
	return err
}
