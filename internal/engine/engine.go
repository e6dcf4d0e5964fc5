// Package engine picks the stage engine for a run.
package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/contentpipe/config"
	"github.com/mohammad-safakhou/contentpipe/internal/capability"
	"github.com/mohammad-safakhou/contentpipe/internal/engine/live"
	"github.com/mohammad-safakhou/contentpipe/internal/engine/stub"
	"github.com/mohammad-safakhou/contentpipe/internal/llm"
	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
)

// ErrNoCredentials is reported when the live engine cannot authenticate.
var ErrNoCredentials = errors.New("live engine credentials missing")

// ErrUnknownEngine is returned for names other than live, adk and stub.
var ErrUnknownEngine = errors.New("unknown engine")

// Live builds the live engine or fails with ErrNoCredentials.
func Live(ctx context.Context, cfg *config.Config, tools *capability.Registry, logger *zap.Logger) (pipeline.Engine, error) {
	provider, err := llm.NewProvider(ctx, cfg.LLM)
	if err != nil {
		if errors.Is(err, llm.ErrNoCredentials) {
			return nil, fmt.Errorf("%w: %w", ErrNoCredentials, err)
		}
		return nil, err
	}
	return live.New(provider, tools, live.OptionsFromConfig(cfg, logger)), nil
}

// Stub builds the offline engine.
func Stub(cfg *config.Config) pipeline.Engine {
	return stub.New(cfg.Pipeline.VoiceID)
}

// Select returns the engine named by name (live, adk or stub). A live engine
// without credentials degrades to the stub engine with a warning.
func Select(ctx context.Context, name string, cfg *config.Config, tools *capability.Registry, logger *zap.Logger) (pipeline.Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch config.NormalizeEngine(name) {
	case config.EngineStub:
		return Stub(cfg), nil
	case config.EngineLive:
		e, err := Live(ctx, cfg, tools, logger)
		if errors.Is(err, ErrNoCredentials) {
			logger.Warn("live engine unavailable, falling back to stub engine", zap.Error(err))
			return Stub(cfg), nil
		}
		return e, err
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, name)
	}
}
