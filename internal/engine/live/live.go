// Package live runs every stage against a hosted model.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/contentpipe/config"
	"github.com/mohammad-safakhou/contentpipe/internal/capability"
	"github.com/mohammad-safakhou/contentpipe/internal/llm"
	"github.com/mohammad-safakhou/contentpipe/internal/normalize"
	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
	"github.com/mohammad-safakhou/contentpipe/tools/tts"
)

// Name is the engine name recorded in review records.
const Name = "live"

// Options tunes the live engine.
type Options struct {
	Brand       string
	VoiceID     string
	Temperature float64
	// Model picks the model for a stage; nil uses the provider default.
	Model      func(stage string) string
	MaxResults int
	MaxFetch   int
	Recency    int
	// Voice synthesises the voiceover text; nil leaves the text unvoiced.
	Voice  tts.Synthesizer
	Logger *zap.Logger
}

// OptionsFromConfig maps config sections onto Options.
func OptionsFromConfig(cfg *config.Config, logger *zap.Logger) Options {
	return Options{
		Brand:       cfg.Pipeline.Brand,
		VoiceID:     cfg.Pipeline.VoiceID,
		Temperature: cfg.LLM.Temperature,
		Model:       cfg.LLM.ModelFor,
		MaxResults:  cfg.Tools.MaxResults,
		MaxFetch:    cfg.Tools.MaxFetch,
		Recency:     cfg.Tools.Recency,
		Voice:       tts.ElevenLabsStub{},
		Logger:      logger,
	}
}

// Engine drives the stages with an llm.Provider; the researcher gathers
// evidence through the capability registry first.
type Engine struct {
	provider llm.Provider
	tools    *capability.Registry
	opts     Options
	logger   *zap.Logger
}

// New builds a live engine. tools may be nil, in which case research reports
// TOOLS_UNAVAILABLE.
func New(provider llm.Provider, tools *capability.Registry, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Brand == "" {
		opts.Brand = "BSJ"
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	if opts.MaxFetch <= 0 {
		opts.MaxFetch = 3
	}
	return &Engine{provider: provider, tools: tools, opts: opts, logger: opts.Logger}
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Researcher() pipeline.Stage {
	return &researcher{engine: e}
}

func (e *Engine) Scriptwriter() pipeline.Stage {
	return &modelStage{engine: e, name: pipeline.StageScriptwriter, key: pipeline.KeyScript, input: scriptInput}
}

func (e *Engine) Thumbnails() pipeline.Stage {
	return &modelStage{engine: e, name: pipeline.StageThumbnails, key: pipeline.KeyThumbnailPrompts, input: summaryInput}
}

func (e *Engine) Captioner() pipeline.Stage {
	return &modelStage{engine: e, name: pipeline.StageCaptioner, key: pipeline.KeyCaptions, input: summaryInput}
}

func (e *Engine) Voiceover() pipeline.Stage {
	return &voiceStage{modelStage{engine: e, name: pipeline.StageVoiceover, key: pipeline.KeyVoiceover, input: voiceoverInput, post: e.voiceDefaults}}
}

func (e *Engine) Newsletter() pipeline.Stage {
	return &modelStage{engine: e, name: pipeline.StageNewsletter, key: pipeline.KeyNewsletter, input: newsletterInput, post: subjectAlias}
}

// modelStage sends a slice of the state to the model and decodes the answer.
type modelStage struct {
	engine *Engine
	name   string
	key    string
	input  func(st *pipeline.State) map[string]any
	post   func(v any) any
}

func (s *modelStage) Name() string { return s.name }
func (s *modelStage) Key() string  { return s.key }

func (s *modelStage) Run(ctx context.Context, st *pipeline.State, attempt pipeline.Attempt) (any, error) {
	v, err := s.engine.generate(ctx, s.name, s.key, attempt, s.input(st))
	if err != nil {
		return nil, err
	}
	if s.post != nil {
		v = s.post(v)
	}
	return v, nil
}

// voiceStage hands the generated narration to the synthesizer.
type voiceStage struct {
	modelStage
}

func (s *voiceStage) Run(ctx context.Context, st *pipeline.State, attempt pipeline.Attempt) (any, error) {
	v, err := s.modelStage.Run(ctx, st, attempt)
	if err != nil || s.engine.opts.Voice == nil {
		return v, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return v, nil
	}
	text, _ := m["text"].(string)
	if strings.TrimSpace(text) == "" {
		return v, nil
	}
	voiceID, _ := m["voice_id"].(string)
	audio, err := s.engine.opts.Voice.Synthesize(ctx, text, voiceID)
	if err != nil {
		s.engine.logger.Warn("voice synthesis failed", zap.Error(err))
		m["status"] = "synthesis_failed"
		return m, nil
	}
	m["status"] = "synthesized"
	m["audio_bytes"] = float64(len(audio))
	return m, nil
}

// generate calls the model and decodes its reply. Text that does not decode
// is returned as is for the validator to handle.
func (e *Engine) generate(ctx context.Context, stage, key string, attempt pipeline.Attempt, input map[string]any) (any, error) {
	payload, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s input: %w", stage, err)
	}
	req := llm.Request{
		Model:       e.model(stage),
		System:      instruction(e.opts.Brand, stage, attempt),
		Prompt:      string(payload),
		JSON:        true,
		Temperature: e.opts.Temperature,
	}
	e.logger.Debug("model request",
		zap.String("stage", stage),
		zap.String("model", req.Model),
		zap.String("attempt", attempt.String()),
		zap.String("prompt", preview(req.Prompt, 500)),
	)
	raw, err := e.provider.Generate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", pipeline.ErrStageUnavailable, err)
	}
	e.logger.Debug("model reply", zap.String("stage", stage), zap.String("reply", preview(raw, 500)))

	v, rung := normalize.Decode(raw)
	if rung == normalize.RungFailed {
		e.logger.Warn("model reply is not JSON", zap.String("stage", stage))
		return raw, nil
	}
	if rung != normalize.RungStrict {
		e.logger.Debug("model reply decoded leniently", zap.String("stage", stage), zap.String("rung", rung.String()))
	}
	return normalize.Unwrap(v, key), nil
}

func (e *Engine) model(stage string) string {
	if e.opts.Model != nil {
		if m := e.opts.Model(stage); m != "" {
			return m
		}
	}
	if stage == pipeline.StageResearcher {
		return "gemini-2.5-pro"
	}
	return "gemini-2.5-flash"
}

func (e *Engine) voiceDefaults(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if _, ok := m["voice_id"]; !ok && e.opts.VoiceID != "" {
		m["voice_id"] = e.opts.VoiceID
	}
	return m
}

// subjectAlias accepts "subjects" for "subject_lines".
func subjectAlias(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if subjects, ok := m["subjects"]; ok {
		if _, has := m["subject_lines"]; !has {
			m["subject_lines"] = subjects
		}
		delete(m, "subjects")
	}
	return m
}

func scriptInput(st *pipeline.State) map[string]any {
	research := st.Map(pipeline.KeyResearch)
	return map[string]any{
		"topic": st.Topic,
		"research": map[string]any{
			"topics":    research["topics"],
			"key_stats": research["key_stats"],
		},
	}
}

func summaryInput(st *pipeline.State) map[string]any {
	return map[string]any{
		"topic":  st.Topic,
		"script": map[string]any{"summary": st.ScriptSummary()},
	}
}

func voiceoverInput(st *pipeline.State) map[string]any {
	return map[string]any{
		"topic":    st.Topic,
		"script":   map[string]any{"draft": st.ScriptDraft()},
		"research": map[string]any{"topics": st.ResearchTopics()},
	}
}

func newsletterInput(st *pipeline.State) map[string]any {
	return map[string]any{
		"topic":    st.Topic,
		"script":   st.Fields[pipeline.KeyScript],
		"research": st.Fields[pipeline.KeyResearch],
	}
}

func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "...<truncated>"
}
