// Package stub is the offline engine: every stage returns deterministic
// placeholder content so the pipeline can run without credentials.
package stub

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
	fetchstub "github.com/mohammad-safakhou/contentpipe/tools/web_fetch/stub"
	searchstub "github.com/mohammad-safakhou/contentpipe/tools/web_search/stub"
)

// Name is the engine name recorded in review records.
const Name = "stub"

// DefaultVoiceID is used when no voice is configured.
const DefaultVoiceID = "elevenlabs_bsj_voice_placeholder"

// Engine returns placeholder outputs for every stage.
type Engine struct {
	voiceID string
	search  searchstub.Search
	fetch   fetchstub.Fetch
}

// New builds a stub engine; an empty voiceID selects DefaultVoiceID.
func New(voiceID string) *Engine {
	if strings.TrimSpace(voiceID) == "" {
		voiceID = DefaultVoiceID
	}
	return &Engine{voiceID: voiceID}
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Researcher() pipeline.Stage {
	return stage{name: pipeline.StageResearcher, key: pipeline.KeyResearch, run: e.research}
}

func (e *Engine) Scriptwriter() pipeline.Stage {
	return stage{name: pipeline.StageScriptwriter, key: pipeline.KeyScript, run: e.script}
}

func (e *Engine) Thumbnails() pipeline.Stage {
	return stage{name: pipeline.StageThumbnails, key: pipeline.KeyThumbnailPrompts, run: e.thumbnails}
}

func (e *Engine) Captioner() pipeline.Stage {
	return stage{name: pipeline.StageCaptioner, key: pipeline.KeyCaptions, run: e.captions}
}

func (e *Engine) Voiceover() pipeline.Stage {
	return stage{name: pipeline.StageVoiceover, key: pipeline.KeyVoiceover, run: e.voiceover}
}

func (e *Engine) Newsletter() pipeline.Stage {
	return stage{name: pipeline.StageNewsletter, key: pipeline.KeyNewsletter, run: e.newsletter}
}

type stage struct {
	name string
	key  string
	run  func(ctx context.Context, st *pipeline.State) (any, error)
}

func (s stage) Name() string { return s.name }
func (s stage) Key() string  { return s.key }

func (s stage) Run(ctx context.Context, st *pipeline.State, _ pipeline.Attempt) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.run(ctx, st)
}

func (e *Engine) research(ctx context.Context, st *pipeline.State) (any, error) {
	results, err := e.search.Discover(ctx, st.Topic, 3, nil, 0)
	if err != nil {
		return nil, err
	}
	out := pipeline.Research{
		Notes: []string{fmt.Sprintf("Placeholder research notes about %s.", st.Topic)},
	}
	for _, r := range results {
		page, err := e.fetch.Exec(ctx, r.URL)
		if err != nil || !page.OK() {
			continue
		}
		out.Citations = append(out.Citations, pipeline.Citation{Title: r.Title, URL: r.URL})
		out.Notes = append(out.Notes, r.Snippet)
	}
	return out, nil
}

func (e *Engine) script(_ context.Context, st *pipeline.State) (any, error) {
	lead := fmt.Sprintf("Placeholder script about %s.", st.Topic)
	if len(st.Map(pipeline.KeyResearch)) > 0 {
		lead = fmt.Sprintf("Placeholder script based on research about %s.", st.Topic)
	}
	return pipeline.Script{
		Beats:   []string{"Intro", "Body", "Conclusion"},
		Draft:   lead + " The intro sets the scene, the body walks through the findings, and the conclusion lands the takeaway for the audience.",
		Summary: "One-liner summary",
	}, nil
}

func (e *Engine) thumbnails(context.Context, *pipeline.State) (any, error) {
	return []string{
		"Afrofuturist collage, bold typography, high contrast, BSJ colors",
		"Editorial portrait with neon accents, tech-meets-culture vibe",
		"Minimalist geometric shapes with Afrocentric palette",
	}, nil
}

func (e *Engine) captions(context.Context, *pipeline.State) (any, error) {
	return pipeline.Captions{
		YouTube:   []string{"YT caption 1", "YT caption 2", "YT caption 3"},
		TikTok:    []string{"TT caption 1", "TT caption 2", "TT caption 3"},
		Instagram: []string{"IG caption 1", "IG caption 2", "IG caption 3"},
		Hashtags:  []string{"#BSJ", "#TechCulture", "#Afrofuturism", "#BlackInTech", "#FutureIsNow", "#Innovation", "#CultureShift", "#Explained"},
	}, nil
}

func (e *Engine) voiceover(_ context.Context, st *pipeline.State) (any, error) {
	text := st.ScriptDraft()
	if text == "" {
		text = "No script available."
	}
	return pipeline.Voiceover{Text: text, VoiceID: e.voiceID, Status: "stub_generated"}, nil
}

func (e *Engine) newsletter(_ context.Context, st *pipeline.State) (any, error) {
	body := st.ScriptSummary()
	if body == "" {
		body = "Newsletter-ready summary placeholder."
	}
	return pipeline.Newsletter{
		Body: body,
		SubjectLines: []string{
			"This week in tech & culture",
			"BSJ Brief: Key insights",
			"Afrofuturist lens on today's news",
		},
	}, nil
}
