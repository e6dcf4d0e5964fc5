package pipeline

import (
	"encoding/json"
	"strings"
)

// Research is the typed view of the research field.
type Research struct {
	Topics    []string   `json:"topics,omitempty"`
	KeyStats  []KeyStat  `json:"key_stats,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
	Notes     []string   `json:"notes,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// KeyStat is a labelled figure with an optional source.
type KeyStat struct {
	Label  string `json:"label"`
	Value  any    `json:"value"`
	Source string `json:"source,omitempty"`
}

// Citation points at a source document.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Script is the typed view of the script field.
type Script struct {
	Beats   []string `json:"beats"`
	Draft   string   `json:"draft"`
	Summary string   `json:"summary"`
}

// Captions is the typed view of the captions field.
type Captions struct {
	YouTube   []string `json:"youtube"`
	TikTok    []string `json:"tiktok"`
	Instagram []string `json:"instagram"`
	Hashtags  []string `json:"hashtags"`
}

// Voiceover is the typed view of the voiceover field.
type Voiceover struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Newsletter is the typed view of the newsletter field.
type Newsletter struct {
	Body         string   `json:"body"`
	SubjectLines []string `json:"subject_lines"`
}

// ToolsUnavailable is the research payload returned when no retrieval
// capabilities are configured.
func ToolsUnavailable() map[string]any {
	return map[string]any{
		"topics":    []any{},
		"key_stats": []any{},
		"citations": []any{},
		"error":     "TOOLS_UNAVAILABLE",
	}
}

// NoSources is the research payload returned when search found nothing to
// fetch, so there is no evidence to synthesise from.
func NoSources() map[string]any {
	out := ToolsUnavailable()
	out["error"] = "NO_SOURCES"
	return out
}

// Decode converts the value under key into T. It reports false when the field
// is absent or does not fit T.
func Decode[T any](s *State, key string) (T, bool) {
	var out T
	v, ok := s.Get(key)
	if !ok || v == nil {
		return out, false
	}
	b, err := json.Marshal(v)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, false
	}
	return out, true
}

// Strings returns the string members of a decoded JSON list, skipping
// anything else.
func Strings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// StringField returns m[key] when it is a string.
func StringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// ResearchTopics returns research.topics as strings.
func (s *State) ResearchTopics() []string {
	return Strings(s.Map(KeyResearch)["topics"])
}

// ScriptDraft returns script.draft, trimmed.
func (s *State) ScriptDraft() string {
	return strings.TrimSpace(StringField(s.Map(KeyScript), "draft"))
}

// ScriptSummary returns script.summary, trimmed.
func (s *State) ScriptSummary() string {
	return strings.TrimSpace(StringField(s.Map(KeyScript), "summary"))
}
