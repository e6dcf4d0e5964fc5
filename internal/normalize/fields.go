package normalize

import "github.com/mohammad-safakhou/contentpipe/internal/pipeline"

// DefaultKeys are the fields that may arrive as encoded text from a model.
var DefaultKeys = []string{
	pipeline.KeyScript,
	pipeline.KeyThumbnailPrompts,
	pipeline.KeyCaptions,
	pipeline.KeyVoiceover,
}

// Fields decodes string values under keys (DefaultKeys when none are given)
// in place and returns the keys it replaced. Strings that do not decode are
// left untouched.
func Fields(st *pipeline.State, keys ...string) []string {
	if len(keys) == 0 {
		keys = DefaultKeys
	}
	var changed []string
	for _, k := range keys {
		if Field(st, k) {
			changed = append(changed, k)
		}
	}
	return changed
}

// Field decodes st[key] when it is a string.
func Field(st *pipeline.State, key string) bool {
	v, ok := st.Get(key)
	if !ok {
		return false
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	decoded, rung := Decode(s)
	if rung == RungFailed {
		return false
	}
	st.Set(key, Unwrap(decoded, key))
	return true
}

// FieldHook adapts Field to the orchestrator's decode hook.
func FieldHook(st *pipeline.State, key string) {
	Field(st, key)
}

// MarkdownHook writes <key>_markdown next to a stage's output.
func MarkdownHook(st *pipeline.State, key string) {
	if md := FieldMarkdown(key, st.Fields[key]); md != "" {
		st.Set(key+"_markdown", md)
	}
}
