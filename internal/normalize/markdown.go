package normalize

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
)

// Markdown summarises the main outputs of a run. Absent or empty fields are
// skipped.
func Markdown(st *pipeline.State) string {
	if st == nil {
		return ""
	}
	var parts []string
	for _, key := range []string{
		pipeline.KeyResearch,
		pipeline.KeyScript,
		pipeline.KeyThumbnailPrompts,
		pipeline.KeyCaptions,
		pipeline.KeyVoiceover,
		pipeline.KeyNewsletter,
	} {
		if md := FieldMarkdown(key, st.Fields[key]); md != "" {
			parts = append(parts, md)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// FieldMarkdown renders one field as a Markdown section.
func FieldMarkdown(key string, v any) string {
	if isEmpty(v) {
		return ""
	}
	var b strings.Builder
	switch key {
	case pipeline.KeyResearch:
		b.WriteString("# Research Findings\n")
		m, ok := v.(map[string]any)
		if !ok {
			fmt.Fprintf(&b, "\n%v\n", v)
			break
		}
		if topics := asList(m["topics"]); len(topics) > 0 {
			b.WriteString("\n**Topics**:\n")
			bullets(&b, topics)
		}
		if stats := asList(m["key_stats"]); len(stats) > 0 {
			b.WriteString("\n**Key Stats**:\n")
			for _, s := range stats {
				sm, ok := s.(map[string]any)
				if !ok {
					fmt.Fprintf(&b, "- %v\n", s)
					continue
				}
				label := orDefault(sm["label"], "stat")
				value := orDefault(sm["value"], "-")
				if src := pipeline.StringField(sm, "source"); src != "" {
					fmt.Fprintf(&b, "- %s: %s (source: %s)\n", label, value, src)
				} else {
					fmt.Fprintf(&b, "- %s: %s\n", label, value)
				}
			}
		}
		if cites := asList(m["citations"]); len(cites) > 0 {
			b.WriteString("\n**Citations**:\n")
			for _, c := range cites {
				cm, ok := c.(map[string]any)
				if !ok {
					fmt.Fprintf(&b, "- %v\n", c)
					continue
				}
				fmt.Fprintf(&b, "- [%s](%s)\n", orDefault(cm["title"], "link"), orDefault(cm["url"], "-"))
			}
		}
		if notes := asList(m["notes"]); len(notes) > 0 {
			b.WriteString("\n**Notes**:\n")
			bullets(&b, notes)
		}
	case pipeline.KeyScript:
		b.WriteString("# Script\n")
		m, ok := v.(map[string]any)
		if !ok {
			fmt.Fprintf(&b, "\n%v\n", v)
			break
		}
		if beats := asList(m["beats"]); len(beats) > 0 {
			b.WriteString("\n**Beats**:\n")
			bullets(&b, beats)
		}
		if s := pipeline.StringField(m, "summary"); s != "" {
			fmt.Fprintf(&b, "\n**Summary**:\n\n%s\n", s)
		}
		if d := pipeline.StringField(m, "draft"); d != "" {
			fmt.Fprintf(&b, "\n**Draft**:\n\n%s\n", d)
		}
	case pipeline.KeyThumbnailPrompts:
		b.WriteString("# Thumbnail Prompts\n\n")
		bullets(&b, asList(v))
	case pipeline.KeyCaptions:
		b.WriteString("# Captions\n")
		m, ok := v.(map[string]any)
		if !ok {
			b.WriteString("\n")
			bullets(&b, asList(v))
			break
		}
		for _, p := range []struct{ key, title string }{
			{"youtube", "YouTube"},
			{"tiktok", "TikTok"},
			{"instagram", "Instagram"},
		} {
			if lines := asList(m[p.key]); len(lines) > 0 {
				fmt.Fprintf(&b, "\n**%s**:\n", p.title)
				bullets(&b, lines)
			}
		}
		if tags := pipeline.Strings(m["hashtags"]); len(tags) > 0 {
			fmt.Fprintf(&b, "\n**Hashtags**: %s\n", strings.Join(tags, " "))
		}
	case pipeline.KeyVoiceover:
		b.WriteString("# Voiceover\n\n")
		if m, ok := v.(map[string]any); ok {
			if text := pipeline.StringField(m, "text"); text != "" {
				b.WriteString(text + "\n")
			} else {
				fmt.Fprintf(&b, "%v\n", v)
			}
		} else {
			fmt.Fprintf(&b, "%v\n", v)
		}
	case pipeline.KeyNewsletter:
		b.WriteString("# Newsletter\n")
		m, ok := v.(map[string]any)
		if !ok {
			fmt.Fprintf(&b, "\n%v\n", v)
			break
		}
		if subjects := asList(m["subject_lines"]); len(subjects) > 0 {
			b.WriteString("\n**Subject lines**:\n")
			bullets(&b, subjects)
		}
		if body := pipeline.StringField(m, "body"); body != "" {
			fmt.Fprintf(&b, "\n%s\n", body)
		}
	default:
		fmt.Fprintf(&b, "# %s\n\n%v\n", key, v)
	}
	return strings.TrimSpace(b.String())
}

func bullets(b *strings.Builder, items []any) {
	for _, it := range items {
		fmt.Fprintf(b, "- %v\n", it)
	}
}

func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

func orDefault(v any, def string) string {
	if v == nil {
		return def
	}
	if s, ok := v.(string); ok && s == "" {
		return def
	}
	return fmt.Sprint(v)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}
