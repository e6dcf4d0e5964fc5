package normalize

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
)

// Options bounds the display projection.
type Options struct {
	Sep       string
	MaxDepth  int
	Preview   int
	MaxString int
}

// DefaultOptions mirrors what the run viewer expects.
func DefaultOptions() Options {
	return Options{Sep: ".", MaxDepth: 3, Preview: 5, MaxString: 4000}
}

// Project returns a flattened, bounded copy of st for display. Nested objects
// become dotted keys up to MaxDepth, lists are cut to their first Preview
// items, long strings are truncated with an ellipsis and empty keys are
// dropped. The state itself is not modified.
func Project(st *pipeline.State, opts Options) map[string]any {
	if st == nil {
		return map[string]any{}
	}
	b, err := json.Marshal(st)
	if err != nil {
		return map[string]any{}
	}
	var root map[string]any
	if err := json.Unmarshal(b, &root); err != nil {
		return map[string]any{}
	}
	return Flatten(root, opts)
}

// Flatten applies the projection rules to an arbitrary object.
func Flatten(root map[string]any, opts Options) map[string]any {
	if opts.Sep == "" {
		opts.Sep = "."
	}
	out := make(map[string]any)
	var walk func(prefix string, v any, depth int)
	walk = func(prefix string, v any, depth int) {
		if depth > opts.MaxDepth {
			put(out, prefix, shorten(v, opts))
			return
		}
		switch t := v.(type) {
		case map[string]any:
			for k, e := range t {
				key := k
				if prefix != "" {
					key = prefix + opts.Sep + k
				}
				walk(key, e, depth+1)
			}
		case []any:
			n := len(t)
			if opts.Preview > 0 && n > opts.Preview {
				n = opts.Preview
			}
			put(out, prefix, shorten(t[:n], opts))
		default:
			put(out, prefix, shorten(v, opts))
		}
	}
	walk("", root, 0)
	return out
}

func put(out map[string]any, key string, v any) {
	if key == "" {
		return
	}
	out[key] = v
}

func shorten(v any, opts Options) any {
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	s, ok := v.(string)
	if !ok || opts.MaxString <= 0 || utf8.RuneCountInString(s) <= opts.MaxString {
		return v
	}
	runes := []rune(s)
	return string(runes[:opts.MaxString]) + "…"
}
