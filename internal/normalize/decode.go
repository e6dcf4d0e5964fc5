// Package normalize turns raw model output into decoded state fields and
// derives display views (flattened projection, Markdown, HTML) from a state.
package normalize

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Rung reports which step of the decoder ladder produced a value.
type Rung int

const (
	RungStrict Rung = iota
	RungFence
	RungScan
	RungFailed
)

func (r Rung) String() string {
	switch r {
	case RungStrict:
		return "strict"
	case RungFence:
		return "fence"
	case RungScan:
		return "scan"
	default:
		return "failed"
	}
}

// Decode parses model output leniently: the whole text as JSON, then the
// first fenced block, then the first balanced object or array found by
// scanning. It returns nil and RungFailed when nothing decodes.
func Decode(raw string) (any, Rung) {
	s := trimBOM(strings.TrimSpace(raw))
	if s == "" {
		return nil, RungFailed
	}
	if v, ok := unmarshal(s); ok {
		return v, RungStrict
	}
	if inner, ok := stripFirstCodeFence(s); ok {
		if v, ok := unmarshal(strings.TrimSpace(inner)); ok {
			return v, RungFence
		}
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		seg, ok := extractBalancedJSONFrom(s, i)
		if !ok {
			continue
		}
		if v, ok := unmarshal(seg); ok {
			return v, RungScan
		}
	}
	return nil, RungFailed
}

// DecodeOr is Decode with a fallback value for RungFailed.
func DecodeOr(raw string, fallback any) (any, Rung) {
	v, rung := Decode(raw)
	if rung == RungFailed {
		return fallback, rung
	}
	return v, rung
}

// Unwrap returns v[key] when v is an object whose only member is key, so a
// model answer shaped {"script": {...}} yields the inner value.
func Unwrap(v any, key string) any {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return v
	}
	if inner, ok := m[key]; ok {
		return inner
	}
	return v
}

func unmarshal(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	}
	return nil, false
}

// stripFirstCodeFence returns the body of the first fenced block when s
// starts with ``` or ~~~, skipping an optional language tag.
func stripFirstCodeFence(s string) (string, bool) {
	trim := strings.TrimLeft(s, "\n\r\t ")
	fence := ""
	switch {
	case strings.HasPrefix(trim, "```"):
		fence = "```"
	case strings.HasPrefix(trim, "~~~"):
		fence = "~~~"
	default:
		return "", false
	}
	rest := trim[len(fence):]
	idx := strings.IndexByte(rest, '\n')
	if idx == -1 {
		return "", false
	}
	rest = rest[idx+1:]
	if end := strings.Index(rest, fence); end != -1 {
		return rest[:end], true
	}
	return rest, true
}

// extractBalancedJSONFrom returns the balanced object or array starting at
// startIdx, ignoring brackets inside strings.
func extractBalancedJSONFrom(s string, startIdx int) (string, bool) {
	if startIdx < 0 || startIdx >= len(s) {
		return "", false
	}
	open := s[startIdx]
	if open != '{' && open != '[' {
		return "", false
	}

	stack := []byte{open}
	inString, escape := false, false
	for i := startIdx + 1; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			top := stack[len(stack)-1]
			if (top == '{' && c != '}') || (top == '[' && c != ']') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[startIdx : i+1], true
			}
		}
	}
	return "", false
}

func trimBOM(s string) string {
	if strings.HasPrefix(s, "\uFEFF") {
		return strings.TrimPrefix(s, "\uFEFF")
	}
	if len(s) >= 3 && s[0] == 0xEF && s[1] == 0xBB && s[2] == 0xBF && utf8.ValidString(s[3:]) {
		return s[3:]
	}
	return s
}
