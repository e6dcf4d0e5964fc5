package pipeline

import "encoding/json"

// Kind is the container type a field must hold after validation.
type Kind int

const (
	KindMap Kind = iota
	KindList
	KindString
	KindNumber
)

// StatusCorrected marks a validation record whose value was replaced.
const StatusCorrected = "corrected_to_default"

// String returns the audit name recorded in meta.validation.
func (k Kind) String() string {
	switch k {
	case KindMap:
		return "dict"
	case KindList:
		return "list"
	case KindString:
		return "str"
	case KindNumber:
		return "int"
	default:
		return "unknown"
	}
}

func (k Kind) empty() any {
	switch k {
	case KindMap:
		return map[string]any{}
	case KindList:
		return []any{}
	case KindString:
		return ""
	default:
		return float64(0)
	}
}

func (k Kind) matches(v any) bool {
	switch k {
	case KindMap:
		_, ok := v.(map[string]any)
		return ok
	case KindList:
		_, ok := v.([]any)
		return ok
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		switch v.(type) {
		case float64, json.Number:
			return true
		}
	}
	return false
}

// KindOf returns the container kind declared for a stage output key.
func KindOf(key string) Kind {
	if key == KeyThumbnailPrompts {
		return KindList
	}
	return KindMap
}

// Validate guarantees st[key] holds kind. An absent or wrong-typed value is
// replaced by the empty value of kind and a record is appended to
// meta.validation. It reports whether a correction happened.
func Validate(st *State, key string, kind Kind) bool {
	if st == nil {
		return false
	}
	if v, ok := st.Get(key); ok && kind.matches(v) {
		return false
	}
	st.Set(key, kind.empty())
	st.Meta.Validation = append(st.Meta.Validation, ValidationRecord{
		Key:      key,
		Expected: kind.String(),
		Status:   StatusCorrected,
	})
	return true
}
