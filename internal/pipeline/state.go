package pipeline

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"time"
)

// Output field keys written by the stages.
const (
	KeyResearch         = "research"
	KeyScript           = "script"
	KeyThumbnailPrompts = "thumbnail_prompts"
	KeyCaptions         = "captions"
	KeyVoiceover        = "voiceover"
	KeyNewsletter       = "newsletter"
)

// State is the record threaded through one pipeline run. Stage outputs live in
// Fields as decoded JSON values; Meta holds the append-only audit trails.
type State struct {
	Topic  string
	Fields map[string]any
	Meta   Meta
}

// Meta collects audit trails appended during a run.
type Meta struct {
	Reviews    []ReviewRecord     `json:"reviews,omitempty"`
	Validation []ValidationRecord `json:"validation,omitempty"`
	Repairs    []RepairRecord     `json:"repairs,omitempty"`
	Schema     []SchemaRecord     `json:"schema,omitempty"`
}

// ReviewRecord is one review gate outcome.
type ReviewRecord struct {
	Stage     string     `json:"stage"`
	Status    string     `json:"status"`
	Reviewer  string     `json:"reviewer,omitempty"`
	Feedback  string     `json:"feedback,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

// ValidationRecord notes a field that was replaced by its empty default.
type ValidationRecord struct {
	Key      string `json:"key"`
	Expected string `json:"expected"`
	Status   string `json:"status"`
}

// RepairRecord notes a repair invocation triggered by a heuristic.
type RepairRecord struct {
	Stage     string `json:"stage"`
	Heuristic string `json:"heuristic"`
	Attempt   string `json:"attempt"`
}

// SchemaRecord notes a JSON Schema finding for a field. Advisory only.
type SchemaRecord struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// NewState starts a run for topic.
func NewState(topic string) *State {
	return &State{Topic: topic, Fields: make(map[string]any)}
}

// Get returns the raw value stored under key.
func (s *State) Get(key string) (any, bool) {
	if s == nil || s.Fields == nil {
		return nil, false
	}
	v, ok := s.Fields[key]
	return v, ok
}

// Map returns the value under key when it is an object, or nil.
func (s *State) Map(key string) map[string]any {
	v, _ := s.Get(key)
	m, _ := v.(map[string]any)
	return m
}

// Set stores v under key after converting it to its decoded JSON form, so
// typed Go values and values decoded from model text look the same to the
// validator.
func (s *State) Set(key string, v any) {
	if s.Fields == nil {
		s.Fields = make(map[string]any)
	}
	s.Fields[key] = canonical(v)
}

// Delete removes key.
func (s *State) Delete(key string) {
	delete(s.Fields, key)
}

// Keys returns the stored field keys in sorted order.
func (s *State) Keys() []string {
	keys := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AppendReview records a review outcome.
func (s *State) AppendReview(r ReviewRecord) {
	s.Meta.Reviews = append(s.Meta.Reviews, r)
}

// Branch returns a copy sharing the current field values but with its own
// field map and empty meta. Branches let forked stages run without touching
// the parent until Merge.
func (s *State) Branch() *State {
	fields := make(map[string]any, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	return &State{Topic: s.Topic, Fields: fields}
}

// Merge copies keys and the branch's audit records into s.
func (s *State) Merge(branch *State, keys ...string) {
	for _, k := range keys {
		if v, ok := branch.Fields[k]; ok {
			s.Set(k, v)
		}
	}
	s.Meta.Reviews = append(s.Meta.Reviews, branch.Meta.Reviews...)
	s.Meta.Validation = append(s.Meta.Validation, branch.Meta.Validation...)
	s.Meta.Repairs = append(s.Meta.Repairs, branch.Meta.Repairs...)
	s.Meta.Schema = append(s.Meta.Schema, branch.Meta.Schema...)
}

// Clone deep-copies the state through its JSON form.
func (s *State) Clone() (*State, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	out := &State{}
	if err := json.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarshalJSON flattens the fields next to topic and meta.
func (s *State) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Fields)+2)
	for k, v := range s.Fields {
		out[k] = v
	}
	out["topic"] = s.Topic
	out["meta"] = s.Meta
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Fields = make(map[string]any, len(raw))
	s.Meta = Meta{}
	s.Topic = ""
	for k, v := range raw {
		switch k {
		case "topic":
			if err := json.Unmarshal(v, &s.Topic); err != nil {
				return fmt.Errorf("decode topic: %w", err)
			}
		case "meta":
			if err := json.Unmarshal(v, &s.Meta); err != nil {
				return fmt.Errorf("decode meta: %w", err)
			}
		default:
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			s.Fields[k] = val
		}
	}
	return nil
}

// RunID derives a short, stable identifier for log correlation.
func RunID(topic string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte("run:" + topic))
	return fmt.Sprintf("%08x", h.Sum32())
}

// canonical converts v to the shape encoding/json produces when decoding into
// an interface value.
func canonical(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64, json.Number:
		return v
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = canonical(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonical(e)
		}
		return out
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Sprint(v)
	}
	return out
}
