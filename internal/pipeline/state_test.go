package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateJSONFlattensFields(t *testing.T) {
	st := NewState("renewable energy")
	st.Set(KeyScript, Script{Beats: []string{"Intro"}, Draft: "d", Summary: "s"})
	st.Meta.Validation = append(st.Meta.Validation, ValidationRecord{Key: KeyCaptions, Expected: "dict", Status: StatusCorrected})

	b, err := json.Marshal(st)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "renewable energy", raw["topic"])
	assert.Contains(t, raw, KeyScript)
	assert.Contains(t, raw, "meta")

	back := &State{}
	require.NoError(t, json.Unmarshal(b, back))
	if diff := cmp.Diff(st, back); diff != "" {
		t.Fatalf("state changed after JSON round trip (-want +got):\n%s", diff)
	}
}

func TestBranchIsolatesWrites(t *testing.T) {
	st := NewState("t")
	st.Set(KeyScript, map[string]any{"summary": "s"})

	b := st.Branch()
	b.Set(KeyCaptions, map[string]any{"youtube": []any{"x"}})
	Validate(b, KeyThumbnailPrompts, KindList)

	_, ok := st.Get(KeyCaptions)
	assert.False(t, ok)
	assert.Empty(t, st.Meta.Validation)

	st.Merge(b, KeyCaptions, KeyThumbnailPrompts)
	assert.Contains(t, st.Fields, KeyCaptions)
	assert.Len(t, st.Meta.Validation, 1)
}

func TestDecodeTypedView(t *testing.T) {
	st := NewState("t")
	st.Set(KeyCaptions, map[string]any{"youtube": []any{"a", "b"}, "hashtags": []any{"#x"}})

	c, ok := Decode[Captions](st, KeyCaptions)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, c.YouTube)

	st.Set(KeyScript, "plain text")
	_, ok = Decode[Script](st, KeyScript)
	assert.False(t, ok)
}

func TestRunIDStable(t *testing.T) {
	assert.Equal(t, RunID("a"), RunID("a"))
	assert.NotEqual(t, RunID("a"), RunID("b"))
	assert.Len(t, RunID("a"), 8)
}
