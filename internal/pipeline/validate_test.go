package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEmptyObjectKeepsValue(t *testing.T) {
	st := NewState("x")
	st.Set(KeyCaptions, map[string]any{})

	corrected := Validate(st, KeyCaptions, KindMap)

	assert.False(t, corrected)
	assert.Equal(t, map[string]any{}, st.Fields[KeyCaptions])
	assert.Empty(t, st.Meta.Validation)
}

func TestValidateWrongTypeCorrected(t *testing.T) {
	st := NewState("x")
	st.Set(KeyCaptions, "not a dict")

	require.True(t, Validate(st, KeyCaptions, KindMap))
	assert.Equal(t, map[string]any{}, st.Fields[KeyCaptions])
	require.Len(t, st.Meta.Validation, 1)
	assert.Equal(t, ValidationRecord{Key: KeyCaptions, Expected: "dict", Status: StatusCorrected}, st.Meta.Validation[0])
}

func TestValidateAbsentKey(t *testing.T) {
	st := NewState("x")

	require.True(t, Validate(st, KeyThumbnailPrompts, KindList))
	assert.Equal(t, []any{}, st.Fields[KeyThumbnailPrompts])
	assert.Equal(t, "list", st.Meta.Validation[0].Expected)
}

func TestValidateIdempotent(t *testing.T) {
	st := NewState("x")
	st.Set(KeyScript, 42)
	Validate(st, KeyScript, KindMap)
	before := len(st.Meta.Validation)

	for i := 0; i < 3; i++ {
		assert.False(t, Validate(st, KeyScript, KindMap))
	}
	assert.Len(t, st.Meta.Validation, before)
}

func TestValidateKinds(t *testing.T) {
	cases := []struct {
		name  string
		value any
		kind  Kind
		fixed bool
	}{
		{"typed struct becomes map", Script{Beats: []string{"a"}}, KindMap, false},
		{"string slice becomes list", []string{"a", "b"}, KindList, false},
		{"int becomes number", 3, KindNumber, false},
		{"map is not list", map[string]any{"a": 1}, KindList, true},
		{"nil is not string", nil, KindString, true},
		{"list is not map", []any{1}, KindMap, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := NewState("x")
			st.Set("k", tc.value)
			assert.Equal(t, tc.fixed, Validate(st, "k", tc.kind))
			assert.True(t, tc.kind.matches(st.Fields["k"]))
		})
	}
}
