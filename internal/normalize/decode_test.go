package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLadder(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want any
		rung Rung
	}{
		{"strict object", `{"a":1}`, map[string]any{"a": float64(1)}, RungStrict},
		{"strict list with bom", "\uFEFF[\"x\"]", []any{"x"}, RungStrict},
		{"json fence", "```json\n{\"a\":\"b\"}\n```", map[string]any{"a": "b"}, RungFence},
		{"tilde fence", "~~~\n[1,2]\n~~~", []any{float64(1), float64(2)}, RungFence},
		{"prose around object", `Sure! Here it is: {"k": "v {not a brace}"} hope it helps`, map[string]any{"k": "v {not a brace}"}, RungScan},
		{"skips broken candidate", `[oops {"ok": true}`, map[string]any{"ok": true}, RungScan},
		{"nothing", "no json here", nil, RungFailed},
		{"scalar is not a record", `"just a string"`, nil, RungFailed},
		{"empty", "   ", nil, RungFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, rung := Decode(tc.raw)
			assert.Equal(t, tc.rung, rung)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeOrFallback(t *testing.T) {
	v, rung := DecodeOr("garbage", map[string]any{})
	require.Equal(t, RungFailed, rung)
	assert.Equal(t, map[string]any{}, v)
}

func TestUnwrap(t *testing.T) {
	inner := map[string]any{"beats": []any{"a"}}
	assert.Equal(t, inner, Unwrap(map[string]any{"script": inner}, "script"))

	two := map[string]any{"script": inner, "other": 1}
	assert.Equal(t, two, Unwrap(two, "script"))
	assert.Equal(t, []any{"x"}, Unwrap([]any{"x"}, "script"))
}
