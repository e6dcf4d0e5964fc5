package tts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElevenLabsStub(t *testing.T) {
	b, err := ElevenLabsStub{}.Synthesize(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, "VOICE:default\nhello", string(b))

	b, err = ElevenLabsStub{}.Synthesize(context.Background(), "hi", "v1")
	require.NoError(t, err)
	assert.Equal(t, "VOICE:v1\nhi", string(b))
}
