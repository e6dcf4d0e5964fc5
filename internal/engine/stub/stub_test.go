package stub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
	"github.com/mohammad-safakhou/contentpipe/internal/schema"
)

func runStub(t *testing.T, topic string, newsletter bool) *pipeline.State {
	t.Helper()
	orch := pipeline.NewOrchestrator(New(""), pipeline.WithSchemaChecker(schema.NewRegistry()))
	st, err := orch.Run(context.Background(), topic, pipeline.RunOptions{IncludeNewsletter: newsletter})
	require.NoError(t, err)
	return st
}

func TestStubRunWithoutNewsletter(t *testing.T) {
	st := runStub(t, "renewable energy", false)

	research := st.Map(pipeline.KeyResearch)
	assert.NotEmpty(t, research["notes"])
	assert.NotEmpty(t, research["citations"])

	script, ok := pipeline.Decode[pipeline.Script](st, pipeline.KeyScript)
	require.True(t, ok)
	assert.Equal(t, []string{"Intro", "Body", "Conclusion"}, script.Beats)
	assert.Contains(t, script.Draft, "renewable energy")

	prompts := pipeline.Strings(st.Fields[pipeline.KeyThumbnailPrompts])
	assert.Len(t, prompts, 3)

	caps, ok := pipeline.Decode[pipeline.Captions](st, pipeline.KeyCaptions)
	require.True(t, ok)
	assert.Len(t, caps.YouTube, 3)
	assert.Len(t, caps.TikTok, 3)
	assert.Len(t, caps.Instagram, 3)
	assert.Len(t, caps.Hashtags, 8)

	vo, ok := pipeline.Decode[pipeline.Voiceover](st, pipeline.KeyVoiceover)
	require.True(t, ok)
	assert.Equal(t, script.Draft, vo.Text)
	assert.Equal(t, DefaultVoiceID, vo.VoiceID)
	assert.Equal(t, "stub_generated", vo.Status)

	_, has := st.Get(pipeline.KeyNewsletter)
	assert.False(t, has)

	assert.Empty(t, st.Meta.Repairs)
	assert.Empty(t, st.Meta.Validation)
	// the three fixed placeholder beats are short of the five a real script carries
	require.Len(t, st.Meta.Schema, 1)
	assert.Equal(t, pipeline.KeyScript, st.Meta.Schema[0].Key)
	require.Len(t, st.Meta.Reviews, 2)
	assert.Equal(t, "auto-approved (stub)", st.Meta.Reviews[0].Status)
}

func TestStubRunWithNewsletter(t *testing.T) {
	st := runStub(t, "renewable energy", true)

	nl, ok := pipeline.Decode[pipeline.Newsletter](st, pipeline.KeyNewsletter)
	require.True(t, ok)
	assert.Equal(t, "One-liner summary", nl.Body)
	assert.Len(t, nl.SubjectLines, 3)
	require.Len(t, st.Meta.Schema, 1)
	assert.Equal(t, pipeline.KeyScript, st.Meta.Schema[0].Key)
}

func TestStubHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New("").Researcher().Run(ctx, pipeline.NewState("x"), pipeline.AttemptInitial)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStubVoiceID(t *testing.T) {
	st := pipeline.NewState("solar")
	v, err := New("custom_voice").Voiceover().Run(context.Background(), st, pipeline.AttemptInitial)
	require.NoError(t, err)
	vo := v.(pipeline.Voiceover)
	assert.Equal(t, "custom_voice", vo.VoiceID)
	assert.Equal(t, "No script available.", vo.Text)
}
