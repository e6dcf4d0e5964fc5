package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileDefault(t *testing.T) {
	g, err := Compile(DefaultDefinition(), CompileOptions{})
	require.NoError(t, err)
	assert.Equal(t, "content_pipeline_v2", g.Name)

	want := []string{"researcher", "review:research", "scriptwriter", "review:script",
		"thumbnail_promptor", "captioner", "voiceover", "normalize"}
	if diff := cmp.Diff(want, g.Order); diff != "" {
		t.Fatalf("task order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"review:script"}, g.Exec.Tasks["captioner"].DependsOn)
	assert.Equal(t, []string{"review:script"}, g.Exec.Tasks["thumbnail_promptor"].DependsOn)
	assert.Equal(t, []string{"thumbnail_promptor", "captioner"}, g.Exec.Tasks["voiceover"].DependsOn)
	assert.Equal(t, NodeReview, g.Nodes["review:research"].Kind)
	assert.Equal(t, "research_markdown", g.Nodes["review:research"].Gate.MarkdownKey)
	assert.Equal(t, "research", g.Exec.Tasks["review:research"].Stage)

	levels, err := g.Exec.Levels()
	require.NoError(t, err)
	assert.Equal(t, []string{"captioner", "thumbnail_promptor"}, levels[4])
}

func TestCompileOptionalNewsletter(t *testing.T) {
	g, err := Compile(DefaultDefinition(), CompileOptions{IncludeOptional: true})
	require.NoError(t, err)
	require.Contains(t, g.Nodes, "newsletter")
	assert.Equal(t, []string{"voiceover"}, g.Exec.Tasks["newsletter"].DependsOn)
	assert.Equal(t, []string{"newsletter"}, g.Exec.Tasks[NormalizeTaskID].DependsOn)
}

func TestParseDefinitionRejects(t *testing.T) {
	cases := map[string]string{
		"empty":          "name: x\nsteps: []\n",
		"unknown stage":  "steps:\n  - stage: editor\n",
		"two kinds":      "steps:\n  - stage: researcher\n    normalize: {}\n",
		"review no key":  "steps:\n  - review: {stage: research}\n",
		"bad parallel":   "steps:\n  - parallel: [captioner, nobody]\n",
		"dup review":     "steps:\n  - review: {stage: a, state_key: k}\n  - review: {stage: a, state_key: k}\n",
		"not yaml":       "steps: [",
		"duplicate task": "steps:\n  - stage: researcher\n  - stage: researcher\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			def, err := ParseDefinition([]byte(doc))
			if err == nil {
				_, err = Compile(def, CompileOptions{})
			}
			assert.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
}

func TestLoadDefinitionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	doc := "name: short\nsteps:\n  - stage: researcher\n  - review: {stage: research, state_key: research_review}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "short", def.Name)
	assert.Len(t, def.Steps, 2)

	_, err = LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	def, err = LoadDefinition("")
	require.NoError(t, err)
	assert.Equal(t, "content_pipeline_v2", def.Name)
}
