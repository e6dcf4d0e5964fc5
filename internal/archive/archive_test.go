package archive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/contentpipe/internal/engine/stub"
	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
	"github.com/mohammad-safakhou/contentpipe/internal/runstore"
)

func stubState(t *testing.T, topic string) *pipeline.State {
	t.Helper()
	st, err := pipeline.NewOrchestrator(stub.New("")).Run(context.Background(), topic, pipeline.RunOptions{})
	require.NoError(t, err)
	return st
}

func TestAddAndSearch(t *testing.T) {
	idx, err := Open("", nil)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add(runstore.Run{ID: "r1", Topic: "renewable energy", Status: runstore.StatusCompleted}, stubState(t, "renewable energy")))
	require.NoError(t, idx.Add(runstore.Run{ID: "r2", Topic: "street basketball", Status: runstore.StatusCompleted}, stubState(t, "street basketball")))

	hits, err := idx.Search("renewable", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "r1", hits[0].RunID)
	assert.Equal(t, "renewable energy", hits[0].Topic)
	assert.Equal(t, 1, hits[0].Rank)

	hits, err = idx.Search("   ", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestReAddReplaces(t *testing.T) {
	idx, err := Open("", nil)
	require.NoError(t, err)
	defer idx.Close()
	run := runstore.Run{ID: "r1", Topic: "solar", Status: runstore.StatusAwaitingReview}
	require.NoError(t, idx.Add(run, nil))
	run.Status = runstore.StatusCompleted
	require.NoError(t, idx.Add(run, nil))

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	hits, err := idx.Search("solar", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "completed", hits[0].Status)
}

func TestOpenOnDiskReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.bleve")
	idx, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Add(runstore.Run{ID: "r1", Topic: "wind turbines"}, nil))
	require.NoError(t, idx.Close())

	idx, err = Open(path, nil)
	require.NoError(t, err)
	defer idx.Close()
	hits, err := idx.Search("turbines", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "r1", hits[0].RunID)
}
