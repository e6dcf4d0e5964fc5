package web_fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/contentpipe/tools/web_fetch/stub"
)

func TestStubFetcher(t *testing.T) {
	f, err := NewWebFetcher(StubFetcherType, Options{})
	require.NoError(t, err)

	got, err := f.Exec(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, 200, got.Status)
	assert.Equal(t, stub.Content, got.Text)
	assert.True(t, got.OK())
}

func TestFactoryErrors(t *testing.T) {
	_, err := NewWebFetcher("curl", Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFetcher)

	_, err = NewWebFetcher(FirecrawlFetcherType, Options{})
	assert.Error(t, err)
}
