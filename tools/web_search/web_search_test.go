package web_search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubProvider(t *testing.T) {
	s, err := NewWebSearcher(StubProvider, Options{})
	require.NoError(t, err)

	got, err := s.Discover(context.Background(), "solar", 3, nil, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Result 1 for solar", got[0].Title)
	assert.Equal(t, "https://example.com/3", got[2].URL)
}

func TestUnsupportedProvider(t *testing.T) {
	_, err := NewWebSearcher("altavista", Options{})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)

	_, err = NewWebSearcher(TavilyProvider, Options{})
	assert.Error(t, err)
}
