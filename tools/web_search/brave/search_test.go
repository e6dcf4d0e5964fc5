package brave

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "solar (site:a.com)", r.URL.Query().Get("q"))
		assert.Equal(t, "pw", r.URL.Query().Get("freshness"))
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"A","url":"https://a.com/1","description":"d1"},{"title":"B","url":"https://a.com/2"}]}}`))
	}))
	defer srv.Close()
	old := Endpoint
	Endpoint = srv.URL
	defer func() { Endpoint = old }()

	got, err := Search{ApiKey: "key"}.Discover(context.Background(), "solar", 1, []string{"a.com"}, 7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d1", got[0].Snippet)
}
