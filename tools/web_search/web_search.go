package web_search

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/contentpipe/internal/httpclient"
	"github.com/mohammad-safakhou/contentpipe/tools/mcp"
	"github.com/mohammad-safakhou/contentpipe/tools/web_search/brave"
	"github.com/mohammad-safakhou/contentpipe/tools/web_search/models"
	"github.com/mohammad-safakhou/contentpipe/tools/web_search/serper"
	"github.com/mohammad-safakhou/contentpipe/tools/web_search/stub"
	"github.com/mohammad-safakhou/contentpipe/tools/web_search/tavily"
)

// WebSearcher discovers pages for a query. sites restricts the search to the
// given domains where the provider supports it; recency is in days.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
	TavilyProvider Provider = "tavily"
	StubProvider   Provider = "stub"
)

var ErrUnsupportedProvider = errors.New("unsupported search provider")

// Options carries what the providers need; unused fields are ignored.
type Options struct {
	APIKey string
	Client *httpclient.Client
	MCP    *mcp.Client
	Tool   string
}

func NewWebSearcher(provider Provider, opts Options) (WebSearcher, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: opts.APIKey, Client: opts.Client}, nil
	case BraveProvider:
		return brave.Search{ApiKey: opts.APIKey, Client: opts.Client}, nil
	case TavilyProvider:
		if opts.MCP == nil {
			return nil, errors.New("tavily search needs an MCP client")
		}
		return &tavily.Search{Client: opts.MCP, Tool: opts.Tool}, nil
	case StubProvider:
		return stub.Search{}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
