package capability

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/contentpipe/config"
	"github.com/mohammad-safakhou/contentpipe/internal/httpclient"
	"github.com/mohammad-safakhou/contentpipe/tools/mcp"
	"github.com/mohammad-safakhou/contentpipe/tools/web_fetch"
	"github.com/mohammad-safakhou/contentpipe/tools/web_fetch/firecrawl"
	"github.com/mohammad-safakhou/contentpipe/tools/web_search"
)

// Built-in tool names.
const (
	ToolTavilySearch   = "tavily_search"
	ToolBraveSearch    = "brave_web_search"
	ToolSerperSearch   = "serper_web_search"
	ToolFirecrawl      = "firecrawl_scrape"
	ToolChromedpFetch  = "chromedp_fetch"
	ToolStubWebSearch  = "web_search"
	ToolStubFetchURL   = "fetch_url"
	builtinToolVersion = "1.0.0"
)

// Build registers every retrieval backend the tools section configures. A
// backend without an endpoint or key is skipped. Cards are signed with the
// capability signing secret so the registry accepts them.
func Build(tools config.ToolsConfig, capCfg config.CapabilityConfig, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := NewRegistry(capCfg.SigningSecret)
	httpc := httpclient.New(tools.HTTP.Timeout, tools.HTTP.Retries, tools.HTTP.Backoff,
		httpclient.WithRateLimit(tools.HTTP.RateLimit, tools.HTTP.Burst))

	add := func(card ToolCard, impl any) error {
		if role, ok := capCfg.Roles[card.Name]; ok {
			card.Role = Role(strings.ToUpper(strings.TrimSpace(role)))
		}
		signed, err := Sign(card, capCfg.SigningSecret)
		if err != nil {
			return err
		}
		if err := reg.Register(signed, impl); err != nil {
			return err
		}
		logger.Info("capability registered",
			zap.String("tool", signed.Name),
			zap.String("role", string(reg.mustRole(signed.Name))),
			zap.String("provider", signed.Provider),
		)
		return nil
	}

	if tools.Tavily.Enabled() {
		client := mcp.NewClient(mcp.Config{
			Name:      "tavily",
			URL:       mcp.TavilyURL(tools.Tavily.URL, tools.Tavily.APIKey),
			Headers:   mcp.BearerHeaders(tools.Tavily.APIKey),
			Transport: Transport(tools.Tavily.Transport, mcp.TransportStreamable),
			Timeout:   tools.HTTP.Timeout,
			RateLimit: tools.Tavily.RateLimit,
		}, logger.Named("mcp"))
		reg.AddCloser(client)
		s, err := web_search.NewWebSearcher(web_search.TavilyProvider, web_search.Options{MCP: client, Tool: tools.Tavily.Tool})
		if err != nil {
			return nil, err
		}
		if err := add(ToolCard{Name: ToolTavilySearch, Version: builtinToolVersion, Description: "Tavily web search over MCP", Role: RoleSearch, Provider: "tavily"}, s); err != nil {
			return nil, err
		}
	}
	if key := strings.TrimSpace(tools.Brave.APIKey); key != "" {
		s, err := web_search.NewWebSearcher(web_search.BraveProvider, web_search.Options{APIKey: key, Client: httpc})
		if err != nil {
			return nil, err
		}
		if err := add(ToolCard{Name: ToolBraveSearch, Version: builtinToolVersion, Description: "Brave Search API", Provider: "brave"}, s); err != nil {
			return nil, err
		}
	}
	if key := strings.TrimSpace(tools.Serper.APIKey); key != "" {
		s, err := web_search.NewWebSearcher(web_search.SerperProvider, web_search.Options{APIKey: key, Client: httpc})
		if err != nil {
			return nil, err
		}
		if err := add(ToolCard{Name: ToolSerperSearch, Version: builtinToolVersion, Description: "Serper Google search API", Provider: "serper"}, s); err != nil {
			return nil, err
		}
	}
	if tools.Firecrawl.Enabled() {
		client := mcp.NewClient(mcp.Config{
			Name:      "firecrawl",
			URL:       mcp.FirecrawlURL(tools.Firecrawl.URL),
			Headers:   mcp.BearerHeaders(tools.Firecrawl.APIKey),
			Transport: Transport(tools.Firecrawl.Transport, mcp.TransportSSE),
			Timeout:   tools.HTTP.Timeout,
			RateLimit: tools.Firecrawl.RateLimit,
		}, logger.Named("mcp"))
		reg.AddCloser(client)
		tool := tools.Firecrawl.Tool
		if tool == "" {
			tool = firecrawl.DefaultTool
		}
		f, err := web_fetch.NewWebFetcher(web_fetch.FirecrawlFetcherType, web_fetch.Options{MCP: client, Tool: tool, MaxChars: tools.Chromedp.MaxChars})
		if err != nil {
			return nil, err
		}
		if err := add(ToolCard{Name: ToolFirecrawl, Version: builtinToolVersion, Description: "Firecrawl scrape over MCP", Provider: "firecrawl"}, f); err != nil {
			return nil, err
		}
	}
	if tools.Chromedp.Enabled {
		f, err := web_fetch.NewWebFetcher(web_fetch.ChromedpFetcherType, web_fetch.Options{Timeout: tools.Chromedp.Timeout, MaxChars: tools.Chromedp.MaxChars})
		if err != nil {
			return nil, err
		}
		if err := add(ToolCard{Name: ToolChromedpFetch, Version: builtinToolVersion, Description: "Headless Chrome fetch with readability extraction", Provider: "chromedp"}, f); err != nil {
			return nil, err
		}
	}
	if tools.Stub {
		s, err := web_search.NewWebSearcher(web_search.StubProvider, web_search.Options{})
		if err != nil {
			return nil, err
		}
		if err := add(ToolCard{Name: ToolStubWebSearch, Version: builtinToolVersion, Description: "Placeholder search results", Provider: "stub"}, s); err != nil {
			return nil, err
		}
		f, err := web_fetch.NewWebFetcher(web_fetch.StubFetcherType, web_fetch.Options{})
		if err != nil {
			return nil, err
		}
		if err := add(ToolCard{Name: ToolStubFetchURL, Version: builtinToolVersion, Description: "Placeholder page fetch", Provider: "stub"}, f); err != nil {
			return nil, err
		}
	}

	for _, name := range capCfg.RequiredTools {
		if _, ok := reg.Tool(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrToolMissing, name)
		}
	}
	if len(reg.Searchers()) == 0 || len(reg.Fetchers()) == 0 {
		logger.Warn("retrieval capabilities incomplete; research will report TOOLS_UNAVAILABLE",
			zap.Int("search", len(reg.Searchers())),
			zap.Int("fetch", len(reg.Fetchers())),
		)
	}
	return reg, nil
}

// Close releases connections held by registered tools.
func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddCloser ties c's lifetime to the registry.
func (r *Registry) AddCloser(c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, c)
}

func (r *Registry) mustRole(name string) Role {
	card, _ := r.Tool(name)
	return card.Role
}

// Transport maps a configured transport name onto an MCP transport.
func Transport(name string, fallback mcp.Transport) mcp.Transport {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sse":
		return mcp.TransportSSE
	case "streamable", "http", "streamable_http":
		return mcp.TransportStreamable
	default:
		return fallback
	}
}
