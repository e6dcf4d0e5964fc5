// Package mcp wraps the Model Context Protocol Go SDK client for the two
// retrieval servers the researcher talks to: list tools, call tools, over
// streamable HTTP or the older SSE transport.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Transport selects how requests reach the server.
type Transport int

const (
	// TransportStreamable posts every request and reads a JSON or
	// event-stream reply.
	TransportStreamable Transport = iota
	// TransportSSE keeps a GET event stream open and posts requests to the
	// endpoint it announces.
	TransportSSE
)

// Tool describes a server-side tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Content is one item of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallResult is the result of tools/call.
type CallResult struct {
	Content           []Content      `json:"content"`
	IsError           bool           `json:"isError,omitempty"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
}

// Text joins the text items of the result.
func (r *CallResult) Text() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Config describes one MCP endpoint.
type Config struct {
	Name      string
	URL       string
	Headers   map[string]string
	Transport Transport
	Timeout   time.Duration
	RateLimit float64
}

// Client talks to one MCP server. The session is opened on first use and
// kept until Close. It is safe for concurrent use.
type Client struct {
	cfg    Config
	sdk    *sdk.Client
	hc     *http.Client
	logger *zap.Logger

	mu      sync.Mutex
	session *sdk.ClientSession
	cancel  context.CancelFunc
}

// NewClient builds a client. Nothing is sent until the first call.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	rt := &headerTransport{base: http.DefaultTransport, headers: cfg.Headers}
	if cfg.RateLimit > 0 {
		rt.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &Client{
		cfg:    cfg,
		sdk:    sdk.NewClient(&sdk.Implementation{Name: "contentpipe", Version: "1.0.0"}, nil),
		hc:     &http.Client{Transport: rt},
		logger: logger.With(zap.String("mcp", cfg.Name)),
	}
}

// Name returns the configured endpoint name.
func (c *Client) Name() string { return c.cfg.Name }

// ListTools returns the tools the server exposes.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	cs, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	res, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("mcp %s tools/list: %w", c.cfg.Name, err)
	}
	out := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		if t == nil {
			continue
		}
		out = append(out, Tool{Name: t.Name, Description: t.Description, InputSchema: asMap(t.InputSchema)})
	}
	return out, nil
}

// CallTool invokes a tool. A result flagged isError is returned as an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	cs, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if args == nil {
		args = map[string]any{}
	}
	res, err := cs.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("mcp %s tools/call %s: %w", c.cfg.Name, name, err)
	}
	out := convertResult(res)
	if out.IsError {
		return out, fmt.Errorf("mcp tool %s: %s", name, out.Text())
	}
	return out, nil
}

// Close ends the session, if one was opened.
func (c *Client) Close() error {
	c.mu.Lock()
	cs, cancel := c.session, c.cancel
	c.session, c.cancel = nil, nil
	c.mu.Unlock()
	var err error
	if cs != nil {
		err = cs.Close()
	}
	if cancel != nil {
		cancel()
	}
	return err
}

// connect opens the session once. The session outlives ctx; ctx only bounds
// the handshake.
func (c *Client) connect(ctx context.Context) (*sdk.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	timer := time.AfterFunc(c.cfg.Timeout, cancel)
	cs, err := c.sdk.Connect(connCtx, c.transport(), nil)
	timer.Stop()
	if !stop() || err != nil {
		cancel()
		if err == nil {
			_ = cs.Close()
			err = ctx.Err()
		}
		return nil, fmt.Errorf("mcp connect %s: %w", c.cfg.Name, err)
	}
	c.session, c.cancel = cs, cancel
	c.logger.Debug("mcp session ready", zap.String("url", redact(c.cfg.URL)))
	return cs, nil
}

func (c *Client) transport() sdk.Transport {
	if c.cfg.Transport == TransportSSE {
		return &sdk.SSEClientTransport{Endpoint: c.cfg.URL, HTTPClient: c.hc}
	}
	return &sdk.StreamableClientTransport{Endpoint: c.cfg.URL, HTTPClient: c.hc}
}

func convertResult(res *sdk.CallToolResult) *CallResult {
	out := &CallResult{IsError: res.IsError, StructuredContent: asMap(res.StructuredContent)}
	for _, item := range res.Content {
		switch v := item.(type) {
		case *sdk.TextContent:
			out.Content = append(out.Content, Content{Type: "text", Text: v.Text})
		case *sdk.ImageContent:
			out.Content = append(out.Content, Content{Type: "image"})
		}
	}
	return out
}

// asMap converts a decoded JSON object of any representation to a map.
func asMap(v any) map[string]any {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(b, &m) != nil {
		return nil
	}
	return m
}

// headerTransport adds the configured headers and paces outgoing requests.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
	limiter *rate.Limiter
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil && req.Method == http.MethodPost {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	if len(t.headers) == 0 {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// redact hides query values, which may carry API keys.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	q := u.Query()
	for k := range q {
		q.Set(k, "***")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
