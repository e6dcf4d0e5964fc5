package live

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/contentpipe/internal/capability"
	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
	searchmodels "github.com/mohammad-safakhou/contentpipe/tools/web_search/models"
)

const maxEvidenceChars = 4000

// errNoSources means search produced no fetchable URL.
var errNoSources = errors.New("no sources to fetch")

// evidence is what the researcher hands the model.
type evidence struct {
	Query   string           `json:"query"`
	Results []searchEvidence `json:"results"`
	Pages   []pageEvidence   `json:"pages"`
}

type searchEvidence struct {
	Tool    string `json:"tool"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

type pageEvidence struct {
	Tool  string `json:"tool"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

// researcher searches, fetches the top results and asks the model to
// synthesise research from what it fetched.
type researcher struct {
	engine *Engine
}

func (r *researcher) Name() string { return pipeline.StageResearcher }
func (r *researcher) Key() string  { return pipeline.KeyResearch }

func (r *researcher) Run(ctx context.Context, st *pipeline.State, attempt pipeline.Attempt) (any, error) {
	e := r.engine
	if err := e.tools.Require(capability.RoleSearch, capability.RoleFetch); err != nil {
		e.logger.Warn("research tools unavailable", zap.Error(err))
		return pipeline.ToolsUnavailable(), nil
	}

	ev, err := r.gather(ctx, st.Topic)
	if errors.Is(err, errNoSources) {
		e.logger.Warn("search returned nothing to fetch; skipping research synthesis", zap.String("topic", st.Topic))
		return pipeline.NoSources(), nil
	}
	if err != nil {
		return nil, err
	}
	return e.generate(ctx, pipeline.StageResearcher, pipeline.KeyResearch, attempt, map[string]any{
		"topic":    st.Topic,
		"evidence": ev,
	})
}

func (r *researcher) gather(ctx context.Context, topic string) (evidence, error) {
	e := r.engine
	ev := evidence{Query: topic}

	var results []searchmodels.Result
	var searchErrs []error
	for _, s := range e.tools.Searchers() {
		found, err := s.Discover(ctx, topic, e.opts.MaxResults, nil, e.opts.Recency)
		if err != nil {
			if ctx.Err() != nil {
				return ev, ctx.Err()
			}
			e.logger.Warn("search tool failed", zap.String("tool", s.Card.Name), zap.Error(err))
			searchErrs = append(searchErrs, fmt.Errorf("%s: %w", s.Card.Name, err))
			continue
		}
		e.logger.Debug("search tool returned", zap.String("tool", s.Card.Name), zap.Int("results", len(found)))
		for _, f := range found {
			ev.Results = append(ev.Results, searchEvidence{Tool: s.Card.Name, Title: f.Title, URL: f.URL, Snippet: f.Snippet})
		}
		results = append(results, found...)
		if len(results) > 0 {
			break
		}
	}
	if len(results) == 0 && len(searchErrs) > 0 {
		return ev, fmt.Errorf("%w: search: %w", pipeline.ErrStageUnavailable, errors.Join(searchErrs...))
	}

	urls := uniqueURLs(results, e.opts.MaxFetch)
	if len(urls) == 0 {
		return ev, errNoSources
	}
	fetchers := e.tools.Fetchers()
	pages := make([]*pageEvidence, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			for _, f := range fetchers {
				page, err := f.Exec(gctx, u)
				if err != nil || !page.OK() {
					e.logger.Debug("fetch tool failed", zap.String("tool", f.Card.Name), zap.String("url", u), zap.Error(err))
					continue
				}
				pages[i] = &pageEvidence{Tool: f.Card.Name, URL: u, Title: page.Title, Text: preview(page.Text, maxEvidenceChars)}
				return nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ev, err
	}
	if err := ctx.Err(); err != nil {
		return ev, err
	}
	for _, p := range pages {
		if p != nil {
			ev.Pages = append(ev.Pages, *p)
		}
	}
	if len(ev.Pages) == 0 {
		e.logger.Warn("no page could be fetched; research relies on search snippets", zap.Int("urls", len(urls)))
	}
	return ev, nil
}

// uniqueURLs keeps the first n results whose canonical form has not been seen.
func uniqueURLs(results []searchmodels.Result, n int) []string {
	seen := make(map[string]struct{}, len(results))
	var out []string
	for _, r := range results {
		key, ok := urlKey(r.URL)
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r.URL)
		if len(out) == n {
			break
		}
	}
	return out
}

// urlKey lowercases scheme and host, drops default ports, fragments, a
// trailing slash and tracking parameters so mirrors of one page compare equal.
func urlKey(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(port == "80" && u.Scheme == "http") && !(port == "443" && u.Scheme == "https") {
		host += ":" + port
	}
	u.Host = strings.TrimPrefix(host, "www.")
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") || lk == "gclid" || lk == "fbclid" || lk == "msclkid" {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), true
}
