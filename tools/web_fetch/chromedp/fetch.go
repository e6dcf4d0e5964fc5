package chromedp

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/mohammad-safakhou/contentpipe/tools/web_fetch/models"
)

// Fetch renders pages in headless Chrome and extracts the article text.
type Fetch struct {
	Timeout  time.Duration
	MaxChars int
}

var plain = bluemonday.StrictPolicy()

func (f Fetch) Exec(ctx context.Context, raw string) (models.Result, error) {
	if strings.TrimSpace(raw) == "" {
		return models.Result{}, errors.New("invalid url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return models.Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	html, err := fetchHTML(ctx, raw)
	if err != nil {
		// the caller treats a failed render as an empty page, not a failure
		return models.Result{URL: raw, Status: 599, RenderMS: elapsedMS(t0), Fetcher: "chromedp"}, nil
	}

	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return models.Result{URL: raw, Status: 200, RenderMS: elapsedMS(t0), Fetcher: "chromedp"}, nil
	}
	text := strings.TrimSpace(plain.Sanitize(article.TextContent))
	if f.MaxChars > 0 && len([]rune(text)) > f.MaxChars {
		text = string([]rune(text)[:f.MaxChars])
	}

	sum := sha1.Sum([]byte(html))
	published := ""
	if article.PublishedTime != nil {
		published = article.PublishedTime.UTC().Format(time.RFC3339)
	}

	return models.Result{
		URL:         raw,
		Title:       strings.TrimSpace(article.Title),
		Byline:      strings.TrimSpace(article.Byline),
		PublishedAt: published,
		Text:        text,
		TopImage:    article.Image,
		HTMLHash:    hex.EncodeToString(sum[:]),
		Status:      200,
		RenderMS:    elapsedMS(t0),
		Fetcher:     "chromedp",
	}, nil
}

func fetchHTML(ctx context.Context, target string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("contentpipe/1.0 (+https://github.com/mohammad-safakhou/contentpipe)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func elapsedMS(t0 time.Time) int {
	return int(time.Since(t0) / time.Millisecond)
}
