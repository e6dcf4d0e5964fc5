// Package archive keeps a full-text index of finished runs.
package archive

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/blevesearch/bleve"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/contentpipe/internal/normalize"
	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
	"github.com/mohammad-safakhou/contentpipe/internal/runstore"
)

// Document is the indexed view of a run.
type Document struct {
	RunID     string    `json:"run_id"`
	Topic     string    `json:"topic"`
	Status    string    `json:"status"`
	Graph     string    `json:"graph"`
	Engine    string    `json:"engine"`
	Summary   string    `json:"summary"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Hit is one search result.
type Hit struct {
	RunID   string  `json:"run_id"`
	Topic   string  `json:"topic"`
	Status  string  `json:"status"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// Index wraps a bleve index.
type Index struct {
	idx    bleve.Index
	logger *zap.Logger
}

// Open opens the index at path, creating it when missing. An empty path keeps
// the index in memory.
func Open(path string, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		idx bleve.Index
		err error
	)
	switch {
	case path == "":
		idx, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	default:
		if _, statErr := os.Stat(path); statErr == nil {
			idx, err = bleve.Open(path)
		} else if errors.Is(statErr, os.ErrNotExist) {
			idx, err = bleve.New(path, bleve.NewIndexMapping())
		} else {
			err = statErr
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open archive %q: %w", path, err)
	}
	return &Index{idx: idx, logger: logger}, nil
}

// Add indexes a run. Re-adding a run replaces its document.
func (i *Index) Add(run runstore.Run, st *pipeline.State) error {
	doc := Document{
		RunID:     run.ID,
		Topic:     run.Topic,
		Status:    string(run.Status),
		Graph:     run.Graph,
		Engine:    run.Engine,
		UpdatedAt: run.UpdatedAt,
	}
	if st != nil {
		doc.Summary = st.ScriptSummary()
		doc.Body = normalize.PlainText(normalize.Markdown(st))
	}
	if err := i.idx.Index(run.ID, doc); err != nil {
		return fmt.Errorf("index run %s: %w", run.ID, err)
	}
	i.logger.Debug("run archived", zap.String("run_id", run.ID))
	return nil
}

// Search runs a query-string query and returns up to limit hits.
func (i *Index) Search(q string, limit int) ([]Hit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(q), limit, 0, false)
	req.Fields = []string{"topic", "status", "summary"}
	res, err := i.idx.Search(req)
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, len(res.Hits))
	for n, h := range res.Hits {
		out = append(out, Hit{
			RunID:   h.ID,
			Topic:   field(h.Fields, "topic"),
			Status:  field(h.Fields, "status"),
			Snippet: snippet(field(h.Fields, "summary")),
			Score:   h.Score,
			Rank:    n + 1,
		})
	}
	return out, nil
}

// Count returns the number of indexed runs.
func (i *Index) Count() (uint64, error) { return i.idx.DocCount() }

// Close releases the index.
func (i *Index) Close() error { return i.idx.Close() }

func field(fields map[string]interface{}, key string) string {
	s, _ := fields[key].(string)
	return s
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= 300 {
		return s
	}
	return string(r[:300]) + "…"
}
