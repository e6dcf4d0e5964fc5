package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/mohammad-safakhou/contentpipe/internal/normalize"
	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
	"github.com/mohammad-safakhou/contentpipe/internal/review"
	"github.com/mohammad-safakhou/contentpipe/internal/runstore"
	"github.com/mohammad-safakhou/contentpipe/internal/workflow"
)

// Output formats of the run and resume commands.
const (
	formatText     = "text"
	formatJSON     = "json"
	formatMarkdown = "markdown"
)

func writeResult(w io.Writer, format string, res workflow.Result) error {
	switch format {
	case "", formatText:
		writeSummary(w, res)
		return nil
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res.State)
	case formatMarkdown:
		out, err := renderMarkdown(normalize.Markdown(res.State))
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	default:
		return fmt.Errorf("unknown format %q (text, json, markdown)", format)
	}
}

// writeSummary prints the short report shown after a run.
func writeSummary(w io.Writer, res workflow.Result) {
	st := res.State
	if st == nil {
		st = pipeline.NewState(res.Run.Topic)
	}
	if res.Run.Status == runstore.StatusAwaitingReview {
		fmt.Fprintln(w, "=== Pipeline Suspended ===")
		fmt.Fprintf(w, "Run: %s\n", res.Run.ID)
		fmt.Fprintf(w, "Topic: %s\n", st.Topic)
		for _, stage := range pendingStages(st) {
			fmt.Fprintf(w, "Awaiting review: %s\n", stage)
		}
		return
	}
	if res.Run.Status != "" && res.Run.Status != runstore.StatusCompleted {
		fmt.Fprintf(w, "=== Pipeline %s ===\n", strings.ToUpper(string(res.Run.Status)))
		fmt.Fprintf(w, "Run: %s\n", res.Run.ID)
		if res.Run.Error != "" {
			fmt.Fprintf(w, "Error: %s\n", res.Run.Error)
		}
		return
	}

	research := st.Map(pipeline.KeyResearch)
	keys := make([]string, 0, len(research))
	for k := range research {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	script := st.Map(pipeline.KeyScript)
	captions := st.Map(pipeline.KeyCaptions)
	voice := strings.TrimSpace(pipeline.StringField(st.Map(pipeline.KeyVoiceover), "text"))

	fmt.Fprintln(w, "=== Pipeline Complete ===")
	if res.Run.ID != "" {
		fmt.Fprintf(w, "Run: %s\n", res.Run.ID)
	}
	fmt.Fprintf(w, "Topic: %s\n", st.Topic)
	fmt.Fprintf(w, "Research keys: %s\n", strings.Join(keys, ", "))
	fmt.Fprintf(w, "Script beats: %d\n", len(pipeline.Strings(script["beats"])))
	fmt.Fprintf(w, "Thumbnail prompts: %d\n", len(pipeline.Strings(st.Fields[pipeline.KeyThumbnailPrompts])))
	fmt.Fprintf(w, "Captions (yt/tt/ig): %d/%d/%d\n",
		len(pipeline.Strings(captions["youtube"])),
		len(pipeline.Strings(captions["tiktok"])),
		len(pipeline.Strings(captions["instagram"])))
	fmt.Fprintf(w, "Voiceover present: %t\n", voice != "")
	if _, ok := st.Fields[pipeline.KeyNewsletter]; ok {
		fmt.Fprintln(w, "Newsletter: included")
	}
}

// pendingStages lists gate records still waiting on a reviewer.
func pendingStages(st *pipeline.State) []string {
	var out []string
	for _, k := range st.Keys() {
		if !strings.HasSuffix(k, "_review") {
			continue
		}
		if pipeline.StringField(st.Map(k), "status") == string(review.StatusPending) {
			out = append(out, strings.TrimSuffix(k, "_review"))
		}
	}
	return out
}

func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
