package models

// Result is a fetched page reduced to readable text.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Byline      string `json:"byline,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	Text        string `json:"text"`
	TopImage    string `json:"top_image,omitempty"`
	HTMLHash    string `json:"html_hash,omitempty"`
	Status      int    `json:"status"`
	RenderMS    int    `json:"render_ms,omitempty"`
	Fetcher     string `json:"fetcher,omitempty"`
}

// OK reports whether the fetch produced usable text.
func (r Result) OK() bool {
	return r.Status >= 200 && r.Status < 300 && r.Text != ""
}
