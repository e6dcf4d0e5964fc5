package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/mohammad-safakhou/contentpipe/config"
)

// GeminiProvider calls Gemini through the Gemini API or Vertex AI.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider builds a client. An API key selects the Gemini API;
// otherwise Vertex AI is used with application default credentials.
func NewGeminiProvider(ctx context.Context, cfg config.GeminiConfig) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.Vertex() {
		cc = &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  cfg.Project,
			Location: cfg.Location,
		}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string { return config.ProviderGemini }

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (string, error) {
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		gc.ResponseMIMEType = "application/json"
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, gc)
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", req.Model, err)
	}
	return resp.Text(), nil
}
