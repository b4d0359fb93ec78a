package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/chadiek/speakassist/internal/suggest"
)

const defaultGeminiModel = "gemini-2.5-flash"

type GeminiClient struct {
	client    *genai.Client
	modelName string
}

// NewGeminiClient creates a Gemini API backed completer.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	return newGeminiClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}, model)
}

func newGeminiClient(ctx context.Context, cc *genai.ClientConfig, model string) (*GeminiClient, error) {
	if cc.APIKey == "" {
		return nil, fmt.Errorf("gemini api key missing")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiClient{client: client, modelName: model}, nil
}

// Complete implements suggest.Completer. Recent utterances are sent as earlier user turns.
func (g *GeminiClient) Complete(ctx context.Context, req suggest.Request) (string, error) {
	p := BuildPrompt(req)

	var contents []*genai.Content
	for _, h := range req.RecentHistory {
		contents = append(contents, genai.NewContentFromText(h, genai.RoleUser))
	}
	contents = append(contents, genai.NewContentFromText(req.Transcript, genai.RoleUser))

	temp := float32(0.4)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   int32(512),
		ResponseMIMEType:  "application/json",
	}

	res, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	text := res.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return text, nil
}
