package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/chadiek/speakassist/internal/suggest"
)

// Options selects and configures a completion backend.
type Options struct {
	Provider     string // openai, cerebras, gemini, edge, mock
	BaseURL      string
	APIKey       string
	Model        string
	GeminiAPIKey string
	GeminiModel  string
	EdgeURL      string
	EdgeKey      string
}

// New builds the completer named by o.Provider.
func New(ctx context.Context, o Options) (suggest.Completer, error) {
	switch strings.ToLower(strings.TrimSpace(o.Provider)) {
	case "", "openai":
		if o.APIKey == "" {
			return nil, fmt.Errorf("llm: provider openai requires LLM_API_KEY")
		}
		model := o.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return NewChatClient(o.BaseURL, o.APIKey, model), nil
	case "cerebras":
		if o.APIKey == "" {
			return nil, fmt.Errorf("llm: provider cerebras requires LLM_API_KEY")
		}
		model := o.Model
		if model == "" {
			model = "llama3.1-8b"
		}
		c := NewCerebrasClient(o.APIKey, model)
		if o.BaseURL != "" {
			c.BaseURL = strings.TrimRight(o.BaseURL, "/")
		}
		return c, nil
	case "gemini":
		return NewGeminiClient(ctx, o.GeminiAPIKey, o.GeminiModel)
	case "edge":
		if o.EdgeURL == "" {
			return nil, fmt.Errorf("llm: provider edge requires EDGE_FUNCTION_URL")
		}
		return NewEdgeClient(o.EdgeURL, o.EdgeKey), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", o.Provider)
	}
}
