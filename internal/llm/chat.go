package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chadiek/speakassist/internal/suggest"
)

const (
	OpenAIBaseURL   = "https://api.openai.com/v1"
	CerebrasBaseURL = "https://api.cerebras.ai/v1"
)

// ChatClient talks to any OpenAI-compatible chat completions API (OpenAI, Cerebras).
type ChatClient struct {
	HTTPClient  *http.Client
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

func NewChatClient(baseURL, apiKey, model string) *ChatClient {
	if baseURL == "" {
		baseURL = OpenAIBaseURL
	}
	return &ChatClient{
		HTTPClient:  &http.Client{Timeout: 15 * time.Second},
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      apiKey,
		Model:       model,
		MaxTokens:   200,
		Temperature: 0.4,
	}
}

func NewCerebrasClient(apiKey, model string) *ChatClient {
	return NewChatClient(CerebrasBaseURL, apiKey, model)
}

// Complete implements suggest.Completer.
func (c *ChatClient) Complete(ctx context.Context, req suggest.Request) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("chat completions api key missing")
	}
	endpoint := c.BaseURL + "/chat/completions"

	p := BuildPrompt(req)
	messages := []chatMessage{
		{Role: "system", Content: p.System},
		{Role: "user", Content: p.User},
	}

	reqBody, _ := json.Marshal(chatCompletionsRequest{
		Model:       c.Model,
		Messages:    messages,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat completions error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("chat completions: empty choices")
	}
	answer := cr.Choices[0].Message.Content
	return strings.TrimSpace(answer), nil
}
