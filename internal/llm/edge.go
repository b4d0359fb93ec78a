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

// EdgeClient posts the request shape as-is to a remote completion endpoint (a Supabase edge
// function or another speakassist /respond) and returns its body, text or JSON.
type EdgeClient struct {
	HTTPClient *http.Client
	URL        string
	Key        string
}

func NewEdgeClient(url, key string) *EdgeClient {
	return &EdgeClient{HTTPClient: &http.Client{Timeout: 15 * time.Second}, URL: url, Key: key}
}

// Complete implements suggest.Completer.
func (e *EdgeClient) Complete(ctx context.Context, req suggest.Request) (string, error) {
	if e.URL == "" {
		return "", fmt.Errorf("edge function url missing")
	}
	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.Key != "" {
		httpReq.Header.Set("apikey", e.Key)
		httpReq.Header.Set("Authorization", "Bearer "+e.Key)
	}

	resp, err := e.HTTPClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("edge function error: status=%d body=%s", resp.StatusCode, string(b))
	}
	return strings.TrimSpace(string(b)), nil
}
