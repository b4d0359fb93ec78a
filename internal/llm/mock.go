package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chadiek/speakassist/internal/suggest"
)

// MockClient answers without any network call. Used by replay --mock and local development.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Complete(_ context.Context, req suggest.Request) (string, error) {
	words := strings.Fields(req.Transcript)
	if len(words) < 3 {
		return suggest.WaitPlaceholder, nil
	}
	topic := strings.Trim(words[len(words)-1], ".,!?")
	s := suggest.Suggestion{
		Topic:               topic,
		Intent:              "discussion",
		GroupMood:           "neutral",
		SpeakingOpportunity: suggest.OpportunityGood,
		AssistiveCue:        "Add a thought",
		Suggestions: []string{
			fmt.Sprintf("That's a good point about %s.", topic),
			"I'd like to add something to that.",
		},
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
