package suggest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRequestFailure covers transport errors, timeouts and backend panics.
	ErrRequestFailure = errors.New("suggest: request failed")
	// ErrMalformedResponse is returned for replies that cannot be turned into a suggestion.
	ErrMalformedResponse = errors.New("suggest: malformed response")
)

// WaitPlaceholder is the canned primary suggestion meaning "say nothing yet".
const WaitPlaceholder = "Wait and listen for a moment."

// Opportunity signals whether now is a good moment to speak.
type Opportunity string

const (
	OpportunityGood    Opportunity = "good"
	OpportunityNeutral Opportunity = "neutral"
	OpportunityListen  Opportunity = "listen"
)

func (o Opportunity) valid() bool {
	switch o {
	case OpportunityGood, OpportunityNeutral, OpportunityListen:
		return true
	}
	return false
}

// Suggestion is the structured reply of the completion service.
type Suggestion struct {
	Topic               string      `json:"topic"`
	Intent              string      `json:"intent"`
	GroupMood           string      `json:"group_mood"`
	SpeakingOpportunity Opportunity `json:"speaking_opportunity"`
	AssistiveCue        string      `json:"assistive_cue"`
	Suggestions         []string    `json:"suggestions"`
}

// Primary returns the first suggestion or "".
func (s Suggestion) Primary() string {
	if len(s.Suggestions) == 0 {
		return ""
	}
	return s.Suggestions[0]
}

// IsWait reports whether the primary suggestion is the wait placeholder.
func (s Suggestion) IsWait() bool {
	return strings.TrimSpace(s.Primary()) == WaitPlaceholder
}

// Fallback is returned whenever a real suggestion cannot be produced.
func Fallback() Suggestion {
	return Suggestion{
		Topic:               "unknown",
		Intent:              "unclear",
		GroupMood:           "neutral",
		SpeakingOpportunity: OpportunityListen,
		AssistiveCue:        "Listening mode",
		Suggestions:         []string{WaitPlaceholder},
	}
}

func fromText(text string) Suggestion {
	return Suggestion{
		Topic:               "unknown",
		Intent:              "unclear",
		GroupMood:           "neutral",
		SpeakingOpportunity: OpportunityNeutral,
		AssistiveCue:        "Suggestion ready",
		Suggestions:         []string{text},
	}
}

// ParseReply turns a completion reply into a Suggestion. It accepts a structured JSON object,
// a JSON string, or bare text. Objects must carry a non-empty suggestions array.
func ParseReply(raw string) (Suggestion, error) {
	text := stripFences(strings.TrimSpace(raw))
	if text == "" {
		return Suggestion{}, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}

	switch text[0] {
	case '{':
		return parseObject(text)
	case '"':
		var s string
		if err := json.Unmarshal([]byte(text), &s); err == nil {
			text = strings.TrimSpace(s)
			if text == "" {
				return Suggestion{}, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
			}
		}
	}
	if text == WaitPlaceholder {
		return Fallback(), nil
	}
	return fromText(text), nil
}

func parseObject(text string) (Suggestion, error) {
	var obj struct {
		Topic               string    `json:"topic"`
		Intent              string    `json:"intent"`
		GroupMood           string    `json:"group_mood"`
		SpeakingOpportunity string    `json:"speaking_opportunity"`
		AssistiveCue        string    `json:"assistive_cue"`
		Suggestions         *[]string `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return Suggestion{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if obj.Suggestions == nil {
		return Suggestion{}, fmt.Errorf("%w: missing suggestions", ErrMalformedResponse)
	}
	var list []string
	for _, s := range *obj.Suggestions {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		return Suggestion{}, fmt.Errorf("%w: no suggestions", ErrMalformedResponse)
	}

	out := Suggestion{
		Topic:               orDefault(obj.Topic, "unknown"),
		Intent:              orDefault(obj.Intent, "unclear"),
		GroupMood:           orDefault(obj.GroupMood, "neutral"),
		SpeakingOpportunity: Opportunity(strings.ToLower(strings.TrimSpace(obj.SpeakingOpportunity))),
		AssistiveCue:        orDefault(obj.AssistiveCue, "Suggestion ready"),
		Suggestions:         list,
	}
	if !out.SpeakingOpportunity.valid() {
		out.SpeakingOpportunity = OpportunityNeutral
	}
	return out, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

// stripFences removes a surrounding markdown code fence, which chat models like to add.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
