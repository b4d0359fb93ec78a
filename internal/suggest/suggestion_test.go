package suggest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply_StructuredObject(t *testing.T) {
	s, err := ParseReply(`{"topic":"travel","intent":"ask","group_mood":"upbeat","speaking_opportunity":"good","assistive_cue":"Jump in","suggestions":["Where did you go?","Sounds fun"]}`)
	require.NoError(t, err)
	assert.Equal(t, "travel", s.Topic)
	assert.Equal(t, OpportunityGood, s.SpeakingOpportunity)
	assert.Equal(t, []string{"Where did you go?", "Sounds fun"}, s.Suggestions)
	assert.Equal(t, "Where did you go?", s.Primary())
}

func TestParseReply_MissingSuggestionsIsMalformed(t *testing.T) {
	_, err := ParseReply(`{"topic":"x","speaking_opportunity":"good"}`)
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, err = ParseReply(`{"suggestions":["  ",""]}`)
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, err = ParseReply(`{"suggestions":`)
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, err = ParseReply("   ")
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParseReply_DefaultsAndNormalization(t *testing.T) {
	s, err := ParseReply(`{"speaking_opportunity":"NOW!","suggestions":["ok then"]}`)
	require.NoError(t, err)
	assert.Equal(t, OpportunityNeutral, s.SpeakingOpportunity)
	assert.Equal(t, "unknown", s.Topic)
	assert.Equal(t, "unclear", s.Intent)
	assert.Equal(t, "neutral", s.GroupMood)
	assert.Equal(t, "Suggestion ready", s.AssistiveCue)

	s, err = ParseReply(`{"speaking_opportunity":" Listen ","suggestions":["hm"]}`)
	require.NoError(t, err)
	assert.Equal(t, OpportunityListen, s.SpeakingOpportunity)
}

func TestParseReply_BareText(t *testing.T) {
	s, err := ParseReply("  Ask them about the weekend.  ")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ask them about the weekend."}, s.Suggestions)
	assert.Equal(t, OpportunityNeutral, s.SpeakingOpportunity)
	assert.Equal(t, "Suggestion ready", s.AssistiveCue)

	s, err = ParseReply(`"Say thanks"`)
	require.NoError(t, err)
	assert.Equal(t, "Say thanks", s.Primary())
}

func TestParseReply_FencedJSON(t *testing.T) {
	s, err := ParseReply("```json\n{\"suggestions\":[\"Nice\"]}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Nice", s.Primary())
}

func TestParseReply_PlaceholderTextIsFallback(t *testing.T) {
	s, err := ParseReply(WaitPlaceholder)
	require.NoError(t, err)
	assert.Equal(t, Fallback(), s)
	assert.True(t, s.IsWait())
}

func TestFallback(t *testing.T) {
	f := Fallback()
	assert.Equal(t, OpportunityListen, f.SpeakingOpportunity)
	assert.Equal(t, []string{"Wait and listen for a moment."}, f.Suggestions)
	assert.Equal(t, "Listening mode", f.AssistiveCue)

	// callers get independent slices
	f.Suggestions[0] = "changed"
	assert.Equal(t, WaitPlaceholder, Fallback().Primary())
}

func TestSettings_NormalizeAndLocale(t *testing.T) {
	assert.Equal(t, DefaultSettings(), Settings{}.Normalize())
	assert.Equal(t, StyleNeutral, Settings{ResponseStyle: "sarcastic"}.Normalize().ResponseStyle)
	assert.Equal(t, StyleFormal, Settings{ResponseStyle: "Formal"}.Normalize().ResponseStyle)

	assert.Equal(t, "en-US", DefaultSettings().RecognitionLocale())
	assert.Equal(t, "pt-BR", Settings{Language: "pt-BR"}.RecognitionLocale())
	assert.Equal(t, "fr-FR", Settings{Language: "fr"}.RecognitionLocale())

	_, err := ParseStyle("loud")
	assert.Error(t, err)
}
