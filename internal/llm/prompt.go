package llm

import (
	"strings"

	"github.com/chadiek/speakassist/internal/suggest"
)

const baseSystemPrompt = `
You are a silent real-time speaking assistant used during live online meetings
such as Google Meet, Zoom, or Microsoft Teams.

You receive the most recent spoken sentence from the conversation, and sometimes
a few sentences that came before it.

Your task is to suggest what the user can say next.

Reply with ONE JSON object and nothing else:
{
  "topic": "short topic of the conversation",
  "intent": "what the speakers are trying to do",
  "group_mood": "one or two words",
  "speaking_opportunity": "good" | "neutral" | "listen",
  "assistive_cue": "a short label for the recommended action",
  "suggestions": ["one fluent, natural sentence", "an optional alternative"]
}

RULES for suggestions:
- Maximum 1-2 lines each.
- No explanations, fillers, emojis, or analysis.
- No AI or system mentions.

If the user should not speak yet, set "speaking_opportunity" to "listen" and make the
first suggestion exactly:
"Wait and listen for a moment."
`

const (
	formalInstructions     = "Tone: formal and professional. Complete sentences, no slang."
	casualInstructions     = "Tone: casual and friendly, the way colleagues talk to each other."
	supportiveInstructions = "Tone: warm and supportive. Acknowledge what others said before adding to it."
	neutralInstructions    = "Tone: neutral and clear."
)

// Prompt is the system prompt plus the content sent as the user message.
type Prompt struct {
	System string
	User   string
}

// BuildPrompt builds the prompt for a suggestion request.
func BuildPrompt(req suggest.Request) Prompt {
	var sys strings.Builder
	sys.WriteString(baseSystemPrompt)
	sys.WriteString("\n")
	sys.WriteString(styleInstructions(suggest.Style(req.ResponseStyle)))
	if lang := strings.TrimSpace(req.Language); lang != "" && lang != "en" {
		sys.WriteString("\nWrite the suggestions in the language with code \"")
		sys.WriteString(lang)
		sys.WriteString("\". Keep the JSON keys in English.")
	}

	return Prompt{System: sys.String(), User: userContent(req)}
}

func userContent(req suggest.Request) string {
	var b strings.Builder
	if len(req.RecentHistory) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, h := range req.RecentHistory {
			b.WriteString("- ")
			b.WriteString(h)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Latest:\n")
	b.WriteString(req.Transcript)
	return b.String()
}

func styleInstructions(s suggest.Style) string {
	switch s {
	case suggest.StyleFormal:
		return formalInstructions
	case suggest.StyleCasual:
		return casualInstructions
	case suggest.StyleSupportive:
		return supportiveInstructions
	default:
		return neutralInstructions
	}
}
