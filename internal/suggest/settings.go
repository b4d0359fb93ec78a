package suggest

import (
	"fmt"
	"strings"
)

// Style is the tone requested for suggestions.
type Style string

const (
	StyleFormal     Style = "formal"
	StyleCasual     Style = "casual"
	StyleSupportive Style = "supportive"
	StyleNeutral    Style = "neutral"
)

// ParseStyle accepts a style name case-insensitively.
func ParseStyle(s string) (Style, error) {
	switch st := Style(strings.ToLower(strings.TrimSpace(s))); st {
	case StyleFormal, StyleCasual, StyleSupportive, StyleNeutral:
		return st, nil
	case "":
		return StyleNeutral, nil
	default:
		return "", fmt.Errorf("unknown response style %q", s)
	}
}

// Settings are read-only inside a session.
type Settings struct {
	ResponseStyle Style  `json:"responseStyle" yaml:"response_style"`
	Language      string `json:"language" yaml:"language"`
}

// DefaultSettings returns {neutral, en}.
func DefaultSettings() Settings {
	return Settings{ResponseStyle: StyleNeutral, Language: "en"}
}

// Normalize fills empty fields with defaults and replaces an unknown style with neutral.
func (s Settings) Normalize() Settings {
	st, err := ParseStyle(string(s.ResponseStyle))
	if err != nil {
		st = StyleNeutral
	}
	s.ResponseStyle = st
	s.Language = strings.TrimSpace(s.Language)
	if s.Language == "" {
		s.Language = "en"
	}
	return s
}

// RecognitionLocale maps the settings language to a recognizer locale ("en" -> "en-US").
func (s Settings) RecognitionLocale() string {
	lang := s.Normalize().Language
	if strings.Contains(lang, "-") {
		return lang
	}
	switch lang {
	case "en":
		return "en-US"
	case "ja":
		return "ja-JP"
	case "ko":
		return "ko-KR"
	case "zh":
		return "zh-CN"
	default:
		return lang + "-" + strings.ToUpper(lang)
	}
}
