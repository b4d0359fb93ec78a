package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	BaseURL     string
	LogLevel    string
	LogJSON     bool

	LLMProvider  string
	LLMBaseURL   string
	LLMAPIKey    string
	LLMModel     string
	GeminiAPIKey string
	GeminiModel  string
	EdgeURL      string
	EdgeKey      string

	AssemblyAIKey string

	DiffThreshold  int
	Cooldown       time.Duration
	RequestTimeout time.Duration
	SettingsFile   string

	HistoryDBPath          string
	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string
	TwilioAuthToken        string
	SessionToken           string

	// Warnings collects problems found while loading; they are logged once a logger exists.
	Warnings []string
}

// Load reads .env (or the given files) and the environment and returns Config with sane defaults.
func Load(envFiles ...string) Config {
	var warnings []string
	if err := godotenv.Load(envFiles...); err != nil {
		warnings = append(warnings, fmt.Sprintf("no .env file loaded: %v", err))
	}

	cfg := Config{
		HTTPAddress: getEnv("HTTP_ADDRESS", ":8080"),
		BaseURL:     strings.TrimRight(os.Getenv("BASE_URL"), "/"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		LLMProvider:  strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		LLMBaseURL:   os.Getenv("LLM_BASE_URL"),
		LLMAPIKey:    os.Getenv("LLM_API_KEY"),
		LLMModel:     os.Getenv("LLM_MODEL"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		EdgeURL:      os.Getenv("EDGE_FUNCTION_URL"),
		EdgeKey:      os.Getenv("EDGE_FUNCTION_KEY"),

		AssemblyAIKey: os.Getenv("ASSEMBLYAI_API_KEY"),

		SettingsFile: os.Getenv("SPEAKASSIST_SETTINGS_FILE"),

		HistoryDBPath:          os.Getenv("HISTORY_DB_PATH"),
		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:         getEnv("SUPABASE_BUCKET", "speakassist-transcripts"),
		TwilioAuthToken:        os.Getenv("TWILIO_AUTH_TOKEN"),
		SessionToken:           os.Getenv("SESSION_TOKEN"),
	}

	var w string
	cfg.LogJSON, w = getBool("LOG_JSON", false)
	warnings = appendWarning(warnings, w)
	cfg.DiffThreshold, w = getInt("SPEAKASSIST_DIFF_THRESHOLD", 10)
	warnings = appendWarning(warnings, w)
	cfg.Cooldown, w = getDuration("SPEAKASSIST_COOLDOWN", 5*time.Second)
	warnings = appendWarning(warnings, w)
	cfg.RequestTimeout, w = getDuration("SPEAKASSIST_REQUEST_TIMEOUT", 10*time.Second)
	warnings = appendWarning(warnings, w)

	switch cfg.LLMProvider {
	case "openai", "cerebras":
		if cfg.LLMAPIKey == "" {
			warnings = append(warnings, "LLM_API_KEY not set - suggestions will fall back to the wait placeholder")
		}
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			warnings = append(warnings, "GEMINI_API_KEY not set - suggestions will fall back to the wait placeholder")
		}
	case "edge":
		if cfg.EdgeURL == "" {
			warnings = append(warnings, "EDGE_FUNCTION_URL not set - suggestions will fall back to the wait placeholder")
		}
	case "mock":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown LLM_PROVIDER %q", cfg.LLMProvider))
	}
	if cfg.AssemblyAIKey == "" {
		warnings = append(warnings, "ASSEMBLYAI_API_KEY not set - audio transcription disabled, text fragments only")
	}
	if cfg.TwilioAuthToken != "" && cfg.BaseURL == "" {
		warnings = append(warnings, "BASE_URL not set - Twilio signatures are validated against the request host")
	}

	cfg.Warnings = warnings
	return cfg
}

// Masked returns the effective configuration as key/value pairs with secrets hidden.
func (c Config) Masked() [][2]string {
	return [][2]string{
		{"HTTP_ADDRESS", c.HTTPAddress},
		{"BASE_URL", c.BaseURL},
		{"LOG_LEVEL", c.LogLevel},
		{"LOG_JSON", strconv.FormatBool(c.LogJSON)},
		{"LLM_PROVIDER", c.LLMProvider},
		{"LLM_BASE_URL", c.LLMBaseURL},
		{"LLM_API_KEY", mask(c.LLMAPIKey)},
		{"LLM_MODEL", c.LLMModel},
		{"GEMINI_API_KEY", mask(c.GeminiAPIKey)},
		{"GEMINI_MODEL", c.GeminiModel},
		{"EDGE_FUNCTION_URL", c.EdgeURL},
		{"EDGE_FUNCTION_KEY", mask(c.EdgeKey)},
		{"ASSEMBLYAI_API_KEY", mask(c.AssemblyAIKey)},
		{"SPEAKASSIST_DIFF_THRESHOLD", strconv.Itoa(c.DiffThreshold)},
		{"SPEAKASSIST_COOLDOWN", c.Cooldown.String()},
		{"SPEAKASSIST_REQUEST_TIMEOUT", c.RequestTimeout.String()},
		{"SPEAKASSIST_SETTINGS_FILE", c.SettingsFile},
		{"HISTORY_DB_PATH", c.HistoryDBPath},
		{"SUPABASE_URL", c.SupabaseURL},
		{"SUPABASE_SERVICE_ROLE_KEY", mask(c.SupabaseServiceRoleKey)},
		{"SUPABASE_BUCKET", c.SupabaseBucket},
		{"TWILIO_AUTH_TOKEN", mask(c.TwilioAuthToken)},
		{"SESSION_TOKEN", mask(c.SessionToken)},
	}
}

func mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "****"
	default:
		return secret[:4] + "****"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, def int) (int, string) {
	v := os.Getenv(key)
	if v == "" {
		return def, ""
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def, fmt.Sprintf("invalid %s=%q, using %d", key, v, def)
	}
	return n, ""
}

func getDuration(key string, def time.Duration) (time.Duration, string) {
	v := os.Getenv(key)
	if v == "" {
		return def, ""
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def, fmt.Sprintf("invalid %s=%q, using %s", key, v, def)
	}
	return d, ""
}

func getBool(key string, def bool) (bool, string) {
	v := os.Getenv(key)
	if v == "" {
		return def, ""
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Sprintf("invalid %s=%q, using %t", key, v, def)
	}
	return b, ""
}

func appendWarning(ws []string, w string) []string {
	if w == "" {
		return ws
	}
	return append(ws, w)
}
