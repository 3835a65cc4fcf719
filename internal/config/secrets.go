package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ServerConfig is the env-sourced half of configuration: secrets and
// per-deployment knobs that have no business living in a checked-in YAML
// file. Adapted from the teacher's LoadSoulServerConfig.
type ServerConfig struct {
	HTTPAddr   string
	DBDSN      string
	QdrantAddr string

	LLMProvider      string
	LLMModel         string
	OpenAIBaseURL    string
	OpenAIAPIKey     string
	AnthropicBaseURL string
	AnthropicAPIKey  string

	StageProfilesPath string
	LATSConfigPath    string

	SessionQueueDepth int
	TurnTimeout       time.Duration
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddr:          getenvDefault("TURNCORE_HTTP_ADDR", ":8080"),
		DBDSN:             os.Getenv("DB_DSN"),
		QdrantAddr:        getenvDefault("QDRANT_ADDR", "localhost:6334"),
		LLMProvider:       getenvDefault("LLM_PROVIDER", "openai"),
		LLMModel:          getenvDefault("LLM_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:     getenvDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		AnthropicBaseURL:  getenvDefault("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		StageProfilesPath: getenvDefault("STAGE_PROFILES_PATH", "config/stage_profiles.yaml"),
		LATSConfigPath:    getenvDefault("LATS_CONFIG_PATH", "config/lats.yaml"),
		SessionQueueDepth: getenvIntDefault("SESSION_QUEUE_DEPTH", 4),
		TurnTimeout:       time.Duration(getenvIntDefault("TURN_TIMEOUT_SECONDS", 90)) * time.Second,
	}

	if cfg.DBDSN == "" {
		return ServerConfig{}, fmt.Errorf("DB_DSN is required")
	}
	if cfg.LLMProvider == "openai" && cfg.OpenAIAPIKey == "" {
		return ServerConfig{}, fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
	}
	if cfg.LLMProvider == "claude" && cfg.AnthropicAPIKey == "" {
		return ServerConfig{}, fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_PROVIDER=claude")
	}

	return cfg, nil
}

func getenvDefault(key, val string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return val
}

func getenvIntDefault(key string, val int) int {
	v := os.Getenv(key)
	if v == "" {
		return val
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return val
	}
	return n
}
