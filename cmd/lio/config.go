package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/helioai/lio-agent/runtime/agent/tools"
)

type (
	// config is the process configuration assembled from the environment and
	// the optional YAML file.
	config struct {
		HTTPAddr string

		LLMProvider    string
		OpenAIKey      string
		OpenAIModel    string
		AnthropicKey   string
		AnthropicModel string
		MaxTokens      int
		Temperature    float64
		LLMTimeout     time.Duration
		LLMTPM         int

		MaxSessions    int
		SessionTimeout time.Duration
		MemoryLimit    int

		RedisURL      string
		RedisPassword string
		MongoURI      string
		MongoDatabase string
		GoogleAPIKey  string

		File fileConfig
	}

	// fileConfig is the YAML configuration file layout.
	fileConfig struct {
		// SystemPrompt replaces the built-in system prompt.
		SystemPrompt string `yaml:"systemPrompt"`
		// ToolDefaults applies to every tool.
		ToolDefaults tools.ConfigPatch `yaml:"toolDefaults"`
		// Tools holds per tool overrides keyed by tool name.
		Tools map[string]tools.ConfigPatch `yaml:"tools"`
	}
)

const (
	providerOpenAI    = "openai"
	providerAnthropic = "anthropic"
)

// loadConfig reads the environment and, when path is not empty, the YAML
// file at path.
func loadConfig(path string) (*config, error) {
	cfg := &config{
		HTTPAddr:       envOr("HTTP_ADDR", ":8080"),
		LLMProvider:    strings.ToLower(envOr("LLM_PROVIDER", providerOpenAI)),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    envOr("OPENAI_MODEL", "gpt-5-mini"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel: envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		MaxTokens:      envIntOr("AGENT_MAX_TOKENS", 4000),
		Temperature:    envFloatOr("AGENT_TEMPERATURE", 0),
		LLMTimeout:     envDurationOr("LLM_TIMEOUT", 30*time.Second),
		LLMTPM:         envIntOr("LLM_TPM", 0),
		MaxSessions:    envIntOr("MAX_SESSIONS", 1000),
		SessionTimeout: envDurationOr("SESSION_TIMEOUT", time.Hour),
		MemoryLimit:    envIntOr("MEMORY_LIMIT", 50),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDatabase:  envOr("MONGO_DATABASE", "lio"),
		GoogleAPIKey:   os.Getenv("GOOGLE_API_KEY"),
	}
	if mode := os.Getenv("TOOL_RATE_LIMIT_MODE"); mode != "" {
		m := tools.RateLimitMode(strings.ToLower(mode))
		if m != tools.RateLimitWait && m != tools.RateLimitReject {
			return nil, fmt.Errorf("invalid TOOL_RATE_LIMIT_MODE %q (valid: wait, reject)", mode)
		}
		cfg.File.ToolDefaults.RateLimitMode = &m
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.File.SystemPrompt = fc.SystemPrompt
		cfg.File.Tools = fc.Tools
		cfg.File.ToolDefaults = cfg.File.ToolDefaults.Merge(fc.ToolDefaults)
	}
	switch cfg.LLMProvider {
	case providerOpenAI, providerAnthropic:
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER %q (valid: openai, anthropic)", cfg.LLMProvider)
	}
	return cfg, nil
}

// toolConfig returns the tool defaults with the overrides configured for the
// named tool applied on top.
func (c *config) toolConfig(name string) tools.ConfigPatch {
	return c.File.ToolDefaults.Merge(c.File.Tools[name])
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloatOr(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
