// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = "planweave.toml"

// Config is the full runtime configuration.
type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Skills    SkillsConfig    `toml:"skills"`
	Plans     PlansConfig     `toml:"plans"`
	Executor  ExecutorConfig  `toml:"executor"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// LLMConfig contains model provider settings.
type LLMConfig struct {
	Provider   string `toml:"provider"` // "openai" or "self-hosted"
	Model      string `toml:"model"`
	APIKeyEnv  string `toml:"api_key_env"`
	BaseURL    string `toml:"base_url"`
	MaxTokens  int    `toml:"max_tokens"`
	MaxRetries int    `toml:"max_retries"`
	// MetricsURL points at a vLLM-style /metrics endpoint used to read
	// prefix-cache hit counters. Self-hosted provider only.
	MetricsURL string `toml:"metrics_url"`
}

// SkillsConfig contains skill discovery settings.
type SkillsConfig struct {
	Path       string   `toml:"path"`
	Exclude    []string `toml:"exclude"`
	UserGroups []string `toml:"user_groups"`
}

// PlansConfig contains plan and session persistence settings.
type PlansConfig struct {
	File       string `toml:"file"`
	SessionDir string `toml:"session_dir"`
}

// ExecutorConfig contains step execution settings.
type ExecutorConfig struct {
	SafeMode       bool `toml:"safe_mode"`
	MaxFindResults int  `toml:"max_find_results"`
	StepTimeoutSec int  `toml:"step_timeout_sec"`
	MaxLLMCalls    int  `toml:"max_llm_calls"`
}

// StepTimeout returns the configured per-step deadline.
func (e ExecutorConfig) StepTimeout() time.Duration {
	return time.Duration(e.StepTimeoutSec) * time.Second
}

// TelemetryConfig contains tracing settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string `toml:"protocol"` // grpc (default) or http
}

// New creates a new config with defaults. Safe mode is on unless
// explicitly disabled.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:   "openai",
			MaxTokens:  4096,
			MaxRetries: 3,
		},
		Skills: SkillsConfig{
			Path: "skills",
		},
		Plans: PlansConfig{
			File:       "stepwised_plan.txt",
			SessionDir: "sessions",
		},
		Executor: ExecutorConfig{
			SafeMode:       true,
			StepTimeoutSec: 30,
			MaxLLMCalls:    12,
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
	}
}

// LoadFile loads configuration from a TOML file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Load resolves the configuration: the named file if given, otherwise
// planweave.toml in the working directory if present, otherwise the
// defaults. Environment overrides apply last.
func Load(path string) (*Config, error) {
	var cfg *Config
	switch {
	case path != "":
		c, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	default:
		if _, err := os.Stat(DefaultFileName); err == nil {
			c, err := LoadFile(DefaultFileName)
			if err != nil {
				return nil, err
			}
			cfg = c
		} else {
			cfg = New()
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overlays the environment variables that the runtime honors:
// SAFE_MODE, MAX_FIND_RESULTS, and USE_SELF_HOSTED_LLM.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv("SAFE_MODE"); ok {
		c.Executor.SafeMode = parseBool(v, true)
	}
	if v := os.Getenv("MAX_FIND_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Executor.MaxFindResults = n
		}
	}
	if v := os.Getenv("USE_SELF_HOSTED_LLM"); parseBool(v, false) {
		c.LLM.Provider = "self-hosted"
	}
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

// APIKey returns the API key from the configured environment variable,
// falling back to the provider's default variable.
func (c *Config) APIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	if key := os.Getenv(envVar); key != "" {
		return key
	}
	// The vendor endpoint accepts NVIDIA keys on the OpenAI-compatible
	// surface.
	if c.LLM.Provider == "openai" {
		return os.Getenv("NVIDIA_API_KEY")
	}
	return ""
}

// DefaultAPIKeyEnv returns the default environment variable name for a
// provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "self-hosted":
		return "SELF_HOSTED_API_KEY"
	default:
		return ""
	}
}
