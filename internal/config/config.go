// Package config loads the llmgate configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig describes one upstream model endpoint.
type NodeConfig struct {
	ID          string `json:"id" yaml:"id"`
	EndpointURL string `json:"endpointURL" yaml:"endpointURL"`
	Model       string `json:"model" yaml:"model"`
	APIKey      string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Priority    int    `json:"priority" yaml:"priority"`
	MaxTokens   int    `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
}

// Config represents the merged llmgate configuration.
type Config struct {
	Listen string       `json:"listen,omitempty" yaml:"listen,omitempty"`
	Nodes  []NodeConfig `json:"nodes" yaml:"nodes"`
	Tuning TuningConfig `json:"tuning" yaml:"tuning"`
}

// TuningConfig holds the routing and resilience knobs.
type TuningConfig struct {
	FailureThreshold      int     `json:"failureThreshold" yaml:"failureThreshold"`
	CooldownSeconds       int     `json:"cooldownSeconds" yaml:"cooldownSeconds"`
	MaxRetriesPerNode     int     `json:"maxRetriesPerNode" yaml:"maxRetriesPerNode"`
	BackoffBase           float64 `json:"backoffBase" yaml:"backoffBase"`
	BackoffMultiplierMs   int     `json:"backoffMultiplierMs" yaml:"backoffMultiplierMs"`
	BackoffJitterMs       int     `json:"backoffJitterMs" yaml:"backoffJitterMs"`
	RetryOnEmptyResponse  *bool   `json:"retryOnEmptyResponse,omitempty" yaml:"retryOnEmptyResponse,omitempty"`
	RetryOnAuthError      bool    `json:"retryOnAuthError" yaml:"retryOnAuthError"`
	RetryOnParseError     bool    `json:"retryOnParseError" yaml:"retryOnParseError"`
	TimeoutFloorSeconds   int     `json:"timeoutFloorSeconds" yaml:"timeoutFloorSeconds"`
	TimeoutCeilingSeconds int     `json:"timeoutCeilingSeconds" yaml:"timeoutCeilingSeconds"`
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Listen: "127.0.0.1:3380",
		Tuning: TuningConfig{
			FailureThreshold:      5,
			CooldownSeconds:       30,
			MaxRetriesPerNode:     2,
			BackoffBase:           1.5,
			BackoffMultiplierMs:   500,
			BackoffJitterMs:       300,
			RetryOnAuthError:      false,
			RetryOnParseError:     false,
			TimeoutFloorSeconds:   5,
			TimeoutCeilingSeconds: 120,
		},
	}
}

// Load reads configuration from path (JSON or YAML by extension), applies it
// over the defaults, then applies LLMGATE_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies LLMGATE_* environment variable overrides to the tuning knobs.
func (c *Config) applyEnv() {
	envInt("LLMGATE_FAILURE_THRESHOLD", &c.Tuning.FailureThreshold)
	envInt("LLMGATE_COOLDOWN_SECONDS", &c.Tuning.CooldownSeconds)
	envInt("LLMGATE_MAX_RETRIES_PER_NODE", &c.Tuning.MaxRetriesPerNode)
	envFloat("LLMGATE_BACKOFF_BASE", &c.Tuning.BackoffBase)
	envInt("LLMGATE_BACKOFF_MULTIPLIER_MS", &c.Tuning.BackoffMultiplierMs)
	envInt("LLMGATE_BACKOFF_JITTER_MS", &c.Tuning.BackoffJitterMs)
	envBoolPtr("LLMGATE_RETRY_ON_EMPTY_RESPONSE", &c.Tuning.RetryOnEmptyResponse)
	envBool("LLMGATE_RETRY_ON_AUTH_ERROR", &c.Tuning.RetryOnAuthError)
	envBool("LLMGATE_RETRY_ON_PARSE_ERROR", &c.Tuning.RetryOnParseError)
	envInt("LLMGATE_TIMEOUT_FLOOR_SECONDS", &c.Tuning.TimeoutFloorSeconds)
	envInt("LLMGATE_TIMEOUT_CEILING_SECONDS", &c.Tuning.TimeoutCeilingSeconds)
	if v := os.Getenv("LLMGATE_LISTEN"); v != "" {
		c.Listen = v
	}
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node %d: missing id", i)
		}
		if seen[n.ID] {
			return fmt.Errorf("node %s: duplicate id", n.ID)
		}
		seen[n.ID] = true
		if n.EndpointURL == "" {
			return fmt.Errorf("node %s: missing endpointURL", n.ID)
		}
		if n.Model == "" {
			return fmt.Errorf("node %s: missing model", n.ID)
		}
	}
	if c.Tuning.FailureThreshold < 1 {
		return fmt.Errorf("failureThreshold must be >= 1")
	}
	if c.Tuning.TimeoutFloorSeconds > c.Tuning.TimeoutCeilingSeconds {
		return fmt.Errorf("timeoutFloorSeconds exceeds timeoutCeilingSeconds")
	}
	if c.Tuning.BackoffBase <= 1.0 {
		return fmt.Errorf("backoffBase must be > 1.0")
	}
	return nil
}

// RetryOnEmpty resolves the RetryOnEmptyResponse setting, defaulting to true.
func (t *TuningConfig) RetryOnEmpty() bool {
	if t.RetryOnEmptyResponse == nil {
		return true
	}
	return *t.RetryOnEmptyResponse
}

// Cooldown returns the breaker cooldown as a duration.
func (t *TuningConfig) Cooldown() time.Duration {
	return time.Duration(t.CooldownSeconds) * time.Second
}

// TimeoutFloor returns the per-attempt timeout floor.
func (t *TuningConfig) TimeoutFloor() time.Duration {
	return time.Duration(t.TimeoutFloorSeconds) * time.Second
}

// TimeoutCeiling returns the per-attempt timeout ceiling.
func (t *TuningConfig) TimeoutCeiling() time.Duration {
	return time.Duration(t.TimeoutCeilingSeconds) * time.Second
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envBoolPtr(key string, dst **bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = &b
		}
	}
}
