// Package config provides configuration management for the bubbles engine.
//
// The clustering thresholds are deliberately defaultless: assignment
// behavior must be chosen by the operator, not baked into the binary.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultAddr is the HTTP listen address when none is configured.
	DefaultAddr = ":8710"
	// DefaultMaxRepresentatives caps the representative subset handed to the labeler.
	DefaultMaxRepresentatives = 5
	// DefaultLabelTokenBudget caps the token count of representative text sent to the labeler.
	DefaultLabelTokenBudget = 1200
	// DefaultEmbeddingModel is used when providers.mode is "live" and no model is set.
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultChatModel serves live labeling and voting.
	DefaultChatModel = "gpt-4o-mini"
	// DefaultLocalEmbeddingDim is the vector dimension of the local deterministic embedder.
	DefaultLocalEmbeddingDim = 64
)

// Server holds HTTP server settings.
type Server struct {
	Addr string `yaml:"addr"`
}

// Providers selects the external service backing and its models.
type Providers struct {
	// Mode is "live" (OpenAI-backed) or "local" (deterministic, offline).
	Mode           string `yaml:"mode"`
	EmbeddingModel string `yaml:"embedding_model"`
	EmbeddingDim   int    `yaml:"embedding_dim"`
	ChatModel      string `yaml:"chat_model"`
	// APIKeyEnv names the environment variable holding the OpenAI key.
	APIKeyEnv string `yaml:"api_key_env"`
}

// Clustering holds the similarity cutoffs. AssignThreshold is required;
// SplitThreshold and MergeThreshold enable the optional split/merge passes
// when present.
type Clustering struct {
	AssignThreshold float64  `yaml:"assign_threshold"`
	SplitThreshold  *float64 `yaml:"split_threshold,omitempty"`
	MergeThreshold  *float64 `yaml:"merge_threshold,omitempty"`
}

// Labeling holds the labeling coordinator settings.
type Labeling struct {
	MinBubbleSizeForLabel int `yaml:"min_bubble_size_for_label"`
	MaxRepresentatives    int `yaml:"max_representatives"`
	TokenBudget           int `yaml:"token_budget"`
}

// Config is the top-level YAML structure.
type Config struct {
	Server     Server     `yaml:"server"`
	Providers  Providers  `yaml:"providers"`
	Clustering Clustering `yaml:"clustering"`
	Labeling   Labeling   `yaml:"labeling"`
}

// Load reads the YAML file at path, applies ambient defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills ambient settings only. Clustering and labeling
// requirements stay untouched so Validate can reject their absence.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Labeling.MaxRepresentatives == 0 {
		c.Labeling.MaxRepresentatives = DefaultMaxRepresentatives
	}
	if c.Labeling.TokenBudget == 0 {
		c.Labeling.TokenBudget = DefaultLabelTokenBudget
	}
	if c.Providers.Mode == "live" {
		if c.Providers.EmbeddingModel == "" {
			c.Providers.EmbeddingModel = DefaultEmbeddingModel
		}
		if c.Providers.EmbeddingDim == 0 {
			c.Providers.EmbeddingDim = 1536
		}
		if c.Providers.ChatModel == "" {
			c.Providers.ChatModel = DefaultChatModel
		}
		if c.Providers.APIKeyEnv == "" {
			c.Providers.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	if c.Providers.Mode == "local" && c.Providers.EmbeddingDim == 0 {
		c.Providers.EmbeddingDim = DefaultLocalEmbeddingDim
	}
}

// Validate checks the required settings.
func (c *Config) Validate() error {
	switch c.Providers.Mode {
	case "live", "local":
	case "":
		return fmt.Errorf("providers.mode must be set (\"live\" or \"local\")")
	default:
		return fmt.Errorf("providers.mode %q is not supported", c.Providers.Mode)
	}

	if c.Clustering.AssignThreshold <= 0 || c.Clustering.AssignThreshold > 1 {
		return fmt.Errorf("clustering.assign_threshold must be set in (0, 1], got %v", c.Clustering.AssignThreshold)
	}
	if t := c.Clustering.SplitThreshold; t != nil && (*t <= 0 || *t > 1) {
		return fmt.Errorf("clustering.split_threshold must be in (0, 1], got %v", *t)
	}
	if t := c.Clustering.MergeThreshold; t != nil && (*t <= 0 || *t > 1) {
		return fmt.Errorf("clustering.merge_threshold must be in (0, 1], got %v", *t)
	}

	if c.Labeling.MinBubbleSizeForLabel < 1 {
		return fmt.Errorf("labeling.min_bubble_size_for_label must be set to at least 1, got %d", c.Labeling.MinBubbleSizeForLabel)
	}
	if c.Labeling.MaxRepresentatives < 1 {
		return fmt.Errorf("labeling.max_representatives must be at least 1, got %d", c.Labeling.MaxRepresentatives)
	}

	if c.Providers.EmbeddingDim < 1 {
		return fmt.Errorf("providers.embedding_dim must be at least 1, got %d", c.Providers.EmbeddingDim)
	}
	return nil
}

// APIKey resolves the OpenAI API key from the configured environment variable.
func (c *Config) APIKey() (string, error) {
	if c.Providers.Mode != "live" {
		return "", nil
	}
	key := os.Getenv(c.Providers.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", c.Providers.APIKeyEnv)
	}
	return key, nil
}
