// Package config provides configuration management for the bubbles engine.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir string
}

func (s *ConfigSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "config-test-*")
	s.Require().NoError(err)
}

func (s *ConfigSuite) TearDownTest() {
	os.RemoveAll(s.tempDir)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) writeConfig(content string) string {
	path := filepath.Join(s.tempDir, "bubbles.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (s *ConfigSuite) TestLoadValid() {
	path := s.writeConfig(`
providers:
  mode: local
clustering:
  assign_threshold: 0.58
labeling:
  min_bubble_size_for_label: 2
`)

	cfg, err := Load(path)
	s.Require().NoError(err)

	s.Equal("local", cfg.Providers.Mode)
	s.InDelta(0.58, cfg.Clustering.AssignThreshold, 1e-9)
	s.Equal(2, cfg.Labeling.MinBubbleSizeForLabel)

	// Ambient defaults applied.
	s.Equal(DefaultAddr, cfg.Server.Addr)
	s.Equal(DefaultMaxRepresentatives, cfg.Labeling.MaxRepresentatives)
	s.Equal(DefaultLabelTokenBudget, cfg.Labeling.TokenBudget)
	s.Equal(DefaultLocalEmbeddingDim, cfg.Providers.EmbeddingDim)

	// Optional thresholds absent.
	s.Nil(cfg.Clustering.SplitThreshold)
	s.Nil(cfg.Clustering.MergeThreshold)
}

func (s *ConfigSuite) TestLoadOptionalThresholds() {
	path := s.writeConfig(`
providers:
  mode: local
clustering:
  assign_threshold: 0.6
  split_threshold: 0.35
  merge_threshold: 0.92
labeling:
  min_bubble_size_for_label: 1
`)

	cfg, err := Load(path)
	s.Require().NoError(err)
	s.Require().NotNil(cfg.Clustering.SplitThreshold)
	s.Require().NotNil(cfg.Clustering.MergeThreshold)
	s.InDelta(0.35, *cfg.Clustering.SplitThreshold, 1e-9)
	s.InDelta(0.92, *cfg.Clustering.MergeThreshold, 1e-9)
}

func (s *ConfigSuite) TestMissingAssignThresholdRejected() {
	path := s.writeConfig(`
providers:
  mode: local
labeling:
  min_bubble_size_for_label: 2
`)

	_, err := Load(path)
	s.Require().Error(err)
	s.Contains(err.Error(), "assign_threshold")
}

func (s *ConfigSuite) TestMissingMinBubbleSizeRejected() {
	path := s.writeConfig(`
providers:
  mode: local
clustering:
  assign_threshold: 0.5
`)

	_, err := Load(path)
	s.Require().Error(err)
	s.Contains(err.Error(), "min_bubble_size_for_label")
}

func (s *ConfigSuite) TestUnknownProviderModeRejected() {
	path := s.writeConfig(`
providers:
  mode: remote
clustering:
  assign_threshold: 0.5
labeling:
  min_bubble_size_for_label: 2
`)

	_, err := Load(path)
	s.Require().Error(err)
	s.Contains(err.Error(), "not supported")
}

func (s *ConfigSuite) TestLiveModeDefaults() {
	path := s.writeConfig(`
providers:
  mode: live
clustering:
  assign_threshold: 0.58
labeling:
  min_bubble_size_for_label: 2
`)

	cfg, err := Load(path)
	s.Require().NoError(err)
	s.Equal(DefaultEmbeddingModel, cfg.Providers.EmbeddingModel)
	s.Equal(1536, cfg.Providers.EmbeddingDim)
	s.Equal(DefaultChatModel, cfg.Providers.ChatModel)
	s.Equal("OPENAI_API_KEY", cfg.Providers.APIKeyEnv)
}

func TestValidateThresholdRange(t *testing.T) {
	bad := 1.5
	cfg := &Config{
		Providers:  Providers{Mode: "local", EmbeddingDim: 8},
		Clustering: Clustering{AssignThreshold: 0.5, SplitThreshold: &bad},
		Labeling:   Labeling{MinBubbleSizeForLabel: 1, MaxRepresentatives: 5},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "split_threshold")
}
