// Package config loads build settings from a YAML file in the repository root.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the repository root.
const FileName = ".codetree.yaml"

// Config holds user-overridable build settings.
type Config struct {
	Describe DescribeConfig `yaml:"describe"`
	Build    BuildConfig    `yaml:"build"`
	Link     LinkConfig     `yaml:"link"`
}

// DescribeConfig holds description-generation settings. Descriptions are
// generated only when a base URL is configured.
type DescribeConfig struct {
	// BaseURL is the OpenAI-compatible endpoint, e.g. "https://api.openai.com/v1".
	BaseURL string `yaml:"base_url"`

	// Model is the chat model name.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	// Default: CODETREE_API_KEY.
	APIKeyEnv string `yaml:"api_key_env"`

	// BatchSize is the number of functions per description request.
	BatchSize *int `yaml:"batch_size"`

	// RateLimit is the maximum requests per second.
	RateLimit *float64 `yaml:"rate_limit"`

	// MaxRetries bounds retry attempts on transient failures.
	MaxRetries *int `yaml:"max_retries"`
}

// BuildConfig holds analysis settings.
type BuildConfig struct {
	// Languages restricts analysis to the named languages
	// ("python", "go", "javascript", "typescript"). Empty means all.
	Languages []string `yaml:"languages"`

	// EntryPoints are default entry specs, "relative/path.py:Qualified.Name".
	EntryPoints []string `yaml:"entry_points"`

	// Reuse enables the layer cache. Default: true.
	Reuse *bool `yaml:"reuse"`
}

// LinkConfig holds HTTP linker settings.
type LinkConfig struct {
	// ExcludePaths are route paths skipped during HTTP call matching.
	// These are added to the linker's built-in exclusions.
	ExcludePaths []string `yaml:"exclude_paths"`

	// MinConfidence is the minimum score for reporting an HTTP link.
	// Default: 0.25.
	MinConfidence *float64 `yaml:"min_confidence"`

	// FuzzyMatching allows near-equal path segments to match.
	// Default: true.
	FuzzyMatching *bool `yaml:"fuzzy_matching"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{}
}

// Load reads the config file from the given directory.
// Returns defaults if the file doesn't exist or is invalid.
func Load(dir string) *Config {
	cfg := Default()

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return cfg
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return Default()
	}
	return cfg
}

// APIKey resolves the API key from the configured environment variable.
func (c *Config) APIKey() string {
	env := c.Describe.APIKeyEnv
	if env == "" {
		env = "CODETREE_API_KEY"
	}
	return os.Getenv(env)
}

// EffectiveBatchSize returns the configured batch size, or 0 for the
// runner default.
func (c *Config) EffectiveBatchSize() int {
	if c.Describe.BatchSize != nil {
		return *c.Describe.BatchSize
	}
	return 0
}

// EffectiveRateLimit returns the configured requests per second, or 0 for
// the client default.
func (c *Config) EffectiveRateLimit() float64 {
	if c.Describe.RateLimit != nil {
		return *c.Describe.RateLimit
	}
	return 0
}

// EffectiveMaxRetries returns the configured retry bound, or 0 for the
// client default.
func (c *Config) EffectiveMaxRetries() int {
	if c.Describe.MaxRetries != nil {
		return *c.Describe.MaxRetries
	}
	return 0
}

// EffectiveMinConfidence returns the minimum link score. Default: 0.25.
func (c *Config) EffectiveMinConfidence() float64 {
	if c.Link.MinConfidence != nil {
		return *c.Link.MinConfidence
	}
	return 0.25
}

// EffectiveFuzzyMatching returns whether fuzzy path matching is enabled.
// Default: true.
func (c *Config) EffectiveFuzzyMatching() bool {
	if c.Link.FuzzyMatching != nil {
		return *c.Link.FuzzyMatching
	}
	return true
}

// EffectiveReuse returns whether the layer cache is enabled. Default: true.
func (c *Config) EffectiveReuse() bool {
	if c.Build.Reuse != nil {
		return *c.Build.Reuse
	}
	return true
}
