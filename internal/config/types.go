package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration structure for opsbot.
type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
	Timeouts  TimeoutConfig    `yaml:"timeouts"`
	Model     ModelConfig      `yaml:"model"`
	Search    SearchConfig     `yaml:"search"`
}

// ProviderConfig describes one external tool provider: how to launch it and
// what to call it. The core never interprets Command/Args beyond handing them
// to the MCP client that spawns the process.
type ProviderConfig struct {
	Name    string            `yaml:"name"`              // Unique label, e.g. "aws-docs"
	Command string            `yaml:"command"`           // Executable, e.g. "uvx"
	Args    []string          `yaml:"args,omitempty"`    // Arguments, in order
	Env     map[string]string `yaml:"env,omitempty"`     // Environment overrides, merged over the parent env
	Enabled *bool             `yaml:"enabled,omitempty"` // nil means enabled
}

// IsEnabled reports whether the provider should be started.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// TimeoutConfig holds the deadlines for bounded external calls, in seconds.
type TimeoutConfig struct {
	SearchSeconds  int `yaml:"searchSeconds,omitempty"`  // Web search deadline (default 10)
	TurnSeconds    int `yaml:"turnSeconds,omitempty"`    // Full agent turn deadline (default 45)
	ConnectSeconds int `yaml:"connectSeconds,omitempty"` // Per-provider connect deadline (default 30)
}

// Search returns the web search deadline as a duration.
func (t TimeoutConfig) Search() time.Duration {
	return time.Duration(t.SearchSeconds) * time.Second
}

// Turn returns the agent turn deadline as a duration.
func (t TimeoutConfig) Turn() time.Duration {
	return time.Duration(t.TurnSeconds) * time.Second
}

// Connect returns the provider connect deadline as a duration.
func (t TimeoutConfig) Connect() time.Duration {
	return time.Duration(t.ConnectSeconds) * time.Second
}

// ModelConfig configures the language-model backend.
type ModelConfig struct {
	BaseURL      string  `yaml:"baseURL,omitempty"`
	ID           string  `yaml:"id,omitempty"`
	Temperature  float64 `yaml:"temperature,omitempty"`
	SystemPrompt string  `yaml:"systemPrompt,omitempty"`
}

// SearchConfig configures the built-in web search tool.
type SearchConfig struct {
	Region          string `yaml:"region,omitempty"`          // e.g. "us-en"
	MaxResults      int    `yaml:"maxResults,omitempty"`      // Default result count
	MaxResultsLimit int    `yaml:"maxResultsLimit,omitempty"` // Hard cap per query
}

// Validate checks the configuration before the core is constructed.
// Deadlines must be strictly positive, provider names unique and non-empty,
// and the model temperature within [0.0, 1.0].
func (c *Config) Validate() error {
	if c.Timeouts.SearchSeconds <= 0 {
		return fmt.Errorf("timeouts.searchSeconds must be positive, got %d", c.Timeouts.SearchSeconds)
	}
	if c.Timeouts.TurnSeconds <= 0 {
		return fmt.Errorf("timeouts.turnSeconds must be positive, got %d", c.Timeouts.TurnSeconds)
	}
	if c.Timeouts.ConnectSeconds <= 0 {
		return fmt.Errorf("timeouts.connectSeconds must be positive, got %d", c.Timeouts.ConnectSeconds)
	}

	if c.Model.Temperature < 0.0 || c.Model.Temperature > 1.0 {
		return fmt.Errorf("model.temperature must be between 0.0 and 1.0, got %g", c.Model.Temperature)
	}
	if c.Model.ID == "" {
		return fmt.Errorf("model.id cannot be empty")
	}

	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.maxResults must be positive, got %d", c.Search.MaxResults)
	}
	if c.Search.MaxResultsLimit < c.Search.MaxResults {
		return fmt.Errorf("search.maxResultsLimit (%d) must be at least search.maxResults (%d)",
			c.Search.MaxResultsLimit, c.Search.MaxResults)
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name cannot be empty", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true
		if p.Command == "" {
			return fmt.Errorf("provider %q: command cannot be empty", p.Name)
		}
	}

	return nil
}

// EnabledProviders returns the providers that should be started, in the
// order they were configured.
func (c *Config) EnabledProviders() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.IsEnabled() {
			out = append(out, p)
		}
	}
	return out
}
