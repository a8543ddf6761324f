// Package config handles Bookly configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/bookly/config.yaml, /etc/bookly/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "bookly", "config.yaml"))
	}

	paths = append(paths, "/etc/bookly/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Bookly configuration.
type Config struct {
	Listen     ListenConfig `yaml:"listen"`
	Completion Completion   `yaml:"completion"`
	Agent      AgentConfig  `yaml:"agent"`
	DataDir    string       `yaml:"data_dir"`
	PolicyFile string       `yaml:"policy_file"`
	LogLevel   string       `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// Completion defines the hosted completion API settings.
type Completion struct {
	BaseURL string `yaml:"base_url"` // OpenAI-compatible endpoint
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// AgentConfig tunes the orchestration loop.
type AgentConfig struct {
	// MaxToolCycles bounds the model-call/tool-call cycle per turn.
	MaxToolCycles int `yaml:"max_tool_cycles"`
	// MaxRetries is the retry budget for transient completion API
	// failures. Validation-class failures are never retried.
	MaxRetries int `yaml:"max_retries"`
	// RetryBackoffMS is the initial backoff between retries, doubled
	// on each attempt.
	RetryBackoffMS int `yaml:"retry_backoff_ms"`
	// StaleAfterMin is the idle horizon after which a still-open
	// conversation is reported as abandoned.
	StaleAfterMin int `yaml:"stale_after_min"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so api_key can stay out of the file
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Completion: Completion{
			Model: "gpt-4o-mini",
		},
		Agent: AgentConfig{
			MaxToolCycles:  5,
			MaxRetries:     2,
			RetryBackoffMS: 500,
			StaleAfterMin:  30,
		},
		DataDir:    ".",
		PolicyFile: "policy.md",
	}
}
