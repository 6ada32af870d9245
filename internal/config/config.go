// Package config handles Herald configuration loading.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./herald.yaml, ~/.config/herald/config.yaml, /etc/herald/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"herald.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "herald", "config.yaml"))
	}

	paths = append(paths, "/etc/herald/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
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

	return "", fmt.Errorf("no config file found (searched: %v); run 'herald init' to create one", DefaultSearchPaths())
}

// Config holds all Herald configuration.
type Config struct {
	// Servers maps a tool server name to its JSON-RPC endpoint URL.
	// Names are how the model and the CLI refer to a server; URLs are
	// never exposed to the model.
	Servers map[string]string `yaml:"servers"`

	LLM    LLMConfig    `yaml:"llm"`
	HTTP   HTTPConfig   `yaml:"http"`
	Stream StreamConfig `yaml:"stream"`

	// DataDir is where persistent state (the transcript database) lives.
	// Empty disables persistence; chat sessions then live only in memory.
	DataDir string `yaml:"data_dir"`

	// PersonaFile optionally replaces the default system prompt with the
	// contents of a markdown file.
	PersonaFile string `yaml:"persona_file"`

	LogLevel  string `yaml:"log_level"`  // trace, debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text or json
}

// LLMConfig defines the model backend. Any Ollama-compatible chat API
// works (ollama, llama.cpp server, LM Studio).
type LLMConfig struct {
	BaseURL string `yaml:"base_url"` // Default: http://localhost:11434
	Model   string `yaml:"model"`
}

// HTTPConfig defines retry and timeout behavior for tool server calls.
type HTTPConfig struct {
	// RequestTimeoutSec bounds each individual attempt, not the whole
	// retry sequence (default 30).
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
	// MaxRetries is the number of additional attempts after the first
	// (default 3).
	MaxRetries int `yaml:"max_retries"`
	// RetryBaseDelayMS is the delay before the first retry; it doubles
	// for each subsequent retry (default 1000).
	RetryBaseDelayMS int `yaml:"retry_base_delay_ms"`
}

// StreamConfig defines how tool results are paced to the terminal.
type StreamConfig struct {
	// ChunkSize is the number of characters per chunk (default 50).
	ChunkSize int `yaml:"chunk_size"`
	// ChunkDelayMS is the pause between chunks (default 10).
	ChunkDelayMS int `yaml:"chunk_delay_ms"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.PersonaFile = expandHome(cfg.PersonaFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with all tunables at their defaults
// and no servers registered.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL: "http://localhost:11434",
			Model:   "qwen3:4b",
		},
		HTTP: HTTPConfig{
			RequestTimeoutSec: 30,
			MaxRetries:        3,
			RetryBaseDelayMS:  1000,
		},
		Stream: StreamConfig{
			ChunkSize:    50,
			ChunkDelayMS: 10,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Validate checks the loaded configuration for values that would only
// fail later and deeper: unparseable log levels, relative or non-HTTP
// server URLs. Zero and missing tunables are not errors; they fall back
// to defaults at the point of use.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q (valid: text, json)", c.LogFormat)
	}

	// Deterministic error order for repeated runs.
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		raw := c.Servers[name]
		if name == "" {
			return fmt.Errorf("server with URL %q has an empty name", raw)
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("server %s: invalid URL %q: %w", name, raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("server %s: URL %q must be http or https", name, raw)
		}
		if u.Host == "" {
			return fmt.Errorf("server %s: URL %q has no host", name, raw)
		}
	}

	return nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) > 1 && p[1] == '/' {
		return filepath.Join(home, p[2:])
	}
	return p
}
