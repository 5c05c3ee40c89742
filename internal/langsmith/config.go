package langsmith

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultEndpoint is the public LangSmith API base URL.
	DefaultEndpoint = "https://api.smith.langchain.com"
	// DefaultProject is the project traces land in when none is configured.
	DefaultProject = "sapience"
	// DefaultTimeout is the per-call timeout in seconds.
	DefaultTimeout = 30
	// WebBaseURL is the base for human-facing trace/dataset links.
	WebBaseURL = "https://smith.langchain.com"
)

// Config holds LangSmith API connection settings.
type Config struct {
	APIKey     string `yaml:"api_key"`
	Project    string `yaml:"project"`
	Endpoint   string `yaml:"endpoint"`
	APITimeout int    `yaml:"timeout_seconds"`
}

// Load reads configuration from an optional YAML file and the environment.
// Environment variables take precedence over file values. A missing API key
// is not an error: the server starts without a client and reports
// service-unavailable on every tool call instead of crashing.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	}

	if v := os.Getenv("LANGSMITH_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("LANGSMITH_PROJECT"); v != "" {
		cfg.Project = v
	}
	if v := os.Getenv("LANGSMITH_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("LANGSMITH_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.APITimeout = secs
		}
	}

	if cfg.Project == "" {
		cfg.Project = DefaultProject
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.APITimeout == 0 {
		cfg.APITimeout = DefaultTimeout
	}

	return cfg, nil
}

// Configured reports whether the remote client can be constructed.
func (c Config) Configured() bool {
	return c.APIKey != ""
}
