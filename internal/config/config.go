// ABOUTME: Configuration loading and parsing for scout-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete scout-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Grounding GroundingConfig `yaml:"grounding"`
	Research  ResearchConfig  `yaml:"research"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds storage paths: Pebble dir for conversation memory,
// SQLite file for the turn ledger, Pebble dir for the fetched-page cache.
type DatabaseConfig struct {
	MemoryPath string `yaml:"memory_path"`
	LedgerPath string `yaml:"ledger_path"`
	CachePath  string `yaml:"cache_path"`
}

// LLMConfig holds the text-generation collaborator configuration
type LLMConfig struct {
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`

	// USD per 1k tokens, used for per-turn cost accounting
	PromptCostPer1K     float64 `yaml:"prompt_cost_per_1k"`
	CompletionCostPer1K float64 `yaml:"completion_cost_per_1k"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// GroundingConfig holds the grounding-search collaborator configuration
type GroundingConfig struct {
	BaseURL     string        `yaml:"base_url"`
	MaxSnippets int           `yaml:"max_snippets"`
	Timeout     time.Duration `yaml:"-"`
	TimeoutRaw  string        `yaml:"timeout"`
}

// ResearchConfig holds live-research defaults and limits
type ResearchConfig struct {
	SelectQueries    int     `yaml:"select_queries"`
	QueryFraction    float64 `yaml:"query_fraction"`
	ResultFraction   float64 `yaml:"result_fraction"`
	ResultsPerQuery  int     `yaml:"results_per_query"`
	MaxConcurrency   int     `yaml:"max_concurrency"`
	FetchesPerSecond float64 `yaml:"fetches_per_second"`

	SubCallTimeout    time.Duration `yaml:"-"`
	SubCallTimeoutRaw string        `yaml:"sub_call_timeout"`
	TurnTimeout       time.Duration `yaml:"-"`
	TurnTimeoutRaw    string        `yaml:"turn_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero values that have sensible defaults.
func (c *Config) applyDefaults() {
	if c.Research.SelectQueries == 0 {
		c.Research.SelectQueries = 5
	}
	if c.Research.QueryFraction == 0 {
		c.Research.QueryFraction = 0.25
	}
	if c.Research.ResultFraction == 0 {
		c.Research.ResultFraction = 0.25
	}
	if c.Research.ResultsPerQuery == 0 {
		c.Research.ResultsPerQuery = 8
	}
	if c.Research.MaxConcurrency == 0 {
		c.Research.MaxConcurrency = 4
	}
	if c.Research.FetchesPerSecond == 0 {
		c.Research.FetchesPerSecond = 2
	}
	if c.Research.SubCallTimeout == 0 {
		c.Research.SubCallTimeout = 90 * time.Second
	}
	if c.Research.TurnTimeout == 0 {
		c.Research.TurnTimeout = 5 * time.Minute
	}
	if c.Grounding.MaxSnippets == 0 {
		c.Grounding.MaxSnippets = 6
	}
	if c.Grounding.Timeout == 0 {
		c.Grounding.Timeout = 20 * time.Second
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.MemoryPath == "" {
		return fmt.Errorf("database.memory_path is required")
	}
	if c.Database.LedgerPath == "" {
		return fmt.Errorf("database.ledger_path is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if c.Research.QueryFraction < 0 || c.Research.QueryFraction > 1 {
		return fmt.Errorf("research.query_fraction must be in [0,1]")
	}
	if c.Research.ResultFraction < 0 || c.Research.ResultFraction > 1 {
		return fmt.Errorf("research.result_fraction must be in [0,1]")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.LLM.TimeoutRaw, "llm.timeout", &cfg.LLM.Timeout},
		{cfg.Grounding.TimeoutRaw, "grounding.timeout", &cfg.Grounding.Timeout},
		{cfg.Research.SubCallTimeoutRaw, "research.sub_call_timeout", &cfg.Research.SubCallTimeout},
		{cfg.Research.TurnTimeoutRaw, "research.turn_timeout", &cfg.Research.TurnTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
