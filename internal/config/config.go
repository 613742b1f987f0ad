package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config contains runtime configuration for memgraph-mcp.
type Config struct {
	ServerName string `yaml:"server_name"`
	LogLevel   string `yaml:"log_level"`

	// Storage paths. GraphBackend selects "sqlite" or "memory".
	GraphBackend  string `yaml:"graph_backend"`
	GraphDBPath   string `yaml:"graph_db_path"`
	PatternDBPath string `yaml:"pattern_db_path"`
	DocStorePath  string `yaml:"doc_store_path"`

	// Federation.
	QueryTimeoutMS     int `yaml:"query_timeout_ms"`
	BreakerMinRequests int `yaml:"breaker_min_requests"`

	// Reasoning heuristics. Kept configurable; the defaults are the
	// inherited values, not derived ones.
	DecayFactor           float64 `yaml:"decay_factor"`
	TemporalWindowSeconds int     `yaml:"temporal_window_seconds"`
	MinScore              float64 `yaml:"min_score"`
	MaxHopsCap            int     `yaml:"max_hops_cap"`

	// Orchestrator.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	CacheMaxEntries int `yaml:"cache_max_entries"`
	DefaultLimit    int `yaml:"default_limit"`
	DefaultTokens   int `yaml:"default_tokens"`
}

// Default returns a Config populated with safe defaults.
func Default() Config {
	base := filepath.Join(userHomeDir(), ".memgraph-mcp")
	return Config{
		ServerName:            "memgraph-mcp",
		LogLevel:              "info",
		GraphBackend:          "sqlite",
		GraphDBPath:           filepath.Join(base, "graph.db"),
		PatternDBPath:         filepath.Join(base, "patterns.db"),
		DocStorePath:          filepath.Join(base, "documents"),
		QueryTimeoutMS:        2000,
		BreakerMinRequests:    5,
		DecayFactor:           0.7,
		TemporalWindowSeconds: 300,
		MinScore:              0.1,
		MaxHopsCap:            5,
		CacheTTLSeconds:       300,
		CacheMaxEntries:       4096,
		DefaultLimit:          10,
		DefaultTokens:         2000,
	}
}

// Load loads config from disk; if path does not exist, default config is returned.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks configuration sanity.
func (c *Config) Validate() error {
	if c.ServerName == "" {
		return errors.New("server_name must not be empty")
	}
	if c.GraphBackend != "sqlite" && c.GraphBackend != "memory" {
		return fmt.Errorf("invalid graph_backend %q (expected sqlite or memory)", c.GraphBackend)
	}
	if c.GraphBackend == "sqlite" && c.GraphDBPath == "" {
		return errors.New("graph_db_path must not be empty")
	}
	if c.QueryTimeoutMS <= 0 {
		return errors.New("query_timeout_ms must be > 0")
	}
	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		return errors.New("decay_factor must be in (0, 1)")
	}
	if c.TemporalWindowSeconds < 0 {
		return errors.New("temporal_window_seconds must be >= 0")
	}
	if c.MinScore < 0 || c.MinScore >= 1 {
		return errors.New("min_score must be in [0, 1)")
	}
	if c.MaxHopsCap <= 0 {
		return errors.New("max_hops_cap must be > 0")
	}
	if c.CacheTTLSeconds <= 0 {
		return errors.New("cache_ttl_seconds must be > 0")
	}
	if c.CacheMaxEntries <= 0 {
		return errors.New("cache_max_entries must be > 0")
	}
	if c.DefaultLimit <= 0 {
		return errors.New("default_limit must be > 0")
	}
	if c.DefaultTokens <= 0 {
		return errors.New("default_tokens must be > 0")
	}
	return nil
}

// EnsurePaths expands and creates parent directories for config-managed paths.
func (c *Config) EnsurePaths() error {
	c.GraphDBPath = ExpandPath(c.GraphDBPath)
	c.PatternDBPath = ExpandPath(c.PatternDBPath)
	c.DocStorePath = ExpandPath(c.DocStorePath)
	for _, p := range []string{c.GraphDBPath, c.PatternDBPath, c.DocStorePath} {
		if p == "" {
			continue
		}
		parent := filepath.Dir(p)
		if parent == "." {
			continue
		}
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("create parent dir for %s: %w", p, err)
		}
	}
	return nil
}

// ExpandPath expands "~/" to the current user's home directory.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p == "~" {
		return userHomeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(userHomeDir(), p[2:])
	}
	return p
}

func userHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
