package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidEmbeddingProviders lists recognized embedding provider names. Used by
// [Validate] to reject unrecognized provider names.
var ValidEmbeddingProviders = []string{"openai"}

// ValidModes lists the recognized retrieval dispatcher modes.
var ValidModes = []string{"lexical_only", "graph_only", "hybrid"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults to unset
// fields, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-value fields with the dispatcher's built-in
// defaults, so a minimal config file is valid.
func applyDefaults(cfg *Config) {
	if cfg.Retrieval.DefaultMode == "" {
		cfg.Retrieval.DefaultMode = "hybrid"
	}
	if cfg.Retrieval.DefaultTopK <= 0 {
		cfg.Retrieval.DefaultTopK = 5
	}
	if cfg.Retrieval.DefaultMaxTokens <= 0 {
		cfg.Retrieval.DefaultMaxTokens = 2000
	}
	if cfg.Retrieval.RequestDeadline <= 0 {
		cfg.Retrieval.RequestDeadline = 5 * time.Second
	}
	if cfg.Retrieval.EmbeddingConcurrency <= 0 {
		cfg.Retrieval.EmbeddingConcurrency = 32
	}
	if cfg.Retrieval.CacheTTL == 0 {
		cfg.Retrieval.CacheTTL = 60 * time.Second
	}
	if cfg.Retrieval.MaxHops <= 0 {
		cfg.Retrieval.MaxHops = 2
	}
	if cfg.Embedding.Dimensions <= 0 {
		cfg.Embedding.Dimensions = 768
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required"))
	}

	if cfg.Embedding.Provider == "" {
		errs = append(errs, errors.New("embedding.provider is required"))
	} else if !contains(ValidEmbeddingProviders, cfg.Embedding.Provider) {
		errs = append(errs, fmt.Errorf("embedding.provider %q is not a recognized provider; valid values: %v", cfg.Embedding.Provider, ValidEmbeddingProviders))
	}

	if cfg.Retrieval.DefaultMode != "" && !contains(ValidModes, cfg.Retrieval.DefaultMode) {
		errs = append(errs, fmt.Errorf("retrieval.default_mode %q is invalid; valid values: %v", cfg.Retrieval.DefaultMode, ValidModes))
	}

	if cfg.Retrieval.RequestDeadline < 0 {
		errs = append(errs, errors.New("retrieval.request_deadline must not be negative"))
	}

	return errors.Join(errs...)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
