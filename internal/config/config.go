// Package config loads the HTM configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration.
type Config struct {
	// StorePath is the vector-store location. Empty means in-memory.
	StorePath string `toml:"store_path"`

	Embedder EmbedderConfig `toml:"embedder"`
	Import   ImportConfig   `toml:"import"`
}

// EmbedderConfig selects and configures the embedding backend.
type EmbedderConfig struct {
	// Kind is "ollama", "openai" or "fake".
	Kind string `toml:"kind"`

	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`

	// FakeDimension sizes the fake embedder (tests, offline smoke runs).
	FakeDimension int `toml:"fake_dimension"`
}

// Timeout returns the configured timeout as a duration.
func (c EmbedderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ImportConfig holds ingestion and batching settings.
type ImportConfig struct {
	BatchSize       int    `toml:"batch_size"`
	SkipEmpty       bool   `toml:"skip_empty"`
	SkipUnconfirmed bool   `toml:"skip_unconfirmed"`
	MinState        string `toml:"min_state"`
	ExtractMetadata bool   `toml:"extract_metadata"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Embedder: EmbedderConfig{
			Kind:          "ollama",
			FakeDimension: 256,
		},
		Import: ImportConfig{
			BatchSize:       1000,
			SkipEmpty:       true,
			ExtractMetadata: true,
		},
	}
}

// DefaultPath returns the config file location inside the user config
// directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "hybridtm", "config.toml"), nil
}

// Load reads a TOML config file, layering it over the defaults. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration back as TOML, creating the directory
// if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	raw, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: failed to encode: %w", err)
	}
	return os.WriteFile(path, raw, 0o600)
}
