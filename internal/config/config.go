// Package config loads the stash CLI configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendDir    = "dir"
	BackendBadger = "badger"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the top-level CLI configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// MinTokenLength is the shortest token the encoder accepts (0 = library default).
	MinTokenLength int `yaml:"min_token_length"`

	// Store selects where containers are persisted by put/get.
	Store StoreConfig `yaml:"store"`

	// Log configures the CLI logger.
	Log LogConfig `yaml:"log"`
}

// StoreConfig contains container store settings.
type StoreConfig struct {
	Backend   string `yaml:"backend"`    // dir or badger
	Path      string `yaml:"path"`       // directory for either backend
	InMemory  bool   `yaml:"in_memory"`  // badger only
	CacheSize int    `yaml:"cache_size"` // decoded containers kept in memory; 0 disables the cache
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		MinTokenLength: 4,
		Store: StoreConfig{
			Backend:   BackendDir,
			Path:      ".stash",
			CacheSize: 0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatText,
		},
	}
}

// Load reads a YAML file and overlays it on Default. Unknown fields are
// rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML data over Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.MinTokenLength < 0 {
		return fmt.Errorf("min_token_length must be >= 0, got %d", c.MinTokenLength)
	}
	switch c.Store.Backend {
	case BackendDir:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the dir backend")
		}
		if c.Store.InMemory {
			return errors.New("store.in_memory is only supported by the badger backend")
		}
	case BackendBadger:
		if c.Store.Path == "" && !c.Store.InMemory {
			return errors.New("store.path is required unless store.in_memory is set")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Store.CacheSize < 0 {
		return fmt.Errorf("store.cache_size must be >= 0, got %d", c.Store.CacheSize)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// SlogLevel converts Level to a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("invalid log.level %q: %w", l.Level, err)
	}
	return level, nil
}

// NewLogger builds the CLI logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch l.Format {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case FormatText, "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log.format %q", l.Format)
	}
}
