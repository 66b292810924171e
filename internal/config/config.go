// Package config loads and persists the search tool configuration.
//
// Configuration lives in a JSON file under the data directory and can be
// overridden per-field through FSEARCH_* environment variables. Unknown
// fields in the file are preserved by the defaults merge; missing fields
// fall back to defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "FSEARCH"

// Config holds the settings consumed by the index engine.
type Config struct {
	Roots               []string `json:"roots" envconfig:"ROOTS"`
	FileExtensions      []string `json:"file_extensions" envconfig:"FILE_EXTENSIONS"`
	IncludeFolders      bool     `json:"include_folders" split_words:"true"`
	MaxResults          int      `json:"max_results" split_words:"true"`
	DBPath              string   `json:"db_path" envconfig:"DB_PATH"`
	AutoRebuildOnLaunch bool     `json:"auto_rebuild_on_launch" split_words:"true"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		Roots:          []string{},
		FileExtensions: []string{".ma", ".mb"},
		IncludeFolders: false,
		MaxResults:     200,
		DBPath:         "fsearch.db",
	}
}

// NormalizedExtensions returns the extension allow-list lowercased and
// guaranteed to start with a dot. Empty or blank entries are dropped.
func (c *Config) NormalizedExtensions() []string {
	normalized := make([]string, 0, len(c.FileExtensions))
	for _, ext := range c.FileExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}
	return normalized
}

// Store reads and writes the JSON configuration file.
type Store struct {
	dataDir string
	path    string
}

// NewStore creates a store rooted at dataDir. If configPath is empty the
// file lives at <dataDir>/config.json. If dataDir is empty it defaults to
// $FSEARCH_DATA or ~/.fsearch.
func NewStore(dataDir, configPath string) *Store {
	if dataDir == "" {
		dataDir = os.Getenv(envPrefix + "_DATA")
	}
	if dataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dataDir = filepath.Join(home, ".fsearch")
		} else {
			dataDir = ".fsearch"
		}
	}
	if configPath == "" {
		configPath = filepath.Join(dataDir, "config.json")
	}
	return &Store{dataDir: dataDir, path: configPath}
}

// DataDir returns the directory holding the config file and, by default,
// the index database.
func (s *Store) DataDir() string { return s.dataDir }

// Path returns the config file location.
func (s *Store) Path() string { return s.path }

// Load returns the configuration merged with defaults and environment
// overrides. A missing file is not an error: defaults are written out and
// returned. A corrupt file falls back to defaults without overwriting it.
func (s *Store) Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		if err := s.Save(cfg); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", s.path, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			cfg = Default()
		} else {
			applyLegacyKeys(data, cfg)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("env override: %w", err)
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = Default().MaxResults
	}
	return cfg, nil
}

// Save persists the config with stable formatting.
func (s *Store) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", s.path, err)
	}
	return nil
}

// ResolveDBPath resolves the configured db_path to an absolute location.
// Absolute paths pass through; relative paths land under the data dir.
func (s *Store) ResolveDBPath(cfg *Config) string {
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = Default().DBPath
	}
	if filepath.IsAbs(dbPath) {
		return dbPath
	}
	return filepath.Join(s.dataDir, filepath.Base(dbPath))
}

// applyLegacyKeys maps renamed config keys from older files onto cfg.
func applyLegacyKeys(data []byte, cfg *Config) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return
	}
	if _, ok := raw["auto_rebuild_on_launch"]; ok {
		return
	}
	if legacy, ok := raw["index_on_import"]; ok {
		var v bool
		if err := json.Unmarshal(legacy, &v); err == nil {
			cfg.AutoRebuildOnLaunch = v
		}
	}
}
