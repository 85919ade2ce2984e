// Package config holds the daemon configuration persisted as TOML.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.drift/config.toml.
type Config struct {
	DefaultProfile string   `toml:"default_profile"`
	Store          Store    `toml:"store"`
	Gateway        Gateway  `toml:"gateway"`
	Auth           Auth     `toml:"auth"`
	Messages       Messages `toml:"messages"`
}

// Store selects and configures the document store backend.
type Store struct {
	// Backend is one of "memory", "sqlite", "mongo".
	Backend string `toml:"backend"`
	// SQLitePath overrides the per-profile database file location.
	SQLitePath string `toml:"sqlite_path"`
	// MongoURI is the connection string for the mongo backend.
	MongoURI string `toml:"mongo_uri"`
	// MongoDatabase is the database name for the mongo backend.
	MongoDatabase string `toml:"mongo_database"`
}

// Gateway configures the websocket gateway listener.
type Gateway struct {
	Listen string `toml:"listen"`
}

// Auth configures token verification.
type Auth struct {
	Secret string `toml:"secret"`
}

// Messages configures the live message window.
type Messages struct {
	Window int `toml:"window"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Store:          Store{Backend: "sqlite", MongoDatabase: "drift"},
		Gateway:        Gateway{Listen: "127.0.0.1:8480"},
		Messages:       Messages{Window: 50},
	}
}

// Load reads config from the given path. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from the given path, falling back to defaults
// when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
