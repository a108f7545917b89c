// Package config reads and writes the pulse CLI configuration file.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all CLI configuration
type Config struct {
	Server ServerConfig `toml:"server"`
	Auth   AuthConfig   `toml:"auth"`
	Local  LocalConfig  `toml:"local"`
}

// ServerConfig says which API server to talk to
type ServerConfig struct {
	URL string `toml:"url"`
}

// AuthConfig holds the token from `pulse login`
type AuthConfig struct {
	Email string `toml:"email,omitempty"`
	Token string `toml:"token,omitempty"`
}

// LocalConfig holds settings for pipelines run with `pulse run`
type LocalConfig struct {
	// DatabasePath is the SQLite file local executions are kept in. Empty
	// disables the history.
	DatabasePath string `toml:"database_path"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			URL: "http://localhost:3000",
		},
		Local: LocalConfig{
			DatabasePath: filepath.Join(home, ".config", "pulse", "history.db"),
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.Server.URL = strings.TrimSuffix(cfg.Server.URL, "/")
	cfg.Local.DatabasePath = ExpandPath(cfg.Local.DatabasePath)

	return cfg, nil
}

// Save writes cfg to path, creating its directory. The file holds the API
// token, so only the owner can read it.
func Save(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "pulse", "config.toml")
}
