// Package config provides configuration management for cogwire.
// Settings are resolved in three layers: built-in defaults, then the
// optional ~/.cogwire/config.yaml file, then environment variables with
// the COGWIRE_ prefix. Environment variables always win.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Server identity. These are part of the wire contract: the initialize
// handshake echoes them back regardless of what the peer claims.
const (
	ServerName      = "cogwire"
	ServerVersion   = "0.1.0"
	ProtocolVersion = "2024-11-05"
)

// Config holds all configuration settings for the cogwire server and CLI.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Monitor    MonitorConfig    `yaml:"monitor"`
}

// ServerConfig contains identity and platform settings.
type ServerConfig struct {
	// Platform labels where captured traffic came from (e.g. "claude-desktop",
	// "claude-code"). Stored on every event row.
	Platform string `yaml:"platform"`
}

// StorageConfig contains capture database configuration.
type StorageConfig struct {
	// Engine selects the persistence sink: "sqlite" (default) or "postgres".
	Engine string `yaml:"engine"`
	// DataPath is the directory holding the sqlite database and logs
	// (default: ~/.cogwire).
	DataPath string `yaml:"data_path"`
	// PostgresDSN is the connection string used when Engine is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`
}

// EmbeddingsConfig configures the semantic embedding pipeline.
type EmbeddingsConfig struct {
	// OllamaURL is the base URL of an Ollama instance used for real
	// embeddings. Empty means the deterministic local embedder is used.
	OllamaURL string `yaml:"ollama_url"`
	// Model is the Ollama embedding model name (default: nomic-embed-text).
	Model string `yaml:"model"`
	// Dimensions is the embedding vector size (default: 384).
	Dimensions int `yaml:"dimensions"`
	// RatePerSec caps real-time embedding throughput. Events over budget are
	// skipped rather than queued so capture never backs up (default: 4).
	RatePerSec float64 `yaml:"rate_per_sec"`
}

// MonitorConfig configures the optional websocket live-feed listener.
type MonitorConfig struct {
	// Addr is the listen address for the monitor HTTP endpoint, e.g.
	// "127.0.0.1:6364". Empty disables the monitor.
	Addr string `yaml:"addr"`
}

// Load resolves configuration from defaults, the config file, and the
// environment, in that order of precedence (environment wins).
func Load() (*Config, error) {
	cfg := defaults()

	path := configFilePath()
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Storage.Engine != "sqlite" && cfg.Storage.Engine != "postgres" {
		return nil, fmt.Errorf("config: unknown storage engine %q", cfg.Storage.Engine)
	}
	return cfg, nil
}

// DBPath returns the path to the sqlite capture database.
func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.DataPath, "capture.db")
}

// LogDir returns the directory for file logs.
func (c *Config) LogDir() string {
	return filepath.Join(c.Storage.DataPath, "logs")
}

// EnsureDirs creates the data and log directories if missing.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(c.Storage.DataPath, 0o700); err != nil {
		return fmt.Errorf("config: failed to create data dir %q: %w", c.Storage.DataPath, err)
	}
	if err := os.MkdirAll(c.LogDir(), 0o700); err != nil {
		return fmt.Errorf("config: failed to create log dir %q: %w", c.LogDir(), err)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Platform: "claude-desktop",
		},
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: defaultDataPath(),
		},
		Embeddings: EmbeddingsConfig{
			Model:      "nomic-embed-text",
			Dimensions: 384,
			RatePerSec: 4,
		},
	}
}

func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cogwire"
	}
	return filepath.Join(home, ".cogwire")
}

// configFilePath returns the config file location, honoring COGWIRE_CONFIG.
func configFilePath() string {
	if p := os.Getenv("COGWIRE_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(defaultDataPath(), "config.yaml")
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("COGWIRE_PLATFORM"); v != "" {
		cfg.Server.Platform = v
	}
	if v := os.Getenv("COGWIRE_STORAGE_ENGINE"); v != "" {
		cfg.Storage.Engine = v
	}
	if v := os.Getenv("COGWIRE_DATA_PATH"); v != "" {
		cfg.Storage.DataPath = v
	}
	if v := os.Getenv("COGWIRE_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("COGWIRE_OLLAMA_URL"); v != "" {
		cfg.Embeddings.OllamaURL = v
	}
	if v := os.Getenv("COGWIRE_EMBEDDING_MODEL"); v != "" {
		cfg.Embeddings.Model = v
	}
	if v := os.Getenv("COGWIRE_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Embeddings.Dimensions = n
		}
	}
	if v := os.Getenv("COGWIRE_EMBEDDING_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Embeddings.RatePerSec = f
		}
	}
	if v := os.Getenv("COGWIRE_MONITOR_ADDR"); v != "" {
		cfg.Monitor.Addr = v
	}
}
