// Package config loads and validates WarpGraph's runtime configuration,
// following the teacher's viper + godotenv layering: defaults, then a
// YAML file, then environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all WarpGraph runtime settings.
type Config struct {
	// Graph is the default graph namespace new CLI invocations operate on.
	Graph string `yaml:"graph"`

	// Writer is this process's writer identity for commits it creates.
	Writer string `yaml:"writer"`

	Persistence PersistenceConfig `yaml:"persistence"`
	Sync        SyncConfig        `yaml:"sync"`
	SeekCache   SeekCacheConfig   `yaml:"seek_cache"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
}

// PersistenceConfig configures the PersistencePort backing store.
type PersistenceConfig struct {
	Backend string `yaml:"backend"` // "memory" or "bbolt"
	Path    string `yaml:"path"`    // bbolt database file, when Backend == "bbolt"
}

// SyncConfig configures peer synchronization and its HMAC authentication.
type SyncConfig struct {
	RemoteURL       string        `yaml:"remote_url"`
	Path            string        `yaml:"path"` // default "/sync"
	KeyID           string        `yaml:"key_id"`
	Secret          string        `yaml:"secret"`
	Mode            string        `yaml:"mode"` // "enforce" or "log-only"
	MaxClockSkew    time.Duration `yaml:"max_clock_skew"`
	NonceCacheSize  int           `yaml:"nonce_cache_size"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	WriterAllowList []string      `yaml:"writer_allow_list"`
}

// SeekCacheConfig configures the materialization snapshot cache.
type SeekCacheConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CheckpointConfig configures automatic checkpoint creation.
type CheckpointConfig struct {
	PatchInterval int `yaml:"patch_interval"` // create a checkpoint every N patches, 0 = manual only
}

// Default returns WarpGraph's default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Graph:  "default",
		Writer: "local",
		Persistence: PersistenceConfig{
			Backend: "memory",
			Path:    filepath.Join(homeDir, ".warpgraph", "store.db"),
		},
		Sync: SyncConfig{
			Path:           "/sync",
			Mode:           "enforce",
			MaxClockSkew:   5 * time.Minute,
			NonceCacheSize: 100_000,
			MaxBodyBytes:   4 * 1024 * 1024,
			RequestTimeout: 10 * time.Second,
			MaxRetries:     5,
		},
		SeekCache: SeekCacheConfig{Enabled: true},
		Checkpoint: CheckpointConfig{
			PatchInterval: 500,
		},
	}
}

// Load loads configuration from an optional YAML path, layering defaults,
// file contents, and environment variable overrides, in that order of
// increasing precedence — the same layering the teacher's config.Load uses.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("graph", cfg.Graph)
	v.SetDefault("writer", cfg.Writer)
	v.SetDefault("persistence", cfg.Persistence)
	v.SetDefault("sync", cfg.Sync)
	v.SetDefault("seek_cache", cfg.SeekCache)
	v.SetDefault("checkpoint", cfg.Checkpoint)

	v.SetEnvPrefix("WARPGRAPH")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".warpgraph")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".warpgraph"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadEnvFiles() {
	envFiles := []string{".env.local", ".env", ".env.example"}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			if err := godotenv.Load(file); err == nil {
				continue
			}
		}
	}
	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".warpgraph", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

func applyEnvOverrides(cfg *Config) {
	if graph := os.Getenv("WARPGRAPH_GRAPH"); graph != "" {
		cfg.Graph = graph
	}
	if writer := os.Getenv("WARPGRAPH_WRITER"); writer != "" {
		cfg.Writer = writer
	}
	if secret := os.Getenv("WARPGRAPH_SYNC_SECRET"); secret != "" {
		cfg.Sync.Secret = secret
	}
	if keyID := os.Getenv("WARPGRAPH_SYNC_KEY_ID"); keyID != "" {
		cfg.Sync.KeyID = keyID
	}
	if url := os.Getenv("WARPGRAPH_SYNC_REMOTE_URL"); url != "" {
		cfg.Sync.RemoteURL = url
	}
	if path := os.Getenv("WARPGRAPH_PERSISTENCE_PATH"); path != "" {
		cfg.Persistence.Path = expandPath(path)
	}
	if skew := os.Getenv("WARPGRAPH_MAX_CLOCK_SKEW_SECONDS"); skew != "" {
		if seconds, err := strconv.Atoi(skew); err == nil {
			cfg.Sync.MaxClockSkew = time.Duration(seconds) * time.Second
		}
	}
}

func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, path[1:])
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("graph", c.Graph)
	v.Set("writer", c.Writer)
	v.Set("persistence", c.Persistence)
	v.Set("sync", c.Sync)
	v.Set("seek_cache", c.SeekCache)
	v.Set("checkpoint", c.Checkpoint)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
