// Package config loads lull's configuration with viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	appName    = "lull"
	envPrefix  = "LULL"
	configName = "config"
	configType = "yaml"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Download DownloadConfig `mapstructure:"download"`
	Network  NetworkConfig  `mapstructure:"network"`
	Player   PlayerConfig   `mapstructure:"player"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds the catalog server connection
type ServerConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// StorageConfig holds on-disk locations
type StorageConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	DownloadDir string `mapstructure:"download_dir"`
}

// CacheConfig holds cache lifetimes. TTLs is keyed by cache key
// ("home_sections", "categories", "tracks").
type CacheConfig struct {
	DefaultTTL time.Duration            `mapstructure:"default_ttl"`
	TTLs       map[string]time.Duration `mapstructure:"ttls"`
}

// SyncConfig tunes the sync engine
type SyncConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	Strategy         string        `mapstructure:"strategy"` // "full" or "hash"
	MinSnapshotRatio float64       `mapstructure:"min_snapshot_ratio"`
}

// DownloadConfig tunes the download engine
type DownloadConfig struct {
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// NetworkConfig controls connectivity probing
type NetworkConfig struct {
	ProbeURL      string        `mapstructure:"probe_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	AssumeMetered bool          `mapstructure:"assume_metered"`
}

// PlayerConfig holds media player configuration
type PlayerConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// MetricsConfig holds the metrics listener address used by "lull serve"
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	data := defaultDataPath()
	return &Config{
		Storage: StorageConfig{
			DataDir:     data,
			DownloadDir: filepath.Join(data, "downloads"),
		},
		Cache: CacheConfig{
			DefaultTTL: 30 * time.Minute,
			TTLs: map[string]time.Duration{
				"home_sections": 15 * time.Minute,
				"categories":    60 * time.Minute,
				"tracks":        30 * time.Minute,
			},
		},
		Sync: SyncConfig{
			Timeout:  8 * time.Second,
			Strategy: "full",
		},
		Download: DownloadConfig{
			ProgressInterval: time.Second,
		},
		Network: NetworkConfig{
			ProbeInterval: 30 * time.Second,
		},
		// Empty command auto-detects an installed player.
		Player: PlayerConfig{Args: []string{}},
		Logging: LoggingConfig{
			File:  filepath.Join(data, appName+".log"),
			Level: "INFO",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
	}
}

// defaultDataPath returns the default data directory for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), appName)
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", appName)
	}
}

// DefaultConfigDir returns the default config directory for the current OS
func DefaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), appName)
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", appName)
	}
}

// newViper returns a viper instance carrying every default, so that
// AutomaticEnv can override keys that are absent from the file.
func newViper(cfg *Config) *viper.Viper {
	v := viper.New()
	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setAll(v, cfg)
	return v
}

// setAll writes cfg into v. Used for both defaults and saving; durations are
// written as strings so the saved file stays readable.
func setAll(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.url", cfg.Server.URL)
	v.SetDefault("server.token", cfg.Server.Token)
	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	v.SetDefault("storage.download_dir", cfg.Storage.DownloadDir)
	v.SetDefault("cache.default_ttl", cfg.Cache.DefaultTTL.String())
	v.SetDefault("cache.ttls", durationStrings(cfg.Cache.TTLs))
	v.SetDefault("sync.timeout", cfg.Sync.Timeout.String())
	v.SetDefault("sync.strategy", cfg.Sync.Strategy)
	v.SetDefault("sync.min_snapshot_ratio", cfg.Sync.MinSnapshotRatio)
	v.SetDefault("download.progress_interval", cfg.Download.ProgressInterval.String())
	v.SetDefault("network.probe_url", cfg.Network.ProbeURL)
	v.SetDefault("network.probe_interval", cfg.Network.ProbeInterval.String())
	v.SetDefault("network.assume_metered", cfg.Network.AssumeMetered)
	v.SetDefault("player.command", cfg.Player.Command)
	v.SetDefault("player.args", cfg.Player.Args)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
}

// Load reads configuration from file and environment. With an empty path it
// searches the OS config directory and the working directory; a missing file
// is fine and yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := newViper(cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(DefaultConfigDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
		case path != "" && errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	cfg.Storage.DataDir = expandHome(cfg.Storage.DataDir)
	cfg.Storage.DownloadDir = expandHome(cfg.Storage.DownloadDir)
	cfg.Logging.File = expandHome(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, or to config.yaml in the default config
// directory when path is empty.
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		path = filepath.Join(DefaultConfigDir(), configName+"."+configType)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType(configType)
	setAll(v, cfg)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Sync.Strategy) {
	case "", "full", "hash":
	default:
		return fmt.Errorf("sync.strategy must be \"full\" or \"hash\", got %q", c.Sync.Strategy)
	}
	if c.Sync.MinSnapshotRatio < 0 || c.Sync.MinSnapshotRatio > 1 {
		return fmt.Errorf("sync.min_snapshot_ratio must be between 0 and 1, got %v", c.Sync.MinSnapshotRatio)
	}
	if c.Sync.Timeout <= 0 {
		return errors.New("sync.timeout must be positive")
	}
	if d := c.Download.ProgressInterval; d != 0 && d < time.Second {
		return fmt.Errorf("download.progress_interval must be at least 1s, got %v", d)
	}
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	return nil
}

// IsConfigured returns true if a catalog server is set
func (c *Config) IsConfigured() bool {
	return c.Server.URL != ""
}

// DownloadDir returns the download directory, defaulting under the data dir.
func (c *Config) DownloadDir() string {
	if c.Storage.DownloadDir != "" {
		return c.Storage.DownloadDir
	}
	return filepath.Join(c.Storage.DataDir, "downloads")
}

func durationStrings(m map[string]time.Duration) map[string]string {
	out := make(map[string]string, len(m))
	for k, d := range m {
		out[k] = d.String()
	}
	return out
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}
