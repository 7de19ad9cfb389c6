// Package config loads answersync settings from answersync.yaml, the
// environment (ANSWERSYNC_*) and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ANSWERSYNC_REMOTE_BASE_URL.
const EnvPrefix = "ANSWERSYNC"

type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Remote RemoteConfig `mapstructure:"remote"`
	Probe  ProbeConfig  `mapstructure:"probe"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Log    LogConfig    `mapstructure:"log"`
	API    APIConfig    `mapstructure:"api"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type RemoteConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	TokenParameter string        `mapstructure:"token_parameter"`
	AWSRegion      string        `mapstructure:"aws_region"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type ProbeConfig struct {
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Interval time.Duration `mapstructure:"interval"`
}

type SyncConfig struct {
	OnStart       bool    `mapstructure:"on_start"`
	Rate          float64 `mapstructure:"rate"` // remote calls per second during batch retry, 0 = unpaced
	Burst         int     `mapstructure:"burst"`
	SkipRejected  bool    `mapstructure:"skip_rejected"`
	InitialOnline bool    `mapstructure:"initial_online"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

// Options control where Load looks.
type Options struct {
	// File is an explicit config file. When empty, answersync.yaml is
	// searched for in SearchPaths and its absence is not an error.
	File        string
	SearchPaths []string

	// EnvFile is loaded into the process environment before reading
	// overrides. Defaults to ".env"; a missing file is ignored.
	EnvFile string
}

// Load resolves the configuration. The returned viper instance remembers
// the file that was read so Watch can follow it.
func Load(opts Options) (*Config, *viper.Viper, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("answersync")
		v.SetConfigType("yaml")
		paths := opts.SearchPaths
		if len(paths) == 0 {
			paths = defaultSearchPaths()
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the agent cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("config: store.path must not be empty")
	}
	if c.Sync.Rate < 0 {
		return fmt.Errorf("config: sync.rate must not be negative, got %v", c.Sync.Rate)
	}
	if c.Probe.Interval < 0 || c.Probe.Timeout < 0 || c.Remote.Timeout < 0 {
		return errors.New("config: durations must not be negative")
	}
	if c.Remote.TokenParameter != "" && c.Remote.Token != "" {
		return errors.New("config: set either remote.token or remote.token_parameter, not both")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", "answersync.db")

	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.token_parameter", "")
	v.SetDefault("remote.aws_region", "")
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("probe.url", "")
	v.SetDefault("probe.timeout", 5*time.Second)
	v.SetDefault("probe.interval", 15*time.Second)

	v.SetDefault("sync.on_start", true)
	v.SetDefault("sync.rate", 0.0)
	v.SetDefault("sync.burst", 1)
	v.SetDefault("sync.skip_rejected", false)
	v.SetDefault("sync.initial_online", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", false)

	v.SetDefault("api.listen", "127.0.0.1:8765")
}

func defaultSearchPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, dir+string(os.PathSeparator)+"answersync")
	}
	return paths
}
