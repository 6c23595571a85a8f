// Package config layers parcel settings from defaults, a YAML config file,
// a .env file, PARCEL_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/tanq16/parcel/internal/checkpoint"
	"github.com/tanq16/parcel/internal/engine"
	"github.com/tanq16/parcel/internal/utils"
)

const EnvPrefix = "PARCEL"

type RetryConfig struct {
	Attempts  int           `mapstructure:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
}

type CheckpointConfig struct {
	Backend  string        `mapstructure:"backend"`
	Dir      string        `mapstructure:"dir"`
	TTL      time.Duration `mapstructure:"ttl"`
	Interval time.Duration `mapstructure:"interval"`
}

type Config struct {
	Connections      int              `mapstructure:"connections"`
	MinSegmentSize   string           `mapstructure:"min_segment_size"`
	Workers          int              `mapstructure:"workers"`
	Timeout          time.Duration    `mapstructure:"timeout"`
	KeepAliveTimeout time.Duration    `mapstructure:"keep_alive_timeout"`
	UserAgent        string           `mapstructure:"user_agent"`
	Proxy            string           `mapstructure:"proxy"`
	ProxyUsername    string           `mapstructure:"proxy_username"`
	ProxyPassword    string           `mapstructure:"proxy_password"`
	Headers          []string         `mapstructure:"headers"`
	BearerToken      string           `mapstructure:"bearer_token"`
	Retry            RetryConfig      `mapstructure:"retry"`
	MaxRestarts      int              `mapstructure:"max_restarts"`
	RestartSegments  bool             `mapstructure:"restart_segments"`
	Checkpoint       CheckpointConfig `mapstructure:"checkpoint"`
	AWSProfile       string           `mapstructure:"aws_profile"`
	AzureEndpoint    string           `mapstructure:"azure_endpoint"`
	Debug            bool             `mapstructure:"debug"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("connections", 8)
	v.SetDefault("min_segment_size", "1MiB")
	v.SetDefault("workers", 1)
	v.SetDefault("timeout", 3*time.Minute)
	v.SetDefault("keep_alive_timeout", 90*time.Second)
	v.SetDefault("user_agent", utils.ToolUserAgent)
	v.SetDefault("proxy", "")
	v.SetDefault("proxy_username", "")
	v.SetDefault("proxy_password", "")
	v.SetDefault("headers", []string{})
	v.SetDefault("bearer_token", "")
	v.SetDefault("retry.attempts", 5)
	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("max_restarts", 3)
	v.SetDefault("restart_segments", false)
	v.SetDefault("checkpoint.backend", checkpoint.BackendFile)
	v.SetDefault("checkpoint.dir", "")
	v.SetDefault("checkpoint.ttl", 7*24*time.Hour)
	v.SetDefault("checkpoint.interval", 2*time.Second)
	v.SetDefault("aws_profile", "")
	v.SetDefault("azure_endpoint", "")
	v.SetDefault("debug", false)
}

// NewViper returns a viper instance with defaults, environment binding and,
// if found, the config file applied. An explicit configFile must exist;
// the default locations are optional.
func NewViper(configFile string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Debug().Str("op", "config/load").Err(err).Msg("Ignoring unreadable .env file")
	}
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		return v, nil
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "parcel"))
	}
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		log.Debug().Str("op", "config/load").Msgf("Using config file %s", v.ConfigFileUsed())
	}
	return v, nil
}

func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Connections < 1 {
		return fmt.Errorf("connections must be at least 1, got %d", c.Connections)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if _, err := c.MinSegmentBytes(); err != nil {
		return err
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return errors.New("retry delays must not be negative")
	}
	if c.MaxRestarts < 0 {
		return fmt.Errorf("max_restarts must not be negative, got %d", c.MaxRestarts)
	}
	switch c.Checkpoint.Backend {
	case checkpoint.BackendFile, checkpoint.BackendBadger:
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	return nil
}

// MinSegmentBytes parses min_segment_size, which accepts plain byte counts
// as well as "512KiB" or "4MB".
func (c *Config) MinSegmentBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.MinSegmentSize)
	if err != nil {
		return 0, fmt.Errorf("invalid min_segment_size %q: %w", c.MinSegmentSize, err)
	}
	if n == 0 {
		return 0, errors.New("min_segment_size must be positive")
	}
	return int64(n), nil
}

// CheckpointDir resolves the checkpoint directory, defaulting to the user
// cache directory.
func (c *Config) CheckpointDir() string {
	if c.Checkpoint.Dir != "" {
		return c.Checkpoint.Dir
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "parcel", "checkpoints")
	}
	return filepath.Join(engine.TempDirName, "checkpoints")
}

// ConnectionsPerLink spreads the connection budget over parallel transfers
// so that all of them together stay under utils.MaxConnections.
func (c *Config) ConnectionsPerLink() int {
	conns := c.Connections
	if c.Workers*conns > utils.MaxConnections {
		conns = max(utils.MaxConnections/c.Workers, 1)
	}
	return conns
}

func (c *Config) EngineOptions() (engine.Options, error) {
	minSeg, err := c.MinSegmentBytes()
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Concurrency:    c.ConnectionsPerLink(),
		MinSegmentSize: minSeg,
		Retry: engine.RetryPolicy{
			MaxAttempts: c.Retry.Attempts,
			BaseDelay:   c.Retry.BaseDelay,
			MaxDelay:    c.Retry.MaxDelay,
			Jitter:      true,
		},
		MaxRestarts:        c.MaxRestarts,
		RestartSegments:    c.RestartSegments,
		CheckpointInterval: c.Checkpoint.Interval,
		CheckpointTTL:      c.Checkpoint.TTL,
	}, nil
}

// HTTPClientConfig builds the HTTP client settings. Credentials embedded in
// the proxy URL are moved into the username and password fields unless those
// were given explicitly.
func (c *Config) HTTPClientConfig() utils.HTTPClientConfig {
	userAgent := c.UserAgent
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	proxyURL, proxyUser, proxyPass := c.Proxy, c.ProxyUsername, c.ProxyPassword
	if parsed, err := url.Parse(proxyURL); err == nil && parsed.User != nil && proxyUser == "" {
		proxyUser = parsed.User.Username()
		if password, set := parsed.User.Password(); set {
			proxyPass = password
		}
		parsed.User = nil
		proxyURL = parsed.String()
	}
	return utils.HTTPClientConfig{
		Timeout:        c.Timeout,
		KATimeout:      c.KeepAliveTimeout,
		ProxyURL:       proxyURL,
		ProxyUsername:  proxyUser,
		ProxyPassword:  proxyPass,
		UserAgent:      userAgent,
		Headers:        utils.ParseHeaderArgs(c.Headers),
		BearerToken:    c.BearerToken,
		HighThreadMode: c.ConnectionsPerLink() > 5,
	}
}
