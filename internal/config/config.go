package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all configuration for our application
type Config struct {
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Server   ServerConfig   `mapstructure:"server"`
	Registry RegistryConfig `mapstructure:"registry"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type UpstreamConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	FlatName string        `mapstructure:"flat_name"`
	PortalID string        `mapstructure:"portal_id"`
	MenuID   string        `mapstructure:"menu_id"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type RefreshConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	HTTPPort       int      `mapstructure:"http_port"`
	GRPCPort       int      `mapstructure:"grpc_port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	RateLimit      float64  `mapstructure:"rate_limit"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
}

type RegistryConfig struct {
	MaxEntities int `mapstructure:"max_entities"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// InstanceID identifies one account and flat pair.
func (c *Config) InstanceID() string {
	return strings.ToLower(c.Upstream.Username + ":" + c.Upstream.FlatName)
}

// Load reads configuration from file and environment variables.
//
// ${VAR} references in the file are expanded first; a bare $ is kept as is,
// so values like "pa$$word" need no escaping. Any key can then be overridden
// with an APP_ prefixed variable, e.g. APP_UPSTREAM_PASSWORD.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType(configType(path))
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	expanded := expandEnv(string(data))
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Watch calls onChange with the reloaded configuration every time the file
// at path changes. Invalid revisions are logged and skipped.
func Watch(path string, logger *logrus.Logger, onChange func(*Config)) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(path)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			logger.WithError(err).WithField("path", e.Name).Error("Ignoring invalid configuration change")
			return
		}
		logger.WithField("path", e.Name).Info("Configuration reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

var envReference = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} with the value of VAR, empty when unset.
func expandEnv(s string) string {
	return envReference.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

func configType(path string) string {
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
		if ext == "yml" {
			return "yaml"
		}
		return ext
	}
	return "yaml"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("upstream.base_url", "https://api.poschodoch.sk")
	v.SetDefault("upstream.username", "")
	v.SetDefault("upstream.password", "")
	v.SetDefault("upstream.flat_name", "")
	v.SetDefault("upstream.portal_id", "108588")
	v.SetDefault("upstream.menu_id", "56")
	v.SetDefault("upstream.timeout", 20*time.Second)

	v.SetDefault("refresh.interval", time.Hour)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_limit_burst", 10)

	v.SetDefault("registry.max_entities", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

var (
	ErrMissingCredentials = errors.New("upstream username and password are required")
	ErrMissingFlatName    = errors.New("upstream flat_name is required")
)
