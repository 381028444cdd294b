package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

const minRefreshInterval = time.Minute

var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// Validate checks if the configuration can start the service
func (c *Config) Validate() error {
	if c.Upstream.Username == "" || c.Upstream.Password == "" {
		return ErrMissingCredentials
	}
	if c.Upstream.FlatName == "" {
		return ErrMissingFlatName
	}

	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream base_url: %q", c.Upstream.BaseURL)
	}

	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("invalid upstream timeout: %s", c.Upstream.Timeout)
	}

	if c.Refresh.Interval < minRefreshInterval {
		return fmt.Errorf("refresh interval must be at least %s, got %s", minRefreshInterval, c.Refresh.Interval)
	}

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.Server.GRPCPort)
	}
	if c.Server.RateLimit <= 0 || c.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("invalid rate limit: %v/%d", c.Server.RateLimit, c.Server.RateLimitBurst)
	}

	if c.Registry.MaxEntities <= 0 {
		return fmt.Errorf("invalid registry max_entities: %d", c.Registry.MaxEntities)
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}

// NewLogger builds the process logger described by the logging section.
func (c LoggingConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()
	c.Apply(logger)
	return logger
}

// Apply updates level and format of an existing logger.
func (c LoggingConfig) Apply(logger *logrus.Logger) {
	if c.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
