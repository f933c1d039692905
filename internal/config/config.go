package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Geocoding  GeocodingConfig  `yaml:"geocoding"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	DB         DatabaseConfig   `yaml:"db"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	RateLimit int    `yaml:"rate_limit"` // requests per second per client
}

type GeocodingConfig struct {
	BaseURL     string        `yaml:"base_url"`
	UserAgent   string        `yaml:"user_agent"`
	RateLimitMs int           `yaml:"rate_limit_ms"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Interval is the minimum spacing between outbound geocoding calls.
func (g GeocodingConfig) Interval() time.Duration {
	return time.Duration(g.RateLimitMs) * time.Millisecond
}

type EnrichmentConfig struct {
	CoreWorkers   int           `yaml:"core_workers"`
	MaxWorkers    int           `yaml:"max_workers"`
	QueueCapacity int           `yaml:"queue_capacity"`
	KeepAlive     time.Duration `yaml:"keep_alive"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// Source returns the connection string for the configured driver.
func (d DatabaseConfig) Source() string {
	if d.Driver == "postgres" {
		return d.DSN
	}
	return d.Path
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "localhost",
			Port:      8080,
			RateLimit: 20,
		},
		Geocoding: GeocodingConfig{
			BaseURL:     "https://nominatim.openstreetmap.org",
			UserAgent:   "WeatherAlertService/1.0",
			RateLimitMs: 1000,
			Timeout:     10 * time.Second,
		},
		Enrichment: EnrichmentConfig{
			CoreWorkers:   2,
			MaxWorkers:    5,
			QueueCapacity: 100,
			KeepAlive:     60 * time.Second,
			ShutdownGrace: 60 * time.Second,
		},
		DB: DatabaseConfig{
			Driver: "sqlite",
			Path:   "./data/weather-alerts.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_FILE, and finally environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("SERVER_PORT", c.Server.Port)
	c.Server.RateLimit = getEnvInt("API_RATE_LIMIT", c.Server.RateLimit)

	c.Geocoding.BaseURL = getEnv("GEOCODING_BASE_URL", c.Geocoding.BaseURL)
	c.Geocoding.UserAgent = getEnv("GEOCODING_USER_AGENT", c.Geocoding.UserAgent)
	c.Geocoding.RateLimitMs = getEnvInt("GEOCODING_RATE_LIMIT_MS", c.Geocoding.RateLimitMs)
	c.Geocoding.Timeout = getEnvDuration("GEOCODING_TIMEOUT", c.Geocoding.Timeout)

	c.Enrichment.CoreWorkers = getEnvInt("ENRICHMENT_CORE_WORKERS", c.Enrichment.CoreWorkers)
	c.Enrichment.MaxWorkers = getEnvInt("ENRICHMENT_MAX_WORKERS", c.Enrichment.MaxWorkers)
	c.Enrichment.QueueCapacity = getEnvInt("ENRICHMENT_QUEUE_CAPACITY", c.Enrichment.QueueCapacity)
	c.Enrichment.KeepAlive = getEnvDuration("ENRICHMENT_KEEP_ALIVE", c.Enrichment.KeepAlive)
	c.Enrichment.ShutdownGrace = getEnvDuration("ENRICHMENT_SHUTDOWN_GRACE", c.Enrichment.ShutdownGrace)

	c.DB.Driver = getEnv("DB_DRIVER", c.DB.Driver)
	c.DB.Path = getEnv("DB_PATH", c.DB.Path)
	c.DB.DSN = getEnv("DB_DSN", c.DB.DSN)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimit < 1 {
		return fmt.Errorf("API rate limit must be at least 1 req/s")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	u, err := url.Parse(c.Geocoding.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid geocoding base URL: %q", c.Geocoding.BaseURL)
	}
	if c.Geocoding.UserAgent == "" {
		return fmt.Errorf("geocoding user agent is required")
	}
	if c.Geocoding.RateLimitMs < 0 {
		return fmt.Errorf("geocoding rate limit must not be negative")
	}
	if c.Geocoding.Timeout <= 0 {
		return fmt.Errorf("geocoding timeout must be positive")
	}

	if c.Enrichment.CoreWorkers < 1 {
		return fmt.Errorf("enrichment core workers must be at least 1")
	}
	if c.Enrichment.MaxWorkers < c.Enrichment.CoreWorkers {
		return fmt.Errorf("enrichment max workers (%d) below core workers (%d)",
			c.Enrichment.MaxWorkers, c.Enrichment.CoreWorkers)
	}
	if c.Enrichment.QueueCapacity < 0 {
		return fmt.Errorf("enrichment queue capacity must not be negative")
	}
	if c.Enrichment.ShutdownGrace < 0 {
		return fmt.Errorf("enrichment shutdown grace must not be negative")
	}

	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			return fmt.Errorf("DB_PATH is required for sqlite")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("DB_DSN is required for postgres")
		}
	default:
		return fmt.Errorf("invalid database driver: %s", c.DB.Driver)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
