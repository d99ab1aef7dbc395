// Package config loads engine configuration from a YAML file with
// environment-variable overrides, so containerized deployments can tweak a
// value without shipping a new file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FeedConfig selects the tick source.
type FeedConfig struct {
	Kind string `yaml:"kind"` // "binance" or "ws"
	URL  string `yaml:"url"`  // ws feed endpoint (ignored for binance)
}

// SinkConfig selects the persistence backend for harvested points.
type SinkConfig struct {
	Kind        string `yaml:"kind"` // "sqlite" or "timescale"
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// RedisConfig configures the optional event bus.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

// MemoryConfig tunes the memory watchdog.
type MemoryConfig struct {
	LimitMB           float64       `yaml:"limit_mb"`
	SampleInterval    time.Duration `yaml:"sample_interval"`
	LeakCheckInterval time.Duration `yaml:"leak_check_interval"`
	LeakWindow        time.Duration `yaml:"leak_window"`
	LeakThresholdMB   float64       `yaml:"leak_threshold_mb"`
}

// Config is the full engine configuration.
type Config struct {
	LogLevel string   `yaml:"log_level"`
	HTTPAddr string   `yaml:"http_addr"`
	Symbols  []string `yaml:"symbols"`

	HarvestInterval      time.Duration `yaml:"harvest_interval"`
	RegistryPollInterval time.Duration `yaml:"registry_poll_interval"`
	TickRetention        time.Duration `yaml:"tick_retention"`

	// Seed specs for an empty registry: "TYPE:PARAM,TYPE:PARAM,..."
	// e.g. "EMA:20,SMA:50,RSI:14,VWAP:5m,TWPA:1m"
	Indicators string `yaml:"indicators"`

	Feed   FeedConfig   `yaml:"feed"`
	Sink   SinkConfig   `yaml:"sink"`
	Redis  RedisConfig  `yaml:"redis"`
	Memory MemoryConfig `yaml:"memory"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		LogLevel:             "info",
		HTTPAddr:             ":9095",
		Symbols:              []string{"BTCUSDT"},
		HarvestInterval:      time.Second,
		RegistryPollInterval: 30 * time.Second,
		TickRetention:        48 * time.Hour,
		Indicators:           "EMA:20,SMA:50,RSI:14,VWAP:5m,TWPA:1m",
		Feed:                 FeedConfig{Kind: "binance"},
		Sink:                 SinkConfig{Kind: "sqlite", SQLitePath: "data/indstream.db"},
		Redis:                RedisConfig{Addr: "localhost:6379"},
		Memory: MemoryConfig{
			LimitMB:           1024,
			SampleInterval:    30 * time.Second,
			LeakCheckInterval: 60 * time.Second,
			LeakWindow:        10 * time.Minute,
			LeakThresholdMB:   50,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or missing)
// and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config read: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = splitList(v)
	}
	c.HarvestInterval = getEnvDuration("HARVEST_INTERVAL", c.HarvestInterval)
	c.RegistryPollInterval = getEnvDuration("REGISTRY_POLL_INTERVAL", c.RegistryPollInterval)
	c.TickRetention = getEnvDuration("TICK_RETENTION", c.TickRetention)
	c.Indicators = getEnv("INDICATOR_CONFIGS", c.Indicators)

	c.Feed.Kind = getEnv("FEED_KIND", c.Feed.Kind)
	c.Feed.URL = getEnv("FEED_URL", c.Feed.URL)
	c.Sink.Kind = getEnv("SINK_KIND", c.Sink.Kind)
	c.Sink.SQLitePath = getEnv("SQLITE_PATH", c.Sink.SQLitePath)
	c.Sink.PostgresDSN = getEnv("POSTGRES_DSN", c.Sink.PostgresDSN)

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		c.Redis.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)

	c.Memory.LimitMB = getEnvFloat("MEMORY_LIMIT_MB", c.Memory.LimitMB)
}

func (c *Config) validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: no symbols configured")
	}
	if c.HarvestInterval <= 0 {
		return fmt.Errorf("config: harvest_interval must be positive")
	}
	switch c.Sink.Kind {
	case "sqlite", "timescale":
	default:
		return fmt.Errorf("config: unknown sink kind %q", c.Sink.Kind)
	}
	switch c.Feed.Kind {
	case "binance", "ws", "none":
	default:
		return fmt.Errorf("config: unknown feed kind %q", c.Feed.Kind)
	}
	if c.Feed.Kind == "ws" && c.Feed.URL == "" {
		return fmt.Errorf("config: ws feed requires a url")
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
