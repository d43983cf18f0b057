package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pumpwatch/promatrix/internal/alerts"
	"github.com/pumpwatch/promatrix/internal/ingest"
	"github.com/pumpwatch/promatrix/internal/network"
	"github.com/pumpwatch/promatrix/internal/persistence/postgres"
	"github.com/pumpwatch/promatrix/internal/scoring"
)

// Config is the full application configuration.
type Config struct {
	Database  postgres.Config    `yaml:"database"`
	Redis     RedisSection       `yaml:"redis"`
	HTTP      HTTPSection        `yaml:"http"`
	Detection DetectionSection   `yaml:"detection"`
	Stream    ingest.StreamConfig `yaml:"stream"`

	Scoring    scoring.Config            `yaml:"scoring"`
	Confidence network.ConfidenceConfig  `yaml:"confidence"`
	Networks   network.BuilderConfig     `yaml:"networks"`
	Alerts     alerts.Config             `yaml:"alerts"`
}

// RedisSection holds redis addresses for the run lock and the status cache.
type RedisSection struct {
	Addr        string        `yaml:"addr"`
	LockKey     string        `yaml:"lock_key"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	StatusTTL   time.Duration `yaml:"status_ttl"`
}

// HTTPSection holds the monitoring server settings.
type HTTPSection struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DetectionSection holds detection run settings.
type DetectionSection struct {
	// DumpThreshold is the victim loss percentage at or below which a
	// resolved promotion counts as a confirmed dump. Negative.
	DumpThreshold float64 `yaml:"dump_threshold"`
	// WindowDays bounds how far back links are loaded for pair detection.
	WindowDays int `yaml:"window_days"`
	// Interval between runs in monitor mode.
	Interval time.Duration `yaml:"interval"`
	// ScoreWorkers and PairWorkers size the concurrent stages.
	ScoreWorkers int `yaml:"score_workers"`
	PairWorkers  int `yaml:"pair_workers"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Database: postgres.DefaultConfig(),
		Redis: RedisSection{
			Addr:      "localhost:6379",
			LockKey:   "promatrix:runlock",
			LockTTL:   15 * time.Minute,
			StatusTTL: time.Hour,
		},
		HTTP: HTTPSection{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Detection: DetectionSection{
			DumpThreshold: -50,
			WindowDays:    180,
			Interval:      15 * time.Minute,
			ScoreWorkers:  8,
			PairWorkers:   8,
		},
		Stream:     ingest.DefaultStreamConfig(),
		Scoring:    *scoring.DefaultConfig(),
		Confidence: *network.DefaultConfidenceConfig(),
		Networks:   *network.DefaultBuilderConfig(),
		Alerts:     *alerts.DefaultConfig(),
	}
}

// Load reads configuration from a YAML file, then applies environment
// variable overrides, then fills unset fields with defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(config)
	applyDefaults(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations that would make runs meaningless.
func (c *Config) Validate() error {
	if c.Detection.DumpThreshold > 0 {
		return fmt.Errorf("detection.dump_threshold must be zero or negative, got %v", c.Detection.DumpThreshold)
	}
	if c.Detection.WindowDays <= 0 {
		return fmt.Errorf("detection.window_days must be positive, got %d", c.Detection.WindowDays)
	}
	if c.Networks.DetectionThreshold < 0 || c.Networks.DetectionThreshold > c.Confidence.MaxScore {
		return fmt.Errorf("networks.detection_threshold %d outside [0, %d]", c.Networks.DetectionThreshold, c.Confidence.MaxScore)
	}
	return nil
}

func applyEnvOverrides(config *Config) {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if maxOpen := os.Getenv("PG_MAX_OPEN_CONNS"); maxOpen != "" {
		if val, err := strconv.Atoi(maxOpen); err == nil {
			config.Database.MaxOpenConns = val
		}
	}
	if queryTimeout := os.Getenv("PG_QUERY_TIMEOUT"); queryTimeout != "" {
		if val, err := time.ParseDuration(queryTimeout); err == nil {
			config.Database.QueryTimeout = val
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if port := os.Getenv("HTTP_PORT"); port != "" {
		if val, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = val
		}
	}
	if url := os.Getenv("STREAM_URL"); url != "" {
		config.Stream.URL = url
	}
	if threshold := os.Getenv("DUMP_THRESHOLD"); threshold != "" {
		if val, err := strconv.ParseFloat(threshold, 64); err == nil {
			config.Detection.DumpThreshold = val
		}
	}
	if interval := os.Getenv("DETECTION_INTERVAL"); interval != "" {
		if val, err := time.ParseDuration(interval); err == nil {
			config.Detection.Interval = val
		}
	}
}

// applyDefaults backfills fields a partial YAML file may have zeroed.
func applyDefaults(config *Config) {
	def := Default()
	if config.Database.MaxOpenConns == 0 {
		config.Database.MaxOpenConns = def.Database.MaxOpenConns
	}
	if config.Database.MaxIdleConns == 0 {
		config.Database.MaxIdleConns = def.Database.MaxIdleConns
	}
	if config.Database.ConnMaxLifetime == 0 {
		config.Database.ConnMaxLifetime = def.Database.ConnMaxLifetime
	}
	if config.Database.QueryTimeout == 0 {
		config.Database.QueryTimeout = def.Database.QueryTimeout
	}
	if config.Redis.LockKey == "" {
		config.Redis.LockKey = def.Redis.LockKey
	}
	if config.Redis.LockTTL == 0 {
		config.Redis.LockTTL = def.Redis.LockTTL
	}
	if config.Redis.StatusTTL == 0 {
		config.Redis.StatusTTL = def.Redis.StatusTTL
	}
	if config.HTTP.Port == 0 {
		config.HTTP.Port = def.HTTP.Port
	}
	if config.HTTP.ReadTimeout == 0 {
		config.HTTP.ReadTimeout = def.HTTP.ReadTimeout
	}
	if config.HTTP.WriteTimeout == 0 {
		config.HTTP.WriteTimeout = def.HTTP.WriteTimeout
	}
	if config.HTTP.IdleTimeout == 0 {
		config.HTTP.IdleTimeout = def.HTTP.IdleTimeout
	}
	if config.Detection.WindowDays == 0 {
		config.Detection.WindowDays = def.Detection.WindowDays
	}
	if config.Detection.Interval == 0 {
		config.Detection.Interval = def.Detection.Interval
	}
	if config.Detection.ScoreWorkers == 0 {
		config.Detection.ScoreWorkers = def.Detection.ScoreWorkers
	}
	if config.Detection.PairWorkers == 0 {
		config.Detection.PairWorkers = def.Detection.PairWorkers
	}
	if config.Stream.RatePerSecond == 0 {
		config.Stream.RatePerSecond = def.Stream.RatePerSecond
	}
	if config.Stream.Burst == 0 {
		config.Stream.Burst = def.Stream.Burst
	}
	if config.Stream.MaxReconnect == 0 {
		config.Stream.MaxReconnect = def.Stream.MaxReconnect
	}
	if config.Stream.BufferCapacity == 0 {
		config.Stream.BufferCapacity = def.Stream.BufferCapacity
	}
	if config.Scoring.MaxScore == 0 {
		config.Scoring = def.Scoring
	}
	if config.Confidence.MaxScore == 0 {
		config.Confidence = def.Confidence
	}
	if config.Networks.DetectionThreshold == 0 {
		config.Networks = def.Networks
	}
	if config.Alerts.NewPromoterDays == 0 {
		config.Alerts = def.Alerts
	}
}
