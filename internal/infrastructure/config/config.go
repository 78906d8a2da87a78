package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Sync      SyncConfig      `koanf:"sync"`
	Scoring   ScoringConfig   `koanf:"scoring"`
	Providers ProvidersConfig `koanf:"providers"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=1"`
	MinIdleConns    int           `koanf:"min_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type TelemetryConfig struct {
	Enabled      bool          `koanf:"enabled"`
	OTLPEndpoint string        `koanf:"otlp_endpoint"`
	SamplingRate float64       `koanf:"sampling_rate" validate:"min=0,max=1"`
	BatchTimeout time.Duration `koanf:"batch_timeout"`
}

// SyncConfig tunes the orchestrator: retry policy for transient provider
// failures, the single-flight lease, the schedule cooldown manual triggers
// bypass, and the staleness sweep.
type SyncConfig struct {
	MaxRetries       int           `koanf:"max_retries" validate:"min=0,max=10"`
	RetryBackoffBase time.Duration `koanf:"retry_backoff_base"`
	LeaseTTL         time.Duration `koanf:"lease_ttl"`
	ScheduleCooldown time.Duration `koanf:"schedule_cooldown"`
	SweepInterval    time.Duration `koanf:"sweep_interval"`
	ProviderTimeout  time.Duration `koanf:"provider_timeout"`
}

type ScoringConfig struct {
	ValidityWindowDays  int           `koanf:"validity_window_days" validate:"min=1"`
	RecommendationFloor int           `koanf:"recommendation_floor" validate:"min=1,max=100"`
	CacheTTL            time.Duration `koanf:"cache_ttl"`
}

type ProvidersConfig struct {
	Identity   ProviderConfig `koanf:"identity"`
	Cloud      ProviderConfig `koanf:"cloud"`
	SourceCode ProviderConfig `koanf:"sourcecode"`
}

type ProviderConfig struct {
	BaseURL           string        `koanf:"base_url"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
}

// Load builds the configuration from defaults, an optional yaml file,
// and CTV_-prefixed environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MinIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL:          "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Telemetry: TelemetryConfig{
			SamplingRate: 0.1,
			BatchTimeout: 5 * time.Second,
		},
		Sync: SyncConfig{
			MaxRetries:       3,
			RetryBackoffBase: 500 * time.Millisecond,
			LeaseTTL:         5 * time.Minute,
			ScheduleCooldown: 15 * time.Minute,
			SweepInterval:    1 * time.Hour,
			ProviderTimeout:  30 * time.Second,
		},
		Scoring: ScoringConfig{
			ValidityWindowDays:  90,
			RecommendationFloor: 50,
			CacheTTL:            5 * time.Minute,
		},
		Providers: ProvidersConfig{
			Identity:   ProviderConfig{Timeout: 30 * time.Second, RequestsPerSecond: 5, Burst: 10},
			Cloud:      ProviderConfig{Timeout: 30 * time.Second, RequestsPerSecond: 5, Burst: 10},
			SourceCode: ProviderConfig{Timeout: 30 * time.Second, RequestsPerSecond: 5, Burst: 10},
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = "configs/config.yaml"
	}
	// Config file is optional.
	_ = k.Load(file.Provider(path), yaml.Parser())

	if err := k.Load(env.Provider("CTV_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "CTV_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct-tag constraints.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ValidityWindow converts the configured day count to a duration.
func (c *ScoringConfig) ValidityWindow() time.Duration {
	return time.Duration(c.ValidityWindowDays) * 24 * time.Hour
}
