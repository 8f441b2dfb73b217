package domain

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete proptax configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Profile selects the default infrastructure set
	Profile Profile `json:"profile" yaml:"profile"`

	// Policy controls how estimate input is validated
	Policy PolicyConfig `json:"policy" yaml:"policy"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`
	Throttle   ThrottleConfig   `json:"throttle" yaml:"throttle"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// Profile represents the deployment profile.
type Profile string

const (
	// ProfileStandalone runs on SQLite, an in-process LRU and channels.
	ProfileStandalone Profile = "standalone"

	// ProfileDistributed runs on PostgreSQL, Redis and NATS.
	ProfileDistributed Profile = "distributed"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Only enable behind a proxy that sets them.
	TrustProxyHeaders bool `json:"trustProxyHeaders" yaml:"trustProxyHeaders"`
}

// PolicyConfig holds estimate input policy.
type PolicyConfig struct {
	// ClampRatios clamps out-of-range ratios into the variant bounds
	// instead of rejecting the request.
	ClampRatios bool `json:"clampRatios" yaml:"clampRatios"`

	// ScenarioTTL is how long a scenario stays in the cache.
	ScenarioTTL time.Duration `json:"scenarioTtl" yaml:"scenarioTtl"`
}

// ThrottleConfig holds per-client request limits.
type ThrottleConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Limit   int64         `json:"limit" yaml:"limit"`
	Window  time.Duration `json:"window" yaml:"window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings. When disabled, HTTP requests
// and estimates use a no-op tracer provider.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
}

// DefaultConfig returns the standalone configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Profile: ProfileStandalone,
		Policy: PolicyConfig{
			ScenarioTTL: 10 * time.Minute,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./proptax.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Throttle: ThrottleConfig{
			Enabled: false,
			Limit:   120,
			Window:  time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "proptax",
		},
	}
}

// DistributedConfig returns a configuration backed by PostgreSQL, Redis and NATS.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfileDistributed
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "proptax",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Throttle.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig reads a YAML file over the profile defaults. The profile key in
// the file picks the defaults; an empty path returns DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var head struct {
		Profile Profile `yaml:"profile"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if head.Profile == ProfileDistributed {
		cfg = DistributedConfig()
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides settings from PROPTAX_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PROPTAX_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("PROPTAX_DB_PATH"); v != "" {
		c.Repository.SQLitePath = v
	}
	if v := os.Getenv("PROPTAX_POSTGRES_HOST"); v != "" {
		c.Repository.PostgresHost = v
	}
	if v := os.Getenv("PROPTAX_POSTGRES_PASSWORD"); v != "" {
		c.Repository.PostgresPassword = v
	}
	if v := os.Getenv("PROPTAX_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("PROPTAX_NATS_URL"); v != "" {
		c.EventBus.NATSUrl = v
	}
	if v := os.Getenv("PROPTAX_CLAMP_RATIOS"); v != "" {
		c.Policy.ClampRatios = v == "true"
	}
	if v := os.Getenv("PROPTAX_TRACING"); v != "" {
		c.Tracing.Enabled = v == "true"
	}
	if os.Getenv("PROPTAX_DEBUG") == "true" {
		c.Logging.Level = "debug"
	}
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Profile {
	case ProfileStandalone, ProfileDistributed:
	default:
		return fmt.Errorf("unknown profile %q", c.Profile)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Throttle.Enabled && (c.Throttle.Limit <= 0 || c.Throttle.Window <= 0) {
		return fmt.Errorf("throttle needs a positive limit and window")
	}
	return nil
}
