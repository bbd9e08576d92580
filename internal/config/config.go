package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Auth      AuthConfig      `yaml:"auth"`
	Filter    FilterConfig    `yaml:"filter"`
	Routing   RoutingConfig   `yaml:"routing"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&pool_max_conns=%d&pool_max_conn_lifetime=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, max(d.MaxOpenConns, 1), d.ConnMaxLifetime)
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	MetricsPort int    `yaml:"metrics_port"`
}

type AuthConfig struct {
	// SessionSecret verifies session JWTs issued by the hospital app.
	// Empty disables session tokens; API keys still work.
	SessionSecret string        `yaml:"session_secret"`
	SessionIssuer string        `yaml:"session_issuer"`
	KeyCacheTTL   time.Duration `yaml:"key_cache_ttl"`
}

type FilterConfig struct {
	PHI    PHIFilterConfig    `yaml:"phi"`
	Deid   DeidServiceConfig  `yaml:"deid_service"`
	Policy PolicyFilterConfig `yaml:"policy"`
}

type PHIFilterConfig struct {
	Enabled bool `yaml:"enabled"`
}

type DeidServiceConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Address  string        `yaml:"address"`
	Timeout  time.Duration `yaml:"timeout"`
	FailOpen bool          `yaml:"fail_open"`
}

type PolicyFilterConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

type RoutingConfig struct {
	// MaxRetries counts attempts after the first.
	MaxRetries              int           `yaml:"max_retries"`
	RetryBaseDelay          time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay           time.Duration `yaml:"retry_max_delay"`
	RetryJitter             float64       `yaml:"retry_jitter"`
	FailureThreshold        int           `yaml:"failure_threshold"`
	StreamFirstChunkTimeout time.Duration `yaml:"stream_first_chunk_timeout"`
	LatencyEMAAlpha         float64       `yaml:"latency_ema_alpha"`
	InitTimeout             time.Duration `yaml:"init_timeout"`
	RecoverySchedule        string        `yaml:"recovery_schedule"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     300 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "clinai",
			User:            "clinai",
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			PoolSize:  50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			MetricsPort: 9090,
		},
		Auth: AuthConfig{
			SessionIssuer: "hospital-app",
			KeyCacheTTL:   5 * time.Minute,
		},
		Filter: FilterConfig{
			PHI: PHIFilterConfig{Enabled: true},
			Deid: DeidServiceConfig{
				Address: "deid:50051",
				Timeout: 2 * time.Second,
			},
			Policy: PolicyFilterConfig{
				Enabled:           true,
				BundlePath:        "configs/policies",
				EvaluationTimeout: 100 * time.Millisecond,
			},
		},
		Routing: RoutingConfig{
			MaxRetries:              2,
			RetryBaseDelay:          250 * time.Millisecond,
			RetryMaxDelay:           5 * time.Second,
			RetryJitter:             0.2,
			FailureThreshold:        3,
			StreamFirstChunkTimeout: 60 * time.Second,
			LatencyEMAAlpha:         0.2,
			InitTimeout:             15 * time.Second,
			RecoverySchedule:        "@every 5m",
		},
	}
}

// Validate rejects settings the router cannot work with.
func (c *Config) Validate() error {
	r := c.Routing
	if r.MaxRetries < 0 {
		return fmt.Errorf("routing.max_retries must not be negative")
	}
	if r.RetryBaseDelay < 0 || r.RetryMaxDelay < r.RetryBaseDelay {
		return fmt.Errorf("routing.retry_max_delay must be >= retry_base_delay >= 0")
	}
	if r.RetryJitter < 0 || r.RetryJitter >= 1 {
		return fmt.Errorf("routing.retry_jitter must be in [0, 1)")
	}
	if r.FailureThreshold < 1 {
		return fmt.Errorf("routing.failure_threshold must be at least 1")
	}
	if r.LatencyEMAAlpha <= 0 || r.LatencyEMAAlpha > 1 {
		return fmt.Errorf("routing.latency_ema_alpha must be in (0, 1]")
	}
	return nil
}
