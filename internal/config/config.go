package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// ---- Root ----

type Config struct {
	Env        string          `mapstructure:"env"`
	Log        LogConfig       `mapstructure:"log"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	SMTP       SMTPConfig      `mapstructure:"smtp"`
	Breaker    BreakerConfig   `mapstructure:"breaker"`
	Outbox     OutboxConfig    `mapstructure:"outbox"`
	Dev        DevConfig       `mapstructure:"dev"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // json | console
}

type HTTPConfig struct {
	Addr    string   `mapstructure:"addr"`
	APIKeys []string `mapstructure:"api_keys"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type SMTPConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	From           string        `mapstructure:"from"`
	TLS            string        `mapstructure:"tls"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold"`
	OpenFor       time.Duration `mapstructure:"open_for"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	LeaseDuration time.Duration `mapstructure:"lease_duration"`
	WorkerEnabled bool          `mapstructure:"worker_enabled"`
	Retry         RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	Budget        time.Duration `mapstructure:"budget"`
	ShortDelay    time.Duration `mapstructure:"short_delay"`
	LongDelay     time.Duration `mapstructure:"long_delay"`
	ShortAttempts int           `mapstructure:"short_attempts"`
}

type DevConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	LogMethod string `mapstructure:"log_method"` // logger | file | both
	LogDir    string `mapstructure:"log_dir"`
}

// WorkerEnabled reports whether the in-process tick driver should run.
// It never runs in the test environment.
func (c Config) WorkerEnabled() bool {
	return c.Outbox.WorkerEnabled && c.Env != EnvTest
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides
// (MAILOUTBOX_*, e.g. MAILOUTBOX_SMTP_HOST).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	// env override (MAILOUTBOX_*)
	v.SetEnvPrefix("MAILOUTBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Env {
	case EnvProduction, EnvDevelopment, EnvTest:
	default:
		return fmt.Errorf("config: unknown env %q", c.Env)
	}
	switch c.Dev.LogMethod {
	case "logger", "file", "both":
	default:
		return fmt.Errorf("config: dev.log_method must be logger, file or both, got %q", c.Dev.LogMethod)
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("config: outbox.batch_size must be positive")
	}
	return nil
}
