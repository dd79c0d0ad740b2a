package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:wakewatch.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Schedule struct {
		TickInterval  time.Duration `yaml:"tick_interval" json:"tick_interval" jsonschema:"default=30s,description=Due-check cadence"`
		MaxBackoff    time.Duration `yaml:"max_backoff" json:"max_backoff" jsonschema:"default=5m,description=Backoff ceiling after failed cycles"`
		MaxWorkers    int           `yaml:"max_workers" json:"max_workers" jsonschema:"default=5,description=Maximum concurrent pings per tick"`
		FailThreshold int           `yaml:"fail_threshold" json:"fail_threshold" jsonschema:"default=3,minimum=1,description=Consecutive failures before alerting"`
	} `yaml:"schedule" json:"schedule" jsonschema:"description=Scheduler configuration"`

	Ping PingConfig `yaml:"ping" json:"ping" jsonschema:"description=Ping HTTP client configuration"`

	Email EmailConfig `yaml:"email" json:"email" jsonschema:"description=SMTP transport for email alerts"`
}

// PingConfig holds the ping HTTP client settings
type PingConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" jsonschema:"default=10s,description=Dial timeout per ping"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" jsonschema:"default=30s,description=Overall timeout per ping"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=Wakewatch/1.0,description=User agent for ping requests"`
}

// EmailConfig holds the SMTP submission settings. All optional, with no host
// configured email alerts are skipped.
type EmailConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled" jsonschema:"default=false,description=Enable email alerts"`
	Host     string        `yaml:"host" json:"host" jsonschema:"description=SMTP host"`
	Port     int           `yaml:"port" json:"port" jsonschema:"default=587,description=SMTP port"`
	Username string        `yaml:"username" json:"username" jsonschema:"description=SMTP username"`
	Password string        `yaml:"password" json:"password" jsonschema:"description=SMTP password (can use environment variable)"`
	From     string        `yaml:"from" json:"from" jsonschema:"description=From address for alert emails"`
	StartTLS bool          `yaml:"starttls" json:"starttls" jsonschema:"default=true,description=Use STARTTLS"`
	TLS      bool          `yaml:"tls" json:"tls" jsonschema:"default=false,description=Use implicit TLS"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=SMTP connection timeout"`
}

// Load reads configuration from a YAML file. A missing file is fine, the
// defaults describe a fully working local setup.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		// expand environment variables
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against the reflected JSON schema
	if err := VerifySchema(&cfg); err != nil {
		// warn but don't fail - schema validation is supplementary
		log.Printf("[WARN] schema validation failed: %v", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:wakewatch.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	if cfg.Schedule.TickInterval == 0 {
		cfg.Schedule.TickInterval = 30 * time.Second
	}
	if cfg.Schedule.MaxBackoff == 0 {
		cfg.Schedule.MaxBackoff = 5 * time.Minute
	}
	if cfg.Schedule.MaxWorkers == 0 {
		cfg.Schedule.MaxWorkers = 5
	}
	if cfg.Schedule.FailThreshold == 0 {
		cfg.Schedule.FailThreshold = 3
	}

	if cfg.Ping.ConnectTimeout == 0 {
		cfg.Ping.ConnectTimeout = 10 * time.Second
	}
	if cfg.Ping.RequestTimeout == 0 {
		cfg.Ping.RequestTimeout = 30 * time.Second
	}
	if cfg.Ping.UserAgent == "" {
		cfg.Ping.UserAgent = "Wakewatch/1.0"
	}

	if cfg.Email.Port == 0 {
		cfg.Email.Port = 587
	}
	if cfg.Email.Timeout == 0 {
		cfg.Email.Timeout = 30 * time.Second
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server.timeout must be at least 1 second")
	}

	if cfg.Schedule.TickInterval < time.Second {
		return fmt.Errorf("schedule.tick_interval must be at least 1 second")
	}
	if cfg.Schedule.MaxBackoff < cfg.Schedule.TickInterval {
		return fmt.Errorf("schedule.max_backoff must not be below the tick interval")
	}
	if cfg.Schedule.MaxWorkers < 1 {
		return fmt.Errorf("schedule.max_workers must be at least 1")
	}
	if cfg.Schedule.FailThreshold < 1 {
		return fmt.Errorf("schedule.fail_threshold must be at least 1")
	}

	if cfg.Ping.ConnectTimeout < time.Second || cfg.Ping.RequestTimeout < time.Second {
		return fmt.Errorf("ping timeouts must be at least 1 second")
	}

	if cfg.Email.Enabled {
		if cfg.Email.Host == "" {
			return fmt.Errorf("email.host is required when email is enabled")
		}
		if cfg.Email.From == "" {
			return fmt.Errorf("email.from is required when email is enabled")
		}
	}

	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}
