package config

import (
	"path/filepath"
	"time"
)

// Config holds the whole kit configuration.
// It organizes settings into one group per wrapped component.
type Config struct {
	// Path is the absolute path of the file the configuration was read from.
	Path string `mapstructure:"-"`

	Root    string   `mapstructure:"root"`
	Debug   bool     `mapstructure:"debug"`
	Modules []string `mapstructure:"modules"`

	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Web       WebConfig       `mapstructure:"web"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Flower    FlowerConfig    `mapstructure:"flower"`

	// sections keeps every top-level key of the document so that modules can
	// read their own sections.
	sections map[string]any
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
	Folder string `mapstructure:"folder"`
}

// DatabaseConfig contains the database URL and the engine and session options.
type DatabaseConfig struct {
	URL     string        `mapstructure:"url" validate:"required"`
	Migrate bool          `mapstructure:"migrate"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Session SessionConfig `mapstructure:"session"`
}

// EngineConfig configures the connection pool.
type EngineConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Echo            bool          `mapstructure:"echo"`
}

// SessionConfig configures the transactions opened by sessions.
type SessionConfig struct {
	Isolation string `mapstructure:"isolation" validate:"omitempty,oneof=read_uncommitted read_committed repeatable_read serializable"`
	ReadOnly  bool   `mapstructure:"read_only"`
}

// WebConfig configures the web application.
type WebConfig struct {
	Disabled       bool            `mapstructure:"disabled"`
	Name           string          `mapstructure:"name" validate:"required"`
	StaticFolder   string          `mapstructure:"static_folder"`
	StaticURL      string          `mapstructure:"static_url"`
	TemplateFolder string          `mapstructure:"template_folder"`
	Autocommit     bool            `mapstructure:"autocommit"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
	Config         map[string]any  `mapstructure:"config"`
}

// RateLimitConfig limits requests per client IP. Zero requests disables it.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests" validate:"gte=0"`
	Window   time.Duration `mapstructure:"window"`
}

// TasksConfig configures the task application and its workers.
type TasksConfig struct {
	Disabled           bool           `mapstructure:"disabled"`
	BrokerURL          string         `mapstructure:"broker_url" validate:"required"`
	ResultBackend      string         `mapstructure:"result_backend" validate:"required"`
	Autocommit         bool           `mapstructure:"autocommit"`
	DefaultQueue       string         `mapstructure:"default_queue" validate:"required"`
	Concurrency        int            `mapstructure:"concurrency" validate:"gt=0"`
	PrefetchMultiplier int            `mapstructure:"prefetch_multiplier" validate:"gt=0"`
	WorkerDirect       bool           `mapstructure:"worker_direct"`
	ResultExpires      time.Duration  `mapstructure:"result_expires"`
	HeartbeatInterval  time.Duration  `mapstructure:"heartbeat_interval" validate:"gt=0"`
	StuckTaskAge       time.Duration  `mapstructure:"stuck_task_age"`
	MaxRetries         int            `mapstructure:"max_retries" validate:"gte=0"`
	QueueSize          int            `mapstructure:"queue_size" validate:"gt=0"`
	Config             map[string]any `mapstructure:"config"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	JWTSecret     string        `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter" validate:"omitempty,oneof=http grpc"`
	Endpoint     string  `mapstructure:"endpoint"`
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"gte=0,lte=1"`
}

// FlowerConfig configures the monitoring dashboard.
type FlowerConfig struct {
	Port    int    `mapstructure:"port" validate:"gt=0,lt=65536"`
	Address string `mapstructure:"address"`
}

// RootDir returns the absolute module root: the configured root resolved
// against the directory containing the configuration file.
func (c *Config) RootDir() string {
	base := filepath.Dir(c.Path)
	if c.Path == "" {
		base = "."
	}
	if filepath.IsAbs(c.Root) {
		return c.Root
	}
	abs, err := filepath.Abs(filepath.Join(base, c.Root))
	if err != nil {
		return filepath.Join(base, c.Root)
	}
	return abs
}

// ProjectName is the name the web application and dashboard display.
func (c *Config) ProjectName() string {
	return c.Web.Name
}
