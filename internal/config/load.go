package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding file values,
// e.g. KIT_DATABASE_URL or KIT_TASKS_BROKER_URL.
const EnvPrefix = "KIT"

var validate = validator.New()

// setDefaults registers the default value of every known key. Registering
// all keys is also what lets viper resolve KIT_* variables on Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("debug", false)
	v.SetDefault("modules", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.folder", "")

	v.SetDefault("database.url", "sqlite://")
	v.SetDefault("database.migrate", true)
	v.SetDefault("database.engine.max_open_conns", 10)
	v.SetDefault("database.engine.max_idle_conns", 5)
	v.SetDefault("database.engine.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.engine.echo", false)
	v.SetDefault("database.session.isolation", "")
	v.SetDefault("database.session.read_only", false)

	v.SetDefault("web.disabled", false)
	v.SetDefault("web.name", "app")
	v.SetDefault("web.static_folder", "static")
	v.SetDefault("web.static_url", "")
	v.SetDefault("web.template_folder", "templates")
	v.SetDefault("web.autocommit", false)
	v.SetDefault("web.rate_limit.requests", 0)
	v.SetDefault("web.rate_limit.window", time.Minute)
	v.SetDefault("web.config", map[string]any{})

	v.SetDefault("tasks.disabled", false)
	v.SetDefault("tasks.broker_url", "memory://")
	v.SetDefault("tasks.result_backend", "database")
	v.SetDefault("tasks.autocommit", false)
	v.SetDefault("tasks.default_queue", "celery")
	v.SetDefault("tasks.concurrency", 3)
	v.SetDefault("tasks.prefetch_multiplier", 1)
	v.SetDefault("tasks.worker_direct", true)
	v.SetDefault("tasks.result_expires", time.Hour)
	v.SetDefault("tasks.heartbeat_interval", 5*time.Second)
	v.SetDefault("tasks.stuck_task_age", 30*time.Minute)
	v.SetDefault("tasks.max_retries", 0)
	v.SetDefault("tasks.queue_size", 1000)
	v.SetDefault("tasks.config", map[string]any{})

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime", time.Hour)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.exporter", "http")
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("flower.port", 5555)
	v.SetDefault("flower.address", "0.0.0.0")
}

// newViper creates a viper instance with defaults and environment binding.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the YAML configuration file at path, applies defaults and
// environment overrides, and validates the result.
// Environment variables take precedence over values from the file.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve configuration path: %w", err)
	}

	v := newViper()
	v.SetConfigFile(abs)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	return decode(v, abs)
}

// Default returns the configuration obtained from defaults and environment
// variables only. It is used by tests and by the project scaffold.
func Default() (*Config, error) {
	return decode(newViper(), "")
}

func decode(v *viper.Viper, path string) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.Path = path
	cfg.sections = v.AllSettings()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags and the cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return errors.New("configuration validation failed: auth.jwt_secret is required when auth is enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("configuration validation failed: telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}

// Section returns a top-level section of the document as a map. Modules use
// it for their own settings. The boolean is false when the section is absent
// or is not a mapping.
func (c *Config) Section(name string) (map[string]any, bool) {
	raw, ok := c.sections[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	section, ok := raw.(map[string]any)
	return section, ok
}

// UnmarshalSection decodes a module section into dst. Missing sections leave
// dst untouched so callers can pre-fill defaults.
func (c *Config) UnmarshalSection(name string, dst any) error {
	section, ok := c.Section(name)
	if !ok {
		return nil
	}
	v := viper.New()
	if err := v.MergeConfigMap(section); err != nil {
		return fmt.Errorf("failed to read section %s: %w", name, err)
	}
	if err := v.Unmarshal(dst); err != nil {
		return fmt.Errorf("failed to decode section %s: %w", name, err)
	}
	return nil
}

// Settings returns every effective setting, including defaults.
func (c *Config) Settings() map[string]any {
	return c.sections
}

// Watch calls onChange every time the configuration file is written. The
// callback receives the reloaded configuration, or the error that prevented
// reloading; the previous configuration stays in force in that case.
func Watch(path string, onChange func(*Config, error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve configuration path: %w", err)
	}

	v := newViper()
	v.SetConfigFile(abs)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(decode(v, abs))
	})
	v.WatchConfig()
	return nil
}
