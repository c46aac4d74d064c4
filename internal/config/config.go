// Package config loads the daemon configuration from a YAML file and
// HOTPLUG_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/goatkit/hotplug/internal/plugin"
)

// EnvPrefix prefixes every environment override, e.g. HOTPLUG_SERVER_ADDR.
const EnvPrefix = "HOTPLUG"

const (
	defaultAddr               = ":8080"
	defaultTriggerRatePerHour = 60
	defaultLogLevel           = "info"
	defaultLogFormat          = "text"
	defaultLogBufferSize      = 1000
	defaultRetryAttempts      = 3
	defaultRetryDelayMs       = 5000
)

// Config is the validated process configuration. It is built once by Load
// and treated as read-only afterwards.
type Config struct {
	Server  ServerConfig    `mapstructure:"server"`
	Log     LogConfig       `mapstructure:"log"`
	Plugins plugin.Settings `mapstructure:"plugins"`

	// Path is the file the configuration was read from, if any.
	Path string `mapstructure:"-"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr               string `mapstructure:"addr"`
	TriggerRatePerHour int    `mapstructure:"trigger_rate_per_hour"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // text or json
	BufferSize int    `mapstructure:"buffer_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", defaultAddr)
	v.SetDefault("server.trigger_rate_per_hour", defaultTriggerRatePerHour)

	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.format", defaultLogFormat)
	v.SetDefault("log.buffer_size", defaultLogBufferSize)

	v.SetDefault("plugins.enabled", false)
	v.SetDefault("plugins.sources", []map[string]any{})
	v.SetDefault("plugins.auto_load_on_startup", false)
	v.SetDefault("plugins.reload_schedule", "")

	v.SetDefault("plugins.execution.timeout_ms", plugin.DefaultExecutionTimeout.Milliseconds())
	v.SetDefault("plugins.execution.isolated", true)
	v.SetDefault("plugins.execution.display_errors", false)
	v.SetDefault("plugins.execution.max_script_bytes", plugin.DefaultMaxScriptBytes)
	v.SetDefault("plugins.execution.max_call_stack_size", plugin.DefaultMaxCallStackSize)
	v.SetDefault("plugins.execution.max_buffer_bytes", plugin.DefaultMaxBufferBytes)

	v.SetDefault("plugins.fetch.timeout_ms", plugin.DefaultFetchTimeout.Milliseconds())
	v.SetDefault("plugins.fetch.max_body_bytes", plugin.DefaultMaxBodyBytes)
	v.SetDefault("plugins.fetch.user_agent", plugin.DefaultUserAgent)

	v.SetDefault("plugins.retry.enabled", false)
	v.SetDefault("plugins.retry.max_attempts", defaultRetryAttempts)
	v.SetDefault("plugins.retry.delay_ms", defaultRetryDelayMs)
}

// Load reads path (optional), applies environment overrides and defaults and
// validates the result. A missing file is only an error when path was given.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("hotplug")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hotplug")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	for i := range c.Plugins.Sources {
		s := &c.Plugins.Sources[i]
		s.Name = strings.TrimSpace(s.Name)
		s.Method = strings.ToUpper(strings.TrimSpace(s.Method))
		if s.Method == "" {
			s.Method = plugin.DefaultMethod
		}
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
}

// Validate reports every constraint the configuration violates.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		add("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format: must be text or json, got %q", c.Log.Format)
	}
	if c.Server.TriggerRatePerHour < 0 {
		add("server.trigger_rate_per_hour: must not be negative")
	}

	p := c.Plugins
	if p.Execution.TimeoutMs <= 0 {
		add("plugins.execution.timeout_ms: must be positive")
	}
	if !p.Execution.Isolated {
		add("plugins.execution.isolated: payloads always run in a fresh context, false is not supported")
	}
	if p.Execution.MaxScriptBytes <= 0 {
		add("plugins.execution.max_script_bytes: must be positive")
	}
	if p.Execution.MaxCallStackSize <= 0 {
		add("plugins.execution.max_call_stack_size: must be positive")
	}
	if p.Execution.MaxBufferBytes <= 0 {
		add("plugins.execution.max_buffer_bytes: must be positive")
	}
	if p.Fetch.TimeoutMs <= 0 {
		add("plugins.fetch.timeout_ms: must be positive")
	}
	if p.Fetch.MaxBodyBytes <= 0 {
		add("plugins.fetch.max_body_bytes: must be positive")
	}
	if p.Retry.MaxAttempts < 1 {
		add("plugins.retry.max_attempts: must be at least 1")
	}
	if p.Retry.DelayMs < 0 {
		add("plugins.retry.delay_ms: must not be negative")
	}
	if p.ReloadSchedule != "" {
		if _, err := cron.ParseStandard(p.ReloadSchedule); err != nil {
			add("plugins.reload_schedule: %v", err)
		}
	}

	seen := make(map[string]bool, len(p.Sources))
	for i, s := range p.Sources {
		if s.Name == "" {
			add("plugins.sources[%d]: name is required", i)
		} else if seen[s.Name] {
			add("plugins.sources[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true

		if err := validateURL(s.URL); err != nil {
			add("plugins.sources[%d] (%s): %v", i, s.Name, err)
		}
		switch s.Method {
		case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
		default:
			add("plugins.sources[%d] (%s): unsupported method %q", i, s.Name, s.Method)
		}
	}

	return errors.Join(errs...)
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url has no host")
	}
	return nil
}
