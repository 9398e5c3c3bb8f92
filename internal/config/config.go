// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Backend() BackendConfig
	Mirror() MirrorConfig
	Replay() ReplayConfig
	Database() DatabaseConfig

	// Flag overrides
	SetBrowserHeadless(bool)
	SetMirrorStrict(bool)
	SetReplayFollow(bool)
	SetDatabaseURL(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	BackendCfg  BackendConfig  `mapstructure:"backend" yaml:"backend"`
	MirrorCfg   MirrorConfig   `mapstructure:"mirror" yaml:"mirror"`
	ReplayCfg   ReplayConfig   `mapstructure:"replay" yaml:"replay"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Backend() BackendConfig   { return c.BackendCfg }
func (c *Config) Mirror() MirrorConfig     { return c.MirrorCfg }
func (c *Config) Replay() ReplayConfig     { return c.ReplayCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetMirrorStrict(b bool)    { c.MirrorCfg.Strict = b }
func (c *Config) SetReplayFollow(b bool)    { c.ReplayCfg.Follow = b }
func (c *Config) SetDatabaseURL(url string) { c.DatabaseCfg.URL = url }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance the mirror attaches to.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// BackendConfig tunes how requests reach the inspector backend.
type BackendConfig struct {
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	// EventBuffer is the capacity of the inbound message channel.
	EventBuffer int `mapstructure:"event_buffer" yaml:"event_buffer"`
}

// MirrorConfig controls how the agent treats the backend's messages.
type MirrorConfig struct {
	// Strict stops the agent loop on the first protocol violation.
	Strict bool `mapstructure:"strict" yaml:"strict"`
	// DocumentDepth is the depth of the initial document snapshot; -1 fetches
	// the whole tree.
	DocumentDepth int  `mapstructure:"document_depth" yaml:"document_depth"`
	Pierce        bool `mapstructure:"pierce" yaml:"pierce"`
}

// ReplayConfig controls transcript replay.
type ReplayConfig struct {
	Follow bool `mapstructure:"follow" yaml:"follow"`
	// Poll makes follow mode poll the file instead of using inotify.
	Poll bool `mapstructure:"poll" yaml:"poll"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "domscope")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.navigation_timeout", "60s")

	// -- Backend --
	v.SetDefault("backend.request_timeout", "10s")
	v.SetDefault("backend.requests_per_second", 50.0)
	v.SetDefault("backend.burst", 10)
	v.SetDefault("backend.event_buffer", 256)

	// -- Mirror --
	v.SetDefault("mirror.strict", true)
	v.SetDefault("mirror.document_depth", 2)
	v.SetDefault("mirror.pierce", false)

	// -- Replay --
	v.SetDefault("replay.follow", false)
	v.SetDefault("replay.poll", false)

	// -- Database --
	v.SetDefault("database.url", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries a password, so allow it from the environment.
	v.BindEnv("database.url", "DOMSCOPE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading "~" in file system paths.
func (c *Config) expandPaths() error {
	var err error
	if c.BrowserCfg.ExecPath, err = homedir.Expand(c.BrowserCfg.ExecPath); err != nil {
		return fmt.Errorf("failed to expand browser.exec_path: %w", err)
	}
	if c.LoggerCfg.LogFile, err = homedir.Expand(c.LoggerCfg.LogFile); err != nil {
		return fmt.Errorf("failed to expand logger.log_file: %w", err)
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.LoggerCfg.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be \"console\" or \"json\", got %q", c.LoggerCfg.Format)
	}
	if c.BrowserCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if err := c.BackendCfg.Validate(); err != nil {
		return fmt.Errorf("backend configuration invalid: %w", err)
	}
	if c.MirrorCfg.DocumentDepth < -1 || c.MirrorCfg.DocumentDepth == 0 {
		return fmt.Errorf("mirror.document_depth must be -1 or a positive integer")
	}
	return nil
}

// Validate checks the BackendConfig settings.
func (b *BackendConfig) Validate() error {
	if b.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be a positive duration")
	}
	if b.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}
	if b.Burst <= 0 {
		return fmt.Errorf("burst must be a positive integer")
	}
	if b.EventBuffer < 0 {
		return fmt.Errorf("event_buffer must not be negative")
	}
	return nil
}
