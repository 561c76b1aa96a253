// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is validated once at
// construction and treated as immutable afterwards: every session acquisition
// receives its own copy and nothing mutates it past Validate.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Timeouts    TimeoutConfig     `mapstructure:"timeouts" yaml:"timeouts"`
	Resolver    ResolverConfig    `mapstructure:"resolver" yaml:"resolver"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// WindowSize is the initial browser window geometry.
type WindowSize struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// BrowserConfig holds settings for the spawned browser instance.
type BrowserConfig struct {
	Headless bool       `mapstructure:"headless" yaml:"headless"`
	Window   WindowSize `mapstructure:"window_size" yaml:"window_size"`
	// BinaryPath overrides browser discovery. Empty means probe the
	// platform's well-known install locations.
	BinaryPath string `mapstructure:"binary_path" yaml:"binary_path"`
	// ExtraArgs are appended to the Chrome command line. On conflict with a
	// flag derived from this configuration, the configuration wins.
	ExtraArgs     []string `mapstructure:"extra_arguments" yaml:"extra_arguments"`
	DownloadDir   string   `mapstructure:"download_dir" yaml:"download_dir"`
	UserAgent     string   `mapstructure:"user_agent" yaml:"user_agent"`
	DisableGPU    bool     `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	NoSandbox     bool     `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	DisableDevShm bool     `mapstructure:"disable_dev_shm" yaml:"disable_dev_shm"`
}

// TimeoutConfig tunes the session's patience at each phase.
type TimeoutConfig struct {
	// ImplicitWait is forwarded to the driver's element location timeout.
	ImplicitWait time.Duration `mapstructure:"implicit_wait" yaml:"implicit_wait"`
	// PageLoad bounds a single navigation inside the driver.
	PageLoad time.Duration `mapstructure:"page_load_timeout" yaml:"page_load_timeout"`
	// Start bounds driver spawn plus health check.
	Start time.Duration `mapstructure:"start" yaml:"start"`
	// Quit bounds the graceful half of teardown before the process is killed.
	Quit time.Duration `mapstructure:"quit" yaml:"quit"`
}

// ResolverConfig controls driver discovery, download, and caching.
type ResolverConfig struct {
	// CacheDir stores one subfolder per driver version. Empty means
	// ~/.cache/chromepuppet/drivers.
	CacheDir     string        `mapstructure:"cache_dir" yaml:"cache_dir"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	// MaxAttempts bounds retries of transient I/O failures during lookup and
	// download. Version mismatches are never retried.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// DiagnosticsConfig controls failure artifact capture.
type DiagnosticsConfig struct {
	Dir               string `mapstructure:"dir" yaml:"dir"`
	CaptureScreenshot bool   `mapstructure:"capture_screenshot" yaml:"capture_screenshot"`
	CapturePageSource bool   `mapstructure:"capture_page_source" yaml:"capture_page_source"`
}

// NewDefaultConfig creates a new configuration struct populated with default
// values.
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
	v.SetDefault("logger.service_name", "chromepuppet")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_size.width", 1920)
	v.SetDefault("browser.window_size.height", 1080)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.disable_dev_shm", true)

	// -- Timeouts --
	v.SetDefault("timeouts.implicit_wait", "10s")
	v.SetDefault("timeouts.page_load_timeout", "60s")
	v.SetDefault("timeouts.start", "30s")
	v.SetDefault("timeouts.quit", "5s")

	// -- Resolver --
	v.SetDefault("resolver.fetch_timeout", "60s")
	v.SetDefault("resolver.max_attempts", 3)

	// -- Diagnostics --
	v.SetDefault("diagnostics.dir", "artifacts")
	v.SetDefault("diagnostics.capture_screenshot", true)
	v.SetDefault("diagnostics.capture_page_source", true)
}

// Clone returns an independent copy of the configuration. Sessions hold a
// clone so later mutation by the caller cannot reach a live session.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Browser.ExtraArgs = append([]string(nil), c.Browser.ExtraArgs...)
	return &clone
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// Validation errors are surfaced, never silently defaulted away.
func (c *Config) Validate() error {
	if c.Browser.Window.Width <= 0 || c.Browser.Window.Height <= 0 {
		return fmt.Errorf("browser.window_size dimensions must be positive, got %dx%d",
			c.Browser.Window.Width, c.Browser.Window.Height)
	}
	if c.Timeouts.ImplicitWait < 0 {
		return fmt.Errorf("timeouts.implicit_wait must not be negative")
	}
	if c.Timeouts.PageLoad <= 0 {
		return fmt.Errorf("timeouts.page_load_timeout must be a positive duration")
	}
	if c.Timeouts.Start <= 0 {
		return fmt.Errorf("timeouts.start must be a positive duration")
	}
	if c.Resolver.MaxAttempts < 1 {
		return fmt.Errorf("resolver.max_attempts must be at least 1")
	}
	return nil
}
