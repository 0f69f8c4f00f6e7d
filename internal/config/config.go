// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported engines and browser types.
const (
	EngineChromium   = "chromium"
	EnginePlaywright = "playwright"

	BrowserTypeChromium = "chromium"
	BrowserTypeWebKit   = "webkit"
	BrowserTypeFirefox  = "firefox"
)

// DefaultBlockedExtensions are the non-markup asset extensions that pages are
// never allowed to load.
var DefaultBlockedExtensions = []string{
	"css",
	"png", "jpg", "jpeg", "webp", "svg",
	"mp4", "mp3",
	"ttf", "ttf2", "woff", "woff2",
}

// DefaultBlockedResourceTypes are engine resource types that are aborted
// regardless of the URL's extension.
var DefaultBlockedResourceTypes = []string{"stylesheet", "image", "media", "font"}

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Fetch   FetchConfig   `mapstructure:"fetch" yaml:"fetch"`
}

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

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	// ListenAddr serves the fetch endpoint on every path.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	// AdminAddr serves /healthz, /readyz and /metrics. Empty disables it.
	AdminAddr         string        `mapstructure:"admin_addr" yaml:"admin_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// RateLimit is the sustained fetch requests per second. 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
	// AbortOnDisconnect cancels an in-flight navigation when the client goes away.
	AbortOnDisconnect bool `mapstructure:"abort_on_disconnect" yaml:"abort_on_disconnect"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Engine         string        `mapstructure:"engine" yaml:"engine"`
	BrowserType    string        `mapstructure:"browser_type" yaml:"browser_type"`
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	ExecutablePath string        `mapstructure:"executable_path" yaml:"executable_path"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	LaunchTimeout  time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	// LazyLaunch defers the launch to the first fetch instead of startup.
	LazyLaunch bool `mapstructure:"lazy_launch" yaml:"lazy_launch"`
	// InstallDrivers lets the playwright engine download its driver and browsers.
	InstallDrivers bool `mapstructure:"install_drivers" yaml:"install_drivers"`
}

// FetchConfig configures the per-request page fetch.
type FetchConfig struct {
	BlockedExtensions    []string `mapstructure:"blocked_extensions" yaml:"blocked_extensions"`
	BlockedResourceTypes []string `mapstructure:"blocked_resource_types" yaml:"blocked_resource_types"`
	// MaxConcurrentPages caps simultaneously open pages. 0 means unlimited.
	MaxConcurrentPages int           `mapstructure:"max_concurrent_pages" yaml:"max_concurrent_pages"`
	CloseTimeout       time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pagesource")
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

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:8050")
	v.SetDefault("server.admin_addr", "127.0.0.1:8051")
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 0.0)
	v.SetDefault("server.rate_burst", 1)
	v.SetDefault("server.abort_on_disconnect", false)

	// -- Browser --
	v.SetDefault("browser.engine", EngineChromium)
	v.SetDefault("browser.browser_type", BrowserTypeChromium)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.executable_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.lazy_launch", false)
	v.SetDefault("browser.install_drivers", false)

	// -- Fetch --
	v.SetDefault("fetch.blocked_extensions", DefaultBlockedExtensions)
	v.SetDefault("fetch.blocked_resource_types", DefaultBlockedResourceTypes)
	v.SetDefault("fetch.max_concurrent_pages", 0)
	v.SetDefault("fetch.close_timeout", "10s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// normalize lower-cases enum-like values and strips leading dots from extensions.
func (c *Config) normalize() {
	c.Browser.Engine = strings.ToLower(strings.TrimSpace(c.Browser.Engine))
	c.Browser.BrowserType = strings.ToLower(strings.TrimSpace(c.Browser.BrowserType))

	exts := make([]string, 0, len(c.Fetch.BlockedExtensions))
	for _, ext := range c.Fetch.BlockedExtensions {
		exts = append(exts, strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), ".")))
	}
	c.Fetch.BlockedExtensions = exts

	types := make([]string, 0, len(c.Fetch.BlockedResourceTypes))
	for _, rt := range c.Fetch.BlockedResourceTypes {
		types = append(types, strings.ToLower(strings.TrimSpace(rt)))
	}
	c.Fetch.BlockedResourceTypes = types
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration invalid: %w", err)
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Fetch.Validate(); err != nil {
		return fmt.Errorf("fetch configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the server configuration.
func (s *ServerConfig) Validate() error {
	if s.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if s.AdminAddr != "" && s.AdminAddr == s.ListenAddr {
		return fmt.Errorf("admin_addr must differ from listen_addr")
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be a positive duration")
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if s.RateLimit > 0 && s.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be at least 1 when rate_limit is set")
	}
	return nil
}

// Validate checks the browser configuration.
func (b *BrowserConfig) Validate() error {
	switch b.Engine {
	case EngineChromium:
		if b.BrowserType != "" && b.BrowserType != BrowserTypeChromium {
			return fmt.Errorf("engine %q only supports browser_type %q", EngineChromium, BrowserTypeChromium)
		}
	case EnginePlaywright:
		switch b.BrowserType {
		case BrowserTypeChromium, BrowserTypeWebKit, BrowserTypeFirefox:
		default:
			return fmt.Errorf("unsupported browser_type %q", b.BrowserType)
		}
	default:
		return fmt.Errorf("unsupported engine %q", b.Engine)
	}
	if b.LaunchTimeout <= 0 {
		return fmt.Errorf("launch_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the fetch configuration.
func (f *FetchConfig) Validate() error {
	if f.MaxConcurrentPages < 0 {
		return fmt.Errorf("max_concurrent_pages must not be negative")
	}
	if f.CloseTimeout <= 0 {
		return fmt.Errorf("close_timeout must be a positive duration")
	}
	for _, ext := range f.BlockedExtensions {
		if ext == "" || strings.ContainsAny(ext, "/?#") {
			return fmt.Errorf("invalid blocked extension %q", ext)
		}
	}
	return nil
}
