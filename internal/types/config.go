package types

import (
	"time"
)

// FileConfig represents the tallercheck.yaml file structure.
type FileConfig struct {
	// Target application
	Target TargetConfig `yaml:"target"`

	// Which suites to run, ssh-style patterns ("crud/*", "!reportes")
	Suites PatternList `yaml:"suites,omitempty"`

	// Output locations
	Output OutputConfig `yaml:"output,omitempty"`

	// Request pacing
	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty"`

	// Headless browser checks
	Browser BrowserConfig `yaml:"browser,omitempty"`

	// Monitor mode (serve command)
	Serve ServeConfig `yaml:"serve,omitempty"`

	// Notification configuration
	Notify NotifyConfig `yaml:"notify,omitempty"`

	// Per-module form value overrides, e.g. fixtures.clientes.telefono
	Fixtures map[string]map[string]string `yaml:"fixtures,omitempty"`
}

// TargetConfig describes the taller instance under test.
type TargetConfig struct {
	BaseURL  string        `yaml:"base_url,omitempty"`
	Email    string        `yaml:"email,omitempty"`
	Password string        `yaml:"password,omitempty"`
	HomePath string        `yaml:"home_path,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// OutputConfig represents where run artifacts are written.
type OutputConfig struct {
	CookieJar   string `yaml:"cookie_jar,omitempty"`
	ReportDir   string `yaml:"report_dir,omitempty"`
	HistoryDB   string `yaml:"history_db,omitempty"`
	MetricsFile string `yaml:"metrics_file,omitempty"`
}

// RateLimitConfig paces requests sent to the target.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps,omitempty"`
	Burst int     `yaml:"burst,omitempty"`
}

// BrowserConfig represents the go-rod browser settings.
type BrowserConfig struct {
	Bin        string        `yaml:"bin,omitempty"`
	ControlURL string        `yaml:"control_url,omitempty"`
	Headless   *bool         `yaml:"headless,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
}

// ServeConfig represents monitor-specific configuration.
type ServeConfig struct {
	BindAddr string        `yaml:"bind_addr,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

// NotifyConfig represents the notification configuration.
type NotifyConfig struct {
	Type      string                 `yaml:"type"`   // "matrix" or "webhook"
	Config    map[string]interface{} `yaml:"config"` // Backend-specific configuration
	OnFailure bool                   `yaml:"on_failure_only,omitempty"`
}

// NotificationMessage represents a notification message.
type NotificationMessage struct {
	Type    string `json:"type"`           // "plain", "markdown", "html"
	Title   string `json:"title"`          // Message title
	Content string `json:"message"`        // Message content
	Room    string `json:"room,omitempty"` // Optional room/channel override
	Failed  bool   `json:"failed"`
}

// NotificationBackend defines the interface for notification backends.
type NotificationBackend interface {
	SendNotification(msg NotificationMessage) error
	ValidateConfig() error
	Close() error
}
