package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tionis/tallercheck/internal/types"
	"gopkg.in/yaml.v3"
)

const envPrefix = "TALLERCHECK_"

// DefaultConfigFile is read when TALLERCHECK_CONFIG is not set and the file exists.
const DefaultConfigFile = "tallercheck.yaml"

// Config holds the resolved runtime configuration.
type Config struct {
	BaseURL        string
	Email          string
	Password       string
	HomePath       string
	RequestTimeout time.Duration

	CookieJarPath   string
	ReportDir       string
	HistoryDBPath   string
	MetricsFilePath string

	RateLimitRPS   float64
	RateLimitBurst int

	Suites types.PatternList

	BrowserBin        string
	BrowserControlURL string
	BrowserHeadless   bool
	BrowserTimeout    time.Duration

	BindAddr    string
	RunInterval time.Duration
	FakeAddr    string

	Notify   types.NotifyConfig
	Fixtures map[string]map[string]string

	LogLevel  string
	LogFormat string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		BaseURL:         "http://127.0.0.1:8000",
		Email:           "admin@taller.com",
		Password:        "password",
		HomePath:        "/dashboard",
		RequestTimeout:  10 * time.Second,
		CookieJarPath:   ".tallercheck-cookies.json",
		ReportDir:       "reports",
		HistoryDBPath:   "tallercheck.db",
		RateLimitBurst:  1,
		BrowserHeadless: true,
		BrowserTimeout:  30 * time.Second,
		BindAddr:        ":9090",
		RunInterval:     15 * time.Minute,
		FakeAddr:        "127.0.0.1:8000",
		Fixtures:        map[string]map[string]string{},
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load resolves configuration from .env, the YAML file and the environment,
// in that order of increasing precedence. The result is not validated:
// callers apply command-line overrides first, then call Validate.
func Load() (Config, error) {
	// A missing .env is the normal case
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	path, explicit := os.LookupEnv(envPrefix + "CONFIG")
	if !explicit {
		path = DefaultConfigFile
	}
	if path != "" {
		fileCfg, err := LoadFile(path)
		switch {
		case err == nil:
			cfg.ApplyFile(fileCfg)
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFile parses a tallercheck.yaml file.
func LoadFile(path string) (*types.FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var fileCfg types.FileConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return &fileCfg, nil
}

// ApplyFile overlays the non-zero values of a parsed YAML file.
func (c *Config) ApplyFile(f *types.FileConfig) {
	setString(&c.BaseURL, f.Target.BaseURL)
	setString(&c.Email, f.Target.Email)
	setString(&c.Password, f.Target.Password)
	setString(&c.HomePath, f.Target.HomePath)
	if f.Target.Timeout > 0 {
		c.RequestTimeout = f.Target.Timeout
	}

	setString(&c.CookieJarPath, f.Output.CookieJar)
	setString(&c.ReportDir, f.Output.ReportDir)
	setString(&c.HistoryDBPath, f.Output.HistoryDB)
	setString(&c.MetricsFilePath, f.Output.MetricsFile)

	if f.RateLimit.RPS > 0 {
		c.RateLimitRPS = f.RateLimit.RPS
	}
	if f.RateLimit.Burst > 0 {
		c.RateLimitBurst = f.RateLimit.Burst
	}

	if !f.Suites.Empty() {
		c.Suites = f.Suites
	}

	setString(&c.BrowserBin, f.Browser.Bin)
	setString(&c.BrowserControlURL, f.Browser.ControlURL)
	if f.Browser.Headless != nil {
		c.BrowserHeadless = *f.Browser.Headless
	}
	if f.Browser.Timeout > 0 {
		c.BrowserTimeout = f.Browser.Timeout
	}

	setString(&c.BindAddr, f.Serve.BindAddr)
	if f.Serve.Interval > 0 {
		c.RunInterval = f.Serve.Interval
	}

	if f.Notify.Type != "" {
		c.Notify = f.Notify
	}

	for module, values := range f.Fixtures {
		if c.Fixtures[module] == nil {
			c.Fixtures[module] = map[string]string{}
		}
		for field, value := range values {
			c.Fixtures[module][field] = value
		}
	}
}

func (c *Config) applyEnv() error {
	for name, dst := range map[string]*string{
		"BASE_URL":            &c.BaseURL,
		"EMAIL":               &c.Email,
		"PASSWORD":            &c.Password,
		"HOME_PATH":           &c.HomePath,
		"COOKIE_JAR":          &c.CookieJarPath,
		"REPORT_DIR":          &c.ReportDir,
		"HISTORY_DB":          &c.HistoryDBPath,
		"METRICS_FILE":        &c.MetricsFilePath,
		"BROWSER_BIN":         &c.BrowserBin,
		"BROWSER_CONTROL_URL": &c.BrowserControlURL,
		"BIND_ADDR":           &c.BindAddr,
		"FAKE_ADDR":           &c.FakeAddr,
		"LOG_LEVEL":           &c.LogLevel,
		"LOG_FORMAT":          &c.LogFormat,
	} {
		// Set but empty clears the setting, e.g. TALLERCHECK_COOKIE_JAR=
		if value, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = value
		}
	}

	var err error
	if c.RequestTimeout, err = durationEnv("TIMEOUT", c.RequestTimeout); err != nil {
		return err
	}
	if c.BrowserTimeout, err = durationEnv("BROWSER_TIMEOUT", c.BrowserTimeout); err != nil {
		return err
	}
	if c.RunInterval, err = durationEnv("INTERVAL", c.RunInterval); err != nil {
		return err
	}

	if raw := os.Getenv(envPrefix + "RATE_LIMIT_RPS"); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("parse %sRATE_LIMIT_RPS: %w", envPrefix, err)
		}
		c.RateLimitRPS = rps
	}
	if raw := os.Getenv(envPrefix + "RATE_LIMIT_BURST"); raw != "" {
		burst, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parse %sRATE_LIMIT_BURST: %w", envPrefix, err)
		}
		c.RateLimitBurst = burst
	}
	if raw := os.Getenv(envPrefix + "BROWSER_HEADLESS"); raw != "" {
		headless, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("parse %sBROWSER_HEADLESS: %w", envPrefix, err)
		}
		c.BrowserHeadless = headless
	}

	if raw := os.Getenv(envPrefix + "SUITES"); raw != "" {
		suites, err := types.ParsePatternList(strings.Split(raw, ","))
		if err != nil {
			return fmt.Errorf("parse %sSUITES: %w", envPrefix, err)
		}
		c.Suites = suites
	}

	return nil
}

// Validate checks the settings every command relies on.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url %q: %w", c.BaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base url must be an absolute http(s) url, got %q", c.BaseURL)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}

	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("rate limit burst must be at least 1 when rps is set")
	}

	if !strings.HasPrefix(c.HomePath, "/") {
		return fmt.Errorf("home path must start with /, got %q", c.HomePath)
	}

	return nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(envPrefix + name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
	}
	return d, nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
