package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory with no TALLERCHECK_
// variables leaking in from the environment.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, name := range []string{
		"CONFIG", "BASE_URL", "EMAIL", "PASSWORD", "HOME_PATH", "COOKIE_JAR",
		"REPORT_DIR", "HISTORY_DB", "METRICS_FILE", "TIMEOUT", "INTERVAL",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "SUITES", "LOG_LEVEL", "LOG_FORMAT",
		"BROWSER_BIN", "BROWSER_CONTROL_URL", "BROWSER_HEADLESS", "BROWSER_TIMEOUT",
		"BIND_ADDR", "FAKE_ADDR",
	} {
		t.Setenv(envPrefix+name, "")
		os.Unsetenv(envPrefix + name)
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().BaseURL, cfg.BaseURL)
	assert.Equal(t, "/dashboard", cfg.HomePath)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.True(t, cfg.Suites.Empty())
}

func TestLoadPrecedence(t *testing.T) {
	dir := isolate(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"TALLERCHECK_EMAIL=dotenv@taller.test\nTALLERCHECK_PASSWORD=from-dotenv\n",
	), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(`
target:
  base_url: http://file.local
  email: file@taller.test
  timeout: 20s
suites: ["crud/*"]
fixtures:
  clientes:
    telefono: "04120000000"
`), 0o600))
	t.Setenv("TALLERCHECK_BASE_URL", "http://env.local:8080")
	t.Setenv("TALLERCHECK_SUITES", "auth,reportes")

	cfg, err := Load()
	require.NoError(t, err)

	// env beats file
	assert.Equal(t, "http://env.local:8080", cfg.BaseURL)
	assert.True(t, cfg.Suites.Match("auth"))
	assert.False(t, cfg.Suites.Match("crud/clientes"))

	// .env is loaded into the environment, which beats the file
	assert.Equal(t, "dotenv@taller.test", cfg.Email)
	assert.Equal(t, "from-dotenv", cfg.Password)

	// file beats defaults
	assert.Equal(t, 20*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "04120000000", cfg.Fixtures["clientes"]["telefono"])
}

func TestLoadExplicitMissingFile(t *testing.T) {
	isolate(t)
	t.Setenv("TALLERCHECK_CONFIG", "nope.yaml")

	_, err := Load()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRejectsBadEnv(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "timeout", key: "TALLERCHECK_TIMEOUT", value: "soon"},
		{name: "rps", key: "TALLERCHECK_RATE_LIMIT_RPS", value: "fast"},
		{name: "burst", key: "TALLERCHECK_RATE_LIMIT_BURST", value: "1.5"},
		{name: "headless", key: "TALLERCHECK_BROWSER_HEADLESS", value: "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "https", mutate: func(c *Config) { c.BaseURL = "https://taller.example.com/app" }},
		{name: "ftp scheme", mutate: func(c *Config) { c.BaseURL = "ftp://taller.local" }, wantErr: true},
		{name: "no host", mutate: func(c *Config) { c.BaseURL = "http://" }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.RequestTimeout = 0 }, wantErr: true},
		{name: "rps without burst", mutate: func(c *Config) { c.RateLimitRPS = 1; c.RateLimitBurst = 0 }, wantErr: true},
		{name: "relative home", mutate: func(c *Config) { c.HomePath = "dashboard" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadLeavesValidationToCaller(t *testing.T) {
	isolate(t)
	t.Setenv("TALLERCHECK_BASE_URL", "taller.local")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())

	// a command-line override still gets its chance
	cfg.BaseURL = "http://taller.local"
	assert.NoError(t, cfg.Validate())
}

func TestEmptyEnvClearsSetting(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(`
output:
  cookie_jar: jar.json
  metrics_file: tallercheck.prom
`), 0o600))
	t.Setenv("TALLERCHECK_COOKIE_JAR", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.CookieJarPath)
	assert.Equal(t, "tallercheck.prom", cfg.MetricsFilePath, "unset variables keep the file value")
}
