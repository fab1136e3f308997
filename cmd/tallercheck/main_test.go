package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/tionis/tallercheck/internal/fakeapp"
	"github.com/tionis/tallercheck/internal/history"
	"github.com/tionis/tallercheck/internal/report"
)

func startFake(t *testing.T) (*fakeapp.App, string) {
	t.Helper()
	app := fakeapp.New(fakeapp.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ts := httptest.NewServer(app.Handler())
	t.Cleanup(ts.Close)
	return app, ts.URL
}

// isolate keeps config files and the environment of the developer out of
// the test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("TALLERCHECK_CONFIG", "")
	return dir
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger("debug", "json", &buf)
	require.NoError(t, err)
	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	_, err = newLogger("loud", "text", &buf)
	assert.Error(t, err)

	_, err = newLogger("info", "xml", &buf)
	assert.Error(t, err)
}

func TestRunCommandAgainstFakeApp(t *testing.T) {
	dir := isolate(t)
	_, url := startFake(t)
	reports := filepath.Join(dir, "reports")
	db := filepath.Join(dir, "history.db")
	t.Setenv("TALLERCHECK_HISTORY_DB", db)

	err := newApp().RunContext(context.Background(), []string{
		"tallercheck", "--base-url", url, "--cookie-jar", "", "--log-level", "error", "--no-color",
		"run", "--report-dir", reports,
	})
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(reports, "tallercheck-*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	rep, err := report.ReadJSON(files[0])
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Greater(t, rep.Passed, 50)

	store, err := history.Open(context.Background(), db)
	require.NoError(t, err)
	defer store.Close()
	latest, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, latest.RunID)
}

func TestRunCommandExitsOneOnFailures(t *testing.T) {
	isolate(t)
	app, url := startFake(t)
	app.InjectFault("clientes", "store", fakeapp.Fault{Status: 500})

	err := newApp().RunContext(context.Background(), []string{
		"tallercheck", "--base-url", url, "--cookie-jar", "", "--log-level", "error", "--no-color",
		"run", "--only", "crud/clientes", "--report-dir", "", "--no-history",
	})
	var exit cli.ExitCoder
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, exitFailures, exit.ExitCode())
}

func TestBadConfigExitsTwo(t *testing.T) {
	isolate(t)

	err := newApp().RunContext(context.Background(), []string{
		"tallercheck", "--base-url", "not a url", "run",
	})
	var exit cli.ExitCoder
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, exitConfig, exit.ExitCode())
}

func TestBaseURLFlagOverridesBadEnv(t *testing.T) {
	isolate(t)
	_, url := startFake(t)
	t.Setenv("TALLERCHECK_BASE_URL", "taller.local")

	err := newApp().RunContext(context.Background(), []string{
		"tallercheck", "--base-url", url, "--cookie-jar", "", "--log-level", "error", "--no-color",
		"run", "--only", "auth", "--report-dir", "", "--no-history",
	})
	assert.NoError(t, err)
}

func TestUnknownSuiteSelectionExitsTwo(t *testing.T) {
	isolate(t)
	_, url := startFake(t)

	err := newApp().RunContext(context.Background(), []string{
		"tallercheck", "--base-url", url, "--cookie-jar", "", "run", "--only", "nada/*",
	})
	var exit cli.ExitCoder
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, exitConfig, exit.ExitCode())
}

func TestLoginPersistsCookieJar(t *testing.T) {
	dir := isolate(t)
	_, url := startFake(t)
	jar := filepath.Join(dir, "cookies.json")

	err := newApp().RunContext(context.Background(), []string{
		"tallercheck", "--base-url", url, "--cookie-jar", jar, "--log-level", "error", "login",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(jar)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "taller_session"))
}
