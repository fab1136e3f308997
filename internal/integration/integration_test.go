package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tionis/tallercheck/internal/auth"
	"github.com/tionis/tallercheck/internal/check"
	"github.com/tionis/tallercheck/internal/fakeapp"
	"github.com/tionis/tallercheck/internal/history"
	"github.com/tionis/tallercheck/internal/httpserver"
	"github.com/tionis/tallercheck/internal/metrics"
	"github.com/tionis/tallercheck/internal/monitor"
	"github.com/tionis/tallercheck/internal/report"
	"github.com/tionis/tallercheck/internal/session"
	"github.com/tionis/tallercheck/internal/streams"
	"github.com/tionis/tallercheck/internal/suites"
	"github.com/tionis/tallercheck/internal/types"
	"github.com/tionis/tallercheck/internal/utils"
)

const (
	email    = "qa@taller.test"
	password = "s3cret"
)

type stack struct {
	app   *fakeapp.App
	api   *httptest.Server
	store *history.Store
}

// setupStack wires the fake application, the monitor and the monitor API
// the same way the serve command does.
func setupStack(t *testing.T, only ...string) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	app := fakeapp.New(fakeapp.Options{Email: email, Password: password, Logger: logger})
	target := httptest.NewServer(app.Handler())
	t.Cleanup(target.Close)

	store, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	selection, err := types.ParsePatternList(only)
	require.NoError(t, err)
	selected := suites.Select(suites.All(), selection)
	require.NotEmpty(t, selected)

	m := metrics.NewMetrics()
	hub := streams.NewManager(logger)
	t.Cleanup(hub.Close)

	newClient := func() (*session.Client, error) {
		return session.New(session.Options{
			BaseURL: target.URL,
			Timeout: 5 * time.Second,
			Logger:  logger,
			Observer: func(method, path string, status int, duration time.Duration) {
				m.RecordHTTPRequest(method, utils.ModuleOf(path), status, duration)
			},
		})
	}
	job := func(ctx context.Context, runID string, listen check.Listener) (*report.Report, error) {
		client, err := newClient()
		if err != nil {
			return nil, err
		}
		return suites.Execute(ctx, suites.Plan{
			RunID:     runID,
			Suites:    selected,
			Creds:     auth.Credentials{Email: email, Password: password},
			HomePath:  "/dashboard",
			Client:    client,
			NewClient: newClient,
			Listeners: []check.Listener{listen},
			Logger:    logger,
		})
	}

	mon := monitor.New(monitor.Options{
		Job:     job,
		Metrics: m,
		History: store,
		Streams: hub,
		Logger:  logger,
	})
	api := httptest.NewServer(httpserver.New(httpserver.Options{
		Target:       target.URL,
		Scheduler:    mon,
		History:      store,
		Metrics:      m,
		Streams:      hub,
		TriggerRPS:   100,
		TriggerBurst: 10,
	}, logger).Handler())
	t.Cleanup(api.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = mon.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &stack{app: app, api: api, store: store}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// waitRuns polls /status until n runs finished.
func waitRuns(t *testing.T, s *stack, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		var st struct {
			Running bool `json:"running"`
			Runs    int  `json:"runs"`
		}
		return getJSON(t, s.api.URL+"/status", &st) == http.StatusOK && st.Runs >= n && !st.Running
	}, 30*time.Second, 50*time.Millisecond)
}

func TestScheduledRunIsStoredAndServed(t *testing.T) {
	s := setupStack(t)
	waitRuns(t, s, 1)

	var latest report.Report
	require.Equal(t, http.StatusOK, getJSON(t, s.api.URL+"/api/v1/runs/latest", &latest))
	assert.True(t, latest.OK(), "failures: %+v", latest.Failures())
	assert.Greater(t, latest.Passed, 50)

	names := make([]string, 0, len(latest.Suites))
	for _, suite := range latest.Suites {
		names = append(names, suite.Name)
	}
	assert.Contains(t, names, "crud/clientes")
	assert.Contains(t, names, "reportes")

	var byID report.Report
	require.Equal(t, http.StatusOK, getJSON(t, s.api.URL+"/api/v1/runs/"+latest.RunID, &byID))
	assert.Equal(t, latest.Passed, byID.Passed)
	assert.Len(t, byID.Results, len(latest.Results))

	resp, err := http.Get(s.api.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `tallercheck_runs_total{result="passed"} 1`)
	assert.Contains(t, string(body), `module="clientes"`)
}

func TestTriggeredRunReportsInjectedFault(t *testing.T) {
	s := setupStack(t, "crud/clientes")
	waitRuns(t, s, 1)

	s.app.InjectFault("clientes", "store", fakeapp.Fault{Status: http.StatusInternalServerError})

	resp, err := http.Post(s.api.URL+"/api/v1/runs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := strings.TrimPrefix(resp.Header.Get("Location"), "/api/v1/runs/")
	require.NotEmpty(t, id)

	waitRuns(t, s, 2)

	var triggered report.Report
	require.Equal(t, http.StatusOK, getJSON(t, s.api.URL+"/api/v1/runs/"+id, &triggered))
	require.False(t, triggered.OK())
	require.NotEmpty(t, triggered.Failures())
	assert.Equal(t, "crud/clientes", triggered.Failures()[0].Suite)

	var list struct {
		Runs []history.Run `json:"runs"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, s.api.URL+"/api/v1/runs", &list))
	require.Len(t, list.Runs, 2)
	assert.Equal(t, id, list.Runs[0].ID)
}

func TestLiveFeedStreamsTriggeredRun(t *testing.T) {
	s := setupStack(t, "auth")
	waitRuns(t, s, 1)

	wsURL := "ws" + strings.TrimPrefix(s.api.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		var st struct {
			Live int `json:"live_subscribers"`
		}
		return getJSON(t, s.api.URL+"/status", &st) == http.StatusOK && st.Live == 1
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(s.api.URL+"/api/v1/runs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(30*time.Second)))
	var kinds []string
	for {
		var ev monitor.Event
		require.NoError(t, conn.ReadJSON(&ev))
		kinds = append(kinds, ev.Type)
		if ev.Type == "finished" {
			require.NotNil(t, ev.Report)
			assert.True(t, ev.Report.OK())
			break
		}
	}
	assert.Equal(t, "started", kinds[0])
	assert.Contains(t, kinds, "result")
}
