package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsRegistryGathers(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}

	m.RecordHTTPRequest("GET", "clientes", 200, 120*time.Millisecond)
	m.RecordCheck("crud/clientes", "pass")
	m.RecordRun(0, 3*time.Second, time.Now())

	registry := m.GetRegistry()
	if registry == nil {
		t.Fatal("GetRegistry() returned nil")
	}

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	found := map[string]bool{}
	for _, mf := range metricFamilies {
		found[mf.GetName()] = true
	}

	for _, name := range []string{
		"tallercheck_http_requests_total",
		"tallercheck_http_request_duration_seconds",
		"tallercheck_checks_total",
		"tallercheck_runs_total",
		"tallercheck_last_run_timestamp_seconds",
		"tallercheck_last_run_failures",
	} {
		if !found[name] {
			t.Errorf("%s metric not found", name)
		}
	}
}

func TestMetricsLabels(t *testing.T) {
	m := NewMetrics()

	m.RecordHTTPRequest("GET", "clientes", 200, time.Millisecond)
	m.RecordHTTPRequest("POST", "clientes", 302, time.Millisecond)
	m.RecordHTTPRequest("GET", "vehiculos", 404, time.Millisecond)

	metricFamilies, err := m.GetRegistry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	for _, mf := range metricFamilies {
		if mf.GetName() == "tallercheck_http_requests_total" {
			if len(mf.Metric) != 3 {
				t.Errorf("Expected 3 metric samples for different label combinations, got %d", len(mf.Metric))
			}
			return
		}
	}

	t.Error("tallercheck_http_requests_total metric not found")
}

func TestRecordRunFailures(t *testing.T) {
	m := NewMetrics()
	m.RecordRun(4, time.Second, time.Unix(1700000000, 0))

	metricFamilies, err := m.GetRegistry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "tallercheck_last_run_failures":
			if got := mf.Metric[0].GetGauge().GetValue(); got != 4 {
				t.Errorf("expected 4 failures, got %v", got)
			}
		case "tallercheck_last_run_timestamp_seconds":
			if got := mf.Metric[0].GetGauge().GetValue(); got != 1700000000 {
				t.Errorf("unexpected timestamp %v", got)
			}
		case "tallercheck_runs_total":
			label := mf.Metric[0].GetLabel()[0]
			if label.GetValue() != "failed" {
				t.Errorf("expected result=failed, got %s", label.GetValue())
			}
		}
	}
}

// TestMetricsEndpointIntegration serves the registry the way the monitor does
func TestMetricsEndpointIntegration(t *testing.T) {
	m := NewMetrics()
	m.RecordHTTPRequest("GET", "ordenes", 200, time.Millisecond)
	m.SetRunInProgress(true)

	server := httptest.NewServer(promhttp.HandlerFor(m.GetRegistry(), promhttp.HandlerOpts{}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Failed to get metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, `tallercheck_http_requests_total{method="GET",module="ordenes",status="200"} 1`) {
		t.Errorf("Metrics output doesn't contain expected sample:\n%s", bodyStr)
	}
	if !strings.Contains(bodyStr, "tallercheck_run_in_progress 1") {
		t.Error("Metrics output doesn't contain in-progress gauge")
	}
	if !strings.Contains(bodyStr, "# HELP") {
		t.Error("Metrics output doesn't contain help text")
	}
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.RecordCheck("auth", "fail")

	path := filepath.Join(t.TempDir(), "tallercheck.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `tallercheck_checks_total{outcome="fail",suite="auth"} 1`) {
		t.Errorf("textfile missing check sample:\n%s", data)
	}
}
