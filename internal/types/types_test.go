package types

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func mustParsePatternList(t *testing.T, patterns ...string) PatternList {
	t.Helper()
	list, err := ParsePatternList(patterns)
	if err != nil {
		t.Fatalf("failed to parse patterns %v: %v", patterns, err)
	}
	return list
}

func TestPatternListMatch(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		suite    string
		expected bool
	}{
		{name: "empty matches everything", patterns: nil, suite: "auth", expected: true},
		{name: "exact", patterns: []string{"auth"}, suite: "auth", expected: true},
		{name: "exact miss", patterns: []string{"auth"}, suite: "paginas", expected: false},
		{name: "wildcard", patterns: []string{"crud/*"}, suite: "crud/clientes", expected: true},
		{name: "wildcard miss", patterns: []string{"crud/*"}, suite: "validacion/clientes", expected: false},
		{name: "excluded", patterns: []string{"crud/*", "!crud/ordenes"}, suite: "crud/ordenes", expected: false},
		{name: "not excluded", patterns: []string{"crud/*", "!crud/ordenes"}, suite: "crud/vehiculos", expected: true},
		{name: "only exclusions", patterns: []string{"!reportes"}, suite: "auth", expected: true},
		{name: "only exclusions hit", patterns: []string{"!reportes"}, suite: "reportes", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := mustParsePatternList(t, tt.patterns...)
			if got := list.Match(tt.suite); got != tt.expected {
				t.Errorf("Match(%q) with %v = %v, want %v", tt.suite, tt.patterns, got, tt.expected)
			}
		})
	}
}

func TestPatternListSkipsBlankEntries(t *testing.T) {
	list := mustParsePatternList(t, "", "  ")
	if !list.Empty() {
		t.Errorf("expected blank patterns to leave the list empty, got %v", list.Strings())
	}
}

func TestPatternListYAML(t *testing.T) {
	original := mustParsePatternList(t, "crud/*", "!crud/ordenes")

	data, err := yaml.Marshal(original)
	if err != nil {
		t.Fatalf("Failed to marshal PatternList: %v", err)
	}

	var decoded PatternList
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal PatternList: %v", err)
	}

	got, want := decoded.Strings(), original.Strings()
	if len(got) != len(want) {
		t.Fatalf("pattern count mismatch: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pattern %d mismatch: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPatternListYAMLScalar(t *testing.T) {
	var list PatternList
	if err := yaml.Unmarshal([]byte(`"reportes"`), &list); err != nil {
		t.Fatalf("Failed to unmarshal scalar: %v", err)
	}
	if !list.Match("reportes") || list.Match("auth") {
		t.Errorf("scalar pattern not applied: %v", list.Strings())
	}
}

func TestFileConfigYAML(t *testing.T) {
	raw := `
target:
  base_url: http://taller.local
  email: qa@taller.local
  password: secreto
  timeout: 15s
suites:
  - auth
  - "crud/*"
output:
  report_dir: out
  history_db: runs.db
rate_limit:
  rps: 2.5
  burst: 3
browser:
  headless: false
  timeout: 1m
serve:
  bind_addr: ":9191"
  interval: 30m
notify:
  type: webhook
  on_failure_only: true
  config:
    url: http://hooks.local/taller
fixtures:
  clientes:
    telefono: "04140000000"
`

	var cfg FileConfig
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("Failed to unmarshal FileConfig: %v", err)
	}

	if cfg.Target.BaseURL != "http://taller.local" {
		t.Errorf("BaseURL = %q", cfg.Target.BaseURL)
	}
	if cfg.Target.Timeout != 15*time.Second {
		t.Errorf("Timeout = %s, want 15s", cfg.Target.Timeout)
	}
	if !cfg.Suites.Match("crud/clientes") || cfg.Suites.Match("reportes") {
		t.Errorf("suites not parsed: %v", cfg.Suites.Strings())
	}
	if cfg.Output.HistoryDB != "runs.db" {
		t.Errorf("HistoryDB = %q", cfg.Output.HistoryDB)
	}
	if cfg.RateLimit.RPS != 2.5 || cfg.RateLimit.Burst != 3 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Browser.Headless == nil || *cfg.Browser.Headless {
		t.Errorf("Headless should be explicitly false")
	}
	if cfg.Serve.Interval != 30*time.Minute {
		t.Errorf("Interval = %s, want 30m", cfg.Serve.Interval)
	}
	if cfg.Notify.Type != "webhook" || !cfg.Notify.OnFailure {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
	if cfg.Notify.Config["url"] != "http://hooks.local/taller" {
		t.Errorf("Notify url = %v", cfg.Notify.Config["url"])
	}
	if cfg.Fixtures["clientes"]["telefono"] != "04140000000" {
		t.Errorf("Fixtures = %v", cfg.Fixtures)
	}
}
