// Package report turns recorded check results into the console report and
// the JSON dump written after every run.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tionis/tallercheck/internal/check"
)

// SuiteSummary tallies one suite.
type SuiteSummary struct {
	Name    string `json:"name"`
	Passed  int    `json:"passed"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
}

// Report is the outcome of one run.
type Report struct {
	RunID      string         `json:"run_id"`
	Target     string         `json:"target"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Passed     int            `json:"passed"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Suites     []SuiteSummary `json:"suites"`
	Results    []check.Result `json:"results"`
}

// Build summarizes results, keeping suites in first-seen order.
func Build(runID, target string, results []check.Result, started, finished time.Time) *Report {
	r := &Report{
		RunID:      runID,
		Target:     target,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		Results:    append([]check.Result(nil), results...),
	}
	r.Passed, r.Failed, r.Skipped = check.Tally(results)

	index := map[string]int{}
	for _, res := range results {
		i, ok := index[res.Suite]
		if !ok {
			i = len(r.Suites)
			index[res.Suite] = i
			r.Suites = append(r.Suites, SuiteSummary{Name: res.Suite})
		}
		switch res.Outcome {
		case check.Pass:
			r.Suites[i].Passed++
		case check.Fail:
			r.Suites[i].Failed++
		case check.Skip:
			r.Suites[i].Skipped++
		}
	}
	return r
}

// OK reports a run without failures.
func (r *Report) OK() bool {
	return r.Failed == 0
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failures returns the failed results.
func (r *Report) Failures() []check.Result {
	var out []check.Result
	for _, res := range r.Results {
		if res.Outcome == check.Fail {
			out = append(out, res)
		}
	}
	return out
}

type palette struct {
	title lipgloss.Style
	suite lipgloss.Style
	pass  lipgloss.Style
	fail  lipgloss.Style
	skip  lipgloss.Style
	muted lipgloss.Style
}

func newPalette(color bool) palette {
	if !color {
		plain := lipgloss.NewStyle()
		return palette{title: plain, suite: plain, pass: plain, fail: plain, skip: plain, muted: plain}
	}
	return palette{
		title: lipgloss.NewStyle().Bold(true),
		suite: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3")),
		pass:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A")),
		fail:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e53935")),
		skip:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107")),
		muted: lipgloss.NewStyle().Faint(true),
	}
}

func (p palette) outcome(o check.Outcome) string {
	label := strings.ToUpper(string(o))
	switch o {
	case check.Pass:
		return p.pass.Render(label)
	case check.Fail:
		return p.fail.Render(label)
	default:
		return p.skip.Render(label)
	}
}

// WriteText prints the console report.
func WriteText(w io.Writer, r *Report, color bool) error {
	p := newPalette(color)
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s\n", p.title.Render(fmt.Sprintf("tallercheck run %s against %s", r.RunID, r.Target)))
	fmt.Fprintf(&sb, "%s\n", p.muted.Render(fmt.Sprintf("started %s, took %s",
		r.StartedAt.Format(time.RFC3339), r.Duration().Round(time.Millisecond))))

	width := 0
	for _, res := range r.Results {
		if l := lipgloss.Width(res.Step); l > width {
			width = l
		}
	}

	for _, s := range r.Suites {
		fmt.Fprintf(&sb, "\n%s %s\n", p.suite.Render("== "+s.Name+" =="),
			p.muted.Render(fmt.Sprintf("(%d passed, %d failed, %d skipped)", s.Passed, s.Failed, s.Skipped)))
		for _, res := range r.Results {
			if res.Suite != s.Name {
				continue
			}
			line := fmt.Sprintf("  %s  %-*s", p.outcome(res.Outcome), width, res.Step)
			if res.Status != 0 {
				line += fmt.Sprintf("  [%d %s %s]", res.Status, res.Method, res.Path)
			}
			if res.Detail != "" {
				line += "  " + res.Detail
			}
			sb.WriteString(strings.TrimRight(line, " ") + "\n")
		}
	}

	verdict := p.pass.Render("PASS")
	if !r.OK() {
		verdict = p.fail.Render("FAIL")
	}
	fmt.Fprintf(&sb, "\nTOTAL: %d passed, %d failed, %d skipped\nRESULT: %s\n", r.Passed, r.Failed, r.Skipped, verdict)

	_, err := io.WriteString(w, sb.String())
	return err
}

// FileName is the JSON dump name of a report.
func FileName(r *Report) string {
	return fmt.Sprintf("tallercheck-%s-%s.json", r.StartedAt.Format("20060102T150405Z"), r.RunID)
}

// WriteJSON writes the report into dir and returns the file path.
func WriteJSON(dir string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	path := filepath.Join(dir, FileName(r))
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// ReadJSON loads a report written by WriteJSON.
func ReadJSON(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &r, nil
}
