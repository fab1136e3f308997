// Package monitor runs the suites on an interval or on demand, one run at a
// time, and feeds every result to metrics, history and live subscribers.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tionis/tallercheck/internal/check"
	"github.com/tionis/tallercheck/internal/metrics"
	"github.com/tionis/tallercheck/internal/report"
	"github.com/tionis/tallercheck/internal/streams"
	"github.com/tionis/tallercheck/internal/utils"
)

// LiveKey is the streams key live events are published under.
const LiveKey = "live"

// ErrBusy is returned by Trigger while a run is executing or queued.
var ErrBusy = errors.New("a run is already in progress")

// Job executes one complete run, calling listen for every result.
type Job func(ctx context.Context, runID string, listen check.Listener) (*report.Report, error)

// Saver persists finished runs.
type Saver interface {
	SaveRun(ctx context.Context, r *report.Report) error
}

// Options configures a Monitor.
type Options struct {
	Job      Job
	Interval time.Duration

	Metrics  *metrics.Metrics
	History  Saver
	Streams  *streams.Manager
	Notify   func(*report.Report)
	Logger   *slog.Logger
	Textfile string
}

// Event is what live subscribers receive, encoded as JSON.
type Event struct {
	Type   string         `json:"type"` // "started", "result" or "finished"
	RunID  string         `json:"run_id"`
	Result *check.Result  `json:"result,omitempty"`
	Report *report.Report `json:"report,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Status is a snapshot of the monitor.
type Status struct {
	Running    bool           `json:"running"`
	CurrentRun string         `json:"current_run,omitempty"`
	Runs       int            `json:"runs"`
	LastError  string         `json:"last_error,omitempty"`
	NextRun    *time.Time     `json:"next_run,omitempty"`
	Latest     *report.Report `json:"latest,omitempty"`
}

// Monitor schedules runs.
type Monitor struct {
	opts    Options
	logger  *slog.Logger
	trigger chan string

	mu      sync.Mutex
	running string
	queued  bool
	runs    int
	lastErr string
	next    time.Time
	latest  *report.Report
}

// New creates a monitor. Start must be called to begin running.
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		opts:    opts,
		logger:  logger.With("component", "monitor"),
		trigger: make(chan string, 1),
	}
}

// Start runs once immediately and then on every interval tick until ctx is
// done. A non-positive interval only runs on Trigger after the first run.
func (m *Monitor) Start(ctx context.Context) error {
	var tick <-chan time.Time
	if m.opts.Interval > 0 {
		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	m.runOnce(ctx, utils.NewRunID())

	for {
		m.scheduleNext()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			m.runOnce(ctx, utils.NewRunID())
		case id := <-m.trigger:
			m.runOnce(ctx, id)
		}
	}
}

// Trigger queues a run and returns its ID, or ErrBusy.
func (m *Monitor) Trigger() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running != "" || m.queued {
		return "", ErrBusy
	}

	id := utils.NewRunID()
	select {
	case m.trigger <- id:
		m.queued = true
		return id, nil
	default:
		return "", ErrBusy
	}
}

// Status returns a snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{
		Running:    m.running != "",
		CurrentRun: m.running,
		Runs:       m.runs,
		LastError:  m.lastErr,
		Latest:     m.latest,
	}
	if !m.next.IsZero() {
		next := m.next
		s.NextRun = &next
	}
	return s
}

// Latest returns the most recent finished report, if any.
func (m *Monitor) Latest() *report.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

func (m *Monitor) scheduleNext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opts.Interval > 0 {
		m.next = time.Now().Add(m.opts.Interval)
	}
}

func (m *Monitor) runOnce(ctx context.Context, runID string) {
	m.mu.Lock()
	m.running = runID
	m.queued = false
	m.mu.Unlock()

	if m.opts.Metrics != nil {
		m.opts.Metrics.SetRunInProgress(true)
	}
	m.publish(Event{Type: "started", RunID: runID})
	m.logger.Info("run starting", "run_id", runID)

	r, err := m.opts.Job(ctx, runID, func(res check.Result) {
		if m.opts.Metrics != nil {
			m.opts.Metrics.RecordCheck(res.Suite, string(res.Outcome))
		}
		m.publish(Event{Type: "result", RunID: runID, Result: &res})
	})

	if m.opts.Metrics != nil {
		m.opts.Metrics.SetRunInProgress(false)
	}

	finished := Event{Type: "finished", RunID: runID, Report: r}
	if err != nil {
		finished.Error = err.Error()
		m.logger.Error("run failed", "run_id", runID, "error", err)
	}

	if r != nil {
		m.record(ctx, r)
	}
	m.publish(finished)

	m.mu.Lock()
	m.running = ""
	m.runs++
	m.lastErr = finished.Error
	if r != nil {
		m.latest = r
	}
	m.mu.Unlock()
}

func (m *Monitor) record(ctx context.Context, r *report.Report) {
	if m.opts.Metrics != nil {
		m.opts.Metrics.RecordRun(r.Failed, r.Duration(), r.FinishedAt)
		if m.opts.Textfile != "" {
			if err := m.opts.Metrics.WriteTextfile(m.opts.Textfile); err != nil {
				m.logger.Warn("failed to write metrics textfile", "error", err)
			}
		}
	}

	if m.opts.History != nil {
		// Saved even when ctx is cancelled so interrupted runs are kept
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := m.opts.History.SaveRun(saveCtx, r); err != nil {
			m.logger.Error("failed to save run", "run_id", r.RunID, "error", err)
		}
	}

	if m.opts.Notify != nil {
		m.opts.Notify(r)
	}
}

func (m *Monitor) publish(ev Event) {
	if m.opts.Streams == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		m.logger.Warn("failed to encode event", "type", ev.Type, "error", err)
		return
	}
	if _, err := m.opts.Streams.Publish(LiveKey, body); err != nil && !errors.Is(err, streams.ErrClosed) {
		m.logger.Warn("failed to publish event", "type", ev.Type, "error", err)
	}
}
