package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tionis/tallercheck/internal/check"
	"github.com/tionis/tallercheck/internal/metrics"
	"github.com/tionis/tallercheck/internal/report"
	"github.com/tionis/tallercheck/internal/streams"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memorySaver struct {
	mu   sync.Mutex
	runs []string
}

func (s *memorySaver) SaveRun(_ context.Context, r *report.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r.RunID)
	return nil
}

func (s *memorySaver) saved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.runs...)
}

// fakeJob records one pass and one fail, optionally blocking until release.
func fakeJob(release <-chan struct{}) Job {
	return func(ctx context.Context, runID string, listen check.Listener) (*report.Report, error) {
		rec := check.NewRecorder(listen)
		started := time.Now()
		rec.Begin("auth", "login").Pass("ok")
		if release != nil {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		rec.Begin("crud/clientes", "store").Fail("status 500")
		return report.Build(runID, "http://taller.test", rec.Results(), started, time.Now()), nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestFirstRunFeedsEverySink(t *testing.T) {
	m := metrics.NewMetrics()
	saver := &memorySaver{}
	hub := streams.NewManager(discard())
	defer hub.Close()

	sub, err := hub.Subscribe(LiveKey)
	require.NoError(t, err)
	defer sub.Close()

	var notified []string
	var notifyMu sync.Mutex

	mon := New(Options{
		Job:     fakeJob(nil),
		Metrics: m,
		History: saver,
		Streams: hub,
		Notify: func(r *report.Report) {
			notifyMu.Lock()
			notified = append(notified, r.RunID)
			notifyMu.Unlock()
		},
		Logger: discard(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Start(ctx) }()

	waitFor(t, func() bool { return mon.Status().Runs == 1 })
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	status := mon.Status()
	assert.False(t, status.Running)
	require.NotNil(t, status.Latest)
	assert.Equal(t, 1, status.Latest.Failed)
	assert.Equal(t, []string{status.Latest.RunID}, saver.saved())

	notifyMu.Lock()
	assert.Equal(t, []string{status.Latest.RunID}, notified)
	notifyMu.Unlock()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChecksTotal.WithLabelValues("auth", "pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChecksTotal.WithLabelValues("crud/clientes", "fail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LastRunFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunInProgress))

	var types []string
	for len(types) < 4 {
		select {
		case msg := <-sub.C:
			var ev Event
			require.NoError(t, json.Unmarshal(msg, &ev))
			assert.Equal(t, status.Latest.RunID, ev.RunID)
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("only got events %v", types)
		}
	}
	assert.Equal(t, []string{"started", "result", "result", "finished"}, types)
}

func TestTriggerIsRejectedWhileBusy(t *testing.T) {
	release := make(chan struct{})
	mon := New(Options{Job: fakeJob(release), Logger: discard()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Start(ctx) }()

	waitFor(t, func() bool { return mon.Status().Running })
	_, err := mon.Trigger()
	assert.ErrorIs(t, err, ErrBusy)

	release <- struct{}{}
	waitFor(t, func() bool { return mon.Status().Runs == 1 && !mon.Status().Running })

	id, err := mon.Trigger()
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Queued or already executing, a second trigger is busy
	_, err = mon.Trigger()
	assert.ErrorIs(t, err, ErrBusy)

	waitFor(t, func() bool { return mon.Status().CurrentRun == id })
	release <- struct{}{}
	waitFor(t, func() bool { return mon.Status().Runs == 2 })
	assert.Equal(t, id, mon.Latest().RunID)

	cancel()
	<-done
}

func TestIntervalSchedulesRuns(t *testing.T) {
	saver := &memorySaver{}
	mon := New(Options{Job: fakeJob(nil), Interval: 20 * time.Millisecond, History: saver, Logger: discard()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Start(ctx) }()

	waitFor(t, func() bool { return len(saver.saved()) >= 3 })
	assert.NotNil(t, mon.Status().NextRun)

	cancel()
	<-done
}

func TestJobErrorIsReported(t *testing.T) {
	failing := func(ctx context.Context, runID string, listen check.Listener) (*report.Report, error) {
		return nil, errors.New("target unreachable")
	}
	saver := &memorySaver{}
	mon := New(Options{Job: failing, History: saver, Logger: discard()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Start(ctx) }()

	waitFor(t, func() bool { return mon.Status().Runs == 1 })
	cancel()
	<-done

	status := mon.Status()
	assert.Equal(t, "target unreachable", status.LastError)
	assert.Nil(t, status.Latest)
	assert.Empty(t, saver.saved())
}
