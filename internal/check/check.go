// Package check records the outcome of individual assertions made while a
// suite drives the target application.
package check

import (
	"fmt"
	"sync"
	"time"

	"github.com/tionis/tallercheck/internal/session"
)

// Outcome of a single check.
type Outcome string

const (
	Pass Outcome = "pass"
	Fail Outcome = "fail"
	Skip Outcome = "skip"
)

// Result is one recorded assertion.
type Result struct {
	Seq        int           `json:"seq"`
	Suite      string        `json:"suite"`
	Step       string        `json:"step"`
	Outcome    Outcome       `json:"outcome"`
	Method     string        `json:"method,omitempty"`
	Path       string        `json:"path,omitempty"`
	Status     int           `json:"status,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Name returns "suite/step".
func (r Result) Name() string {
	return r.Suite + "/" + r.Step
}

// Listener is notified after every recorded result.
type Listener func(Result)

// Recorder is an append-only, in-memory results list.
type Recorder struct {
	mu        sync.Mutex
	results   []Result
	listeners []Listener
	now       func() time.Time
}

// NewRecorder creates an empty recorder.
func NewRecorder(listeners ...Listener) *Recorder {
	return &Recorder{
		listeners: listeners,
		now:       time.Now,
	}
}

// Listen adds a listener for results recorded from now on.
func (r *Recorder) Listen(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Record appends a result, stamping its sequence number and time.
func (r *Recorder) Record(res Result) Result {
	r.mu.Lock()
	res.Seq = len(r.results) + 1
	if res.RecordedAt.IsZero() {
		res.RecordedAt = r.now().UTC()
	}
	r.results = append(r.results, res)
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()

	for _, l := range listeners {
		l(res)
	}
	return res
}

// Results returns a snapshot of everything recorded so far.
func (r *Recorder) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

// Counts tallies outcomes.
func (r *Recorder) Counts() (passed, failed, skipped int) {
	return Tally(r.Results())
}

// Tally counts outcomes in a result list.
func Tally(results []Result) (passed, failed, skipped int) {
	for _, res := range results {
		switch res.Outcome {
		case Pass:
			passed++
		case Fail:
			failed++
		case Skip:
			skipped++
		}
	}
	return passed, failed, skipped
}

// Step is a single timed assertion in progress.
type Step struct {
	rec     *Recorder
	suite   string
	name    string
	started time.Time
	resp    *session.Response
}

// Begin starts timing a step.
func (r *Recorder) Begin(suite, name string) *Step {
	return &Step{rec: r, suite: suite, name: name, started: r.now()}
}

// With attaches the response the step is judged on.
func (s *Step) With(resp *session.Response) *Step {
	s.resp = resp
	return s
}

// Pass records a passing result.
func (s *Step) Pass(format string, args ...any) Result {
	return s.finish(Pass, fmt.Sprintf(format, args...))
}

// Fail records a failing result.
func (s *Step) Fail(format string, args ...any) Result {
	return s.finish(Fail, fmt.Sprintf(format, args...))
}

// Skip records a skipped result.
func (s *Step) Skip(format string, args ...any) Result {
	return s.finish(Skip, fmt.Sprintf(format, args...))
}

// Check records Pass when ok holds and Fail otherwise, returning ok.
func (s *Step) Check(ok bool, format string, args ...any) bool {
	if ok {
		s.Pass(format, args...)
	} else {
		s.Fail(format, args...)
	}
	return ok
}

// ExpectStatus passes when the response status is in the expected set.
func (s *Step) ExpectStatus(resp *session.Response, codes ...int) bool {
	s.resp = resp
	for _, code := range codes {
		if resp.Status == code {
			s.Pass("status %d", resp.Status)
			return true
		}
	}
	s.Fail("status %d, expected one of %v", resp.Status, codes)
	return false
}

func (s *Step) finish(outcome Outcome, detail string) Result {
	res := Result{
		Suite:    s.suite,
		Step:     s.name,
		Outcome:  outcome,
		Detail:   detail,
		Duration: s.rec.now().Sub(s.started),
	}
	if s.resp != nil {
		res.Method = s.resp.Method
		res.Path = s.resp.URL.Path
		res.Status = s.resp.Status
	}
	return s.rec.Record(res)
}
