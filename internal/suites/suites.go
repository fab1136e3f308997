// Package suites holds the smoke checks run against the taller application
// and the runner that executes them in order over one login session.
package suites

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tionis/tallercheck/internal/auth"
	"github.com/tionis/tallercheck/internal/check"
	"github.com/tionis/tallercheck/internal/fixtures"
	"github.com/tionis/tallercheck/internal/scrape"
	"github.com/tionis/tallercheck/internal/session"
	"github.com/tionis/tallercheck/internal/types"
	"github.com/tionis/tallercheck/internal/utils"
)

// errAbort stops a suite after a failed step that later steps depend on.
// The failure itself is already recorded.
var errAbort = errors.New("suite aborted")

// Suite is a named sequence of checks.
type Suite interface {
	Name() string
	// NeedsSession reports whether the suite runs on the shared login.
	NeedsSession() bool
	// Steps lists every step the suite may record, in order.
	Steps() []string
	Run(ctx context.Context, env *Env) error
}

// Env is what a suite runs against.
type Env struct {
	Client   *session.Client
	Recorder *check.Recorder
	Fixtures *fixtures.Set
	Creds    auth.Credentials
	HomePath string
	Logger   *slog.Logger

	// NewClient returns a fresh client with an in-memory cookie jar.
	NewClient func() (*session.Client, error)

	suite string
	seq   map[string]int
}

func (e *Env) step(name string) *check.Step {
	return e.Recorder.Begin(e.suite, name)
}

// next returns a fresh fixture number for module.
func (e *Env) next(module string) int {
	if e.seq == nil {
		e.seq = make(map[string]int)
	}
	e.seq[module]++
	return e.seq[module]
}

type suite struct {
	name    string
	session bool
	steps   []string
	run     func(ctx context.Context, env *Env) error
}

func (s *suite) Name() string       { return s.name }
func (s *suite) NeedsSession() bool { return s.session }
func (s *suite) Steps() []string    { return append([]string(nil), s.steps...) }

func (s *suite) Run(ctx context.Context, env *Env) error {
	return s.run(ctx, env)
}

// All returns the suites in execution order.
func All() []Suite {
	out := []Suite{authSuite(), pagesSuite()}
	for _, m := range Modules {
		out = append(out, crudSuite(m))
	}
	for _, m := range Modules {
		out = append(out, validationSuite(m))
	}
	return append(out, reportsSuite())
}

// Select keeps the suites matched by patterns, preserving order.
func Select(all []Suite, patterns types.PatternList) []Suite {
	var out []Suite
	for _, s := range all {
		if patterns.Match(s.Name()) {
			out = append(out, s)
		}
	}
	return out
}

// fail records err on st and returns it.
func fail(st *check.Step, err error) error {
	st.Fail("%v", err)
	return err
}

// isTransport reports a failure that produced no HTTP response.
func isTransport(err error) bool {
	var te *session.TransportError
	return errors.As(err, &te)
}

// expectRedirectWithBanner follows a 302 after a write and checks the
// success banner on the landing page.
func expectRedirectWithBanner(ctx context.Context, env *Env, st *check.Step, resp *session.Response, avoid string) (*session.Response, error) {
	st.With(resp)
	if !resp.IsRedirect() {
		st.Fail("status %d, expected a redirect", resp.Status)
		return nil, errAbort
	}
	if avoid != "" && resp.RedirectsTo(avoid) {
		landing, err := env.Client.Follow(ctx, resp)
		if err != nil {
			return nil, fail(st, err)
		}
		st.Fail("redirected back to %s: %v", avoid, validationDetail(landing))
		return nil, errAbort
	}

	landing, err := env.Client.Follow(ctx, resp)
	if err != nil {
		return nil, fail(st, err)
	}
	if landing.Status != http.StatusOK {
		st.Fail("landing page %s returned %d", landing.URL.Path, landing.Status)
		return landing, nil
	}
	if !scrape.HasSuccess(landing.Body) {
		st.Fail("no success banner on %s", landing.URL.Path)
		return landing, nil
	}
	st.Pass("%s: %s", landing.URL.Path, utils.Truncate(scrape.SuccessMessage(landing.Body), 80))
	return landing, nil
}

// validationDetail summarizes the field errors shown on a page.
func validationDetail(resp *session.Response) string {
	errs := scrape.ValidationErrors(resp.Body)
	if len(errs) == 0 {
		return "no field errors shown"
	}
	return utils.Truncate(strings.Join(errs, "; "), 160)
}
