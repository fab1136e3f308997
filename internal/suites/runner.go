package suites

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tionis/tallercheck/internal/auth"
	"github.com/tionis/tallercheck/internal/utils"
)

// LoginSuite is the suite name the shared login is recorded under.
const LoginSuite = "login"

// Runner executes suites one after another over a single login session.
type Runner struct {
	suites []Suite
	logger *slog.Logger
}

// NewRunner creates a runner for the given suites, in order.
func NewRunner(logger *slog.Logger, suites []Suite) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		suites: suites,
		logger: logger.With("component", "runner"),
	}
}

// Suites returns the suites the runner executes.
func (r *Runner) Suites() []Suite {
	return append([]Suite(nil), r.suites...)
}

// Run logs in once when a suite needs the session and runs every suite.
// Steps a suite did not reach are recorded as skipped. The only error
// returned is the context's.
func (r *Runner) Run(ctx context.Context, env *Env) error {
	if env.Logger == nil {
		env.Logger = r.logger
	}

	loggedIn := false
	if r.needsSession() {
		loggedIn = r.login(ctx, env)
	}

	for _, s := range r.suites {
		env.suite = s.Name()

		switch {
		case ctx.Err() != nil:
			r.skipRemaining(env, s, "cancelled")
			continue
		case s.NeedsSession() && !loggedIn:
			r.skipRemaining(env, s, "login failed")
			continue
		}

		r.logger.Info("running suite", "suite", s.Name())
		err := s.Run(ctx, env)

		reason := "not reached"
		switch {
		case err == nil:
		case errors.Is(err, errAbort):
			reason = "previous step failed"
		default:
			r.logger.Warn("suite stopped", "suite", s.Name(), "error", err)
			reason = "stopped: " + utils.Truncate(err.Error(), 120)
		}
		r.skipRemaining(env, s, reason)
	}

	return ctx.Err()
}

func (r *Runner) needsSession() bool {
	for _, s := range r.suites {
		if s.NeedsSession() {
			return true
		}
	}
	return false
}

func (r *Runner) login(ctx context.Context, env *Env) bool {
	env.suite = LoginSuite
	st := env.step("session")

	reused, err := auth.EnsureLogin(ctx, env.Client, env.Creds, env.HomePath)
	if err != nil {
		r.logger.Error("login failed", "email", env.Creds.Email, "error", err)
		st.Fail("%v", err)
		return false
	}

	if reused {
		st.Pass("persisted session reused")
	} else {
		st.Pass("logged in as %s", env.Creds.Email)
	}

	if err := env.Client.SaveCookies(); err != nil {
		r.logger.Warn("failed to save cookie jar", "error", err)
	}
	return true
}

func (r *Runner) skipRemaining(env *Env, s Suite, reason string) {
	done := map[string]bool{}
	for _, res := range env.Recorder.Results() {
		if res.Suite == s.Name() {
			done[res.Step] = true
		}
	}
	for _, step := range s.Steps() {
		if !done[step] {
			env.Recorder.Begin(s.Name(), step).Skip("%s", reason)
		}
	}
}
