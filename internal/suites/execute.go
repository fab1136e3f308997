package suites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tionis/tallercheck/internal/auth"
	"github.com/tionis/tallercheck/internal/check"
	"github.com/tionis/tallercheck/internal/fixtures"
	"github.com/tionis/tallercheck/internal/report"
	"github.com/tionis/tallercheck/internal/session"
	"github.com/tionis/tallercheck/internal/utils"
)

// Plan is everything one run needs.
type Plan struct {
	RunID    string
	Suites   []Suite
	Creds    auth.Credentials
	HomePath string
	Fixtures map[string]map[string]string

	// Client is the shared session; NewClient builds throwaway ones.
	Client    *session.Client
	NewClient func() (*session.Client, error)

	Listeners []check.Listener
	Logger    *slog.Logger
}

// Execute runs the plan and summarizes it. A cancelled context still
// returns the partial report together with the context error.
func Execute(ctx context.Context, plan Plan) (*report.Report, error) {
	if plan.Client == nil {
		return nil, errors.New("plan has no client")
	}
	if plan.RunID == "" {
		plan.RunID = utils.NewRunID()
	}
	logger := plan.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", plan.RunID)

	tag := utils.UniqueTag("QA")
	env := &Env{
		Client:    plan.Client,
		Recorder:  check.NewRecorder(plan.Listeners...),
		Fixtures:  fixtures.New(tag, plan.Fixtures),
		Creds:     plan.Creds,
		HomePath:  plan.HomePath,
		Logger:    logger,
		NewClient: plan.NewClient,
	}

	target := plan.Client.BaseURL().String()
	logger.Info("run started", "target", target, "suites", len(plan.Suites), "tag", tag)

	started := time.Now()
	runErr := NewRunner(logger, plan.Suites).Run(ctx, env)
	finished := time.Now()

	r := report.Build(plan.RunID, target, env.Recorder.Results(), started, finished)
	logger.Info("run finished",
		"passed", r.Passed,
		"failed", r.Failed,
		"skipped", r.Skipped,
		"duration", r.Duration().Round(time.Millisecond),
	)

	if runErr != nil {
		return r, fmt.Errorf("run interrupted: %w", runErr)
	}
	return r, nil
}
