package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"github.com/tionis/tallercheck/internal/auth"
	"github.com/tionis/tallercheck/internal/check"
	"github.com/tionis/tallercheck/internal/config"
	"github.com/tionis/tallercheck/internal/history"
	"github.com/tionis/tallercheck/internal/metrics"
	"github.com/tionis/tallercheck/internal/notification"
	"github.com/tionis/tallercheck/internal/report"
	"github.com/tionis/tallercheck/internal/session"
	"github.com/tionis/tallercheck/internal/suites"
	"github.com/tionis/tallercheck/internal/types"
	"github.com/tionis/tallercheck/internal/utils"
)

var onlyFlag = &cli.StringSliceFlag{
	Name:  "only",
	Usage: "suite patterns to run, e.g. 'crud/*' or '!reportes' (repeatable)",
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "log in and run the selected suites",
		Flags: []cli.Flag{
			onlyFlag,
			&cli.StringFlag{Name: "report-dir", Usage: "directory for the JSON dump (empty disables it)"},
			&cli.BoolFlag{Name: "no-history", Usage: "do not store the run in the history database"},
			&cli.BoolFlag{Name: "no-notify", Usage: "do not send notifications"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			if c.IsSet("report-dir") {
				cfg.ReportDir = c.String("report-dir")
			}
			if c.Bool("no-history") {
				cfg.HistoryDBPath = ""
			}
			if c.Bool("no-notify") {
				cfg.Notify = types.NotifyConfig{}
			}
			return runOnce(c.Context, c, cfg, logger)
		},
	}
}

func runOnce(ctx context.Context, c *cli.Context, cfg config.Config, logger *slog.Logger) error {
	selected := suites.Select(suites.All(), cfg.Suites)
	if len(selected) == 0 {
		return cli.Exit("no suite matches the selection", exitConfig)
	}

	m := metrics.NewMetrics()
	client, err := newClient(cfg, logger, m, cfg.CookieJarPath)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}

	m.SetRunInProgress(true)
	rep, runErr := suites.Execute(ctx, suites.Plan{
		Suites:    selected,
		Creds:     credentials(cfg),
		HomePath:  cfg.HomePath,
		Fixtures:  cfg.Fixtures,
		Client:    client,
		NewClient: func() (*session.Client, error) { return newClient(cfg, logger, m, "") },
		Listeners: []check.Listener{func(res check.Result) {
			m.RecordCheck(res.Suite, string(res.Outcome))
		}},
		Logger: logger,
	})
	m.SetRunInProgress(false)
	if rep == nil {
		return runErr
	}

	if err := report.WriteText(os.Stdout, rep, useColor(c)); err != nil {
		logger.Warn("failed to print report", "error", err)
	}
	finish(ctx, cfg, logger, m, rep)

	if runErr != nil {
		return cli.Exit(runErr.Error(), exitFailures)
	}
	if !rep.OK() {
		return cli.Exit("", exitFailures)
	}
	return nil
}

// finish writes every artifact of a finished run. Failures here are logged
// and never change the run's outcome.
func finish(ctx context.Context, cfg config.Config, logger *slog.Logger, m *metrics.Metrics, rep *report.Report) {
	m.RecordRun(rep.Failed, rep.Duration(), rep.FinishedAt)

	if cfg.ReportDir != "" {
		path, err := report.WriteJSON(cfg.ReportDir, rep)
		if err != nil {
			logger.Error("failed to write report", "error", err)
		} else {
			logger.Info("report written", "path", path)
		}
	}

	if cfg.HistoryDBPath != "" {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		store, err := history.Open(saveCtx, cfg.HistoryDBPath)
		if err != nil {
			logger.Error("failed to open history", "error", err)
		} else {
			if err := store.SaveRun(saveCtx, rep); err != nil {
				logger.Error("failed to save run", "error", err)
			}
			_ = store.Close()
		}
	}

	if cfg.MetricsFilePath != "" {
		if err := m.WriteTextfile(cfg.MetricsFilePath); err != nil {
			logger.Warn("failed to write metrics textfile", "error", err)
		}
	}

	if cfg.Notify.Type != "" {
		backend, err := notification.BackendFactory(logger, cfg.Notify)
		if err != nil {
			logger.Warn("notification backend unavailable", "error", err)
			return
		}
		defer backend.Close()
		notification.Notify(logger, backend, cfg.Notify.OnFailure, rep)
	}
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "authenticate and persist the session cookie jar",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "fresh", Usage: "discard any persisted session first"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			client, err := newClient(cfg, logger, nil, cfg.CookieJarPath)
			if err != nil {
				return cli.Exit(err.Error(), exitConfig)
			}
			if c.Bool("fresh") {
				client.Reset()
			}

			reused, err := auth.EnsureLogin(c.Context, client, credentials(cfg), cfg.HomePath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("login failed: %v", err), exitFailures)
			}
			if err := client.SaveCookies(); err != nil {
				return cli.Exit(err.Error(), exitFailures)
			}

			if reused {
				fmt.Printf("session still valid for %s\n", cfg.Email)
			} else {
				fmt.Printf("logged in as %s\n", cfg.Email)
			}
			if cfg.CookieJarPath != "" {
				fmt.Printf("cookies saved to %s\n", cfg.CookieJarPath)
			}
			return nil
		},
	}
}

func suitesCommand() *cli.Command {
	return &cli.Command{
		Name:  "suites",
		Usage: "list suites and whether the current selection runs them",
		Flags: []cli.Flag{onlyFlag},
		Action: func(c *cli.Context) error {
			cfg, _, err := setup(c)
			if err != nil {
				return err
			}
			for _, s := range suites.All() {
				mark := " "
				if cfg.Suites.Match(s.Name()) {
					mark = "*"
				}
				fmt.Printf("%s %-24s %d steps\n", mark, s.Name(), len(s.Steps()))
			}
			return nil
		},
	}
}

func newClient(cfg config.Config, logger *slog.Logger, m *metrics.Metrics, jar string) (*session.Client, error) {
	opts := session.Options{
		BaseURL:       cfg.BaseURL,
		Timeout:       cfg.RequestTimeout,
		CookieJarPath: jar,
		Burst:         cfg.RateLimitBurst,
		Logger:        logger,
	}
	if cfg.RateLimitRPS > 0 {
		opts.RateLimit = rate.Limit(cfg.RateLimitRPS)
	}
	if m != nil {
		opts.Observer = func(method, path string, status int, duration time.Duration) {
			m.RecordHTTPRequest(method, utils.ModuleOf(path), status, duration)
		}
	}

	client, err := session.New(opts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return client, nil
}

func credentials(cfg config.Config) auth.Credentials {
	return auth.Credentials{Email: cfg.Email, Password: cfg.Password}
}
