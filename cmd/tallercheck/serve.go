package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tionis/tallercheck/internal/check"
	"github.com/tionis/tallercheck/internal/config"
	"github.com/tionis/tallercheck/internal/fakeapp"
	"github.com/tionis/tallercheck/internal/history"
	"github.com/tionis/tallercheck/internal/httpserver"
	"github.com/tionis/tallercheck/internal/metrics"
	"github.com/tionis/tallercheck/internal/monitor"
	"github.com/tionis/tallercheck/internal/notification"
	"github.com/tionis/tallercheck/internal/report"
	"github.com/tionis/tallercheck/internal/session"
	"github.com/tionis/tallercheck/internal/streams"
	"github.com/tionis/tallercheck/internal/suites"
	"github.com/tionis/tallercheck/internal/types"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the suites on an interval and expose status, metrics and a live feed",
		Flags: []cli.Flag{
			onlyFlag,
			&cli.StringFlag{Name: "bind", Usage: "listen address"},
			&cli.DurationFlag{Name: "interval", Usage: "time between scheduled runs"},
			&cli.Float64Flag{Name: "trigger-rps", Value: 0.1, Usage: "rate limit for manual runs"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			if v := c.String("bind"); v != "" {
				cfg.BindAddr = v
			}
			if c.IsSet("interval") {
				cfg.RunInterval = c.Duration("interval")
			}

			selected := suites.Select(suites.All(), cfg.Suites)
			if len(selected) == 0 {
				return cli.Exit("no suite matches the selection", exitConfig)
			}

			m := metrics.NewMetrics()
			hub := streams.NewManager(logger)
			defer hub.Close()

			var store *history.Store
			if cfg.HistoryDBPath != "" {
				store, err = history.Open(c.Context, cfg.HistoryDBPath)
				if err != nil {
					return fmt.Errorf("open history: %w", err)
				}
				defer store.Close()
			}

			opts := monitor.Options{
				Job:      monitorJob(cfg, logger, m, selected),
				Interval: cfg.RunInterval,
				Metrics:  m,
				Streams:  hub,
				Logger:   logger,
				Textfile: cfg.MetricsFilePath,
			}
			if store != nil {
				opts.History = store
			}
			if notify := notifier(cfg.Notify, logger); notify != nil {
				opts.Notify = notify
			}
			mon := monitor.New(opts)

			serverOpts := httpserver.Options{
				Target:       cfg.BaseURL,
				Scheduler:    mon,
				Metrics:      m,
				Streams:      hub,
				TriggerRPS:   c.Float64("trigger-rps"),
				TriggerBurst: 1,
			}
			if store != nil {
				serverOpts.History = store
			}
			api := httpserver.New(serverOpts, logger)

			httpSrv := &http.Server{
				Addr:              cfg.BindAddr,
				Handler:           api.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			return serveUntilDone(c.Context, logger, httpSrv, func(ctx context.Context) error {
				err := mon.Start(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func monitorJob(cfg config.Config, logger *slog.Logger, m *metrics.Metrics, selected []suites.Suite) monitor.Job {
	return func(ctx context.Context, runID string, listen check.Listener) (*report.Report, error) {
		client, err := newClient(cfg, logger, m, cfg.CookieJarPath)
		if err != nil {
			return nil, err
		}
		rep, err := suites.Execute(ctx, suites.Plan{
			RunID:     runID,
			Suites:    selected,
			Creds:     credentials(cfg),
			HomePath:  cfg.HomePath,
			Fixtures:  cfg.Fixtures,
			Client:    client,
			NewClient: func() (*session.Client, error) { return newClient(cfg, logger, m, "") },
			Listeners: []check.Listener{listen},
			Logger:    logger,
		})
		if rep != nil && cfg.ReportDir != "" {
			if path, werr := report.WriteJSON(cfg.ReportDir, rep); werr != nil {
				logger.Error("failed to write report", "error", werr)
			} else {
				logger.Info("report written", "path", path)
			}
		}
		return rep, err
	}
}

func notifier(cfg types.NotifyConfig, logger *slog.Logger) func(*report.Report) {
	if cfg.Type == "" {
		return nil
	}
	backend, err := notification.BackendFactory(logger, cfg)
	if err != nil {
		logger.Warn("notification backend unavailable", "error", err)
		return nil
	}
	if err := backend.ValidateConfig(); err != nil {
		logger.Warn("notification backend misconfigured", "error", err)
		return nil
	}
	return func(r *report.Report) {
		notification.Notify(logger, backend, cfg.OnFailure, r)
	}
}

func fakeCommand() *cli.Command {
	return &cli.Command{
		Name:  "fake",
		Usage: "serve an in-process imitation of the taller application",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			addr := cfg.FakeAddr
			if v := c.String("addr"); v != "" {
				addr = v
			}

			app := fakeapp.New(fakeapp.Options{
				Email:    cfg.Email,
				Password: cfg.Password,
				Logger:   logger,
			})
			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           app.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			logger.Info("fake taller app listening", "addr", addr, "email", cfg.Email)
			return serveUntilDone(c.Context, logger, httpSrv, nil)
		},
	}
}

// serveUntilDone runs srv, and work when given, until ctx is cancelled or
// either fails, then shuts the server down.
func serveUntilDone(ctx context.Context, logger *slog.Logger, srv *http.Server, work func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if work != nil {
		g.Go(func() error {
			return work(ctx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	logger.Info("stopped")
	return err
}
