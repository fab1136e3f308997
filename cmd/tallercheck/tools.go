package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tionis/tallercheck/internal/auth"
	"github.com/tionis/tallercheck/internal/browser"
	"github.com/tionis/tallercheck/internal/check"
	"github.com/tionis/tallercheck/internal/inspect"
	"github.com/tionis/tallercheck/internal/report"
	"github.com/tionis/tallercheck/internal/suites"
	"github.com/tionis/tallercheck/internal/utils"
)

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "describe the forms, tokens, alerts and libraries of each module page",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "module", Usage: "module to inspect (repeatable, default all)"},
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of text"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}

			modules := c.StringSlice("module")
			if len(modules) == 0 {
				for _, m := range suites.Modules {
					modules = append(modules, m.Name)
				}
				modules = append(modules, "reportes")
			}

			client, err := newClient(cfg, logger, nil, cfg.CookieJarPath)
			if err != nil {
				return cli.Exit(err.Error(), exitConfig)
			}
			if _, err := auth.EnsureLogin(c.Context, client, credentials(cfg), cfg.HomePath); err != nil {
				return cli.Exit(fmt.Sprintf("login failed: %v", err), exitFailures)
			}
			if err := client.SaveCookies(); err != nil {
				logger.Warn("failed to save cookie jar", "error", err)
			}

			pages, err := inspect.Pages(c.Context, client, modules)
			if c.Bool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(pages); encErr != nil {
					return encErr
				}
			} else if writeErr := inspect.Write(os.Stdout, pages, useColor(c)); writeErr != nil {
				return writeErr
			}
			if err != nil {
				return cli.Exit(err.Error(), exitFailures)
			}
			return nil
		},
	}
}

func browserCommand() *cli.Command {
	return &cli.Command{
		Name:  "browser",
		Usage: "load module pages in Chrome and check jQuery, DataTables and SweetAlert",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "path", Usage: "page to probe (repeatable, default every module listing)"},
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

			started := time.Now()
			rec := check.NewRecorder()
			st := rec.Begin(suites.LoginSuite, "session")
			if _, err := auth.EnsureLogin(c.Context, client, credentials(cfg), cfg.HomePath); err != nil {
				st.Fail("%v", err)
				return printBrowserReport(c, rec, client.BaseURL().String(), started)
			}
			st.Pass("logged in as %s", cfg.Email)
			if err := client.SaveCookies(); err != nil {
				logger.Warn("failed to save cookie jar", "error", err)
			}

			driver, err := browser.NewRodDriver(c.Context, browser.RodOptions{
				ControlURL: cfg.BrowserControlURL,
				Bin:        cfg.BrowserBin,
				Headless:   cfg.BrowserHeadless,
			})
			if err != nil {
				return cli.Exit(err.Error(), exitFailures)
			}
			defer func() {
				if err := driver.Close(); err != nil {
					logger.Debug("failed to close browser", "error", err)
				}
			}()

			checker := browser.NewChecker(driver, client.BaseURL(), cfg.BrowserTimeout, logger)
			if err := checker.Run(c.Context, rec, client.Cookies(), c.StringSlice("path")); err != nil {
				logger.Warn("browser check stopped", "error", err)
			}
			return printBrowserReport(c, rec, client.BaseURL().String(), started)
		},
	}
}

func printBrowserReport(c *cli.Context, rec *check.Recorder, target string, started time.Time) error {
	rep := report.Build(utils.NewRunID(), target, rec.Results(), started, time.Now())
	if err := report.WriteText(os.Stdout, rep, useColor(c)); err != nil {
		return err
	}
	if !rep.OK() {
		return cli.Exit("", exitFailures)
	}
	return nil
}
