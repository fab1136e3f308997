package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tionis/tallercheck/internal/history"
	"github.com/tionis/tallercheck/internal/migrations"
	"github.com/tionis/tallercheck/internal/report"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "inspect stored runs",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list the most recent runs",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "number of runs to show (0 for all)"},
				},
				Action: func(c *cli.Context) error {
					store, err := openHistory(c)
					if err != nil {
						return err
					}
					defer store.Close()

					runs, err := store.ListRuns(c.Context, c.Int("limit"))
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tPASSED\tFAILED\tSKIPPED")
					for _, run := range runs {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
							run.ID,
							run.StartedAt.Local().Format(time.DateTime),
							run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
							run.Passed, run.Failed, run.Skipped)
					}
					return tw.Flush()
				},
			},
			{
				Name:      "show",
				Usage:     "print one run (or the latest) as a report",
				ArgsUsage: "[run-id]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print JSON instead of text"},
				},
				Action: func(c *cli.Context) error {
					store, err := openHistory(c)
					if err != nil {
						return err
					}
					defer store.Close()

					var rep *report.Report
					if id := c.Args().First(); id != "" {
						rep, err = store.GetRun(c.Context, id)
					} else {
						rep, err = store.Latest(c.Context)
					}
					if errors.Is(err, history.ErrNotFound) {
						return cli.Exit("run not found", exitFailures)
					}
					if err != nil {
						return err
					}

					if c.Bool("json") {
						enc := json.NewEncoder(os.Stdout)
						enc.SetIndent("", "  ")
						return enc.Encode(rep)
					}
					return report.WriteText(os.Stdout, rep, useColor(c))
				},
			},
			{
				Name:      "import",
				Usage:     "store JSON reports written by earlier runs",
				ArgsUsage: "report.json...",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return cli.Exit("no report files given", exitConfig)
					}
					store, err := openHistory(c)
					if err != nil {
						return err
					}
					defer store.Close()

					for _, path := range c.Args().Slice() {
						rep, err := report.ReadJSON(path)
						if err != nil {
							return err
						}
						if err := store.SaveRun(c.Context, rep); err != nil {
							return err
						}
						fmt.Printf("imported %s (%s)\n", rep.RunID, path)
					}
					return nil
				},
			},
			{
				Name:  "prune",
				Usage: "delete runs older than a duration",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "older-than", Value: 30 * 24 * time.Hour, Usage: "age cutoff"},
				},
				Action: func(c *cli.Context) error {
					store, err := openHistory(c)
					if err != nil {
						return err
					}
					defer store.Close()

					n, err := store.Prune(c.Context, time.Now().Add(-c.Duration("older-than")))
					if err != nil {
						return err
					}
					fmt.Printf("deleted %d runs\n", n)
					return nil
				},
			},
			{
				Name:  "migrate",
				Usage: "create or upgrade the history database schema",
				Action: func(c *cli.Context) error {
					cfg, _, err := setup(c)
					if err != nil {
						return err
					}
					if cfg.HistoryDBPath == "" {
						return cli.Exit("history database is disabled", exitConfig)
					}
					if err := migrations.BootstrapHistory(c.Context, cfg.HistoryDBPath); err != nil {
						return err
					}
					fmt.Printf("history schema ready at %s\n", cfg.HistoryDBPath)
					return nil
				},
			},
		},
	}
}

func openHistory(c *cli.Context) (*history.Store, error) {
	cfg, _, err := setup(c)
	if err != nil {
		return nil, err
	}
	if cfg.HistoryDBPath == "" {
		return nil, cli.Exit("history database is disabled", exitConfig)
	}
	store, err := history.Open(c.Context, cfg.HistoryDBPath)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return store, nil
}
