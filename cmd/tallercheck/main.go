package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dusted-go/logging/prettylog"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/tionis/tallercheck/internal/config"
	"github.com/tionis/tallercheck/internal/types"
)

const (
	exitFailures = 1
	exitConfig   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			if msg := exit.Error(); msg != "" {
				fmt.Fprintln(os.Stderr, msg)
			}
			os.Exit(exit.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "tallercheck: %v\n", err)
		os.Exit(exitFailures)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "tallercheck",
		Usage: "integration checks for the taller web application",
		// Exit codes are handled in main
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", EnvVars: []string{"TALLERCHECK_CONFIG"}},
			&cli.StringFlag{Name: "base-url", Usage: "application base URL"},
			&cli.StringFlag{Name: "email", Usage: "login email"},
			&cli.StringFlag{Name: "password", Usage: "login password"},
			&cli.StringFlag{Name: "cookie-jar", Usage: "cookie jar file (empty string keeps cookies in memory)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Usage: "text, json or pretty"},
			&cli.BoolFlag{Name: "no-color", Usage: "disable colored output"},
		},
		Commands: []*cli.Command{
			runCommand(),
			loginCommand(),
			suitesCommand(),
			inspectCommand(),
			browserCommand(),
			historyCommand(),
			serveCommand(),
			fakeCommand(),
		},
	}
}

// setup resolves configuration and the logger for a command.
func setup(c *cli.Context) (config.Config, *slog.Logger, error) {
	if path := c.String("config"); path != "" {
		if err := os.Setenv("TALLERCHECK_CONFIG", path); err != nil {
			return config.Config{}, nil, cli.Exit(fmt.Sprintf("set config path: %v", err), exitConfig)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, cli.Exit(fmt.Sprintf("load config: %v", err), exitConfig)
	}

	if v := c.String("base-url"); v != "" {
		cfg.BaseURL = v
	}
	if v := c.String("email"); v != "" {
		cfg.Email = v
	}
	if v := c.String("password"); v != "" {
		cfg.Password = v
	}
	if c.IsSet("cookie-jar") {
		cfg.CookieJarPath = c.String("cookie-jar")
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := c.String("log-format"); v != "" {
		cfg.LogFormat = v
	}
	if only := c.StringSlice("only"); len(only) > 0 {
		suites, err := types.ParsePatternList(only)
		if err != nil {
			return config.Config{}, nil, cli.Exit(fmt.Sprintf("parse --only: %v", err), exitConfig)
		}
		cfg.Suites = suites
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfig)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return config.Config{}, nil, cli.Exit(err.Error(), exitConfig)
	}
	slog.SetDefault(logger)

	return cfg, logger, nil
}

func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "pretty":
		return slog.New(prettylog.NewHandler(opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// useColor reports whether stdout is an interactive terminal and color was
// not disabled.
func useColor(c *cli.Context) bool {
	if c.Bool("no-color") || os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
