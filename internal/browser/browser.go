// Package browser loads the application's pages in a real Chrome, reusing the
// HTTP session, and verifies the client-side libraries actually initialise.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tionis/tallercheck/internal/check"
)

// Suite is the suite name browser results are recorded under.
const Suite = "browser"

// ErrClosed is returned when a closed driver is used.
var ErrClosed = errors.New("browser closed")

// DefaultPaths are the pages probed when none are given.
var DefaultPaths = []string{"/clientes", "/vehiculos", "/servicios", "/empleados", "/ordenes", "/reportes"}

// probeJS reports what the page initialised. Evaluated after load.
const probeJS = `() => {
	const jq = window.jQuery || window.$;
	return {
		jquery: typeof jq === 'function' && !!(jq.fn && jq.fn.jquery),
		jquery_version: (jq && jq.fn && jq.fn.jquery) || '',
		datatables: !!(jq && jq.fn && (jq.fn.DataTable || jq.fn.dataTable)),
		sweetalert: typeof window.Swal !== 'undefined' || typeof window.swal !== 'undefined',
		csrf_meta: !!document.querySelector('meta[name="csrf-token"]'),
		title: document.title || ''
	};
}`

// Probe is what the probe script found on a page.
type Probe struct {
	JQuery        bool   `json:"jquery"`
	JQueryVersion string `json:"jquery_version"`
	DataTables    bool   `json:"datatables"`
	SweetAlert    bool   `json:"sweetalert"`
	CSRFMeta      bool   `json:"csrf_meta"`
	Title         string `json:"title"`
}

// Missing names the required libraries the page lacks.
func (p Probe) Missing() []string {
	var missing []string
	if !p.JQuery {
		missing = append(missing, "jquery")
	}
	if !p.DataTables {
		missing = append(missing, "datatables")
	}
	if !p.SweetAlert {
		missing = append(missing, "sweetalert")
	}
	return missing
}

// Page is one loaded tab.
type Page interface {
	// URL is the address the tab ended on after redirects.
	URL() string
	Probe(ctx context.Context) (Probe, error)
	Close() error
}

// Driver opens tabs carrying the given cookies.
type Driver interface {
	Open(ctx context.Context, target string, cookies []*http.Cookie) (Page, error)
	Close() error
}

// Checker visits pages and records one result per page.
type Checker struct {
	driver  Driver
	base    *url.URL
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker creates a checker for the application at base.
func NewChecker(driver Driver, base *url.URL, timeout time.Duration, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Checker{
		driver:  driver,
		base:    base,
		timeout: timeout,
		logger:  logger.With("component", "browser"),
	}
}

// Run probes every path. A failure to open a tab skips the remaining pages;
// the returned error is the first such failure.
func (c *Checker) Run(ctx context.Context, rec *check.Recorder, cookies []*http.Cookie, paths []string) error {
	if len(paths) == 0 {
		paths = DefaultPaths
	}

	for i, path := range paths {
		st := rec.Begin(Suite, stepName(path))
		if err := ctx.Err(); err != nil {
			st.Skip("cancelled")
			continue
		}

		if err := c.visit(ctx, st, cookies, path); err != nil {
			for _, rest := range paths[i+1:] {
				rec.Begin(Suite, stepName(rest)).Skip("previous step failed")
			}
			return err
		}
	}
	return nil
}

func (c *Checker) visit(ctx context.Context, st *check.Step, cookies []*http.Cookie, path string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.base.ResolveReference(&url.URL{Path: path}).String()
	page, err := c.driver.Open(ctx, target, cookies)
	if err != nil {
		st.Fail("open %s: %v", path, err)
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			c.logger.Debug("close page failed", "path", path, "error", err)
		}
	}()

	if landed := landedPath(page.URL()); landed == "/login" {
		st.Fail("session not accepted: landed on %s", landed)
		return nil
	}

	probe, err := page.Probe(ctx)
	if err != nil {
		st.Fail("probe: %v", err)
		return nil
	}

	c.logger.Debug("probed page", "path", path, "jquery", probe.JQueryVersion, "datatables", probe.DataTables, "sweetalert", probe.SweetAlert)

	if missing := probe.Missing(); len(missing) > 0 {
		st.Fail("missing %s", strings.Join(missing, ", "))
		return nil
	}
	if !probe.CSRFMeta {
		st.Fail("no csrf-token meta tag")
		return nil
	}
	st.Pass("jquery %s, datatables, sweetalert", probe.JQueryVersion)
	return nil
}

func stepName(path string) string {
	name := strings.Trim(path, "/")
	if name == "" {
		return "home"
	}
	return name
}

func landedPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return strings.TrimRight(u.Path, "/")
}
