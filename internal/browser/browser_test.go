package browser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tionis/tallercheck/internal/check"
)

type fakePage struct {
	url    string
	probe  Probe
	err    error
	closed *int
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Probe(context.Context) (Probe, error) { return p.probe, p.err }

func (p *fakePage) Close() error {
	*p.closed++
	return nil
}

type fakeDriver struct {
	pages   map[string]*fakePage
	openErr map[string]error
	opened  []string
	cookies []*http.Cookie
	closed  int
}

func (d *fakeDriver) Open(_ context.Context, target string, cookies []*http.Cookie) (Page, error) {
	u, _ := url.Parse(target)
	d.opened = append(d.opened, u.Path)
	d.cookies = cookies
	if err := d.openErr[u.Path]; err != nil {
		return nil, err
	}
	page, ok := d.pages[u.Path]
	if !ok {
		return nil, errors.New("no such page")
	}
	page.closed = &d.closed
	return page, nil
}

func (d *fakeDriver) Close() error { return nil }

var fullProbe = Probe{JQuery: true, JQueryVersion: "3.7.1", DataTables: true, SweetAlert: true, CSRFMeta: true}

func newChecker(d Driver) *Checker {
	base, _ := url.Parse("http://taller.test")
	return NewChecker(d, base, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCheckerPassesLoadedPages(t *testing.T) {
	driver := &fakeDriver{pages: map[string]*fakePage{
		"/clientes":  {url: "http://taller.test/clientes", probe: fullProbe},
		"/vehiculos": {url: "http://taller.test/vehiculos", probe: fullProbe},
	}}
	rec := check.NewRecorder()
	cookies := []*http.Cookie{{Name: "taller_session", Value: "abc"}}

	err := newChecker(driver).Run(context.Background(), rec, cookies, []string{"/clientes", "/vehiculos"})
	require.NoError(t, err)

	results := rec.Results()
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, check.Pass, res.Outcome, res.Detail)
		assert.Equal(t, Suite, res.Suite)
	}
	assert.Equal(t, "clientes", results[0].Step)
	assert.Contains(t, results[0].Detail, "3.7.1")
	assert.Equal(t, cookies, driver.cookies)
	assert.Equal(t, 2, driver.closed)
}

func TestCheckerReportsMissingLibraries(t *testing.T) {
	partial := fullProbe
	partial.DataTables = false
	partial.SweetAlert = false
	driver := &fakeDriver{pages: map[string]*fakePage{
		"/ordenes": {url: "http://taller.test/ordenes", probe: partial},
	}}
	rec := check.NewRecorder()

	require.NoError(t, newChecker(driver).Run(context.Background(), rec, nil, []string{"/ordenes"}))

	results := rec.Results()
	require.Len(t, results, 1)
	assert.Equal(t, check.Fail, results[0].Outcome)
	assert.Equal(t, "missing datatables, sweetalert", results[0].Detail)
}

func TestCheckerDetectsRejectedSession(t *testing.T) {
	driver := &fakeDriver{pages: map[string]*fakePage{
		"/clientes": {url: "http://taller.test/login", probe: fullProbe},
	}}
	rec := check.NewRecorder()

	require.NoError(t, newChecker(driver).Run(context.Background(), rec, nil, []string{"/clientes"}))

	results := rec.Results()
	require.Len(t, results, 1)
	assert.Equal(t, check.Fail, results[0].Outcome)
	assert.Contains(t, results[0].Detail, "session not accepted")
}

func TestCheckerSkipsAfterOpenFailure(t *testing.T) {
	driver := &fakeDriver{
		pages:   map[string]*fakePage{"/servicios": {url: "http://taller.test/servicios", probe: fullProbe}},
		openErr: map[string]error{"/clientes": errors.New("connection refused")},
	}
	rec := check.NewRecorder()

	err := newChecker(driver).Run(context.Background(), rec, nil, []string{"/clientes", "/servicios"})
	require.Error(t, err)

	results := rec.Results()
	require.Len(t, results, 2)
	assert.Equal(t, check.Fail, results[0].Outcome)
	assert.Equal(t, check.Skip, results[1].Outcome)
	assert.Equal(t, []string{"/clientes"}, driver.opened)
}

func TestCheckerDefaultPaths(t *testing.T) {
	assert.Contains(t, DefaultPaths, "/reportes")
	pages := map[string]*fakePage{}
	for _, p := range DefaultPaths {
		pages[p] = &fakePage{url: "http://taller.test" + p, probe: fullProbe}
	}
	rec := check.NewRecorder()

	require.NoError(t, newChecker(&fakeDriver{pages: pages}).Run(context.Background(), rec, nil, nil))
	passed, failed, _ := rec.Counts()
	assert.Equal(t, len(DefaultPaths), passed)
	assert.Zero(t, failed)
}

func TestProbeMissing(t *testing.T) {
	assert.Empty(t, fullProbe.Missing())
	assert.Equal(t, []string{"jquery", "datatables", "sweetalert"}, Probe{}.Missing())
}
