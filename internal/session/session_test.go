package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestClient(t *testing.T, base string, mutate ...func(*Options)) *Client {
	t.Helper()
	opts := Options{BaseURL: base, Logger: discard}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func TestNewRejectsRelativeBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "taller.local/app"})
	assert.Error(t, err)
}

func TestURLKeepsBasePath(t *testing.T) {
	c := newTestClient(t, "http://taller.local/app/")
	assert.Equal(t, "http://taller.local/app/login", c.URL("/login"))
	assert.Equal(t, "http://taller.local/app/clientes?page=2", c.URL("clientes?page=2"))
	assert.Equal(t, "http://other.local/x", c.URL("http://other.local/x"))
}

func TestRedirectsAreNotFollowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.Redirect(w, r, "/dashboard", http.StatusFound)
		case "/dashboard":
			_, _ = io.WriteString(w, "<h1>Dashboard</h1>")
		}
	}))
	defer server.Close()
	c := newTestClient(t, server.URL)
	ctx := context.Background()

	resp, err := c.Get(ctx, "/login")
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.Status)
	assert.True(t, resp.IsRedirect())
	assert.True(t, resp.RedirectsTo("/dashboard/"))
	assert.Equal(t, "/dashboard", resp.Location())

	next, err := c.Follow(ctx, resp)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, next.Status)
	assert.Contains(t, next.Text(), "Dashboard")

	_, err = c.Follow(ctx, next)
	assert.ErrorIs(t, err, ErrNoRedirect)
	assert.Empty(t, next.Location())
}

func TestRequestHeaders(t *testing.T) {
	var (
		mu   sync.Mutex
		got  http.Header
		form url.Values
	)
	last := func() (http.Header, url.Values) {
		mu.Lock()
		defer mu.Unlock()
		return got, form
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		got = r.Header.Clone()
		form = r.PostForm
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = io.WriteString(w, `{}`)
	}))
	defer server.Close()
	c := newTestClient(t, server.URL, func(o *Options) { o.UserAgent = "qa-bot" })
	ctx := context.Background()

	resp, err := c.GetJSON(ctx, "/clientes")
	require.NoError(t, err)
	header, _ := last()
	assert.Equal(t, "application/json", header.Get("Accept"))
	assert.Equal(t, "XMLHttpRequest", header.Get("X-Requested-With"))
	assert.Equal(t, "qa-bot", header.Get("User-Agent"))
	assert.Equal(t, "application/json", resp.ContentType())

	_, err = c.PostForm(ctx, "/clientes", url.Values{"nombre": {"Ana"}})
	require.NoError(t, err)
	header, body := last()
	assert.Contains(t, header.Get("Accept"), "text/html")
	assert.Equal(t, "application/x-www-form-urlencoded", header.Get("Content-Type"))
	assert.Empty(t, header.Get("Referer"), "no page was visited yet")
	assert.Equal(t, "Ana", body.Get("nombre"))
}

func TestFormPostsCarryThePreviousPage(t *testing.T) {
	var (
		mu       sync.Mutex
		referers []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			mu.Lock()
			referers = append(referers, r.Referer())
			mu.Unlock()
			http.Redirect(w, r, r.Referer(), http.StatusFound)
			return
		}
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=UTF-8")
		_, _ = io.WriteString(w, "<form></form>")
	}))
	defer server.Close()
	c := newTestClient(t, server.URL)
	ctx := context.Background()

	_, err := c.Get(ctx, "/clientes/create")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/clientes/create", c.Page())

	// JSON and failed fetches are not pages
	_, err = c.GetJSON(ctx, "/clientes")
	require.NoError(t, err)
	_, err = c.Get(ctx, "/missing")
	require.NoError(t, err)

	resp, err := c.PostForm(ctx, "/clientes", url.Values{"nombre": {"Ana"}})
	require.NoError(t, err)
	assert.True(t, resp.RedirectsTo("/clientes/create"))

	_, err = c.Do(ctx, Request{Method: http.MethodPost, Path: "/clientes/4", Form: url.Values{}, Referer: "/clientes/4/edit"})
	require.NoError(t, err)

	c.Reset()
	assert.Empty(t, c.Page())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{server.URL + "/clientes/create", server.URL + "/clientes/4/edit"}, referers)
}

func TestMethodSpoofing(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		methods = append(methods, r.Method+" "+r.PostForm.Get("_method"))
		mu.Unlock()
	}))
	defer server.Close()
	c := newTestClient(t, server.URL)
	ctx := context.Background()

	original := url.Values{"_token": {"t"}}
	_, err := c.Put(ctx, "/clientes/1", original)
	require.NoError(t, err)
	_, err = c.Delete(ctx, "/clientes/1", original)
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []string{"POST PUT", "POST DELETE"}, methods)
	mu.Unlock()
	assert.Empty(t, original.Get("_method"), "Spoof must not modify its input")
}

func TestTransportErrorTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()
	c := newTestClient(t, server.URL, func(o *Options) { o.Timeout = 50 * time.Millisecond })

	_, err := c.Get(context.Background(), "/lento")
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.True(t, transportErr.Timeout())
	assert.Equal(t, "/lento", transportErr.Path)
}

func TestTransportErrorConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	_, err := newTestClient(t, base).Get(context.Background(), "/")
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.False(t, transportErr.Timeout())
}

func TestObserverAndRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	var calls atomic.Int32
	c := newTestClient(t, server.URL, func(o *Options) {
		o.RateLimit = 20
		o.Burst = 1
		o.Observer = func(method, path string, status int, _ time.Duration) {
			calls.Add(1)
			assert.Equal(t, http.MethodGet, method)
			assert.Equal(t, "/ping", path)
			assert.Equal(t, http.StatusNoContent, status)
		}
	})

	started := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), "/ping")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
	// burst 1 at 20 rps: two waits of ~50ms
	assert.GreaterOrEqual(t, time.Since(started), 80*time.Millisecond)
}

func TestRateLimitHonoursContext(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", func(o *Options) {
		o.RateLimit = 0.001
		o.Burst = 1
	})
	c.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "/")
	var transportErr *TransportError
	assert.True(t, errors.As(err, &transportErr))
}

func TestCookieJarPersists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/set" {
			http.SetCookie(w, &http.Cookie{
				Name:    "taller_session",
				Value:   "abc",
				Path:    "/",
				Expires: time.Now().Add(time.Hour),
			})
		}
	}))
	defer server.Close()
	jar := filepath.Join(t.TempDir(), "cookies.json")

	first := newTestClient(t, server.URL, func(o *Options) { o.CookieJarPath = jar })
	_, err := first.Get(context.Background(), "/set")
	require.NoError(t, err)
	require.Len(t, first.Cookies(), 1)
	require.NoError(t, first.SaveCookies())

	second := newTestClient(t, server.URL, func(o *Options) { o.CookieJarPath = jar })
	cookies := second.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "abc", cookies[0].Value)

	second.Reset()
	assert.Empty(t, second.Cookies())
}

func TestSaveCookiesWithoutPathIsNoop(t *testing.T) {
	c := newTestClient(t, "http://taller.local")
	assert.NoError(t, c.SaveCookies())
}
