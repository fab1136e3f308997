// Package session is the cookie-jar-backed request helper every suite uses
// to talk to the taller application.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	cookiejar "github.com/juju/persistent-cookiejar"
	"github.com/tionis/tallercheck/internal/utils"
	"golang.org/x/time/rate"
)

const (
	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptJSON = "application/json"

	defaultUserAgent = "tallercheck/1.0"

	// maxBodySize bounds how much of a response is kept for scraping.
	maxBodySize = 16 << 20
)

// ErrNoRedirect is returned by Follow when the response carries no Location.
var ErrNoRedirect = errors.New("response is not a redirect")

// Observer is called after every completed exchange.
type Observer func(method, path string, status int, duration time.Duration)

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration

	// CookieJarPath persists the session between invocations. Empty keeps
	// cookies in memory only.
	CookieJarPath string

	// RateLimit paces requests when positive.
	RateLimit rate.Limit
	Burst     int

	UserAgent string
	Logger    *slog.Logger
	Observer  Observer
}

// Client issues one request at a time against the target application.
type Client struct {
	base     *url.URL
	http     *http.Client
	jar      *cookiejar.Jar
	jarPath  string
	limiter  *rate.Limiter
	agent    string
	logger   *slog.Logger
	observer Observer

	mu sync.Mutex
	// page is the last HTML page fetched, sent as Referer on form posts.
	page string
}

// Request describes a single exchange.
type Request struct {
	Method string
	Path   string
	Form   url.Values
	JSON   bool // ask for a JSON response (Accept + X-Requested-With)
	Header http.Header

	// Referer overrides the page the form is submitted from. Laravel sends
	// validation failures back to it.
	Referer string
}

// Response is a fully read HTTP response.
type Response struct {
	Method   string
	URL      *url.URL
	Status   int
	Header   http.Header
	Body     []byte
	Duration time.Duration
}

// TransportError wraps failures that produced no HTTP response at all.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the transport failure was a timeout.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// New creates a client for the given base URL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute, got %q", opts.BaseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{
		Filename:  opts.CookieJarPath,
		NoPersist: opts.CookieJarPath == "",
	})
	if err != nil {
		return nil, fmt.Errorf("open cookie jar: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	agent := opts.UserAgent
	if agent == "" {
		agent = defaultUserAgent
	}

	c := &Client{
		base:    base,
		jar:     jar,
		jarPath: opts.CookieJarPath,
		agent:   agent,
		logger:  logger.With("component", "session"),
		http: &http.Client{
			Jar:     jar,
			Timeout: timeout,
			// Redirects are assertions, never followed implicitly
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		observer: opts.Observer,
	}

	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}

	return c, nil
}

// BaseURL returns the target base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// URL resolves a path against the base URL.
func (c *Client) URL(path string) string {
	return c.resolve(path).String()
}

func (c *Client) resolve(path string) *url.URL {
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return u
	}
	ref, err := url.Parse(path)
	if err != nil {
		ref = &url.URL{Path: path}
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return &u
}

// Do performs the request and reads the whole body.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	target := c.resolve(req.Path)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Method: method, Path: target.Path, Err: err}
		}
	}

	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("User-Agent", c.agent)
	if req.JSON {
		httpReq.Header.Set("Accept", acceptJSON)
		httpReq.Header.Set("X-Requested-With", "XMLHttpRequest")
	} else {
		httpReq.Header.Set("Accept", acceptHTML)
	}
	if req.Form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if referer := c.referer(req); referer != "" {
		httpReq.Header.Set("Referer", referer)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	started := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("request failed", "method", method, "path", target.Path, "error", err)
		return nil, &TransportError{Method: method, Path: target.Path, Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{Method: method, Path: target.Path, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	duration := time.Since(started)

	resp := &Response{
		Method:   method,
		URL:      target,
		Status:   httpResp.StatusCode,
		Header:   httpResp.Header,
		Body:     data,
		Duration: duration,
	}

	if method == http.MethodGet && !req.JSON && resp.Status == http.StatusOK && resp.ContentType() == "text/html" {
		c.mu.Lock()
		c.page = target.String()
		c.mu.Unlock()
	}

	utils.LogExchange(c.logger, method, target.String(), resp.Status, duration, req.Form)
	if c.observer != nil {
		c.observer(method, target.Path, resp.Status, duration)
	}

	return resp, nil
}

func (c *Client) referer(req Request) string {
	if req.Referer != "" {
		return c.resolve(req.Referer).String()
	}
	if req.Form == nil {
		return ""
	}
	return c.Page()
}

// Page returns the URL of the last HTML page fetched, or "" before any.
func (c *Client) Page() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// Get fetches an HTML page.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path})
}

// GetJSON fetches a path asking for JSON.
func (c *Client) GetJSON(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, JSON: true})
}

// PostForm submits a form-encoded body.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Form: form})
}

// Put submits form as POST with _method=PUT.
func (c *Client) Put(ctx context.Context, path string, form url.Values) (*Response, error) {
	return c.PostForm(ctx, path, Spoof(form, http.MethodPut))
}

// Delete submits form as POST with _method=DELETE.
func (c *Client) Delete(ctx context.Context, path string, form url.Values) (*Response, error) {
	return c.PostForm(ctx, path, Spoof(form, http.MethodDelete))
}

// Follow fetches the Location of a redirect response.
func (c *Client) Follow(ctx context.Context, resp *Response) (*Response, error) {
	loc := resp.Header.Get("Location")
	if !resp.IsRedirect() || loc == "" {
		return nil, ErrNoRedirect
	}
	next := resp.URL.ResolveReference(mustParse(loc))
	return c.Get(ctx, next.String())
}

// Cookies returns the cookies the jar would send to the target.
func (c *Client) Cookies() []*http.Cookie {
	return c.jar.Cookies(c.base)
}

// SaveCookies writes the jar to its file, when one is configured.
func (c *Client) SaveCookies() error {
	if c.jarPath == "" {
		return nil
	}
	if err := c.jar.Save(); err != nil {
		return fmt.Errorf("save cookie jar %s: %w", c.jarPath, err)
	}
	return nil
}

// Reset drops every cookie, ending the session client-side.
func (c *Client) Reset() {
	c.jar.RemoveAll()
	c.mu.Lock()
	c.page = ""
	c.mu.Unlock()
}

// Spoof returns a copy of form carrying the Laravel _method override.
func Spoof(form url.Values, method string) url.Values {
	out := make(url.Values, len(form)+1)
	for k, v := range form {
		out[k] = append([]string(nil), v...)
	}
	out.Set("_method", strings.ToUpper(method))
	return out
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// ContentType returns the media type without parameters.
func (r *Response) ContentType() string {
	ct := r.Header.Get("Content-Type")
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}

// IsRedirect reports a 3xx status.
func (r *Response) IsRedirect() bool {
	return r.Status >= 300 && r.Status < 400
}

// Location returns the redirect target path ("" when not a redirect).
func (r *Response) Location() string {
	loc := r.Header.Get("Location")
	if loc == "" {
		return ""
	}
	return r.URL.ResolveReference(mustParse(loc)).Path
}

// RedirectsTo reports a redirect whose target path equals path.
func (r *Response) RedirectsTo(path string) bool {
	if !r.IsRedirect() {
		return false
	}
	return strings.TrimRight(r.Location(), "/") == strings.TrimRight(path, "/")
}

func mustParse(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{Path: raw}
	}
	return u
}
