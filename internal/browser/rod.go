package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodOptions configures the Chrome connection.
type RodOptions struct {
	// ControlURL attaches to a running Chrome; empty launches one.
	ControlURL string
	Bin        string
	Headless   bool
}

// RodDriver drives Chrome through the DevTools protocol.
type RodDriver struct {
	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewRodDriver connects to (or launches) Chrome.
func NewRodDriver(ctx context.Context, opts RodOptions) (*RodDriver, error) {
	d := &RodDriver{}

	controlURL := opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(opts.Headless)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
		d.launcher = l
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		d.kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	d.browser = b
	return d, nil
}

// Open creates a tab, installs the cookies and navigates to target.
func (d *RodDriver) Open(ctx context.Context, target string, cookies []*http.Cookie) (Page, error) {
	d.mu.Lock()
	b := d.browser
	d.mu.Unlock()
	if b == nil {
		return nil, ErrClosed
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if len(cookies) > 0 {
		params := make([]*proto.NetworkCookieParam, 0, len(cookies))
		for _, c := range cookies {
			params = append(params, &proto.NetworkCookieParam{
				Name:     c.Name,
				Value:    c.Value,
				URL:      target,
				Path:     "/",
				HTTPOnly: c.HttpOnly,
				Secure:   c.Secure,
			})
		}
		if err := page.SetCookies(params); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("set cookies: %w", err)
		}
	}

	p := page.Context(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		p = p.Timeout(time.Until(deadline))
	}
	if err := p.Navigate(target); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("wait load: %w", err)
	}

	return &rodPage{page: page}, nil
}

// Close disconnects and stops a Chrome this driver launched.
func (d *RodDriver) Close() error {
	d.mu.Lock()
	b := d.browser
	d.browser = nil
	d.mu.Unlock()

	var err error
	if b != nil {
		err = b.Close()
	}
	d.kill()
	return err
}

func (d *RodDriver) kill() {
	if d.launcher != nil {
		d.launcher.Kill()
		d.launcher = nil
	}
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Probe(ctx context.Context) (Probe, error) {
	res, err := p.page.Context(ctx).Evaluate(rod.Eval(probeJS))
	if err != nil {
		return Probe{}, fmt.Errorf("evaluate probe: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return Probe{}, fmt.Errorf("encode probe result: %w", err)
	}
	var probe Probe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Probe{}, fmt.Errorf("decode probe result: %w", err)
	}
	return probe, nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
