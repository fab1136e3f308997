// Package auth drives the Laravel session login of the taller application.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tionis/tallercheck/internal/scrape"
	"github.com/tionis/tallercheck/internal/session"
)

const (
	LoginPath  = "/login"
	LogoutPath = "/logout"
)

var (
	ErrNoCSRFToken        = errors.New("no csrf token on page")
	ErrInvalidCredentials = errors.New("credentials rejected")
	ErrUnexpectedStatus   = errors.New("unexpected status")
	ErrSessionExpired     = errors.New("csrf token expired (419)")
	ErrNotAuthenticated   = errors.New("not authenticated")
)

// Credentials for the login form.
type Credentials struct {
	Email    string
	Password string
}

// StatusError carries the response that did not match expectations.
type StatusError struct {
	Step   string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.Step, e.Status)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// Token fetches a page and scrapes its CSRF token.
func Token(ctx context.Context, c *session.Client, path string) (string, *session.Response, error) {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return "", nil, err
	}
	if resp.Status != http.StatusOK {
		return "", resp, &StatusError{Step: "GET " + path, Status: resp.Status}
	}
	token, ok := scrape.CSRFToken(resp.Body)
	if !ok {
		return "", resp, ErrNoCSRFToken
	}
	return token, resp, nil
}

// Login authenticates the client. Success is a redirect away from the login
// page; the response of the POST is returned for further assertions.
func Login(ctx context.Context, c *session.Client, creds Credentials) (*session.Response, error) {
	token, _, err := Token(ctx, c, LoginPath)
	if err != nil {
		return nil, fmt.Errorf("login page: %w", err)
	}

	resp, err := c.PostForm(ctx, LoginPath, url.Values{
		"_token":   {token},
		"email":    {creds.Email},
		"password": {creds.Password},
	})
	if err != nil {
		return nil, fmt.Errorf("submit login: %w", err)
	}

	switch {
	case resp.Status == 419:
		return resp, ErrSessionExpired
	case resp.Status == http.StatusUnprocessableEntity:
		return resp, ErrInvalidCredentials
	case !resp.IsRedirect():
		return resp, &StatusError{Step: "POST " + LoginPath, Status: resp.Status}
	case IsLoginRedirect(resp):
		return resp, ErrInvalidCredentials
	}

	return resp, nil
}

// Logout ends the session using a token taken from home.
func Logout(ctx context.Context, c *session.Client, home string) (*session.Response, error) {
	token, _, err := Token(ctx, c, home)
	if err != nil {
		return nil, fmt.Errorf("logout token: %w", err)
	}

	resp, err := c.PostForm(ctx, LogoutPath, url.Values{"_token": {token}})
	if err != nil {
		return nil, fmt.Errorf("submit logout: %w", err)
	}
	if !resp.IsRedirect() {
		return resp, &StatusError{Step: "POST " + LogoutPath, Status: resp.Status}
	}
	return resp, nil
}

// Authenticated reports whether home renders (200) instead of bouncing to
// the login page.
func Authenticated(ctx context.Context, c *session.Client, home string) (bool, error) {
	resp, err := c.Get(ctx, home)
	if err != nil {
		return false, err
	}
	switch {
	case resp.Status == http.StatusOK:
		return true, nil
	case IsLoginRedirect(resp), resp.Status == http.StatusUnauthorized:
		return false, nil
	default:
		return false, &StatusError{Step: "GET " + home, Status: resp.Status}
	}
}

// EnsureLogin reuses a persisted session when it is still valid, otherwise
// logs in and checks that home now renders.
func EnsureLogin(ctx context.Context, c *session.Client, creds Credentials, home string) (reused bool, err error) {
	ok, err := Authenticated(ctx, c, home)
	if err == nil && ok {
		return true, nil
	}
	if _, err := Login(ctx, c, creds); err != nil {
		return false, err
	}

	ok, err = Authenticated(ctx, c, home)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: %s still redirects to %s after login", ErrNotAuthenticated, home, LoginPath)
	}
	return false, nil
}

// IsLoginRedirect reports a redirect back to the login page.
func IsLoginRedirect(resp *session.Response) bool {
	return resp.IsRedirect() && strings.TrimRight(resp.Location(), "/") == LoginPath
}
