package suites

import (
	"context"
	"errors"
	"net/http"

	"github.com/tionis/tallercheck/internal/auth"
	"github.com/tionis/tallercheck/internal/check"
	"github.com/tionis/tallercheck/internal/scrape"
)

// authSuite exercises login and logout on a client of its own so the
// shared session is never logged out.
func authSuite() Suite {
	return &suite{
		name: "auth",
		steps: []string{
			"login-page",
			"protected-redirect",
			"wrong-password",
			"login",
			"session-active",
			"logout",
			"session-ended",
		},
		run: runAuth,
	}
}

func runAuth(ctx context.Context, env *Env) error {
	st := env.step("login-page")
	client, err := env.NewClient()
	if err != nil {
		st.Fail("client: %v", err)
		return errAbort
	}

	resp, err := client.Get(ctx, auth.LoginPath)
	if err != nil {
		return fail(st, err)
	}
	st.With(resp)
	if resp.Status != http.StatusOK {
		st.Fail("status %d", resp.Status)
		return errAbort
	}
	_, hasToken := scrape.CSRFToken(resp.Body)
	form, hasForm := scrape.FindForm(resp.Body, auth.LoginPath, http.MethodPost)
	if !st.Check(hasToken && hasForm && form.Has("email") && form.Has("password"),
		"csrf token %t, login form %t", hasToken, hasForm) {
		return errAbort
	}

	st = env.step("protected-redirect")
	resp, err = client.Get(ctx, env.HomePath)
	if err != nil {
		return fail(st, err)
	}
	st.With(resp).Check(auth.IsLoginRedirect(resp), "anonymous %s: status %d to %q", env.HomePath, resp.Status, resp.Location())

	st = env.step("wrong-password")
	resp, err = auth.Login(ctx, client, auth.Credentials{Email: env.Creds.Email, Password: env.Creds.Password + "-incorrecta"})
	if resp != nil {
		st.With(resp)
	}
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		st.Pass("rejected")
	case err == nil:
		st.Fail("wrong password accepted")
	case isTransport(err):
		return fail(st, err)
	default:
		st.Fail("%v", err)
	}

	st = env.step("login")
	resp, err = auth.Login(ctx, client, env.Creds)
	if resp != nil {
		st.With(resp)
	}
	if err != nil {
		if isTransport(err) {
			return fail(st, err)
		}
		st.Fail("%v", err)
		return errAbort
	}
	st.Pass("redirect to %s", resp.Location())

	st = env.step("session-active")
	ok, err := auth.Authenticated(ctx, client, env.HomePath)
	if err != nil {
		return failOrAbort(st, err)
	}
	if !st.Check(ok, "%s reachable", env.HomePath) {
		return errAbort
	}

	st = env.step("logout")
	resp, err = auth.Logout(ctx, client, env.HomePath)
	if resp != nil {
		st.With(resp)
	}
	if err != nil {
		return failOrAbort(st, err)
	}
	st.Pass("redirect to %s", resp.Location())

	st = env.step("session-ended")
	ok, err = auth.Authenticated(ctx, client, env.HomePath)
	if err != nil {
		return failOrAbort(st, err)
	}
	st.Check(!ok, "%s requires login again", env.HomePath)
	return nil
}

// failOrAbort records err and aborts, keeping transport errors visible to
// the runner.
func failOrAbort(st *check.Step, err error) error {
	st.Fail("%v", err)
	if isTransport(err) {
		return err
	}
	return errAbort
}
