package suites

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/tionis/tallercheck/internal/check"
	"github.com/tionis/tallercheck/internal/fixtures"
	"github.com/tionis/tallercheck/internal/scrape"
	"github.com/tionis/tallercheck/internal/session"
)

func validationSteps(m Module) []string {
	steps := []string{"form", "required-json", "required-html", "csrf"}
	if m.Unique == "" {
		return steps
	}
	parents := parentOrder(m)
	for _, p := range parents {
		steps = append(steps, "parent:"+p)
	}
	steps = append(steps, "duplicate-seed", "duplicate", "cleanup:"+m.Name)
	for i := len(parents) - 1; i >= 0; i-- {
		steps = append(steps, "cleanup:"+parents[i])
	}
	return steps
}

// validationSuite submits invalid input and expects the application to
// refuse it.
func validationSuite(m Module) Suite {
	return &suite{
		name:    "validacion/" + m.Name,
		session: true,
		steps:   validationSteps(m),
		run: func(ctx context.Context, env *Env) (err error) {
			var created records
			defer func() {
				if ctx.Err() != nil || isTransport(err) {
					return
				}
				if cerr := cleanup(ctx, env, &created); err == nil {
					err = cerr
				}
			}()
			return runValidation(ctx, env, m, &created)
		},
	}
}

func runValidation(ctx context.Context, env *Env, m Module, created *records) error {
	index := "/" + m.Name

	st := env.step("form")
	resp, err := env.Client.Get(ctx, index+"/create")
	if err != nil {
		return fail(st, err)
	}
	st.With(resp)
	form, ok := scrape.FindForm(resp.Body, index, http.MethodPost)
	switch {
	case resp.Status != http.StatusOK:
		st.Fail("status %d", resp.Status)
		return errAbort
	case !ok || form.Token() == "":
		st.Fail("no POST form with _token for %s", index)
		return errAbort
	}
	st.Pass("required: %s", strings.Join(form.Required(), ", "))
	action := actionOr(form.Action, index)
	empty := url.Values{"_token": {form.Token()}}

	st = env.step("required-json")
	resp, err = env.Client.Do(ctx, session.Request{Method: http.MethodPost, Path: action, Form: empty, JSON: true})
	if err != nil {
		return fail(st, err)
	}
	st.With(resp)
	if resp.Status != http.StatusUnprocessableEntity {
		st.Fail("status %d, expected 422", resp.Status)
	} else if payload, err := scrape.JSONValidationErrors(resp.Body); err != nil {
		st.Fail("422 without a JSON body: %v", err)
	} else {
		fields := make([]string, 0, len(payload.Errors))
		for name := range payload.Errors {
			fields = append(fields, name)
		}
		sort.Strings(fields)
		st.Check(len(fields) > 0, "errors for %s", strings.Join(fields, ", "))
	}

	st = env.step("required-html")
	resp, err = env.Client.PostForm(ctx, action, empty)
	if err != nil {
		return fail(st, err)
	}
	if err := expectRejected(ctx, env, st, resp, "obligatori"); err != nil {
		return err
	}

	st = env.step("csrf")
	values := fixtures.Fill(form, env.Fixtures.Values(m.Name, env.next(m.Name)))
	values.Del("_token")
	resp, err = env.Client.PostForm(ctx, action, values)
	if err != nil {
		return fail(st, err)
	}
	st.ExpectStatus(resp, 419)

	if m.Unique == "" {
		return nil
	}

	if err := createParents(ctx, env, m, created); err != nil {
		return err
	}

	st = env.step("duplicate-seed")
	seed := valuesFor(env, m, created.ids())
	id, detail, err := createRecord(ctx, env, m, seed)
	if err != nil {
		return fail(st, err)
	}
	if id == "" {
		st.Fail("%s", detail)
		return errAbort
	}
	created.add(m.Name, id)
	st.Pass("%s #%s with %s=%s", m.Name, id, m.Unique, seed[m.Unique])

	st = env.step("duplicate")
	resp, err = env.Client.Get(ctx, index+"/create")
	if err != nil {
		return fail(st, err)
	}
	form, ok = scrape.FindForm(resp.Body, index, http.MethodPost)
	if !ok {
		st.With(resp).Fail("create form not found (status %d)", resp.Status)
		return nil
	}
	clash := valuesFor(env, m, created.ids())
	clash[m.Unique] = seed[m.Unique]
	resp, err = env.Client.PostForm(ctx, actionOr(form.Action, index), fixtures.Fill(form, clash))
	if err != nil {
		return fail(st, err)
	}
	if resp.IsRedirect() && !resp.RedirectsTo(index+"/create") {
		// Accepted: keep track of the duplicate so it is removed too
		landing, err := env.Client.Follow(ctx, resp)
		if err != nil {
			return fail(st, err)
		}
		if dup, err := locate(ctx, env, m, resp, landing, clash[m.Key], nil); err == nil && dup != "" && dup != id {
			created.add(m.Name, dup)
		}
		st.With(resp).Fail("duplicate %s=%s accepted", m.Unique, clash[m.Unique])
		return nil
	}
	return expectRejected(ctx, env, st, resp, "")
}

// expectRejected passes when the response is a validation failure: a 422,
// or a redirect back to a page showing one. With phrase set the page must
// contain it, otherwise a duplicate-value message is expected.
func expectRejected(ctx context.Context, env *Env, st *check.Step, resp *session.Response, phrase string) error {
	st.With(resp)
	page := resp
	switch {
	case resp.IsRedirect():
		landing, err := env.Client.Follow(ctx, resp)
		if err != nil {
			return fail(st, err)
		}
		page = landing
	case resp.Status != http.StatusUnprocessableEntity && resp.Status != http.StatusOK:
		st.Fail("status %d, expected 422 or a redirect back", resp.Status)
		return nil
	}

	if !scrape.LooksLikeValidationFailure(resp.Status, page.Body) {
		st.Fail("no validation failure shown on %s", page.URL.Path)
		return nil
	}
	if phrase != "" {
		st.Check(scrape.ContainsPhrase(page.Body, phrase), "%s", validationDetail(page))
		return nil
	}
	st.Check(scrape.LooksLikeDuplicate(page.Body), "%s", validationDetail(page))
	return nil
}
