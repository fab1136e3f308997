package suites

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tionis/tallercheck/internal/auth"
	"github.com/tionis/tallercheck/internal/fixtures"
	"github.com/tionis/tallercheck/internal/scrape"
)

func crudSteps(m Module) []string {
	steps := []string{"index"}
	parents := parentOrder(m)
	for _, p := range parents {
		steps = append(steps, "parent:"+p)
	}
	steps = append(steps, "create-form", "store", "locate", "show", "edit-form", "update", "update-visible", "destroy", "gone")
	for i := len(parents) - 1; i >= 0; i-- {
		steps = append(steps, "cleanup:"+parents[i])
	}
	return steps
}

// crudSuite walks create, read, update and delete of one module.
func crudSuite(m Module) Suite {
	return &suite{
		name:    "crud/" + m.Name,
		session: true,
		steps:   crudSteps(m),
		run: func(ctx context.Context, env *Env) (err error) {
			c := &crud{env: env, m: m, index: "/" + m.Name}
			defer func() {
				if cerr := c.finish(ctx, err); err == nil {
					err = cerr
				}
			}()
			return c.run(ctx)
		},
	}
}

type crud struct {
	env       *Env
	m         Module
	index     string
	parents   records
	id        string
	destroyed bool
}

func (c *crud) run(ctx context.Context) error {
	env := c.env

	st := env.step("index")
	resp, err := env.Client.Get(ctx, c.index)
	if err != nil {
		return fail(st, err)
	}
	if !st.ExpectStatus(resp, http.StatusOK) {
		return errAbort
	}
	before := scrape.RecordIDs(resp.Body, c.m.Name)

	if err := createParents(ctx, env, c.m, &c.parents); err != nil {
		return err
	}

	st = env.step("create-form")
	resp, err = env.Client.Get(ctx, c.index+"/create")
	if err != nil {
		return fail(st, err)
	}
	st.With(resp)
	form, ok := scrape.FindForm(resp.Body, c.index, http.MethodPost)
	switch {
	case resp.Status != http.StatusOK:
		st.Fail("status %d", resp.Status)
		return errAbort
	case !ok:
		st.Fail("no POST form for %s", c.index)
		return errAbort
	case form.Token() == "":
		st.Fail("form has no _token")
		return errAbort
	}
	st.Pass("%d fields, %d required", len(form.Fields), len(form.Required()))

	values := valuesFor(env, c.m, c.parents.ids())
	marker := values[c.m.Key]

	st = env.step("store")
	stored, err := env.Client.PostForm(ctx, actionOr(form.Action, c.index), fixtures.Fill(form, values))
	if err != nil {
		return fail(st, err)
	}
	landing, err := expectRedirectWithBanner(ctx, env, st, stored, c.index+"/create")
	if err != nil {
		return err
	}

	st = env.step("locate")
	id, err := locate(ctx, env, c.m, stored, landing, marker, before)
	if err != nil {
		return fail(st, err)
	}
	if id == "" {
		st.Fail("no row showing %q", marker)
		return errAbort
	}
	c.id = id
	st.Pass("%s #%s", c.m.Name, id)

	show := c.index + "/" + id
	st = env.step("show")
	resp, err = env.Client.Get(ctx, show)
	if err != nil {
		return fail(st, err)
	}
	st.With(resp)
	if resp.Status != http.StatusOK {
		st.Fail("status %d", resp.Status)
	} else {
		st.Check(scrape.ContainsPhrase(resp.Body, marker), "page shows %q", marker)
	}

	st = env.step("edit-form")
	resp, err = env.Client.Get(ctx, show+"/edit")
	if err != nil {
		return fail(st, err)
	}
	st.With(resp)
	edit, ok := scrape.FindForm(resp.Body, show, http.MethodPut)
	switch {
	case resp.Status != http.StatusOK:
		st.Fail("status %d", resp.Status)
		return errAbort
	case !ok:
		st.Fail("no PUT form for %s", show)
		return errAbort
	}
	st.Pass("method %s", edit.Method)

	field, value := env.Fixtures.Update(c.m.Name)
	st = env.step("update")
	resp, err = env.Client.PostForm(ctx, actionOr(edit.Action, show), fixtures.Fill(edit, map[string]string{field: value}))
	if err != nil {
		return fail(st, err)
	}
	if _, err := expectRedirectWithBanner(ctx, env, st, resp, show+"/edit"); err != nil {
		return err
	}

	st = env.step("update-visible")
	resp, err = env.Client.Get(ctx, show)
	if err != nil {
		return fail(st, err)
	}
	st.With(resp)
	if resp.Status != http.StatusOK {
		st.Fail("status %d", resp.Status)
	} else {
		st.Check(scrape.ContainsPhrase(resp.Body, value), "%s shows %q", field, value)
	}

	if err := c.destroy(ctx); err != nil {
		return err
	}

	st = env.step("gone")
	resp, err = env.Client.Get(ctx, show)
	if err != nil {
		return fail(st, err)
	}
	st.ExpectStatus(resp, http.StatusNotFound)
	return nil
}

func (c *crud) destroy(ctx context.Context) error {
	c.destroyed = true
	env := c.env
	st := env.step("destroy")

	token, _, err := auth.Token(ctx, env.Client, c.index)
	if err != nil {
		if isTransport(err) {
			return fail(st, err)
		}
		st.Fail("token: %v", err)
		return errAbort
	}

	resp, err := env.Client.Delete(ctx, c.index+"/"+c.id, url.Values{"_token": {token}})
	if err != nil {
		return fail(st, err)
	}
	if _, err := expectRedirectWithBanner(ctx, env, st, resp, ""); err != nil {
		return err
	}
	return nil
}

// finish removes the record when an earlier step aborted, then the parents.
// Nothing is sent once the target stopped answering.
func (c *crud) finish(ctx context.Context, cause error) error {
	if ctx.Err() != nil || isTransport(cause) {
		return nil
	}
	if c.id != "" && !c.destroyed {
		if err := c.destroy(ctx); isTransport(err) {
			return err
		}
	}
	return cleanup(ctx, c.env, &c.parents)
}
