package suites

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tionis/tallercheck/internal/auth"
	"github.com/tionis/tallercheck/internal/fixtures"
	"github.com/tionis/tallercheck/internal/scrape"
	"github.com/tionis/tallercheck/internal/session"
	"github.com/tionis/tallercheck/internal/utils"
)

// Parent is a record a module's form must reference.
type Parent struct {
	Module string
	Field  string
}

// Module describes how the suites drive one CRUD module.
type Module struct {
	Name string
	// Key holds the run marker and is used to find the row on the index.
	Key string
	// Unique is a field the application must refuse to duplicate.
	Unique  string
	Parents []Parent
}

// Modules are the CRUD modules in dependency order.
var Modules = []Module{
	{Name: "clientes", Key: "nombre", Unique: "cedula"},
	{Name: "vehiculos", Key: "placa", Unique: "placa", Parents: []Parent{{Module: "clientes", Field: "cliente_id"}}},
	{Name: "servicios", Key: "nombre", Unique: "nombre"},
	{Name: "empleados", Key: "nombre", Unique: "cedula"},
	{Name: "ordenes", Key: "descripcion", Parents: []Parent{
		{Module: "clientes", Field: "cliente_id"},
		{Module: "vehiculos", Field: "vehiculo_id"},
		{Module: "empleados", Field: "empleado_id"},
		{Module: "servicios", Field: "servicio_id"},
	}},
}

// ModuleByName returns the module definition.
func ModuleByName(name string) (Module, bool) {
	for _, m := range Modules {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

// parentOrder lists the modules that must exist before m, parents of
// parents first, each once.
func parentOrder(m Module) []string {
	var order []string
	seen := map[string]bool{}
	var visit func(Module)
	visit = func(mod Module) {
		for _, p := range mod.Parents {
			if seen[p.Module] {
				continue
			}
			if pm, ok := ModuleByName(p.Module); ok {
				visit(pm)
			}
			if !seen[p.Module] {
				seen[p.Module] = true
				order = append(order, p.Module)
			}
		}
	}
	visit(m)
	return order
}

// record is a row created during a suite.
type record struct {
	module string
	id     string
}

// records tracks rows created by a suite so they can be removed in reverse.
type records struct {
	list []record
}

func (r *records) add(module, id string) {
	r.list = append(r.list, record{module: module, id: id})
}

func (r *records) ids() map[string]string {
	out := make(map[string]string, len(r.list))
	for _, rec := range r.list {
		out[rec.module] = rec.id
	}
	return out
}

// valuesFor builds fixture values for a new record, wiring parent IDs.
func valuesFor(env *Env, m Module, parents map[string]string) map[string]string {
	values := env.Fixtures.Values(m.Name, env.next(m.Name))
	for _, p := range m.Parents {
		if id, ok := parents[p.Module]; ok {
			values[p.Field] = id
		}
	}
	return values
}

// createParents creates the records m depends on, one step each.
func createParents(ctx context.Context, env *Env, m Module, created *records) error {
	for _, name := range parentOrder(m) {
		st := env.step("parent:" + name)
		pm, _ := ModuleByName(name)
		id, detail, err := createRecord(ctx, env, pm, valuesFor(env, pm, created.ids()))
		if err != nil {
			return fail(st, err)
		}
		if id == "" {
			st.Fail("%s", detail)
			return errAbort
		}
		created.add(name, id)
		st.Pass("%s #%s", name, id)
	}
	return nil
}

// cleanup deletes created records newest first.
func cleanup(ctx context.Context, env *Env, created *records) error {
	for i := len(created.list) - 1; i >= 0; i-- {
		rec := created.list[i]
		st := env.step("cleanup:" + rec.module)
		detail, ok, err := deleteRecord(ctx, env, rec.module, rec.id)
		if err != nil {
			return fail(st, err)
		}
		st.Check(ok, "%s #%s: %s", rec.module, rec.id, detail)
	}
	return nil
}

// createRecord submits the create form of m. A non-transport failure
// returns an empty id and a detail message.
func createRecord(ctx context.Context, env *Env, m Module, values map[string]string) (id, detail string, err error) {
	index := "/" + m.Name

	resp, err := env.Client.Get(ctx, index+"/create")
	if err != nil {
		return "", "", err
	}
	if resp.Status != http.StatusOK {
		return "", fmt.Sprintf("create form returned %d", resp.Status), nil
	}
	form, ok := scrape.FindForm(resp.Body, index, http.MethodPost)
	if !ok {
		return "", "create form not found", nil
	}

	resp, err = env.Client.PostForm(ctx, actionOr(form.Action, index), fixtures.Fill(form, values))
	if err != nil {
		return "", "", err
	}
	if !resp.IsRedirect() {
		return "", fmt.Sprintf("store returned %d", resp.Status), nil
	}
	landing, err := env.Client.Follow(ctx, resp)
	if err != nil {
		return "", "", err
	}
	if resp.RedirectsTo(index + "/create") {
		return "", "rejected: " + validationDetail(landing), nil
	}

	id, err = locate(ctx, env, m, resp, landing, values[m.Key], nil)
	if err != nil {
		return "", "", err
	}
	if id == "" {
		return "", fmt.Sprintf("created %s not found on index", m.Name), nil
	}
	return id, "", nil
}

// locate finds the ID of a freshly stored record: from the redirect target,
// then from the index row showing marker, then from IDs that were not on
// the index before.
func locate(ctx context.Context, env *Env, m Module, stored, landing *session.Response, marker string, before []string) (string, error) {
	if id, ok := scrape.IDFromPath(stored.Location(), m.Name); ok {
		return id, nil
	}

	index := "/" + m.Name
	if landing == nil || strings.TrimRight(landing.URL.Path, "/") != index {
		var err error
		landing, err = env.Client.Get(ctx, index)
		if err != nil {
			return "", err
		}
	}

	if marker != "" {
		if id, ok := scrape.RowID(landing.Body, m.Name, marker); ok {
			return id, nil
		}
	}

	if before != nil {
		known := make(map[string]bool, len(before))
		for _, id := range before {
			known[id] = true
		}
		var fresh []string
		for _, id := range scrape.RecordIDs(landing.Body, m.Name) {
			if !known[id] {
				fresh = append(fresh, id)
			}
		}
		if len(fresh) == 1 {
			return fresh[0], nil
		}
	}

	return "", nil
}

// deleteRecord submits the spoofed DELETE for module/id using a token from
// the module index.
func deleteRecord(ctx context.Context, env *Env, module, id string) (detail string, ok bool, err error) {
	index := "/" + module
	token, _, err := auth.Token(ctx, env.Client, index)
	if err != nil {
		if isTransport(err) {
			return "", false, err
		}
		return err.Error(), false, nil
	}

	resp, err := env.Client.Delete(ctx, index+"/"+id, url.Values{"_token": {token}})
	if err != nil {
		return "", false, err
	}
	if !resp.IsRedirect() {
		return fmt.Sprintf("status %d, expected a redirect", resp.Status), false, nil
	}

	landing, err := env.Client.Follow(ctx, resp)
	if err != nil {
		return "", false, err
	}
	if scrape.HasErrorAlert(landing.Body) {
		return "refused: " + utils.Truncate(alertText(landing.Body, "danger"), 120), false, nil
	}
	if !scrape.HasSuccess(landing.Body) {
		return "no success banner on " + landing.URL.Path, false, nil
	}
	return utils.Truncate(scrape.SuccessMessage(landing.Body), 80), true, nil
}

func alertText(body []byte, kind string) string {
	for _, a := range scrape.Alerts(body) {
		if a.Kind == kind {
			return a.Text
		}
	}
	return ""
}

func actionOr(action, fallback string) string {
	if action == "" {
		return fallback
	}
	return action
}
