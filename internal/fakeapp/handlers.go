package fakeapp

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

func (a *App) handleRoot(w http.ResponseWriter, r *http.Request) {
	if sessionFrom(r).user != "" {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (a *App) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if sess.user != "" {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}

	old, errs := sess.takeOld()
	p := a.newPage(sess, "Iniciar sesión")
	p.Form = &formView{
		Action: "/login",
		Submit: "Ingresar",
		Fields: []fieldView{
			{Name: "email", Label: "Correo", Type: "email", Required: true, Value: old["email"], Error: errs["email"]},
			{Name: "password", Label: "Contraseña", Type: "password", Required: true, Error: errs["password"]},
		},
	}
	render(w, http.StatusOK, "login", p)
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	email := r.PostForm.Get("email")
	password := r.PostForm.Get("password")

	errs := map[string]string{}
	if email == "" {
		errs["email"] = "El campo correo es obligatorio."
	}
	if password == "" {
		errs["password"] = "El campo contraseña es obligatorio."
	}
	if len(errs) == 0 && (email != a.email || password != a.password) {
		errs["email"] = "Estas credenciales no coinciden con nuestros registros."
	}

	if len(errs) > 0 {
		a.logger.Debug("login rejected", "email", email)
		if wantsJSON(r) {
			writeValidation(w, errs)
			return
		}
		sess.old = map[string]string{"email": email}
		sess.errors = errs
		http.Redirect(w, r, previous(r, "/login"), http.StatusFound)
		return
	}

	sess.user = email
	a.issue(w, sess)

	target := sess.intended
	sess.intended = ""
	if target == "" {
		target = "/dashboard"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	delete(a.sessions, sess.id)
	a.issue(w, &sessionState{})
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (a *App) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	p := a.newPage(sess, "Panel principal")
	for _, s := range schemas {
		p.Counts = append(p.Counts, countView{Module: s.Module, Title: s.Title, Total: len(a.records[s.Module])})
	}
	p.Counts = append(p.Counts, countView{Module: "reportes", Title: "Reportes", Total: len(a.reports)})
	render(w, http.StatusOK, "dashboard", p)
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	s := schemaFor(mux.Vars(r)["module"])
	if a.faulted(w, r, s.Module, "index") {
		return
	}

	sess := sessionFrom(r)
	p := a.newPage(sess, s.Title)
	p.Module = s.Module

	table := &tableView{}
	for _, f := range s.Fields {
		if f.List {
			table.Headers = append(table.Headers, f.Label)
		}
	}
	for _, rec := range a.sortedRecords(s.Module) {
		row := rowView{ID: rec.ID}
		for _, f := range s.Fields {
			if !f.List {
				continue
			}
			value := rec.Values[f.Name]
			if f.Ref != "" {
				value = a.displayName(f.Ref, value)
			}
			row.Cells = append(row.Cells, value)
		}
		table.Rows = append(table.Rows, row)
	}
	p.Table = table
	render(w, http.StatusOK, "index", p)
}

func (a *App) handleCreate(w http.ResponseWriter, r *http.Request) {
	s := schemaFor(mux.Vars(r)["module"])
	if a.faulted(w, r, s.Module, "create") {
		return
	}

	sess := sessionFrom(r)
	old, errs := sess.takeOld()
	p := a.newPage(sess, "Nuevo "+s.Singular)
	p.Module = s.Module
	p.Form = a.formFor(s, "/"+s.Module, "", old, errs)
	render(w, http.StatusOK, "form", p)
}

func (a *App) handleStore(w http.ResponseWriter, r *http.Request) {
	s := schemaFor(mux.Vars(r)["module"])
	if a.faulted(w, r, s.Module, "store") {
		return
	}

	sess := sessionFrom(r)
	input := formInput(r)
	if errs := a.validate(s, input, 0); len(errs) > 0 {
		a.rejectInput(w, r, sess, input, errs, "/"+s.Module+"/create")
		return
	}

	a.nextID[s.Module]++
	rec := &record{ID: a.nextID[s.Module], Values: pick(s, input), CreatedAt: time.Now().UTC()}
	a.records[s.Module][rec.ID] = rec
	a.logger.Debug("record created", "module", s.Module, "id", rec.ID)

	a.succeed(sess, s, "creado")
	if s.ShowAfterSave {
		http.Redirect(w, r, fmt.Sprintf("/%s/%d", s.Module, rec.ID), http.StatusFound)
		return
	}
	http.Redirect(w, r, "/"+s.Module, http.StatusFound)
}

func (a *App) handleShow(w http.ResponseWriter, r *http.Request) {
	s, rec, ok := a.lookup(w, r)
	if !ok || a.faulted(w, r, s.Module, "show") {
		return
	}

	sess := sessionFrom(r)
	p := a.newPage(sess, fmt.Sprintf("%s #%d", s.Singular, rec.ID))
	p.Module = s.Module
	view := &recordView{ID: rec.ID}
	for _, f := range s.Fields {
		value := rec.Values[f.Name]
		if f.Ref != "" {
			value = a.displayName(f.Ref, value)
		}
		view.Fields = append(view.Fields, valueView{Label: f.Label, Value: value})
	}
	p.Record = view
	render(w, http.StatusOK, "show", p)
}

func (a *App) handleEdit(w http.ResponseWriter, r *http.Request) {
	s, rec, ok := a.lookup(w, r)
	if !ok || a.faulted(w, r, s.Module, "edit") {
		return
	}

	sess := sessionFrom(r)
	old, errs := sess.takeOld()
	if old == nil {
		old = rec.Values
	}
	p := a.newPage(sess, "Editar "+s.Singular)
	p.Module = s.Module
	p.Form = a.formFor(s, fmt.Sprintf("/%s/%d", s.Module, rec.ID), http.MethodPut, old, errs)
	render(w, http.StatusOK, "form", p)
}

func (a *App) handleSpoofed(w http.ResponseWriter, r *http.Request) {
	switch method(r) {
	case http.MethodPut, http.MethodPatch:
		a.handleUpdate(w, r)
	case http.MethodDelete:
		a.handleDestroy(w, r)
	default:
		renderStatus(w, r, http.StatusMethodNotAllowed)
	}
}

func (a *App) handleUpdate(w http.ResponseWriter, r *http.Request) {
	s, rec, ok := a.lookup(w, r)
	if !ok || a.faulted(w, r, s.Module, "update") {
		return
	}

	sess := sessionFrom(r)
	input := formInput(r)
	if errs := a.validate(s, input, rec.ID); len(errs) > 0 {
		a.rejectInput(w, r, sess, input, errs, fmt.Sprintf("/%s/%d/edit", s.Module, rec.ID))
		return
	}

	rec.Values = pick(s, input)
	a.succeed(sess, s, "actualizado")
	if s.ShowAfterSave {
		http.Redirect(w, r, fmt.Sprintf("/%s/%d", s.Module, rec.ID), http.StatusFound)
		return
	}
	http.Redirect(w, r, "/"+s.Module, http.StatusFound)
}

func (a *App) handleDestroy(w http.ResponseWriter, r *http.Request) {
	s, rec, ok := a.lookup(w, r)
	if !ok || a.faulted(w, r, s.Module, "destroy") {
		return
	}

	sess := sessionFrom(r)
	if a.referenced(s.Module, rec.ID) {
		sess.flash = &flash{
			Kind:    "danger",
			Message: fmt.Sprintf("No se puede eliminar: el %s tiene registros asociados.", s.Singular),
		}
		http.Redirect(w, r, "/"+s.Module, http.StatusFound)
		return
	}

	delete(a.records[s.Module], rec.ID)
	a.logger.Debug("record deleted", "module", s.Module, "id", rec.ID)
	a.succeed(sess, s, "eliminado")
	http.Redirect(w, r, "/"+s.Module, http.StatusFound)
}

// lookup resolves {module}/{id}, answering 404 when the record is gone.
func (a *App) lookup(w http.ResponseWriter, r *http.Request) (*schema, *record, bool) {
	vars := mux.Vars(r)
	s := schemaFor(vars["module"])
	id, err := strconv.Atoi(vars["id"])
	if s == nil || err != nil {
		renderStatus(w, r, http.StatusNotFound)
		return nil, nil, false
	}
	rec := a.records[s.Module][id]
	if rec == nil {
		if wantsJSON(r) {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Registro no encontrado."})
			return nil, nil, false
		}
		renderStatus(w, r, http.StatusNotFound)
		return nil, nil, false
	}
	return s, rec, true
}

// faulted applies an injected status fault.
func (a *App) faulted(w http.ResponseWriter, r *http.Request, module, action string) bool {
	f, ok := a.fault(module, action)
	if !ok || f.Status == 0 {
		return false
	}
	a.logger.Debug("injected fault", "module", module, "action", action, "status", f.Status)
	renderStatus(w, r, f.Status)
	return true
}

func (a *App) succeed(sess *sessionState, s *schema, verb string) {
	action := map[string]string{"creado": "store", "actualizado": "update", "eliminado": "destroy"}[verb]
	if f, ok := a.fault(s.Module, action); ok && f.HideBanner {
		return
	}
	sess.flash = &flash{Kind: "success", Message: s.successMessage(verb)}
}

func (a *App) rejectInput(w http.ResponseWriter, r *http.Request, sess *sessionState, input, errs map[string]string, back string) {
	if wantsJSON(r) {
		writeValidation(w, errs)
		return
	}
	sess.old = input
	sess.errors = errs
	sess.flash = &flash{
		Kind:    "danger",
		Message: "Por favor corrija los errores del formulario.",
		Errors:  sortedMessages(errs),
	}
	http.Redirect(w, r, previous(r, back), http.StatusFound)
}

// previous is where Laravel sends a rejected form: the same-host Referer,
// else fallback.
func previous(r *http.Request, fallback string) string {
	ref, err := url.Parse(r.Referer())
	if err != nil || ref.Path == "" || (ref.Host != "" && ref.Host != r.Host) {
		return fallback
	}
	if ref.RawQuery != "" {
		return ref.Path + "?" + ref.RawQuery
	}
	return ref.Path
}

func writeValidation(w http.ResponseWriter, errs map[string]string) {
	payload := map[string]any{
		"message": validationMessage(errs),
		"errors":  map[string][]string{},
	}
	for name, msg := range errs {
		payload["errors"].(map[string][]string)[name] = []string{msg}
	}
	writeJSON(w, http.StatusUnprocessableEntity, payload)
}

func pick(s *schema, input map[string]string) map[string]string {
	values := make(map[string]string, len(s.Fields))
	for _, f := range s.Fields {
		values[f.Name] = input[f.Name]
	}
	return values
}

func (a *App) formFor(s *schema, action, spoof string, values, errs map[string]string) *formView {
	form := &formView{Action: action, Spoof: spoof, Submit: "Guardar"}
	for _, f := range s.Fields {
		fv := fieldView{
			Name:     f.Name,
			Label:    f.Label,
			Type:     f.Type,
			Required: f.Required,
			Value:    values[f.Name],
			Error:    errs[f.Name],
		}
		switch {
		case f.Ref != "":
			for _, rec := range a.sortedRecords(f.Ref) {
				id := strconv.Itoa(rec.ID)
				fv.Options = append(fv.Options, optionView{
					Value:    id,
					Text:     a.displayName(f.Ref, id),
					Selected: id == fv.Value,
				})
			}
		case len(f.Options) > 0:
			for _, opt := range f.Options {
				fv.Options = append(fv.Options, optionView{Value: opt, Text: opt, Selected: opt == fv.Value})
			}
		}
		form.Fields = append(form.Fields, fv)
	}
	return form
}
