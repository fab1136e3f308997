package fakeapp

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
)

type page struct {
	Title   string
	Token   string
	User    string
	Nav     []navItem
	Flash   *flash
	Module  string
	Form    *formView
	Table   *tableView
	Record  *recordView
	Counts  []countView
	Reports []reportView
}

type navItem struct {
	Href  string
	Title string
}

type formView struct {
	Action string
	Spoof  string
	Submit string
	Fields []fieldView
}

type fieldView struct {
	Name     string
	Label    string
	Type     string
	Required bool
	Value    string
	Error    string
	Options  []optionView
}

type optionView struct {
	Value    string
	Text     string
	Selected bool
}

type tableView struct {
	Headers []string
	Rows    []rowView
}

type rowView struct {
	ID    int
	Cells []string
}

type recordView struct {
	ID     int
	Fields []valueView
}

type valueView struct {
	Label string
	Value string
}

type countView struct {
	Module string
	Title  string
	Total  int
}

type reportView struct {
	ID        int
	Tipo      string
	Generated string
}

func (a *App) newPage(sess *sessionState, title string) *page {
	p := &page{
		Title: title,
		Token: sess.token,
		User:  sess.user,
		Flash: sess.takeFlash(),
	}
	if sess.user != "" {
		for _, s := range schemas {
			p.Nav = append(p.Nav, navItem{Href: "/" + s.Module, Title: s.Title})
		}
		p.Nav = append(p.Nav, navItem{Href: "/reportes", Title: "Reportes"})
	}
	return p
}

const layoutHTML = `{{define "layout"}}<!DOCTYPE html>
<html lang="es">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <meta name="csrf-token" content="{{.Token}}">
  <title>{{.Title}} | Taller</title>
  <link rel="stylesheet" href="/css/bootstrap.min.css">
  <link rel="stylesheet" href="https://cdn.datatables.net/1.13.6/css/dataTables.bootstrap5.min.css">
</head>
<body>
{{if .User}}<nav class="navbar navbar-expand-lg navbar-dark bg-dark">
  <a class="navbar-brand" href="/dashboard">Taller</a>
  <ul class="navbar-nav">{{range .Nav}}<li class="nav-item"><a class="nav-link" href="{{.Href}}">{{.Title}}</a></li>{{end}}</ul>
  <form action="/logout" method="POST" class="d-inline">
    <input type="hidden" name="_token" value="{{.Token}}">
    <button type="submit" class="btn btn-outline-light">Cerrar sesión</button>
  </form>
</nav>{{end}}
<main class="container py-4">
{{with .Flash}}<div class="alert alert-{{.Kind}} alert-dismissible" role="alert">{{.Message}}{{if .Errors}}
  <ul>{{range .Errors}}<li>{{.}}</li>{{end}}</ul>{{end}}
</div>{{end}}
{{template "content" .}}
</main>
<script src="/js/jquery-3.7.1.min.js"></script>
<script src="/js/bootstrap.bundle.min.js"></script>
<script src="https://cdn.datatables.net/1.13.6/js/jquery.dataTables.min.js"></script>
<script src="https://cdn.jsdelivr.net/npm/sweetalert2@11/dist/sweetalert2.all.min.js"></script>
<script>$(function () { $('.datatable').DataTable(); });</script>
</body>
</html>{{end}}`

const formHTML = `<form action="{{.Form.Action}}" method="POST">
  <input type="hidden" name="_token" value="{{.Token}}">
  {{with .Form.Spoof}}<input type="hidden" name="_method" value="{{.}}">{{end}}
  {{range .Form.Fields}}<div class="mb-3">
    <label for="{{.Name}}" class="form-label">{{.Label}}{{if .Required}} *{{end}}</label>
    {{if eq .Type "select"}}<select class="form-select{{if .Error}} is-invalid{{end}}" id="{{.Name}}" name="{{.Name}}"{{if .Required}} required{{end}}>
      <option value="">Seleccione...</option>{{range .Options}}
      <option value="{{.Value}}"{{if .Selected}} selected{{end}}>{{.Text}}</option>{{end}}
    </select>{{else if eq .Type "textarea"}}<textarea class="form-control{{if .Error}} is-invalid{{end}}" id="{{.Name}}" name="{{.Name}}"{{if .Required}} required{{end}}>{{.Value}}</textarea>{{else}}<input type="{{.Type}}" class="form-control{{if .Error}} is-invalid{{end}}" id="{{.Name}}" name="{{.Name}}" value="{{.Value}}"{{if .Required}} required{{end}}>{{end}}
    {{with .Error}}<div class="invalid-feedback">{{.}}</div>{{end}}
  </div>{{end}}
  <button type="submit" class="btn btn-primary">{{.Form.Submit}}</button>
</form>`

var contentHTML = map[string]string{
	"login": `{{define "content"}}<h1>{{.Title}}</h1>
` + formHTML + `{{end}}`,

	"dashboard": `{{define "content"}}<h1>{{.Title}}</h1>
<div class="row">{{range .Counts}}
  <div class="col card"><a href="/{{.Module}}">{{.Title}}</a><span class="badge">{{.Total}}</span></div>{{end}}
</div>{{end}}`,

	"index": `{{define "content"}}<h1>{{.Title}}</h1>
<a href="/{{.Module}}/create" class="btn btn-success">Nuevo</a>
<table class="table datatable">
  <thead><tr><th>#</th>{{range .Table.Headers}}<th>{{.}}</th>{{end}}<th>Acciones</th></tr></thead>
  <tbody>{{$module := .Module}}{{$token := .Token}}{{range .Table.Rows}}
    <tr>
      <td>{{.ID}}</td>{{range .Cells}}<td>{{.}}</td>{{end}}
      <td>
        <a href="/{{$module}}/{{.ID}}" class="btn btn-sm btn-info">Ver</a>
        <a href="/{{$module}}/{{.ID}}/edit" class="btn btn-sm btn-warning">Editar</a>
        <form action="/{{$module}}/{{.ID}}" method="POST" class="d-inline form-eliminar">
          <input type="hidden" name="_token" value="{{$token}}">
          <input type="hidden" name="_method" value="DELETE">
          <button type="submit" class="btn btn-sm btn-danger">Eliminar</button>
        </form>
      </td>
    </tr>{{end}}
  </tbody>
</table>{{end}}`,

	"form": `{{define "content"}}<h1>{{.Title}}</h1>
` + formHTML + `
<a href="/{{.Module}}" class="btn btn-secondary">Volver</a>{{end}}`,

	"show": `{{define "content"}}<h1>{{.Title}}</h1>
<dl class="row">{{range .Record.Fields}}
  <dt class="col-sm-3">{{.Label}}</dt><dd class="col-sm-9">{{.Value}}</dd>{{end}}
</dl>
<a href="/{{.Module}}/{{.Record.ID}}/edit" class="btn btn-warning">Editar</a>
<a href="/{{.Module}}" class="btn btn-secondary">Volver</a>{{end}}`,

	"reportes": `{{define "content"}}<h1>{{.Title}}</h1>
<form id="form-reporte" action="/reportes/generar" method="POST">
  <input type="hidden" name="_token" value="{{.Token}}">
  <select name="tipo" class="form-select" required>{{range $tipo := tiposReporte}}
    <option value="{{$tipo}}">{{$tipo}}</option>{{end}}
  </select>
  <input type="date" name="fecha_inicio" class="form-control">
  <input type="date" name="fecha_fin" class="form-control">
  <button type="submit" class="btn btn-primary">Generar</button>
</form>
<table class="table datatable">
  <thead><tr><th>#</th><th>Tipo</th><th>Generado</th><th></th></tr></thead>
  <tbody>{{range .Reports}}
    <tr><td>{{.ID}}</td><td>{{.Tipo}}</td><td>{{.Generated}}</td><td><a href="/reportes/exportar/{{.ID}}">PDF</a></td></tr>{{end}}
  </tbody>
</table>{{end}}`,
}

var pages = func() map[string]*template.Template {
	funcs := template.FuncMap{"tiposReporte": func() []string { return tiposReporte }}
	layout := template.Must(template.New("layout").Funcs(funcs).Parse(layoutHTML))
	out := make(map[string]*template.Template, len(contentHTML))
	for name, content := range contentHTML {
		out[name] = template.Must(template.Must(layout.Clone()).Parse(content))
	}
	return out
}()

func render(w http.ResponseWriter, status int, name string, p *page) {
	var buf bytes.Buffer
	if err := pages[name].ExecuteTemplate(&buf, "layout", p); err != nil {
		http.Error(w, "template: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=UTF-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

var statusTitles = map[int]string{
	http.StatusNotFound:            "No encontrado",
	http.StatusMethodNotAllowed:    "Método no permitido",
	419:                            "Página expirada",
	http.StatusInternalServerError: "Server Error",
	http.StatusServiceUnavailable:  "Servicio no disponible",
}

// renderStatus writes a bare Laravel-style status page.
func renderStatus(w http.ResponseWriter, r *http.Request, status int) {
	if wantsJSON(r) {
		writeJSON(w, status, map[string]string{"message": statusTitles[status]})
		return
	}
	title, ok := statusTitles[status]
	if !ok {
		title = http.StatusText(status)
	}
	w.Header().Set("Content-Type", "text/html; charset=UTF-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<!DOCTYPE html><html><head><title>%s</title></head><body><div class=\"code\">%d</div><div class=\"message\">%s</div></body></html>",
		template.HTMLEscapeString(title), status, template.HTMLEscapeString(title))
}
