package fakeapp

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// field describes one column of a module's form.
type field struct {
	Name     string
	Label    string
	Type     string // text, email, number, date, select, textarea
	Required bool
	Unique   bool
	Numeric  bool
	List     bool
	Options  []string // fixed select values
	Ref      string   // module whose records fill the select
}

type schema struct {
	Module   string
	Title    string
	Singular string
	Feminine bool
	// ShowAfterSave redirects store and update to the detail page
	ShowAfterSave bool
	Display       []string // fields joined to label a record in selects
	Fields        []field
}

var schemas = []*schema{
	{
		Module:   "clientes",
		Title:    "Clientes",
		Singular: "Cliente",
		Display:  []string{"nombre", "apellido"},
		Fields: []field{
			{Name: "nombre", Label: "Nombre", Type: "text", Required: true, List: true},
			{Name: "apellido", Label: "Apellido", Type: "text", Required: true, List: true},
			{Name: "cedula", Label: "Cédula", Type: "text", Required: true, Unique: true, List: true},
			{Name: "telefono", Label: "Teléfono", Type: "text", List: true},
			{Name: "email", Label: "Correo", Type: "email", Unique: true, List: true},
			{Name: "direccion", Label: "Dirección", Type: "textarea"},
		},
	},
	{
		Module:   "vehiculos",
		Title:    "Vehículos",
		Singular: "Vehículo",
		Display:  []string{"placa", "marca", "modelo"},
		Fields: []field{
			{Name: "cliente_id", Label: "Cliente", Type: "select", Required: true, Ref: "clientes", List: true},
			{Name: "placa", Label: "Placa", Type: "text", Required: true, Unique: true, List: true},
			{Name: "marca", Label: "Marca", Type: "text", Required: true, List: true},
			{Name: "modelo", Label: "Modelo", Type: "text", Required: true, List: true},
			{Name: "anio", Label: "Año", Type: "number", Numeric: true},
			{Name: "color", Label: "Color", Type: "text", List: true},
		},
	},
	{
		Module:   "servicios",
		Title:    "Servicios",
		Singular: "Servicio",
		Display:  []string{"nombre"},
		Fields: []field{
			{Name: "nombre", Label: "Nombre", Type: "text", Required: true, Unique: true, List: true},
			{Name: "descripcion", Label: "Descripción", Type: "textarea"},
			{Name: "precio", Label: "Precio", Type: "number", Required: true, Numeric: true, List: true},
			{Name: "duracion_estimada", Label: "Duración estimada (min)", Type: "number", Numeric: true},
		},
	},
	{
		Module:   "empleados",
		Title:    "Empleados",
		Singular: "Empleado",
		Display:  []string{"nombre", "apellido"},
		Fields: []field{
			{Name: "nombre", Label: "Nombre", Type: "text", Required: true, List: true},
			{Name: "apellido", Label: "Apellido", Type: "text", Required: true, List: true},
			{Name: "cedula", Label: "Cédula", Type: "text", Required: true, Unique: true},
			{Name: "cargo", Label: "Cargo", Type: "text", Required: true, List: true},
			{Name: "telefono", Label: "Teléfono", Type: "text"},
			{Name: "email", Label: "Correo", Type: "email", Unique: true},
			{Name: "salario", Label: "Salario", Type: "number", Numeric: true},
			{Name: "fecha_contratacion", Label: "Fecha de contratación", Type: "date"},
		},
	},
	{
		Module:        "ordenes",
		Title:         "Órdenes de trabajo",
		Singular:      "Orden",
		Feminine:      true,
		ShowAfterSave: true,
		Display:       []string{"descripcion"},
		Fields: []field{
			{Name: "cliente_id", Label: "Cliente", Type: "select", Required: true, Ref: "clientes", List: true},
			{Name: "vehiculo_id", Label: "Vehículo", Type: "select", Required: true, Ref: "vehiculos"},
			{Name: "empleado_id", Label: "Mecánico", Type: "select", Ref: "empleados"},
			{Name: "servicio_id", Label: "Servicio", Type: "select", Ref: "servicios"},
			{Name: "fecha_ingreso", Label: "Fecha de ingreso", Type: "date", Required: true, List: true},
			{Name: "estado", Label: "Estado", Type: "select", Required: true, Options: []string{"pendiente", "en_proceso", "completada", "cancelada"}, List: true},
			{Name: "descripcion", Label: "Descripción", Type: "textarea", Required: true, List: true},
			{Name: "observaciones", Label: "Observaciones", Type: "textarea"},
			{Name: "kilometraje", Label: "Kilometraje", Type: "number", Numeric: true},
			{Name: "total", Label: "Total", Type: "number", Numeric: true, List: true},
		},
	},
}

// Modules lists the CRUD modules served by the fake application.
func Modules() []string {
	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		names = append(names, s.Module)
	}
	return names
}

func schemaFor(module string) *schema {
	for _, s := range schemas {
		if s.Module == module {
			return s
		}
	}
	return nil
}

func modulePattern() string {
	return strings.Join(Modules(), "|")
}

// done renders the past participle matching the entity's gender.
func (s *schema) done(verb string) string {
	if s.Feminine {
		return strings.TrimSuffix(verb, "o") + "a"
	}
	return verb
}

func (s *schema) successMessage(verb string) string {
	return fmt.Sprintf("%s %s exitosamente.", s.Singular, s.done(verb))
}

type record struct {
	ID        int
	Values    map[string]string
	CreatedAt time.Time
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// validate returns field errors for input, ignoring the record being
// updated when checking uniqueness.
func (a *App) validate(s *schema, input map[string]string, selfID int) map[string]string {
	errs := map[string]string{}
	for _, f := range s.Fields {
		value := strings.TrimSpace(input[f.Name])
		if value == "" {
			if f.Required {
				errs[f.Name] = fmt.Sprintf("El campo %s es obligatorio.", strings.ToLower(f.Label))
			}
			continue
		}

		switch {
		case f.Numeric:
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				errs[f.Name] = fmt.Sprintf("El campo %s debe ser un número.", strings.ToLower(f.Label))
				continue
			}
		case f.Type == "date":
			if !dateRe.MatchString(value) {
				errs[f.Name] = fmt.Sprintf("El campo %s no es una fecha válida.", strings.ToLower(f.Label))
				continue
			}
		case f.Ref != "":
			id, err := strconv.Atoi(value)
			if err != nil || a.records[f.Ref][id] == nil {
				errs[f.Name] = fmt.Sprintf("El %s seleccionado no existe.", strings.ToLower(f.Label))
				continue
			}
		case len(f.Options) > 0:
			if !contains(f.Options, value) {
				errs[f.Name] = fmt.Sprintf("El %s seleccionado no es válido.", strings.ToLower(f.Label))
				continue
			}
		}

		if f.Unique {
			for id, rec := range a.records[s.Module] {
				if id != selfID && strings.EqualFold(rec.Values[f.Name], value) {
					errs[f.Name] = fmt.Sprintf("El campo %s ya está registrado.", strings.ToLower(f.Label))
					break
				}
			}
		}
	}
	return errs
}

// referenced reports whether any record points at module/id.
func (a *App) referenced(module string, id int) bool {
	want := strconv.Itoa(id)
	for _, s := range schemas {
		for _, f := range s.Fields {
			if f.Ref != module {
				continue
			}
			for _, rec := range a.records[s.Module] {
				if rec.Values[f.Name] == want {
					return true
				}
			}
		}
	}
	return false
}

func (a *App) sortedRecords(module string) []*record {
	out := make([]*record, 0, len(a.records[module]))
	for _, rec := range a.records[module] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (a *App) displayName(module string, idValue string) string {
	s := schemaFor(module)
	id, err := strconv.Atoi(idValue)
	if s == nil || err != nil {
		return idValue
	}
	rec := a.records[module][id]
	if rec == nil {
		return idValue
	}
	parts := make([]string, 0, len(s.Display))
	for _, name := range s.Display {
		if v := rec.Values[name]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func validationMessage(errs map[string]string) string {
	messages := sortedMessages(errs)
	if len(messages) == 0 {
		return ""
	}
	if len(messages) == 1 {
		return messages[0]
	}
	return fmt.Sprintf("%s (y %d errores más)", messages[0], len(messages)-1)
}

func sortedMessages(errs map[string]string) []string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, errs[k])
	}
	return out
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
