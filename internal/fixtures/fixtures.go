// Package fixtures builds form bodies for the taller entities. Every value
// that must be unique carries the run tag so runs never collide.
package fixtures

import (
	"fmt"
	"hash/crc32"
	"net/url"
	"strings"
	"time"

	"github.com/tionis/tallercheck/internal/scrape"
)

// Set generates values for one run.
type Set struct {
	tag       string
	seed      uint32
	overrides map[string]map[string]string
	now       func() time.Time
}

// New creates a fixture set. overrides replace defaults per module/field.
func New(tag string, overrides map[string]map[string]string) *Set {
	return &Set{
		tag:       tag,
		seed:      crc32.ChecksumIEEE([]byte(tag)),
		overrides: overrides,
		now:       time.Now,
	}
}

// Tag returns the run marker.
func (s *Set) Tag() string {
	return s.tag
}

// Marker returns the unique text identifying record n of a module. The
// number is zero padded so no marker is a prefix of another.
func (s *Set) Marker(module string, n int) string {
	return fmt.Sprintf("%s %s-%03d", strings.TrimSuffix(label(module), "s"), s.tag, n)
}

// Values returns the default form values for record n of a module.
func (s *Set) Values(module string, n int) map[string]string {
	today := s.now().Format("2006-01-02")
	lower := strings.ToLower(s.tag)

	var values map[string]string
	switch module {
	case "clientes":
		values = map[string]string{
			"nombre":    s.Marker(module, n),
			"apellido":  "Prueba",
			"cedula":    s.number(n, 8),
			"telefono":  "0414" + s.number(n, 7),
			"email":     fmt.Sprintf("cliente.%s.%d@taller.test", lower, n),
			"direccion": "Av. Principal, local " + s.tag,
		}
	case "vehiculos":
		values = map[string]string{
			"placa":  s.plate(n),
			"marca":  "Toyota",
			"modelo": "Corolla",
			"anio":   "2020",
			"color":  "Blanco",
		}
	case "servicios":
		values = map[string]string{
			"nombre":            s.Marker(module, n),
			"descripcion":       "Cambio de aceite y filtro",
			"precio":            "45.50",
			"duracion_estimada": "60",
		}
	case "empleados":
		values = map[string]string{
			"nombre":             s.Marker(module, n),
			"apellido":           "Prueba",
			"cedula":             s.number(n+500, 8),
			"cargo":              "Mecánico",
			"telefono":           "0424" + s.number(n, 7),
			"email":              fmt.Sprintf("empleado.%s.%d@taller.test", lower, n),
			"salario":            "850.00",
			"fecha_contratacion": today,
		}
	case "ordenes":
		values = map[string]string{
			"fecha_ingreso": today,
			"estado":        "pendiente",
			"descripcion":   s.Marker(module, n),
			"observaciones": "Revisión general " + s.tag,
			"kilometraje":   "45000",
			"total":         "120.00",
		}
	default:
		values = map[string]string{"nombre": s.Marker(module, n)}
	}

	for field, value := range s.overrides[module] {
		values[field] = value
	}
	return values
}

// Update returns the field/value pair used to verify an update.
func (s *Set) Update(module string) (field, value string) {
	switch module {
	case "clientes":
		return "telefono", "0412" + s.number(99, 7)
	case "vehiculos":
		return "color", "Rojo " + s.tag
	case "servicios":
		return "precio", "99.90"
	case "empleados":
		return "cargo", "Jefe de taller " + s.tag
	case "ordenes":
		return "observaciones", "Actualizada " + s.tag
	}
	return "nombre", "Actualizado " + s.tag
}

// number returns a digit string of width derived from the run tag.
func (s *Set) number(n, width int) string {
	mod := uint32(1)
	for i := 0; i < width-1; i++ {
		mod *= 10
	}
	v := (s.seed+uint32(n)*7919)%(mod*9) + mod
	return fmt.Sprintf("%d", v)
}

func (s *Set) plate(n int) string {
	const letters = "ABCDEFGHJKLMNPRSTUVWXYZ"
	v := s.seed + uint32(n)*104729
	var sb strings.Builder
	for i := 0; i < 3; i++ {
		sb.WriteByte(letters[v%uint32(len(letters))])
		v /= uint32(len(letters))
	}
	return fmt.Sprintf("%s%03d", sb.String(), v%1000)
}

func label(module string) string {
	switch module {
	case "clientes":
		return "Clientes"
	case "vehiculos":
		return "Vehiculos"
	case "servicios":
		return "Servicios"
	case "empleados":
		return "Empleados"
	case "ordenes":
		return "Orden"
	}
	if module == "" {
		return "Registro"
	}
	return strings.ToUpper(module[:1]) + module[1:]
}

// Fill builds the request body for form. Hidden Laravel fields keep their
// rendered values, selects only take values that are among their options,
// and fields with no provided value keep what the page rendered.
func Fill(form scrape.Form, values map[string]string) url.Values {
	body := url.Values{}
	for _, field := range form.Fields {
		switch field.Type {
		case "submit", "button", "reset", "file", "image":
			continue
		}

		if field.Name == "_token" || field.Name == "_method" {
			body.Set(field.Name, field.Value)
			continue
		}

		provided, ok := values[field.Name]
		switch {
		case field.Type == "select":
			body.Set(field.Name, pickOption(field, provided, ok))
		case field.Type == "checkbox" || field.Type == "radio":
			if ok {
				body.Add(field.Name, provided)
			} else if field.Value != "" {
				body.Add(field.Name, field.Value)
			}
		case ok:
			body.Set(field.Name, provided)
		default:
			body.Set(field.Name, field.Value)
		}
	}
	return body
}

// Body builds a request body without a parsed form.
func Body(values map[string]string, token string) url.Values {
	body := url.Values{}
	for k, v := range values {
		body.Set(k, v)
	}
	if token != "" {
		body.Set("_token", token)
	}
	return body
}

func pickOption(field scrape.Field, provided string, ok bool) string {
	if ok {
		for _, option := range field.Options {
			if option == provided {
				return provided
			}
		}
	}
	if field.Value != "" {
		return field.Value
	}
	for _, option := range field.Options {
		if option != "" {
			return option
		}
	}
	return ""
}
