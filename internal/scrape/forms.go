package scrape

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Field is a named form control.
type Field struct {
	Name     string
	Type     string // input type, "select" or "textarea"
	Value    string
	Required bool
	Options  []string // select option values, in order
}

// Form is a parsed <form>.
type Form struct {
	Action string
	Method string // effective method, honouring a _method override
	Fields []Field
}

// Field returns the named field.
func (f Form) Field(name string) (Field, bool) {
	for _, field := range f.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return Field{}, false
}

// Has reports whether the form carries a field.
func (f Form) Has(name string) bool {
	_, ok := f.Field(name)
	return ok
}

// Required lists the names of required fields.
func (f Form) Required() []string {
	var names []string
	for _, field := range f.Fields {
		if field.Required {
			names = append(names, field.Name)
		}
	}
	return names
}

// Token returns the hidden _token value.
func (f Form) Token() string {
	field, _ := f.Field("_token")
	return field.Value
}

// Values returns the form's current values as a request body.
func (f Form) Values() url.Values {
	values := url.Values{}
	for _, field := range f.Fields {
		switch field.Type {
		case "submit", "button", "reset", "file", "image":
			continue
		}
		values.Add(field.Name, field.Value)
	}
	return values
}

// ParseForms returns every form of the page.
func ParseForms(body []byte) ([]Form, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var forms []Form
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "form" {
			forms = append(forms, parseForm(n))
			return false
		}
		return true
	})
	return forms, nil
}

// FindForm returns the first form whose action path ends with suffix and,
// when method is not empty, whose effective method matches.
func FindForm(body []byte, suffix, method string) (Form, bool) {
	forms, err := ParseForms(body)
	if err != nil {
		return Form{}, false
	}
	for _, form := range forms {
		if !strings.HasSuffix(strings.TrimRight(actionPath(form.Action), "/"), strings.TrimRight(suffix, "/")) {
			continue
		}
		if method != "" && !strings.EqualFold(form.Method, method) {
			continue
		}
		return form, true
	}
	return Form{}, false
}

func parseForm(n *html.Node) Form {
	form := Form{
		Action: attr(n, "action"),
		Method: strings.ToUpper(attr(n, "method")),
	}
	if form.Method == "" {
		form.Method = "GET"
	}

	walk(n, func(c *html.Node) bool {
		if c.Type != html.ElementNode {
			return true
		}
		name := attr(c, "name")
		switch c.Data {
		case "input":
			if name == "" {
				return true
			}
			typ := strings.ToLower(attr(c, "type"))
			if typ == "" {
				typ = "text"
			}
			if (typ == "checkbox" || typ == "radio") && !hasAttr(c, "checked") {
				// Unchecked boxes are not submitted but still listed
				form.Fields = append(form.Fields, Field{Name: name, Type: typ, Required: hasAttr(c, "required")})
				return true
			}
			form.Fields = append(form.Fields, Field{
				Name:     name,
				Type:     typ,
				Value:    attr(c, "value"),
				Required: hasAttr(c, "required"),
			})
			if name == "_method" {
				form.Method = strings.ToUpper(attr(c, "value"))
			}
		case "select":
			if name == "" {
				return false
			}
			field := Field{Name: name, Type: "select", Required: hasAttr(c, "required")}
			walk(c, func(o *html.Node) bool {
				if o.Type != html.ElementNode || o.Data != "option" {
					return true
				}
				value := attr(o, "value")
				if !hasAttr(o, "value") {
					value = textOf(o)
				}
				field.Options = append(field.Options, value)
				if hasAttr(o, "selected") {
					field.Value = value
				}
				return false
			})
			form.Fields = append(form.Fields, field)
			return false
		case "textarea":
			if name == "" {
				return false
			}
			form.Fields = append(form.Fields, Field{
				Name:     name,
				Type:     "textarea",
				Value:    rawText(c),
				Required: hasAttr(c, "required"),
			})
			return false
		}
		return true
	})

	return form
}

func rawText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func actionPath(action string) string {
	u, err := url.Parse(action)
	if err != nil {
		return action
	}
	return u.Path
}

var idSegmentRe = regexp.MustCompile(`^\d+$`)

// RecordIDs returns the distinct record IDs linked from a page for a module,
// taken from hrefs and form actions of the form /{module}/{id}[/...].
func RecordIDs(body []byte, module string) []string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	return collectIDs(doc, module)
}

// RowID returns the record ID linked from the table row whose text contains
// marker.
func RowID(body []byte, module, marker string) (string, bool) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", false
	}

	var id string
	walk(doc, func(n *html.Node) bool {
		if id != "" {
			return false
		}
		if n.Type == html.ElementNode && n.Data == "tr" {
			if strings.Contains(textOf(n), marker) {
				if ids := collectIDs(n, module); len(ids) > 0 {
					id = ids[0]
				}
			}
			return false
		}
		return true
	})
	return id, id != ""
}

// IDFromPath extracts {id} from /{module}/{id}[/...].
func IDFromPath(path, module string) (string, bool) {
	segments := strings.Split(strings.Trim(actionPath(path), "/"), "/")
	for i := 0; i+1 < len(segments); i++ {
		if segments[i] == module && idSegmentRe.MatchString(segments[i+1]) {
			return segments[i+1], true
		}
	}
	return "", false
}

func collectIDs(root *html.Node, module string) []string {
	seen := map[string]bool{}
	var ids []string
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		var ref string
		switch n.Data {
		case "a":
			ref = attr(n, "href")
		case "form":
			ref = attr(n, "action")
		default:
			return true
		}
		if id, ok := IDFromPath(ref, module); ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
		return true
	})
	return ids
}
