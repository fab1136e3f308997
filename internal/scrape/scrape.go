// Package scrape pulls tokens, banners, forms and record IDs out of the
// taller application's rendered HTML.
package scrape

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

var (
	metaTagRe     = regexp.MustCompile(`(?is)<meta\b[^>]*\bname\s*=\s*["']csrf-token["'][^>]*>`)
	tokenInputRe  = regexp.MustCompile(`(?is)<input\b[^>]*\bname\s*=\s*["']_token["'][^>]*>`)
	contentAttrRe = regexp.MustCompile(`(?is)\bcontent\s*=\s*["']([^"']*)["']`)
	valueAttrRe   = regexp.MustCompile(`(?is)\bvalue\s*=\s*["']([^"']*)["']`)

	successRe    = regexp.MustCompile(`(?i)exitosamente|correctamente|con [eé]xito`)
	validationRe = regexp.MustCompile(`(?i)obligatori[oa]|ya est[aá] registrad[oa]|ya ha sido registrad[oa]|ya ha sido tomad[oa]|\berror(es)?\b`)
	duplicateRe  = regexp.MustCompile(`(?i)ya est[aá] registrad[oa]|ya ha sido (registrad|tomad)[oa]|ya est[aá] en uso`)

	swalObjectRe = regexp.MustCompile(`(?s)Swal\.fire\(\s*\{(.*?)\}\s*\)`)
	swalArgsRe   = regexp.MustCompile(`(?s)Swal\.fire\(\s*['"]([^'"]*)['"]\s*,\s*['"]([^'"]*)['"]\s*,\s*['"](\w+)['"]`)
	swalIconRe   = regexp.MustCompile(`(?s)\b(?:icon|type)\s*:\s*['"](\w+)['"]`)
	swalTextRe   = regexp.MustCompile(`(?s)\b(?:title|text)\s*:\s*['"]([^'"]*)['"]`)

	alertKindRe = regexp.MustCompile(`\balert-(success|danger|warning|info)\b`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// Alert is a flash banner rendered by the application.
type Alert struct {
	Kind string // success, danger, warning, info
	Text string
}

// CSRFToken returns the session CSRF token, preferring the meta tag over
// the hidden _token form input.
func CSRFToken(body []byte) (string, bool) {
	if tag := metaTagRe.Find(body); tag != nil {
		if m := contentAttrRe.FindSubmatch(tag); m != nil && len(m[1]) > 0 {
			return string(m[1]), true
		}
	}
	if tag := tokenInputRe.Find(body); tag != nil {
		if m := valueAttrRe.FindSubmatch(tag); m != nil && len(m[1]) > 0 {
			return string(m[1]), true
		}
	}
	return "", false
}

// Alerts returns Bootstrap alert banners and SweetAlert popups, in page order.
func Alerts(body []byte) []Alert {
	var alerts []Alert

	if doc, err := html.Parse(bytes.NewReader(body)); err == nil {
		walk(doc, func(n *html.Node) bool {
			if n.Type != html.ElementNode {
				return true
			}
			m := alertKindRe.FindStringSubmatch(attr(n, "class"))
			if m == nil {
				return true
			}
			alerts = append(alerts, Alert{Kind: m[1], Text: textOf(n)})
			return false
		})
	}

	for _, m := range swalObjectRe.FindAllSubmatch(body, -1) {
		alert := Alert{Kind: "info"}
		if icon := swalIconRe.FindSubmatch(m[1]); icon != nil {
			alert.Kind = swalKind(string(icon[1]))
		}
		var parts []string
		for _, text := range swalTextRe.FindAllSubmatch(m[1], -1) {
			parts = append(parts, string(text[1]))
		}
		alert.Text = strings.Join(parts, " ")
		alerts = append(alerts, alert)
	}

	for _, m := range swalArgsRe.FindAllSubmatch(body, -1) {
		alerts = append(alerts, Alert{
			Kind: swalKind(string(m[3])),
			Text: strings.TrimSpace(string(m[1]) + " " + string(m[2])),
		})
	}

	return alerts
}

// HasSuccess reports a success banner or one of the success phrases.
func HasSuccess(body []byte) bool {
	for _, a := range Alerts(body) {
		if a.Kind == "success" {
			return true
		}
	}
	return successRe.MatchString(Text(body))
}

// HasErrorAlert reports an alert-danger banner or an error SweetAlert.
func HasErrorAlert(body []byte) bool {
	for _, a := range Alerts(body) {
		if a.Kind == "danger" {
			return true
		}
	}
	return false
}

// SuccessMessage returns the first success banner text.
func SuccessMessage(body []byte) string {
	for _, a := range Alerts(body) {
		if a.Kind == "success" {
			return a.Text
		}
	}
	return ""
}

// ValidationErrors collects field error messages: invalid-feedback and
// text-danger elements plus list items inside alert-danger banners.
func ValidationErrors(body []byte) []string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		classes := attr(n, "class")
		switch {
		case hasClass(classes, "invalid-feedback"), hasClass(classes, "text-danger"):
			add(textOf(n))
			return false
		case hasClass(classes, "alert-danger"):
			walk(n, func(li *html.Node) bool {
				if li.Type == html.ElementNode && li.Data == "li" {
					add(textOf(li))
					return false
				}
				return true
			})
			return false
		}
		return true
	})

	return out
}

// ValidationPayload is Laravel's 422 JSON body.
type ValidationPayload struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

// JSONValidationErrors decodes a 422 JSON validation body.
func JSONValidationErrors(body []byte) (*ValidationPayload, error) {
	var payload ValidationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// LooksLikeValidationFailure applies the heuristics used by the manual
// scripts: HTTP 422, or any validation phrase in the visible text.
func LooksLikeValidationFailure(status int, body []byte) bool {
	if status == 422 {
		return true
	}
	return validationRe.MatchString(Text(body))
}

// LooksLikeDuplicate reports a uniqueness violation message.
func LooksLikeDuplicate(body []byte) bool {
	return duplicateRe.MatchString(Text(body))
}

// ContainsPhrase reports a case-insensitive match in the visible text.
func ContainsPhrase(body []byte, phrase string) bool {
	return strings.Contains(strings.ToLower(Text(body)), strings.ToLower(phrase))
}

// Text returns the visible text of a page with whitespace collapsed.
// Script and style contents are dropped.
func Text(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return string(body)
	}
	return textOf(doc)
}

// Title returns the page <title>.
func Title(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var title string
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "title" {
			title = textOf(n)
			return false
		}
		return title == ""
	})
	return title
}

// Scripts returns the src of every external <script>.
func Scripts(body []byte) []string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var srcs []string
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "script" {
			if src := attr(n, "src"); src != "" {
				srcs = append(srcs, src)
			}
		}
		return true
	})
	return srcs
}

var libraryPatterns = map[string]*regexp.Regexp{
	"jquery":      regexp.MustCompile(`(?i)jquery`),
	"datatables":  regexp.MustCompile(`(?i)datatables`),
	"sweetalert":  regexp.MustCompile(`(?i)sweetalert`),
	"bootstrap":   regexp.MustCompile(`(?i)bootstrap`),
	"select2":     regexp.MustCompile(`(?i)select2`),
	"fontawesome": regexp.MustCompile(`(?i)font-?awesome`),
}

// Libraries names the client-side libraries referenced by <script> tags,
// sorted.
func Libraries(body []byte) []string {
	found := map[string]bool{}
	for _, src := range Scripts(body) {
		for name, re := range libraryPatterns {
			if name == "jquery" && strings.Contains(strings.ToLower(src), "datatables") {
				continue
			}
			if re.MatchString(src) {
				found[name] = true
			}
		}
	}
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsPDF checks the PDF magic bytes and, when given, the content type.
func IsPDF(contentType string, body []byte) bool {
	if contentType != "" && !strings.HasPrefix(strings.ToLower(contentType), "application/pdf") {
		return false
	}
	return bytes.HasPrefix(body, []byte("%PDF"))
}

func swalKind(icon string) string {
	switch strings.ToLower(icon) {
	case "success":
		return "success"
	case "error":
		return "danger"
	case "warning":
		return "warning"
	default:
		return "info"
	}
}

// walk visits n depth-first; returning false skips the node's children.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func hasClass(classes, class string) bool {
	for _, c := range strings.Fields(classes) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		switch c.Type {
		case html.ElementNode:
			switch c.Data {
			case "script", "style", "noscript", "template":
				return false
			}
		case html.TextNode:
			sb.WriteString(c.Data)
			sb.WriteString(" ")
		}
		return true
	})
	return strings.TrimSpace(spaceRe.ReplaceAllString(sb.String(), " "))
}
