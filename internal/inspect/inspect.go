// Package inspect produces the static page report: for each module it
// fetches the listing and create pages and describes what they render.
package inspect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tionis/tallercheck/internal/scrape"
	"github.com/tionis/tallercheck/internal/session"
)

// FormSummary describes one form.
type FormSummary struct {
	Action   string   `json:"action"`
	Method   string   `json:"method"`
	Fields   []string `json:"fields"`
	Required []string `json:"required"`
	Token    bool     `json:"csrf_token"`
}

// Page describes one fetched page.
type Page struct {
	Module    string         `json:"module"`
	Path      string         `json:"path"`
	Status    int            `json:"status"`
	Title     string         `json:"title,omitempty"`
	CSRFMeta  bool           `json:"csrf_meta"`
	Libraries []string       `json:"libraries"`
	Alerts    []scrape.Alert `json:"alerts,omitempty"`
	Forms     []FormSummary  `json:"forms,omitempty"`
	Rows      int            `json:"record_links"`
	Error     string         `json:"error,omitempty"`
}

// Pages fetches "/{module}" and "/{module}/create" for every module. A page
// that cannot be fetched is reported with its error; a transport failure
// stops the walk.
func Pages(ctx context.Context, c *session.Client, modules []string) ([]Page, error) {
	var pages []Page
	for _, module := range modules {
		for _, path := range []string{"/" + module, "/" + module + "/create"} {
			page, err := fetch(ctx, c, module, path)
			pages = append(pages, page)
			if err != nil {
				return pages, err
			}
		}
	}
	return pages, nil
}

func fetch(ctx context.Context, c *session.Client, module, path string) (Page, error) {
	page := Page{Module: module, Path: path}

	resp, err := c.Get(ctx, path)
	if err != nil {
		page.Error = err.Error()
		return page, err
	}
	page.Status = resp.Status
	if resp.Status != http.StatusOK {
		if loc := resp.Location(); loc != "" {
			page.Error = fmt.Sprintf("redirected to %s", loc)
		} else {
			page.Error = fmt.Sprintf("status %d", resp.Status)
		}
		return page, nil
	}

	_, page.CSRFMeta = scrape.CSRFToken(resp.Body)
	page.Title = scrape.Title(resp.Body)
	page.Libraries = scrape.Libraries(resp.Body)
	page.Alerts = scrape.Alerts(resp.Body)
	page.Rows = len(scrape.RecordIDs(resp.Body, module))

	forms, err := scrape.ParseForms(resp.Body)
	if err != nil {
		page.Error = err.Error()
		return page, nil
	}
	for _, form := range forms {
		summary := FormSummary{
			Action:   form.Action,
			Method:   form.Method,
			Required: form.Required(),
			Token:    form.Token() != "",
		}
		for _, field := range form.Fields {
			if field.Name == "_token" || field.Name == "_method" {
				continue
			}
			summary.Fields = append(summary.Fields, field.Name)
		}
		page.Forms = append(page.Forms, summary)
	}
	return page, nil
}

// Write prints the report.
func Write(w io.Writer, pages []Page, color bool) error {
	heading := lipgloss.NewStyle()
	bad := lipgloss.NewStyle()
	if color {
		heading = heading.Bold(true).Foreground(lipgloss.Color("#2196F3"))
		bad = bad.Bold(true).Foreground(lipgloss.Color("#e53935"))
	}

	var sb strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&sb, "%s  status %d\n", heading.Render(p.Path), p.Status)
		if p.Error != "" {
			fmt.Fprintf(&sb, "  %s\n\n", bad.Render(p.Error))
			continue
		}
		if p.Title != "" {
			fmt.Fprintf(&sb, "  title: %s\n", p.Title)
		}
		fmt.Fprintf(&sb, "  csrf meta: %s\n", yesNo(p.CSRFMeta))
		fmt.Fprintf(&sb, "  libraries: %s\n", orNone(p.Libraries))
		if p.Rows > 0 {
			fmt.Fprintf(&sb, "  record links: %d\n", p.Rows)
		}
		for _, a := range p.Alerts {
			fmt.Fprintf(&sb, "  alert-%s: %s\n", a.Kind, a.Text)
		}
		for _, f := range p.Forms {
			if len(f.Fields) == 0 {
				continue
			}
			required := append([]string(nil), f.Required...)
			sort.Strings(required)
			fmt.Fprintf(&sb, "  form %s %s (token: %s)\n", f.Method, f.Action, yesNo(f.Token))
			fmt.Fprintf(&sb, "    fields: %s\n", strings.Join(f.Fields, ", "))
			fmt.Fprintf(&sb, "    required: %s\n", orNone(required))
		}
		sb.WriteString("\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func orNone(list []string) string {
	if len(list) == 0 {
		return "none"
	}
	return strings.Join(list, ", ")
}
