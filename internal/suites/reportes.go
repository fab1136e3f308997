package suites

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tionis/tallercheck/internal/fixtures"
	"github.com/tionis/tallercheck/internal/scrape"
	"github.com/tionis/tallercheck/internal/session"
)

// missingReportID is never issued by the application.
const missingReportID = 999999999

type generateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      int    `json:"id"`
	Reporte struct {
		ID   int    `json:"id"`
		Tipo string `json:"tipo"`
	} `json:"reporte"`
}

func (g generateResponse) reportID() int {
	if g.Reporte.ID != 0 {
		return g.Reporte.ID
	}
	return g.ID
}

// reportsSuite generates a report and downloads it as PDF.
func reportsSuite() Suite {
	return &suite{
		name:    "reportes",
		session: true,
		steps:   []string{"index", "generar", "generar-invalido", "exportar", "exportar-inexistente"},
		run:     runReports,
	}
}

func runReports(ctx context.Context, env *Env) error {
	st := env.step("index")
	resp, err := env.Client.Get(ctx, "/reportes")
	if err != nil {
		return fail(st, err)
	}
	if !st.ExpectStatus(resp, http.StatusOK) {
		return errAbort
	}
	token, ok := scrape.CSRFToken(resp.Body)
	if !ok {
		env.step("generar").Fail("no csrf token on /reportes")
		return errAbort
	}

	now := time.Now()
	form := fixtures.Body(map[string]string{
		"tipo":         "clientes",
		"fecha_inicio": now.AddDate(0, -1, 0).Format("2006-01-02"),
		"fecha_fin":    now.Format("2006-01-02"),
	}, token)

	st = env.step("generar")
	resp, err = env.Client.Do(ctx, session.Request{Method: http.MethodPost, Path: "/reportes/generar", Form: form, JSON: true})
	if err != nil {
		return fail(st, err)
	}
	st.With(resp)
	if resp.Status != http.StatusOK {
		st.Fail("status %d", resp.Status)
		return errAbort
	}
	var generated generateResponse
	if err := json.Unmarshal(resp.Body, &generated); err != nil {
		st.Fail("response is not JSON: %v", err)
		return errAbort
	}
	id := generated.reportID()
	if !generated.Success || id == 0 {
		st.Fail("success=%t id=%d", generated.Success, id)
		return errAbort
	}
	st.Pass("reporte #%d", id)

	st = env.step("generar-invalido")
	invalid := fixtures.Body(map[string]string{"tipo": ""}, token)
	resp, err = env.Client.Do(ctx, session.Request{Method: http.MethodPost, Path: "/reportes/generar", Form: invalid, JSON: true})
	if err != nil {
		return fail(st, err)
	}
	st.ExpectStatus(resp, http.StatusUnprocessableEntity)

	st = env.step("exportar")
	resp, err = env.Client.Get(ctx, "/reportes/exportar/"+strconv.Itoa(id))
	if err != nil {
		return fail(st, err)
	}
	st.With(resp)
	switch {
	case resp.Status != http.StatusOK:
		st.Fail("status %d", resp.Status)
	case !scrape.IsPDF(resp.ContentType(), resp.Body):
		st.Fail("content type %q, %d bytes, not a PDF", resp.ContentType(), len(resp.Body))
	default:
		st.Pass("%d bytes of %s", len(resp.Body), resp.ContentType())
	}

	st = env.step("exportar-inexistente")
	resp, err = env.Client.Get(ctx, fmt.Sprintf("/reportes/exportar/%d", missingReportID))
	if err != nil {
		return fail(st, err)
	}
	st.ExpectStatus(resp, http.StatusNotFound)
	return nil
}
