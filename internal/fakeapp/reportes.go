package fakeapp

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

var tiposReporte = []string{"clientes", "vehiculos", "servicios", "empleados", "ordenes", "ingresos"}

type reporte struct {
	ID          int
	Tipo        string
	FechaInicio string
	FechaFin    string
	Total       int
	Generated   time.Time
}

func (a *App) handleReportes(w http.ResponseWriter, r *http.Request) {
	if a.faulted(w, r, "reportes", "index") {
		return
	}

	sess := sessionFrom(r)
	p := a.newPage(sess, "Reportes")
	p.Module = "reportes"

	ids := make([]int, 0, len(a.reports))
	for id := range a.reports {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		rep := a.reports[id]
		p.Reports = append(p.Reports, reportView{
			ID:        rep.ID,
			Tipo:      rep.Tipo,
			Generated: rep.Generated.Format("2006-01-02 15:04"),
		})
	}
	render(w, http.StatusOK, "reportes", p)
}

func (a *App) handleGenerar(w http.ResponseWriter, r *http.Request) {
	if a.faulted(w, r, "reportes", "generar") {
		return
	}

	tipo := r.PostForm.Get("tipo")
	desde := r.PostForm.Get("fecha_inicio")
	hasta := r.PostForm.Get("fecha_fin")

	errs := map[string]string{}
	switch {
	case tipo == "":
		errs["tipo"] = "El campo tipo es obligatorio."
	case !contains(tiposReporte, tipo):
		errs["tipo"] = "El tipo seleccionado no es válido."
	}
	if desde != "" && !dateRe.MatchString(desde) {
		errs["fecha_inicio"] = "El campo fecha inicio no es una fecha válida."
	}
	if hasta != "" && !dateRe.MatchString(hasta) {
		errs["fecha_fin"] = "El campo fecha fin no es una fecha válida."
	}
	if desde != "" && hasta != "" && len(errs) == 0 && hasta < desde {
		errs["fecha_fin"] = "La fecha fin debe ser posterior a la fecha inicio."
	}
	if len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	total := len(a.records[tipo])
	if tipo == "ingresos" {
		total = len(a.records["ordenes"])
	}

	a.reportID++
	rep := &reporte{
		ID:          a.reportID,
		Tipo:        tipo,
		FechaInicio: desde,
		FechaFin:    hasta,
		Total:       total,
		Generated:   time.Now().UTC(),
	}
	a.reports[rep.ID] = rep

	message := "Reporte generado exitosamente"
	if f, ok := a.fault("reportes", "generar"); ok && f.HideBanner {
		message = ""
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": message,
		"reporte": map[string]any{
			"id":              rep.ID,
			"tipo":            rep.Tipo,
			"fecha_inicio":    rep.FechaInicio,
			"fecha_fin":       rep.FechaFin,
			"total_registros": rep.Total,
			"generado_en":     rep.Generated.Format(time.RFC3339),
			"url":             fmt.Sprintf("/reportes/exportar/%d", rep.ID),
		},
	})
}

func (a *App) handleExportar(w http.ResponseWriter, r *http.Request) {
	if a.faulted(w, r, "reportes", "exportar") {
		return
	}

	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	rep := a.reports[id]
	if rep == nil {
		renderStatus(w, r, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="reporte-%s-%d.pdf"`, rep.Tipo, rep.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(renderPDF(rep))
}

// renderPDF produces a minimal one-page PDF document.
func renderPDF(rep *reporte) []byte {
	text := fmt.Sprintf("Reporte de %s #%d: %d registros", rep.Tipo, rep.ID, rep.Total)
	stream := fmt.Sprintf("BT /F1 14 Tf 72 720 Td (%s) Tj ET", strings.NewReplacer("(", "[", ")", "]").Replace(text))

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var sb strings.Builder
	sb.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = sb.Len()
		fmt.Fprintf(&sb, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := sb.Len()
	fmt.Fprintf(&sb, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&sb, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&sb, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return []byte(sb.String())
}
