package http

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/jung-kurt/gofpdf"

	"routewatch/internal/observability/metrics"
)

// handleHealthPDF serves GET /api/v1/exports/agent-health.pdf.
func (h *Handler) handleHealthPDF(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	window, err := parseWindow(r)
	if err != nil {
		metrics.ObserveExport("pdf", metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	views, err := h.views(r.Context(), window)
	if err != nil {
		metrics.ObserveExport("pdf", metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := BuildHealthPDF(views, window, time.Now().UTC())
	if err != nil {
		metrics.ObserveExport("pdf", metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("pdf", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="agent-health.pdf"`)
	_, _ = w.Write(data)
}

// BuildHealthPDF renders the agent health table.
func BuildHealthPDF(views []AgentView, window time.Duration, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Agent Health Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Window: %s", window))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	headers := []string{"Agent", "Kind", "Interval", "Runs", "Success", "Failures", "Timeouts", "Avg Duration", "Alerts", "Skips", "Last Outcome"}
	widths := []float64{32, 26, 20, 16, 20, 20, 20, 28, 18, 16, 30}
	pdf.SetFont("Arial", "B", 9)
	for i, header := range headers {
		pdf.CellFormat(widths[i], 6, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, view := range views {
		health := view.Health
		cells := []string{
			view.Definition.Name,
			string(view.Definition.Kind),
			view.Definition.Interval().String(),
			fmt.Sprintf("%d", health.Runs),
			fmt.Sprintf("%.1f%%", health.SuccessRate*100),
			fmt.Sprintf("%d", health.Failures),
			fmt.Sprintf("%d", health.Timeouts),
			health.AvgDuration.Round(time.Millisecond).String(),
			fmt.Sprintf("%d", health.AlertsEmitted),
			fmt.Sprintf("%d", view.Status.TotalSkips),
			string(health.LastOutcome),
		}
		for i, cell := range cells {
			align := "R"
			if i < 3 || i == len(cells)-1 {
				align = "L"
			}
			pdf.CellFormat(widths[i], 6, cell, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
