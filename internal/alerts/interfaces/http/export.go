package http

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/xuri/excelize/v2"

	alerts "routewatch/internal/alerts/domain"
	"routewatch/internal/observability/metrics"
)

// handleExportXLSX serves GET /api/v1/exports/alerts.xlsx using the history filter.
func (h *Handler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	filter, err := parseFilter(r)
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.service.History(r.Context(), filter)
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := BuildAlertsXLSX(list)
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("xlsx", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="alerts.xlsx"`)
	_, _ = w.Write(data)
}

var alertColumns = []string{
	"ID", "Key", "Agent", "Route", "Condition", "Priority", "Status",
	"Metric Value", "Threshold", "Confidence", "Created", "Last Seen", "Resolved", "Resolved By", "Title",
}

// BuildAlertsXLSX renders alert history as a one-sheet workbook.
func BuildAlertsXLSX(list []alerts.Alert) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "alerts"
	f.SetSheetName("Sheet1", sheet)

	for i, title := range alertColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, title)
	}
	for i, alert := range list {
		row := i + 2
		values := []any{
			alert.ID,
			alert.FingerprintKey,
			alert.AgentName,
			alert.Route,
			alert.ConditionKind,
			string(alert.Priority),
			string(alert.Status),
			alert.MetricValue,
			alert.ThresholdValue,
			alert.Confidence,
			formatTime(alert.CreatedAt),
			formatTime(alert.LastSeenAt),
			formatTime(alert.ResolvedAt),
			alert.ResolvedBy,
			alert.Title,
		}
		for col, value := range values {
			_ = f.SetCellValue(sheet, fmt.Sprintf("%s%d", columnName(col+1), row), value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func columnName(index int) string {
	name, err := excelize.ColumnNumberToName(index)
	if err != nil {
		return "A"
	}
	return name
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}
