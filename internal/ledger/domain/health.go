package ledger

import "time"

// HealthReport summarises an agent's recent executions.
type HealthReport struct {
	AgentName     string        `json:"agent_name"`
	Window        time.Duration `json:"window"`
	Runs          int           `json:"runs"`
	Successes     int           `json:"successes"`
	Failures      int           `json:"failures"`
	Timeouts      int           `json:"timeouts"`
	SuccessRate   float64       `json:"success_rate"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AlertsEmitted int           `json:"alerts_emitted"`
	LastOutcome   Outcome       `json:"last_outcome,omitempty"`
	LastRunAt     time.Time     `json:"last_run_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
}

// Summarize folds sealed records, oldest first, into a report.
func Summarize(agentName string, window time.Duration, records []ExecutionRecord) HealthReport {
	report := HealthReport{AgentName: agentName, Window: window}
	var total time.Duration
	for _, record := range records {
		if !record.Sealed() {
			continue
		}
		report.Runs++
		switch record.Outcome {
		case OutcomeSuccess:
			report.Successes++
		case OutcomeFailure:
			report.Failures++
		case OutcomeTimeout:
			report.Timeouts++
		}
		report.AlertsEmitted += record.AlertsEmitted
		total += record.Duration()
		report.LastOutcome = record.Outcome
		report.LastRunAt = record.StartedAt
		if record.ErrorDetail != "" {
			report.LastError = record.ErrorDetail
		}
	}
	if report.Runs > 0 {
		report.SuccessRate = float64(report.Successes) / float64(report.Runs)
		report.AvgDuration = total / time.Duration(report.Runs)
	}
	return report
}
