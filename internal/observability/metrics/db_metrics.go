package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var openPriorities = []string{"critical", "high", "medium", "low"}

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	for _, priority := range openPriorities {
		priority := priority
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        metricPrefix + "open_alerts",
				Help:        "Open alerts by priority",
				ConstLabels: prometheus.Labels{"priority": priority},
			},
			func() float64 {
				return queryCount(db, logger, "SELECT COUNT(*) FROM alerts WHERE status <> 'resolved' AND priority = $1", priority)
			},
		))
	}

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "execution_records",
			Help: "Sealed execution records in the ledger",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM agent_executions")
		},
	))
}

func queryCount(db *sql.DB, logger *zap.Logger, query string, args ...any) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.Error(err))
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
