package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, metric prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := metric.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.GetCounter().GetValue()
	case out.Gauge != nil:
		return out.GetGauge().GetValue()
	default:
		t.Fatalf("unexpected metric type")
		return 0
	}
}

func TestHelpersRecordAfterInit(t *testing.T) {
	Init(nil, nil)

	IncTickSkipped("competitive")
	IncTickSkipped("competitive")
	if got := value(t, schedulerSkipped.WithLabelValues("competitive")); got != 2 {
		t.Fatalf("expected 2 skipped ticks, got %v", got)
	}

	IncRelayDelivery("webhook", ResultError)
	if got := value(t, relayDeliveries.WithLabelValues("webhook", ResultError)); got < 1 {
		t.Fatalf("expected relay error counted, got %v", got)
	}

	SetHubSubscribers(3)
	if got := value(t, hubSubscribers); got != 3 {
		t.Fatalf("expected 3 subscribers, got %v", got)
	}

	ObserveExport("xlsx", ResultSuccess, 20*time.Millisecond)
	if got := value(t, exportTotal.WithLabelValues("xlsx", ResultSuccess)); got < 1 {
		t.Fatalf("expected export counted, got %v", got)
	}
}
