package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agents "routewatch/internal/agents/domain"
)

func TestMetricSourceKeepsLatestPerKey(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	source := NewMetricSource(
		agents.Metric{Route: "LGW-BCN", Category: "pricing", Name: "competitor_fare", Value: 99, ObservedAt: t0},
		agents.Metric{Route: "LGW-BCN", Category: "pricing", Name: "competitor_fare", Value: 89.5, ObservedAt: t0.Add(time.Hour)},
		agents.Metric{Route: "LGW-BCN", Category: "pricing", Name: "competitor_fare", Value: 120, ObservedAt: t0.Add(-time.Hour)},
		agents.Metric{Route: "LHR-JFK", Category: "performance", Name: "load_factor", Value: 0.7, ObservedAt: t0},
	)

	snap, err := source.GetSnapshot(context.Background(), "pricing")
	require.NoError(t, err)
	require.Len(t, snap.Metrics, 1)
	assert.Equal(t, 89.5, snap.Metrics[0].Value)

	all, err := source.GetSnapshot(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all.Metrics, 2)

	source.Remove("pricing", "LGW-BCN")
	snap, err = source.GetSnapshot(context.Background(), "pricing")
	require.NoError(t, err)
	assert.Empty(t, snap.Metrics)
}

func TestMetricSourceFailure(t *testing.T) {
	source := NewMetricSource()
	source.FailWith(errors.New("connection refused"))
	_, err := source.GetSnapshot(context.Background(), "")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	source.FailWith(nil)
	_, err = source.GetSnapshot(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMetricSourceRecord(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	source := NewMetricSource()
	require.NoError(t, source.Record(context.Background(),
		agents.Metric{Route: "LGW-BCN", Category: "pricing", Name: "our_fare", Value: 110, ObservedAt: t0},
	))
	require.NoError(t, source.Record(context.Background(),
		agents.Metric{Route: "LGW-BCN", Category: "pricing", Name: "our_fare", Value: 140, ObservedAt: t0.Add(-time.Minute)},
	))

	snap, err := source.GetSnapshot(context.Background(), "pricing")
	require.NoError(t, err)
	require.Len(t, snap.Metrics, 1)
	assert.Equal(t, 110.0, snap.Metrics[0].Value)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, source.Record(ctx), context.Canceled)
}
