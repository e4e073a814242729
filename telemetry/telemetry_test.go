package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncOpened("reports")
	collector.IncClosed("reports")
	collector.IncFailed("reports")
	collector.SetLive(3)
}

func TestPrometheusCollectorRecordsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.IncOpened("reports")
	collector.IncOpened("reports")
	collector.IncClosed("reports")
	collector.IncFailed("audit")
	collector.SetLive(1)

	families := gather(t, reg)
	requireCounterValue(t, families["dedicated_connections_opened_total"], 2)
	requireCounterValue(t, families["dedicated_connections_closed_total"], 1)
	requireCounterValue(t, families["dedicated_connections_failed_total"], 1)

	live := families["dedicated_connections_live"]
	require.NotNil(t, live)
	require.Len(t, live.Metric, 1)
	require.Equal(t, float64(1), live.Metric[0].GetGauge().GetValue())
}

func TestPrometheusCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, first.opened, again.opened)

	first.IncOpened("reports")
	again.IncOpened("reports")

	families := gather(t, reg)
	requireCounterValue(t, families["dedicated_connections_opened_total"], 2)
}

func TestNilPrometheusCollectorIsSafe(t *testing.T) {
	var collector *PrometheusCollector
	collector.IncOpened("reports")
	collector.SetLive(1)
}

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	metrics, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(metrics))
	for _, mf := range metrics {
		out[mf.GetName()] = mf
	}
	return out
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.NotNil(t, mf)
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
