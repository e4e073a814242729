package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures connection lifecycle events emitted by the resolver.
//
// Hooks run inline with connection creation and teardown, so implementations
// must be cheap and safe for concurrent use.
type Collector interface {
	IncOpened(channel string)
	IncClosed(channel string)
	IncFailed(channel string)
	SetLive(count int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncOpened(string) {}
func (noopCollector) IncClosed(string) {}
func (noopCollector) IncFailed(string) {}
func (noopCollector) SetLive(int)      {}

// PrometheusCollector exposes connection counters via Prometheus.
type PrometheusCollector struct {
	opened *prometheus.CounterVec
	closed *prometheus.CounterVec
	failed *prometheus.CounterVec
	live   prometheus.Gauge
}

// NewPrometheusCollector registers the connection metrics with reg. Metrics
// already registered by an earlier collector are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	opened, err := registerCounter(reg, "dedicated_connections_opened_total",
		"Number of dedicated connections created per channel.")
	if err != nil {
		return nil, err
	}
	closed, err := registerCounter(reg, "dedicated_connections_closed_total",
		"Number of dedicated connections closed per channel.")
	if err != nil {
		return nil, err
	}
	failed, err := registerCounter(reg, "dedicated_connections_failed_total",
		"Number of failed dedicated connection attempts per channel.")
	if err != nil {
		return nil, err
	}

	var live prometheus.Gauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dedicated_connections_live",
		Help: "Number of dedicated connections currently held by the resolver.",
	})
	if err := reg.Register(live); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(prometheus.Gauge)
		if !ok {
			return nil, err
		}
		live = existing
	}

	return &PrometheusCollector{
		opened: opened,
		closed: closed,
		failed: failed,
		live:   live,
	}, nil
}

func registerCounter(reg prometheus.Registerer, name, help string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: help,
	}, []string{"channel"})
	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		return existing, nil
	}
	return counter, nil
}

// IncOpened records a created connection for channel.
func (p *PrometheusCollector) IncOpened(channel string) {
	if p == nil || p.opened == nil {
		return
	}
	p.opened.WithLabelValues(channel).Inc()
}

// IncClosed records a closed connection for channel.
func (p *PrometheusCollector) IncClosed(channel string) {
	if p == nil || p.closed == nil {
		return
	}
	p.closed.WithLabelValues(channel).Inc()
}

// IncFailed records a failed connection attempt for channel.
func (p *PrometheusCollector) IncFailed(channel string) {
	if p == nil || p.failed == nil {
		return
	}
	p.failed.WithLabelValues(channel).Inc()
}

// SetLive updates the gauge of connections held by the resolver.
func (p *PrometheusCollector) SetLive(count int) {
	if p == nil || p.live == nil {
		return
	}
	p.live.Set(float64(count))
}
