// Package metrics exposes Prometheus instruments for the monitor.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "goldwatch"

var streamPhases = []string{"disconnected", "connecting", "connected", "reconnecting", "stopped"}

// Metrics holds every instrument. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// 源抓取
	FetchTotal    *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	Price         *prometheus.GaugeVec

	// 告警
	AlertsTotal *prometheus.CounterVec

	// 实时行情连接
	StreamPhase     *prometheus.GaugeVec
	StreamReconnect *prometheus.CounterVec

	// 汇率
	RateResolutions *prometheus.CounterVec
	Rate            prometheus.Gauge

	TickDuration prometheus.Histogram
}

// New registers all instruments on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_fetch_total",
				Help:      "Source fetches by outcome (ok or error kind).",
			},
			[]string{"source", "outcome"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_fetch_duration_seconds",
				Help:      "Latency of a single source fetch.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"source"},
		),
		Price: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "price_local_per_gram",
				Help:      "Latest normalised price per source.",
			},
			[]string{"source"},
		),

		AlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Alerts raised by source and direction.",
			},
			[]string{"source", "direction"},
		),

		StreamPhase: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_phase",
				Help:      "1 for the current connection phase of a streaming source.",
			},
			[]string{"source", "phase"},
		),
		StreamReconnect: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_reconnects_total",
				Help:      "Reconnect attempts of a streaming source.",
			},
			[]string{"source"},
		),

		RateResolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exchange_rate_resolutions_total",
				Help:      "Exchange rate resolutions by tier.",
			},
			[]string{"tier"},
		),
		Rate: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "exchange_rate",
				Help:      "Last resolved USD to local currency rate.",
			},
		),

		TickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_duration_seconds",
				Help:      "Wall time of a refresh tick.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveFetch records one source fetch.
func (m *Metrics) ObserveFetch(sourceID, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(sourceID, outcome).Inc()
	m.FetchDuration.WithLabelValues(sourceID).Observe(elapsed.Seconds())
}

// ObservePrice records a fresh price.
func (m *Metrics) ObservePrice(sourceID string, price float64) {
	if m == nil {
		return
	}
	m.Price.WithLabelValues(sourceID).Set(price)
}

// ObserveAlert records a raised alert.
func (m *Metrics) ObserveAlert(sourceID, direction string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(sourceID, direction).Inc()
}

// ObserveTick records tick latency.
func (m *Metrics) ObserveTick(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(elapsed.Seconds())
}

// ObservePhase sets the phase gauge so exactly one phase reads 1.
func (m *Metrics) ObservePhase(sourceID, phase string) {
	if m == nil {
		return
	}
	for _, p := range streamPhases {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.StreamPhase.WithLabelValues(sourceID, p).Set(v)
	}
}

// ObserveReconnect counts a reconnect attempt.
func (m *Metrics) ObserveReconnect(sourceID string) {
	if m == nil {
		return
	}
	m.StreamReconnect.WithLabelValues(sourceID).Inc()
}

// ObserveRate records an exchange-rate resolution.
func (m *Metrics) ObserveRate(tier string, rate float64) {
	if m == nil {
		return
	}
	m.RateResolutions.WithLabelValues(tier).Inc()
	m.Rate.Set(rate)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx ends.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
