package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/david325345/animetoday-docker/models"
)

const namespace = "animetoday"

// Metrics holds every collector the service exports. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	resolutions        *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec
	resolutionCacheHit prometheus.Counter
	indexQueries       *prometheus.CounterVec
	searchResults      prometheus.Histogram
	scheduleRefreshes  *prometheus.CounterVec
	scheduleEntries    prometheus.Gauge
	streamResponses    *prometheus.CounterVec
}

// New creates the collectors and registers them, together with Go and process
// collectors, on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "debrid",
			Name:      "resolutions_total",
			Help:      "Debrid resolution attempts by provider, outcome and final state",
		}, []string{"provider", "status", "state"}),
		resolutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "debrid",
			Name:      "resolution_duration_seconds",
			Help:      "Wall-clock duration of debrid resolution attempts",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 45},
		}, []string{"status"}),
		resolutionCacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "debrid",
			Name:      "resolution_cache_hits_total",
			Help:      "Resolutions answered from the resolution cache",
		}),
		indexQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "index_queries_total",
			Help:      "Torrent index queries by index and result",
		}, []string{"index", "result"}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "candidates",
			Help:      "Unique candidates returned per aggregated search",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200},
		}),
		scheduleRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "refreshes_total",
			Help:      "Schedule refreshes by trigger and result",
		}, []string{"trigger", "result"}),
		scheduleEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "entries",
			Help:      "Airing entries in the current schedule snapshot",
		}),
		streamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "addon",
			Name:      "stream_responses_total",
			Help:      "Stream listings by kind of response",
		}, []string{"kind"}),
	}

	registry.MustRegister(
		m.resolutions,
		m.resolutionDuration,
		m.resolutionCacheHit,
		m.indexQueries,
		m.searchResults,
		m.scheduleRefreshes,
		m.scheduleEntries,
		m.streamResponses,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveResolution(provider string, outcome models.Outcome, took time.Duration) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(provider, string(outcome.Status), string(outcome.State)).Inc()
	m.resolutionDuration.WithLabelValues(string(outcome.Status)).Observe(took.Seconds())
}

func (m *Metrics) ResolutionCacheHit() {
	if m == nil {
		return
	}
	m.resolutionCacheHit.Inc()
}

func (m *Metrics) IndexQuery(index string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.indexQueries.WithLabelValues(index, result).Inc()
}

func (m *Metrics) SearchCandidates(n int) {
	if m == nil {
		return
	}
	m.searchResults.Observe(float64(n))
}

func (m *Metrics) ScheduleRefresh(trigger string, entries int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.scheduleRefreshes.WithLabelValues(trigger, "error").Inc()
		return
	}
	m.scheduleRefreshes.WithLabelValues(trigger, "ok").Inc()
	m.scheduleEntries.Set(float64(entries))
}

func (m *Metrics) StreamResponse(kind string) {
	if m == nil {
		return
	}
	m.streamResponses.WithLabelValues(kind).Inc()
}
