// Package metrics exposes Prometheus metrics for the completion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidbz/promptlift/internal/domain"
)

// Config contains metrics settings.
type Config struct {
	Enabled   bool   `env:"METRICS_ENABLED"   envDefault:"true"`
	Namespace string `env:"METRICS_NAMESPACE" envDefault:"promptlift"`
	Path      string `env:"METRICS_PATH"      envDefault:"/metrics"`
}

// Optimized for LLM latencies (50ms - 60s).
//
//nolint:gochecknoglobals // immutable bucket layout
var durationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

// Collector records pipeline metrics on a private registry.
//
// Metrics:
//   - requests_total: requests by mode, model and status code
//   - request_duration_seconds: handler latency by mode
//   - upstream_calls_total / upstream_duration_seconds: per stage and outcome
//   - stream_chunks_total: frames relayed to callers
//   - stream_aborted_total: streams terminated abnormally, by reason
//   - expansion_fallbacks_total: fail-open expansions
//   - expansion_cache_lookups_total: cache lookups by result
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	upstreamTotal    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	streamChunks     prometheus.Counter
	streamAborted    *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
}

// NewCollector creates and registers the metrics (DI constructor).
func NewCollector(cfg *Config) *Collector {
	namespace := "promptlift"
	if cfg != nil && cfg.Namespace != "" {
		namespace = cfg.Namespace
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of chat completion requests",
			},
			[]string{"mode", "model", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of chat completion requests in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"mode"},
		),

		upstreamTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_calls_total",
				Help:      "Total number of backend calls by pipeline stage",
			},
			[]string{"stage", "model", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Duration of backend calls in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"stage"},
		),

		streamChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Total number of stream frames relayed",
		}),

		streamAborted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_aborted_total",
				Help:      "Streams terminated before the sentinel",
			},
			[]string{"reason"},
		),

		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expansion_fallbacks_total",
				Help:      "Expansion failures answered with the original content",
			},
			[]string{"model"},
		),

		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expansion_cache_lookups_total",
				Help:      "Expansion cache lookups by result",
			},
			[]string{"result"},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requestsTotal,
		c.requestDuration,
		c.upstreamTotal,
		c.upstreamDuration,
		c.streamChunks,
		c.streamAborted,
		c.fallbacks,
		c.cacheLookups,
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// RecordRequest records a finished request.
func (c *Collector) RecordRequest(mode, model string, status int, elapsed time.Duration) {
	c.requestsTotal.WithLabelValues(mode, model, statusLabel(status)).Inc()
	c.requestDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// RecordStream records the frames relayed by one stream.
func (c *Collector) RecordStream(frames int, abortReason string) {
	c.streamChunks.Add(float64(frames))
	if abortReason != "" {
		c.streamAborted.WithLabelValues(abortReason).Inc()
	}
}

// ObserveUpstream implements domain.Recorder.
func (c *Collector) ObserveUpstream(stage domain.Stage, model string, outcome string, elapsed time.Duration) {
	c.upstreamTotal.WithLabelValues(string(stage), model, outcome).Inc()
	c.upstreamDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

// RecordExpansionFallback implements domain.Recorder.
func (c *Collector) RecordExpansionFallback(model string) {
	c.fallbacks.WithLabelValues(model).Inc()
}

// RecordExpansionCache implements domain.Recorder.
func (c *Collector) RecordExpansionCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 200 && status < 300:
		return "2xx"
	default:
		return "other"
	}
}
