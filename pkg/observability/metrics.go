package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsClient records metrics via client_golang and exposes
// them through the process-wide default registerer.
type PrometheusMetricsClient struct {
	namespace string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewMetricsClient builds a Prometheus-backed MetricsClient.
func NewMetricsClient(namespace string) MetricsClient {
	return &PrometheusMetricsClient{
		namespace:  namespace,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (m *PrometheusMetricsClient) counterFor(name string, labels map[string]string) *prometheus.CounterVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      name,
		}, labelNames(labels))
		_ = prometheus.Register(c)
		m.counters[name] = c
	}
	return c
}

func (m *PrometheusMetricsClient) gaugeFor(name string, labels map[string]string) *prometheus.GaugeVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      name,
		}, labelNames(labels))
		_ = prometheus.Register(g)
		m.gauges[name] = g
	}
	return g
}

func (m *PrometheusMetricsClient) histogramFor(name string, labels map[string]string) *prometheus.HistogramVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      name,
			Buckets:   prometheus.DefBuckets,
		}, labelNames(labels))
		_ = prometheus.Register(h)
		m.histograms[name] = h
	}
	return h
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func (m *PrometheusMetricsClient) IncrementCounter(name string, value float64) {
	m.IncrementCounterWithLabels(name, value, nil)
}

func (m *PrometheusMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	m.counterFor(name, labels).With(labels).Add(value)
}

func (m *PrometheusMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	m.gaugeFor(name, labels).With(labels).Set(value)
}

func (m *PrometheusMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	m.histogramFor(name, labels).With(labels).Observe(value)
}

func (m *PrometheusMetricsClient) RecordLatency(operation string, duration time.Duration) {
	m.RecordHistogram("operation_latency_seconds", duration.Seconds(), map[string]string{"operation": operation})
}

func (m *PrometheusMetricsClient) StartTimer(name string, labels map[string]string) func() {
	start := time.Now()
	return func() {
		m.RecordHistogram(name, time.Since(start).Seconds(), labels)
	}
}

func (m *PrometheusMetricsClient) Close() error { return nil }

// NoopMetricsClient discards every metric. Used in tests.
type NoopMetricsClient struct{}

func NewNoopMetricsClient() MetricsClient { return &NoopMetricsClient{} }

func (NoopMetricsClient) IncrementCounter(string, float64)                        {}
func (NoopMetricsClient) IncrementCounterWithLabels(string, float64, map[string]string) {}
func (NoopMetricsClient) RecordGauge(string, float64, map[string]string)          {}
func (NoopMetricsClient) RecordHistogram(string, float64, map[string]string)      {}
func (NoopMetricsClient) RecordLatency(string, time.Duration)                     {}
func (NoopMetricsClient) StartTimer(string, map[string]string) func()            { return func() {} }
func (NoopMetricsClient) Close() error                                           { return nil }
