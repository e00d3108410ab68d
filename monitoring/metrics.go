// Package monitoring 提供指标与实时推送
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "cyclescreen"

// Metrics 问卷评估相关的 Prometheus 指标。nil 接收者上的方法都是空操作。
type Metrics struct {
	registry *prometheus.Registry

	AssessmentsTotal   *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	Probability        *prometheus.HistogramVec
	AssessDuration     prometheus.Histogram
	ModelReloads       *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	RecordFailures     prometheus.Counter
	WebsocketClients   prometheus.Gauge
}

// NewMetrics 在独立的 registry 上创建全部指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AssessmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "assessments_total",
			Help:      "Completed assessments by policy variant and recommendation category",
		}, []string{"variant", "category"}),
		ValidationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "validation_failures_total",
			Help:      "Rejected answers by condition and reason",
		}, []string{"condition", "reason"}),
		Probability: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "positive_probability",
			Help:      "Positive-class probability returned by each condition classifier",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}, []string{"condition"}),
		AssessDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "assess_duration_seconds",
			Help:      "Time spent validating, scoring and deciding one assessment",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		ModelReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "model_reloads_total",
			Help:      "Artifact reload attempts by status",
		}, []string{"status"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "score_cache_lookups_total",
			Help:      "Classifier result cache lookups by result",
		}, []string{"result"}),
		RecordFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "history_record_failures_total",
			Help:      "Assessments that could not be written to the history store",
		}),
		WebsocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_clients",
			Help:      "Connected live feed clients",
		}),
	}
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAssessment(variant, category string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AssessmentsTotal.WithLabelValues(variant, category).Inc()
	m.AssessDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveProbability(condition string, p float64) {
	if m == nil {
		return
	}
	m.Probability.WithLabelValues(condition).Observe(p)
}

func (m *Metrics) ObserveValidationFailure(condition, reason string) {
	if m == nil {
		return
	}
	m.ValidationFailures.WithLabelValues(condition, reason).Inc()
}

func (m *Metrics) ObserveReload(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.ModelReloads.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRecordFailure() {
	if m == nil {
		return
	}
	m.RecordFailures.Inc()
}

func (m *Metrics) setClients(n int) {
	if m == nil {
		return
	}
	m.WebsocketClients.Set(float64(n))
}
