package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "conveyor"

// Metrics — Prometheus метрики движка и HTTP слоя.
//
// Все методы безопасны для nil-получателя: компонент без метрик
// просто ничего не записывает.
type Metrics struct {
	gatherer prometheus.Gatherer

	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	schemaCache   *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	notifications *prometheus.CounterVec
}

// NewMetrics создаёт и регистрирует метрики в reg.
// Если reg == nil, используется новый изолированный реестр.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of workflow runs by final status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_executions_total",
			Help:      "Total number of step attempts by type and outcome",
		}, []string{"type", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step attempt duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"type"}),
		schemaCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_cache_lookups_total",
			Help:      "Schema handle cache lookups by result",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Delivered notifications by type and outcome",
		}, []string{"type", "outcome"}),
	}

	reg.MustRegister(
		m.runsTotal, m.runDuration,
		m.stepsTotal, m.stepDuration,
		m.schemaCache,
		m.httpRequests, m.httpDuration,
		m.notifications,
	)
	return m
}

// Handler возвращает http.Handler для /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Gatherer возвращает реестр метрик.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// ObserveRun записывает завершённый run.
func (m *Metrics) ObserveRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveStep записывает одну попытку шага.
func (m *Metrics) ObserveStep(stepType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(stepType, outcome).Inc()
	m.stepDuration.WithLabelValues(stepType).Observe(d.Seconds())
}

// SchemaCacheHit отмечает попадание в кэш схем.
func (m *Metrics) SchemaCacheHit() {
	if m == nil {
		return
	}
	m.schemaCache.WithLabelValues("hit").Inc()
}

// SchemaCacheMiss отмечает построение новой схемы.
func (m *Metrics) SchemaCacheMiss() {
	if m == nil {
		return
	}
	m.schemaCache.WithLabelValues("miss").Inc()
}

// ObserveHTTP записывает обработанный HTTP запрос.
func (m *Metrics) ObserveHTTP(method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, status).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveNotification записывает доставку уведомления.
func (m *Metrics) ObserveNotification(notificationType, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(notificationType, outcome).Inc()
}
