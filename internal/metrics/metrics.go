package metrics

import (
	"net/http"
	"strconv"
	"time"

	"dryer-alarm/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	PassResultSuccess  = "success"
	PassResultConflict = "conflict"
	PassResultError    = "error"
)

// Metrics 报警服务指标（nil 接收者上调用为空操作）
type Metrics struct {
	registry       *prometheus.Registry
	passes         *prometheus.CounterVec
	passDuration   prometheus.Histogram
	alertsCreated  *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	notifyFailures *prometheus.CounterVec
}

// New 创建独立 registry 并注册全部指标
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dryer_alarm_evaluation_passes_total",
			Help: "Evaluation passes by result.",
		}, []string{"result"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dryer_alarm_evaluation_duration_seconds",
			Help:    "Evaluation pass latency.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dryer_alarm_alerts_created_total",
			Help: "Alerts persisted by type and severity.",
		}, []string{"type", "severity"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dryer_alarm_alert_transitions_total",
			Help: "Lifecycle transitions by action and whether the dryer counter was decremented.",
		}, []string{"action", "decremented"}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dryer_alarm_notification_failures_total",
			Help: "Notification dispatch failures by channel.",
		}, []string{"channel"}),
	}

	registry.MustRegister(
		m.passes,
		m.passDuration,
		m.alertsCreated,
		m.transitions,
		m.notifyFailures,
	)
	return m
}

// ClassifyPassResult 按错误类型归类评估结果
func ClassifyPassResult(err error) string {
	switch {
	case err == nil:
		return PassResultSuccess
	case models.IsConflict(err):
		return PassResultConflict
	default:
		return PassResultError
	}
}

func (m *Metrics) ObservePass(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(ClassifyPassResult(err)).Inc()
	m.passDuration.Observe(d.Seconds())
}

func (m *Metrics) AlertCreated(alertType models.AlertType, severity models.AlertSeverity) {
	if m == nil {
		return
	}
	m.alertsCreated.WithLabelValues(string(alertType), string(severity)).Inc()
}

func (m *Metrics) Transition(action string, decremented bool) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, strconv.FormatBool(decremented)).Inc()
}

func (m *Metrics) NotificationFailed(channel string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(channel).Inc()
}

// Registry 指标 registry（测试及嵌入其他 HTTP 服务时使用）
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
