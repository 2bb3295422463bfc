package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 每个实例使用独立的注册表，测试中可以重复创建。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// SMTP 监听器指标
	SMTPSessions            prometheus.Counter
	SMTPActiveSessions      prometheus.Gauge
	SMTPProtocolErrors      *prometheus.CounterVec
	SMTPRejectedConnections prometheus.Counter

	// 入站邮件指标
	MessagesIngested    *prometheus.CounterVec
	DuplicatesTotal     prometheus.Counter
	UnknownRecipients   *prometheus.CounterVec
	WebhookDeliveries   *prometheus.CounterVec
	EmailProcessingTime *prometheus.HistogramVec

	// 外发邮件指标
	DispatchTotal    *prometheus.CounterVec
	AutoRepliesTotal *prometheus.CounterVec

	// 错误指标
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourney_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tourney_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		SMTPSessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "tourney_smtp_sessions_total",
			Help: "Total number of accepted SMTP sessions",
		}),

		SMTPActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tourney_smtp_active_sessions",
			Help: "Number of open SMTP sessions",
		}),

		SMTPProtocolErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourney_smtp_protocol_errors_total",
				Help: "SMTP commands rejected by the session state machine",
			},
			[]string{"code"},
		),

		SMTPRejectedConnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "tourney_smtp_rejected_connections_total",
			Help: "SMTP connections refused by the connection limiter",
		}),

		MessagesIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourney_messages_ingested_total",
				Help: "Inbound messages persisted, by source",
			},
			[]string{"source"},
		),

		DuplicatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tourney_messages_duplicate_total",
			Help: "Inbound messages dropped as repeated deliveries",
		}),

		UnknownRecipients: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourney_unknown_recipients_total",
				Help: "Inbound messages addressed to no known alias",
			},
			[]string{"source"},
		),

		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourney_webhook_deliveries_total",
				Help: "Inbound webhook deliveries by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),

		EmailProcessingTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tourney_email_processing_seconds",
				Help:    "Time spent ingesting one message",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),

		DispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourney_dispatch_total",
				Help: "Outbound send attempts by result",
			},
			[]string{"result"},
		),

		AutoRepliesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tourney_auto_replies_total",
				Help: "Auto-reply outcomes",
			},
			[]string{"result"},
		),

		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tourney_panics_total",
			Help: "Recovered panics",
		}),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// SessionOpened 记录 SMTP 会话开始
func (m *Metrics) SessionOpened() {
	m.SMTPSessions.Inc()
	m.SMTPActiveSessions.Inc()
}

// SessionClosed 记录 SMTP 会话结束
func (m *Metrics) SessionClosed() {
	m.SMTPActiveSessions.Dec()
}

// ProtocolError 记录被拒绝的 SMTP 命令
func (m *Metrics) ProtocolError(code int) {
	m.SMTPProtocolErrors.WithLabelValues(codeLabel(code)).Inc()
}

// ConnectionRejected 记录被限流拒绝的连接
func (m *Metrics) ConnectionRejected() {
	m.SMTPRejectedConnections.Inc()
}

// Ingested 记录一封入库邮件
func (m *Metrics) Ingested(source string, duration time.Duration) {
	m.MessagesIngested.WithLabelValues(source).Inc()
	m.EmailProcessingTime.WithLabelValues(source).Observe(duration.Seconds())
}

// Duplicate 记录重复投递
func (m *Metrics) Duplicate() {
	m.DuplicatesTotal.Inc()
}

// UnknownRecipient 记录未知收件人
func (m *Metrics) UnknownRecipient(source string) {
	m.UnknownRecipients.WithLabelValues(source).Inc()
}

// WebhookDelivery 记录一次 webhook 投递
func (m *Metrics) WebhookDelivery(provider string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.WebhookDeliveries.WithLabelValues(provider, outcome).Inc()
}

// Dispatched 记录一次外发结果
func (m *Metrics) Dispatched(result string) {
	m.DispatchTotal.WithLabelValues(result).Inc()
}

// AutoReply 记录一次自动回复结果
func (m *Metrics) AutoReply(result string) {
	m.AutoRepliesTotal.WithLabelValues(result).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func codeLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "other"
	}
}
