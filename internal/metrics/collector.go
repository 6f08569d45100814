package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/callflow/persistence"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。
// 同时实现 orchestrator.Recorder、provider.Observer 与 persistence.Observer。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 会话指标
	sessionsActive        prometheus.Gauge
	sessionsStartedTotal  prometheus.Counter
	sessionsEndedTotal    *prometheus.CounterVec
	sessionDuration       prometheus.Histogram
	stateTransitionsTotal *prometheus.CounterVec

	// 轮次指标
	turnsTotal             *prometheus.CounterVec
	turnLatency            *prometheus.HistogramVec
	reasoningTimeoutsTotal prometheus.Counter
	bufferDropsTotal       *prometheus.CounterVec

	// Provider 指标
	providerOutcomesTotal *prometheus.CounterVec
	providerHealth        *prometheus.GaugeVec

	// 持久化指标
	persistenceEventsTotal  *prometheus.CounterVec
	persistenceWriteLatency *prometheus.HistogramVec
	persistenceDropsTotal   *prometheus.CounterVec
	persistenceSpoolDepth   prometheus.Gauge

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，指标注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 创建指标收集器并注册到指定 Registry
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 会话指标
	c.sessionsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live call sessions",
		},
	)

	c.sessionsStartedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of call sessions created",
		},
	)

	c.sessionsEndedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of call sessions ended",
		},
		[]string{"reason"},
	)

	c.sessionDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Call session duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	c.stateTransitionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_state_transitions_total",
			Help:      "Total number of session state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	// 轮次指标
	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of finished turns by final state",
		},
		[]string{"state"},
	)

	c.turnLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_seconds",
			Help:      "Time from end of caller speech to end of response",
			Buckets:   []float64{0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10},
		},
		[]string{"state"},
	)

	c.reasoningTimeoutsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_timeouts_total",
			Help:      "Total number of agent calls that hit the reasoning deadline",
		},
	)

	c.bufferDropsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_dropped_frames_total",
			Help:      "Total number of audio frames dropped by turn buffers",
		},
		[]string{"buffer", "reason"},
	)

	// Provider 指标
	c.providerOutcomesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_outcomes_total",
			Help:      "Total number of provider call outcomes",
		},
		[]string{"capability", "provider", "outcome"},
	)

	c.providerHealth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_health",
			Help:      "Provider health (0 healthy, 1 degraded, 2 unhealthy)",
		},
		[]string{"capability", "provider"},
	)

	// 持久化指标
	c.persistenceEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_events_total",
			Help:      "Total number of persistence write attempts",
		},
		[]string{"sink", "type", "status"},
	)

	c.persistenceWriteLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persistence_write_duration_seconds",
			Help:      "Persistence write duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	c.persistenceDropsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_dropped_total",
			Help:      "Total number of events dropped before reaching a sink",
		},
		[]string{"reason"},
	)

	c.persistenceSpoolDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persistence_spool_depth",
			Help:      "Number of events waiting in the persistence spool",
		},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 📞 会话与轮次（orchestrator.Recorder）
// =============================================================================

// SessionStarted 记录会话创建
func (c *Collector) SessionStarted() {
	c.sessionsStartedTotal.Inc()
	c.sessionsActive.Inc()
}

// SessionEnded 记录会话结束
func (c *Collector) SessionEnded(reason string, duration time.Duration) {
	c.sessionsEndedTotal.WithLabelValues(reason).Inc()
	c.sessionDuration.Observe(duration.Seconds())
	c.sessionsActive.Dec()
}

// TurnFinished 记录轮次终态与延迟
func (c *Collector) TurnFinished(state string, latency time.Duration) {
	c.turnsTotal.WithLabelValues(state).Inc()
	c.turnLatency.WithLabelValues(state).Observe(latency.Seconds())
}

// StateTransition 记录会话状态转换
func (c *Collector) StateTransition(from, to string) {
	c.stateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// BufferDropped 记录缓冲区丢帧
func (c *Collector) BufferDropped(buffer, reason string, n int) {
	if n <= 0 {
		return
	}
	c.bufferDropsTotal.WithLabelValues(buffer, reason).Add(float64(n))
}

// ReasoningTimeout 记录推理超时
func (c *Collector) ReasoningTimeout() {
	c.reasoningTimeoutsTotal.Inc()
}

// =============================================================================
// 🔌 Provider（provider.Observer）
// =============================================================================

// ObserveProviderOutcome 记录一次 provider 调用结果
func (c *Collector) ObserveProviderOutcome(capability, provider, outcome string) {
	c.providerOutcomesTotal.WithLabelValues(capability, provider, outcome).Inc()
}

// SetProviderHealth 更新 provider 健康度
func (c *Collector) SetProviderHealth(capability, provider string, health int) {
	c.providerHealth.WithLabelValues(capability, provider).Set(float64(health))
}

// =============================================================================
// 💾 持久化（persistence.Observer）
// =============================================================================

// EventDelivered 记录事件写入成功
func (c *Collector) EventDelivered(sink string, typ persistence.EventType, d time.Duration) {
	c.persistenceEventsTotal.WithLabelValues(sink, string(typ), "success").Inc()
	c.persistenceWriteLatency.WithLabelValues(sink).Observe(d.Seconds())
}

// EventFailed 记录事件写入失败
func (c *Collector) EventFailed(sink string, typ persistence.EventType) {
	c.persistenceEventsTotal.WithLabelValues(sink, string(typ), "error").Inc()
}

// EventDropped 记录事件丢弃
func (c *Collector) EventDropped(reason string) {
	c.persistenceDropsTotal.WithLabelValues(reason).Inc()
}

// SpoolDepth 更新暂存区深度
func (c *Collector) SpoolDepth(n int) {
	c.persistenceSpoolDepth.Set(float64(n))
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
