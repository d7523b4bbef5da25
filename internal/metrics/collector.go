// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/botstream/protocol"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，实现 session.Recorder
type Collector struct {
	// 帧指标
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	bytesSent      *prometheus.CounterVec
	bytesReceived  *prometheus.CounterVec

	// 请求指标
	requestsCompleted *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	requestsHandled   *prometheus.CounterVec
	handlerDuration   *prometheus.HistogramVec

	// 连接指标
	activeBodies prometheus.Gauge
	disconnects  *prometheus.CounterVec

	// HTTP 指标（管理端）
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 帧指标
	c.framesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frames written to the transport",
		},
		[]string{"type"},
	)

	c.framesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of frames read from the transport",
		},
		[]string{"type"},
	)

	c.bytesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes written including frame headers",
		},
		[]string{"type"},
	)

	c.bytesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes read including frame headers",
		},
		[]string{"type"},
	)

	// 请求指标
	c.requestsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_completed_total",
			Help:      "Outbound requests that received a response",
		},
		[]string{"verb", "status"},
	)

	c.requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Outbound request round-trip time in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"verb"},
	)

	c.requestsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_handled_total",
			Help:      "Inbound requests answered by the local handler",
		},
		[]string{"verb", "status"},
	)

	c.handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Inbound request handling time in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"verb"},
	)

	// 连接指标
	c.activeBodies = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_bodies",
			Help:      "Inbound bodies still being assembled, as last reported",
		},
	)

	c.disconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Connection teardowns by cause",
		},
		[]string{"cause"},
	)

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🔌 连接指标记录
// =============================================================================

// FrameSent 记录一帧发送
func (c *Collector) FrameSent(frameType protocol.FrameType, bytes int) {
	label := frameLabel(frameType)
	c.framesSent.WithLabelValues(label).Inc()
	c.bytesSent.WithLabelValues(label).Add(float64(bytes))
}

// FrameReceived 记录一帧接收
func (c *Collector) FrameReceived(frameType protocol.FrameType, bytes int) {
	label := frameLabel(frameType)
	c.framesReceived.WithLabelValues(label).Inc()
	c.bytesReceived.WithLabelValues(label).Add(float64(bytes))
}

// RequestCompleted 记录出站请求收到响应
func (c *Collector) RequestCompleted(verb string, status int, duration time.Duration) {
	c.requestsCompleted.WithLabelValues(verb, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

// RequestHandled 记录入站请求处理完毕
func (c *Collector) RequestHandled(verb string, status int, duration time.Duration) {
	c.requestsHandled.WithLabelValues(verb, strconv.Itoa(status)).Inc()
	c.handlerDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

// ActiveBodies 记录正在组装的入站 body 数
func (c *Collector) ActiveBodies(n int) {
	c.activeBodies.Set(float64(n))
}

// Disconnected 记录一次连接拆除
func (c *Collector) Disconnected(cause string) {
	c.disconnects.WithLabelValues(cause).Inc()
	c.logger.Debug("disconnect recorded", zap.String("cause", cause))
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func frameLabel(t protocol.FrameType) string {
	if !t.Valid() {
		return "unknown"
	}
	return t.String()
}

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
