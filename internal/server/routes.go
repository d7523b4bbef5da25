package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/botstream/internal/ctxkeys"
	"github.com/BaSui01/botstream/transport"
)

// 管理端固定路由
const (
	HealthPath  = "/health"
	MetricsPath = "/metrics"
)

// HealthStatus /health 的响应体
type HealthStatus struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	Connections int    `json:"connections"`
}

// ServeFunc 接管一条已升级的传输，阻塞到连接结束
type ServeFunc func(ctx context.Context, t transport.Transport)

// Routes 描述管理端挂载的端点
type Routes struct {
	// Health 返回当前健康状态；nil 时只报告 ok
	Health func() HealthStatus
	// StreamPath WebSocket 端点路径，为空则不挂载
	StreamPath string
	// Serve 处理升级后的连接
	Serve ServeFunc
	// WebSocket 升级选项
	WebSocket transport.WebSocketOptions
	// Recorder 记录 HTTP 指标，可为 nil
	Recorder HTTPRecorder
}

// NewHandler 组装管理端 handler：/health、/metrics 与可选的 WebSocket 端点
func NewHandler(routes Routes, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+HealthPath, func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{Status: "ok"}
		if routes.Health != nil {
			status = routes.Health()
		}
		w.Header().Set("Content-Type", "application/json")
		if status.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})

	mux.Handle("GET "+MetricsPath, promhttp.Handler())

	known := []string{HealthPath, MetricsPath}
	if routes.StreamPath != "" && routes.Serve != nil {
		mux.Handle("GET "+routes.StreamPath, StreamEndpoint(routes.Serve, routes.WebSocket, logger))
		known = append(known, routes.StreamPath)
	}

	middlewares := []Middleware{Recovery(logger), OTelTracing(), RequestLogger(logger)}
	if routes.Recorder != nil {
		middlewares = append(middlewares, Metrics(routes.Recorder, known...))
	}
	return Chain(mux, middlewares...)
}

// StreamEndpoint 将 HTTP 请求升级为 WebSocket 并交给 serve。
// 升级前清除服务器的读写截止时间，长连接不受 ReadTimeout/WriteTimeout 约束。
func StreamEndpoint(serve ServeFunc, opts transport.WebSocketOptions, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		t, err := transport.AcceptWebSocket(w, r, opts, logger)
		if err != nil {
			// Accept 已写回错误响应
			logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
			return
		}

		ctx := ctxkeys.WithRemoteAddr(r.Context(), r.RemoteAddr)
		serve(ctx, t)
	})
}
