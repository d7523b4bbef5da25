// =============================================================================
// 📦 botstream 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/botstream/protocol"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Connection: DefaultConnectionConfig(),
		WebSocket:  DefaultWebSocketConfig(),
		Server:     DefaultServerConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultConnectionConfig 返回默认连接配置
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Transport:             TransportPipe,
		PipeName:              "bot",
		Address:               "127.0.0.1:3978",
		ConnectTimeout:        10 * time.Second,
		MaxPayload:            protocol.MaxPayloadLength,
		MaxDescriptorSize:     1 << 20,
		MaxConcurrentRequests: 16,
		SendRateLimit:         0,
		SendBurst:             64 * 1024,
		ShutdownTimeout:       5 * time.Second,
	}
}

// DefaultWebSocketConfig 返回默认 WebSocket 配置
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Path:      "/api/messages",
		ReadLimit: 1 << 20,
	}
}

// DefaultServerConfig 返回默认管理端服务配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "botstream",
		SampleRate:   0.1,
	}
}
