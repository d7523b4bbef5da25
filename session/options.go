package session

import (
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/botstream/protocol"
)

const tracerName = "github.com/BaSui01/botstream/session"

// 默认值
const (
	DefaultMaxConcurrentRequests = 16
	DefaultMaxDescriptorSize     = 1 << 20
	DefaultShutdownTimeout       = 5 * time.Second
)

type options struct {
	logger                *zap.Logger
	recorder              Recorder
	tracer                trace.Tracer
	nextID                func() uuid.UUID
	onDisconnected        func(reason string)
	maxPayload            int
	maxDescriptorSize     int
	maxConcurrentRequests int
	sendLimit             rate.Limit
	sendBurst             int
}

func defaultOptions() options {
	return options{
		logger:                zap.NewNop(),
		recorder:              nopRecorder{},
		tracer:                otel.Tracer(tracerName),
		nextID:                uuid.New,
		maxPayload:            protocol.MaxPayloadLength,
		maxDescriptorSize:     DefaultMaxDescriptorSize,
		maxConcurrentRequests: DefaultMaxConcurrentRequests,
		sendLimit:             rate.Inf,
	}
}

// Option 配置 Connection
type Option func(*options)

// WithLogger sets the logger; nil keeps the no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithTracerProvider 使用指定的 TracerProvider 而非全局 provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithIDGenerator 设置本连接的消息/body id 生成器
func WithIDGenerator(next func() uuid.UUID) Option {
	return func(o *options) {
		if next != nil {
			o.nextID = next
		}
	}
}

// WithOnDisconnected 注册断开回调，每次拆除恰好调用一次
func WithOnDisconnected(fn func(reason string)) Option {
	return func(o *options) {
		o.onDisconnected = fn
	}
}

// WithMaxPayload 设置发送侧单帧负载上限（不超过 protocol.MaxPayloadLength）
func WithMaxPayload(n int) Option {
	return func(o *options) {
		if n > 0 && n <= protocol.MaxPayloadLength {
			o.maxPayload = n
		}
	}
}

// WithMaxDescriptorSize 限制跨帧累积的描述符大小
func WithMaxDescriptorSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxDescriptorSize = n
		}
	}
}

// WithMaxConcurrentRequests 限制并发执行的入站请求处理数
func WithMaxConcurrentRequests(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentRequests = n
		}
	}
}

// WithSendRateLimit 限制发送字节速率；bytesPerSecond <= 0 表示不限速
func WithSendRateLimit(bytesPerSecond float64, burst int) Option {
	return func(o *options) {
		if bytesPerSecond <= 0 {
			o.sendLimit = rate.Inf
			return
		}
		o.sendLimit = rate.Limit(bytesPerSecond)
		o.sendBurst = max(burst, protocol.HeaderLength+protocol.MaxPayloadLength)
	}
}
