package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/botstream/protocol"
	"github.com/BaSui01/botstream/session"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

var _ session.Recorder = (*Collector)(nil)

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.framesSent)
	assert.NotNil(t, collector.framesReceived)
	assert.NotNil(t, collector.requestsCompleted)
	assert.NotNil(t, collector.requestsHandled)
	assert.NotNil(t, collector.activeBodies)
	assert.NotNil(t, collector.disconnects)
}

func TestCollector_Frames(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.FrameSent(protocol.FrameRequest, 100)
	collector.FrameSent(protocol.FrameStream, 4118)
	collector.FrameSent(protocol.FrameStream, 30)
	collector.FrameReceived(protocol.FrameResponse, 64)
	collector.FrameReceived(protocol.FrameType('?'), protocol.HeaderLength)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.framesSent.WithLabelValues("request")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.framesSent.WithLabelValues("stream")))
	assert.Equal(t, 4148.0, testutil.ToFloat64(collector.bytesSent.WithLabelValues("stream")))
	assert.Equal(t, 64.0, testutil.ToFloat64(collector.bytesReceived.WithLabelValues("response")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.framesReceived.WithLabelValues("unknown")))
}

func TestCollector_Requests(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RequestCompleted("GET", 200, 10*time.Millisecond)
	collector.RequestCompleted("GET", 404, 5*time.Millisecond)
	collector.RequestHandled("POST", 500, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.requestsCompleted.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.requestsCompleted.WithLabelValues("GET", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.requestsHandled.WithLabelValues("POST", "500")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.requestDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.handlerDuration))
}

func TestCollector_ConnectionState(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.ActiveBodies(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.activeBodies))
	collector.ActiveBodies(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.activeBodies))

	collector.Disconnected("local")
	collector.Disconnected("protocol_violation")
	collector.Disconnected("protocol_violation")
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.disconnects.WithLabelValues("protocol_violation")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.disconnects))
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/health", 200, 100*time.Millisecond)
	collector.RecordHTTPRequest("GET", "/health", 204, 50*time.Millisecond)
	collector.RecordHTTPRequest("GET", "/api/messages", 101, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/api/messages", "unknown")))
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{
		200: "2xx", 302: "3xx", 404: "4xx", 503: "5xx", 101: "unknown",
	}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code), "code %d", code)
	}
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.FrameSent(protocol.FrameStream, 10)
			collector.RequestHandled("GET", 200, time.Millisecond)
			collector.ActiveBodies(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.framesSent.WithLabelValues("stream")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.requestsHandled.WithLabelValues("GET", "200")))
}

func TestCollector_MetricsRegistration(t *testing.T) {
	namespace := nextTestNamespace()
	collector := NewCollector(namespace, zap.NewNop())
	collector.FrameSent(protocol.FrameCancelAll, protocol.HeaderLength)

	// promauto 注册到默认 registry
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() == namespace+"_frames_sent_total" {
			found = true
		}
	}
	assert.True(t, found)
}
