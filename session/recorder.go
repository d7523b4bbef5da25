package session

import (
	"time"

	"github.com/BaSui01/botstream/protocol"
)

// Recorder 接收连接层的度量事件，internal/metrics.Collector 为默认实现
type Recorder interface {
	FrameSent(frameType protocol.FrameType, bytes int)
	FrameReceived(frameType protocol.FrameType, bytes int)
	RequestCompleted(verb string, statusCode int, duration time.Duration)
	RequestHandled(verb string, statusCode int, duration time.Duration)
	ActiveBodies(n int)
	Disconnected(cause string)
}

type nopRecorder struct{}

func (nopRecorder) FrameSent(protocol.FrameType, int)           {}
func (nopRecorder) FrameReceived(protocol.FrameType, int)       {}
func (nopRecorder) RequestCompleted(string, int, time.Duration) {}
func (nopRecorder) RequestHandled(string, int, time.Duration)   {}
func (nopRecorder) ActiveBodies(int)                            {}
func (nopRecorder) Disconnected(string)                         {}
