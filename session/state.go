package session

// State 连接状态
type State int32

const (
	// StateDisconnected 初始状态，或连接因故障断开后的状态（可重新 Connect）
	StateDisconnected State = iota
	// StateConnecting 正在建立传输
	StateConnecting
	// StateConnected 唯一允许收发的状态
	StateConnected
	// StateClosed 调用 Disconnect 后的终态
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
