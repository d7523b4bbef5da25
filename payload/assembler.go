package payload

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/botstream/types"
)

// Identity 标识一个 body：id、内容类型与可选的声明长度
type Identity struct {
	ID          uuid.UUID
	ContentType string
	Length      *int64
}

type assemblyEntry struct {
	identity Identity
	buffer   *Buffer
	received int64
}

// Assembler 接收侧 body 表：按 id 把 Stream 帧负载写入对应 Buffer。
// 表本身由互斥锁保护，Buffer 自行同步读写。
type Assembler struct {
	mu     sync.Mutex
	active map[uuid.UUID]*assemblyEntry
	logger *zap.Logger
}

// NewAssembler creates an empty assembler.
func NewAssembler(logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		active: make(map[uuid.UUID]*assemblyEntry),
		logger: logger.With(zap.String("component", "assembler")),
	}
}

// BeginBody 注册新 body 并返回其缓冲区；id 已处于活跃状态时返回 ErrDuplicateBody
func (a *Assembler) BeginBody(id Identity) (*Buffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.active[id.ID]; exists {
		return nil, types.ErrDuplicateBody.WithMessage("body %s already registered", id.ID)
	}

	buf := NewBuffer()
	a.active[id.ID] = &assemblyEntry{identity: id, buffer: buf}
	a.logger.Debug("body registered",
		zap.String("body_id", id.ID.String()),
		zap.String("content_type", id.ContentType))
	return buf, nil
}

// AppendFrame 按到达顺序写入帧负载；final 为 true 时结束生产并移出活跃表。
// 未注册的 id 返回 ErrUnknownBody。
func (a *Assembler) AppendFrame(id uuid.UUID, p []byte, final bool) error {
	a.mu.Lock()
	entry, ok := a.active[id]
	if ok {
		entry.received += int64(len(p))
		if final {
			delete(a.active, id)
		}
	}
	a.mu.Unlock()

	if !ok {
		return types.ErrUnknownBody.WithMessage("stream frame for unregistered body %s", id)
	}

	if _, err := entry.buffer.Write(p); err != nil {
		return err
	}
	if final {
		entry.buffer.DoneProducing()
		if l := entry.identity.Length; l != nil && *l != entry.received {
			a.logger.Warn("body length mismatch",
				zap.String("body_id", id.String()),
				zap.Int64("declared", *l),
				zap.Int64("received", entry.received))
		}
		a.logger.Debug("body completed",
			zap.String("body_id", id.String()),
			zap.Int64("bytes", entry.received))
	}
	return nil
}

// CancelBody 关闭并移除 body；id 不存在时为空操作
func (a *Assembler) CancelBody(id uuid.UUID) bool {
	a.mu.Lock()
	entry, ok := a.active[id]
	delete(a.active, id)
	a.mu.Unlock()

	if ok {
		_ = entry.buffer.Close()
		a.logger.Debug("body cancelled", zap.String("body_id", id.String()))
	}
	return ok
}

// DiscardBody 关闭缓冲区但保留表项，后续帧被静默丢弃直到 end 帧到达。
// 用于无人接收的 body（孤儿响应、被拒绝的请求）。
func (a *Assembler) DiscardBody(id uuid.UUID) bool {
	a.mu.Lock()
	entry, ok := a.active[id]
	a.mu.Unlock()

	if ok {
		_ = entry.buffer.Close()
	}
	return ok
}

// CloseAll closes every active buffer so blocked readers wake up.
func (a *Assembler) CloseAll() int {
	a.mu.Lock()
	entries := a.active
	a.active = make(map[uuid.UUID]*assemblyEntry)
	a.mu.Unlock()

	for _, entry := range entries {
		_ = entry.buffer.Close()
	}
	if len(entries) > 0 {
		a.logger.Debug("closed active bodies", zap.Int("count", len(entries)))
	}
	return len(entries)
}

// Active returns the number of bodies still receiving frames.
func (a *Assembler) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}
