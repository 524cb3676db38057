package events

import (
	"sync"
	"time"
)

// Event 是对外广播的工作流状态变更消息。
type Event struct {
	Type       string         `json:"type"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	ProviderID string         `json:"provider_id,omitempty"`
	Status     string         `json:"status,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	Timestamp  int64          `json:"timestamp"`
}

// 事件类型常量。
const (
	TypeWorkflowQueued    = "workflow.queued"
	TypeWorkflowStarted   = "workflow.started"
	TypeStageCompleted    = "workflow.stage_completed"
	TypeWorkflowCompleted = "workflow.completed"
	TypeWorkflowFailed    = "workflow.failed"
)

// Broadcaster 把事件扇出给所有订阅者。
// 发布永不阻塞：订阅者缓冲写满时该订阅者被移除，事件流不等待慢消费者。
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	bufferSize  int
	closed      bool
}

// NewBroadcaster 创建广播器。bufferSize 决定每个订阅者的通道容量。
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscribe 注册一个订阅者并返回其事件通道。
// 广播器关闭后返回已关闭的通道。
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, b.bufferSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe 移除订阅者并关闭其通道。重复取消订阅是安全的。
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Publish 将事件投递给所有订阅者。没有订阅者时事件被丢弃。
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// 慢消费者直接剔除，避免拖垮整个事件流。
			delete(b.subscribers, ch)
			close(ch)
		}
	}
}

// SubscriberCount 返回当前订阅者数量。
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close 关闭广播器并断开所有订阅者。
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}
