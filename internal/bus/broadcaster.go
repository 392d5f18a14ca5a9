package bus

import (
	"sync"
	"sync/atomic"
)

// Subscription 单个订阅者的接收端
type Subscription struct {
	ID string
	C  <-chan Event

	ch      chan Event
	dropped atomic.Uint64
}

// Dropped 返回因缓冲区满而丢弃的事件数
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Broadcaster 把事件扇出到所有在线订阅者。
// 投递是尽力而为的：订阅者缓冲区满时丢弃该事件，不阻塞发布方。
type Broadcaster struct {
	bufferSize int

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	published atomic.Uint64
}

// NewBroadcaster 创建广播器
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broadcaster{
		bufferSize: bufferSize,
		subs:       make(map[string]*Subscription),
	}
}

// Subscribe 注册订阅者
func (b *Broadcaster) Subscribe(id string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, ok := b.subs[id]; ok {
		return nil, ErrDuplicateSubscriber
	}

	ch := make(chan Event, b.bufferSize)
	sub := &Subscription{ID: id, C: ch, ch: ch}
	b.subs[id] = sub
	return sub, nil
}

// Unsubscribe 注销订阅者并关闭其通道
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
}

// Publish sends to every current subscriber. Sends happen under the read lock in
// call order, so events from one goroutine reach each subscriber in order.
func (b *Broadcaster) Publish(name string, payload any) {
	evt := NewEvent(name, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)
	for _, sub := range b.subs {
		_ = deliver(sub, evt)
	}
}

// PublishTo 只发给一个订阅者
func (b *Broadcaster) PublishTo(id, name string, payload any) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	sub, ok := b.subs[id]
	if !ok {
		return ErrUnknownSubscriber
	}
	return deliver(sub, NewEvent(name, payload))
}

func deliver(sub *Subscription, evt Event) error {
	select {
	case sub.ch <- evt:
		return nil
	default:
		sub.dropped.Add(1)
		return ErrBufferFull
	}
}

// Count 当前订阅者数量
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Published 累计发布的事件数
func (b *Broadcaster) Published() uint64 {
	return b.published.Load()
}

// IsClosed 是否已关闭
func (b *Broadcaster) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Close 关闭广播器并关闭所有订阅通道
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
