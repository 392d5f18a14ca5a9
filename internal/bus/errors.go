package bus

import "errors"

var (
	// ErrBusClosed 广播器已关闭
	ErrBusClosed = errors.New("message bus is closed")
	// ErrBufferFull 订阅者缓冲区已满
	ErrBufferFull = errors.New("message buffer is full")
	// ErrDuplicateSubscriber 订阅 ID 已存在
	ErrDuplicateSubscriber = errors.New("subscriber already registered")
	// ErrUnknownSubscriber 订阅 ID 不存在
	ErrUnknownSubscriber = errors.New("subscriber not found")
)
