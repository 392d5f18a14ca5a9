package bus

import (
	"time"

	"github.com/google/uuid"
)

// 推送给订阅者的事件名
const (
	EventQR                   = "qr"
	EventAuthenticated        = "authenticated"
	EventReady                = "ready"
	EventAuthenticationFailed = "authentication_failed"
	EventDisconnected         = "disconnected"
	EventLoading              = "loading"
	EventMessage              = "message"
	EventMediaReady           = "media-ready"
	EventMediaError           = "media-error"
	// EventStatus 只发给新连接的订阅者，不广播
	EventStatus = "status"
)

// Event 广播事件
type Event struct {
	ID      string    `json:"id"`
	Name    string    `json:"event"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// NewEvent 创建事件
func NewEvent(name string, payload any) Event {
	return Event{
		ID:      uuid.NewString(),
		Name:    name,
		Payload: payload,
		At:      time.Now(),
	}
}

// Publisher is the write side of the broadcaster.
type Publisher interface {
	Publish(name string, payload any)
}
