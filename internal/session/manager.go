package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Lichas/wabridge/internal/bus"
	"github.com/Lichas/wabridge/internal/channels"
	"github.com/Lichas/wabridge/internal/logging"
)

// ErrNotReady the session is not in the ready state.
var ErrNotReady = errors.New("whatsapp session not ready")

// State 会话生命周期状态
type State string

const (
	StateInitializing  State = "initializing"
	StateAwaitingScan  State = "qr"
	StateAuthenticated State = "authenticated"
	StateReady         State = "ready"
	StateAuthFailed    State = "auth_failure"
	StateDisconnected  State = "disconnected"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateAuthFailed || s == StateDisconnected
}

// Status 状态快照；QR 只在等待扫码时存在
type Status struct {
	State State  `json:"state"`
	QR    string `json:"qr,omitempty"`
}

// QREvent qr 事件内容
type QREvent struct {
	QR string `json:"qr"`
}

// ReasonEvent authentication_failed / disconnected 事件内容
type ReasonEvent struct {
	Reason string `json:"reason"`
}

// LoadingEvent loading 事件内容
type LoadingEvent struct {
	Percent int    `json:"percent"`
	Message string `json:"msg"`
}

// Manager owns the one WhatsApp session of this process. Transport events are
// consumed by a single dispatch goroutine, which is the only writer of state.
type Manager struct {
	transport channels.Transport
	pub       bus.Publisher
	encodeQR  func(string) (string, error)

	onMessage       func(*channels.Message)
	onMessageCreate func(*channels.Message)
	onQR            func(string)

	mu       sync.RWMutex
	state    State
	qr       string
	started  bool
	startErr error

	done chan struct{}
}

// NewManager 创建会话管理器，初始状态为 initializing
func NewManager(transport channels.Transport, pub bus.Publisher) *Manager {
	return &Manager{
		transport: transport,
		pub:       pub,
		encodeQR:  EncodeQR,
		state:     StateInitializing,
		done:      make(chan struct{}),
	}
}

// SetMessageHandler 设置收到消息时的处理器（Start 之前调用）
func (m *Manager) SetMessageHandler(handler func(*channels.Message)) {
	m.onMessage = handler
}

// SetMessageCreateHandler 设置新建消息（含自己发出的）的处理器
func (m *Manager) SetMessageCreateHandler(handler func(*channels.Message)) {
	m.onMessageCreate = handler
}

// SetQRHandler receives the raw pairing payload, e.g. for terminal rendering.
func (m *Manager) SetQRHandler(handler func(raw string)) {
	m.onQR = handler
}

// Start connects the transport once. Later calls return the first result.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		err := m.startErr
		m.mu.Unlock()
		return err
	}
	m.started = true
	m.mu.Unlock()

	events, err := m.transport.Connect(ctx)
	if err != nil {
		err = fmt.Errorf("connect whatsapp transport: %w", err)
		m.mu.Lock()
		m.startErr = err
		m.mu.Unlock()
		close(m.done)
		return err
	}

	if lg := logging.Get(); lg != nil && lg.Session != nil {
		lg.Session.Printf("session started state=%s", StateInitializing)
	}

	go m.dispatch(events)
	return nil
}

// Done is closed when the transport event stream ends.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Close 关闭底层传输
func (m *Manager) Close() error {
	return m.transport.Close()
}

// Status 返回当前状态快照
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{State: m.state, QR: m.qr}
}

// IsOperational 只有 ready 状态可以调用业务操作
func (m *Manager) IsOperational() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady
}

func (m *Manager) dispatch(events <-chan channels.Event) {
	defer close(m.done)
	for evt := range events {
		m.handle(evt)
	}
	if lg := logging.Get(); lg != nil && lg.Session != nil {
		lg.Session.Printf("event stream closed state=%s", m.Status().State)
	}
}

func (m *Manager) handle(evt channels.Event) {
	switch evt.Type {
	case channels.EventQR:
		m.handleQR(evt.QR)
	case channels.EventAuthenticated:
		m.advance(evt, StateAuthenticated, bus.EventAuthenticated, nil,
			StateInitializing, StateAwaitingScan)
	case channels.EventReady:
		m.advance(evt, StateReady, bus.EventReady, nil,
			StateAuthenticated)
	case channels.EventAuthFailure:
		m.advance(evt, StateAuthFailed, bus.EventAuthenticationFailed, ReasonEvent{Reason: evt.Reason},
			StateInitializing, StateAwaitingScan, StateAuthenticated, StateReady)
	case channels.EventDisconnected:
		m.advance(evt, StateDisconnected, bus.EventDisconnected, ReasonEvent{Reason: evt.Reason},
			StateInitializing, StateAwaitingScan, StateAuthenticated, StateReady)
	case channels.EventLoading:
		m.publish(bus.EventLoading, LoadingEvent{Percent: evt.Percent, Message: evt.Text})
	case channels.EventMessage:
		if evt.Message != nil && m.onMessage != nil {
			m.onMessage(evt.Message)
		}
	case channels.EventMessageCreate:
		if evt.Message != nil && m.onMessageCreate != nil {
			m.onMessageCreate(evt.Message)
		}
	default:
		m.logf("unknown transport event %q ignored", evt.Type)
	}
}

func (m *Manager) handleQR(raw string) {
	if cur := m.Status().State; cur != StateInitializing && cur != StateAwaitingScan {
		m.logf("qr ignored in state=%s", cur)
		return
	}
	if raw == "" {
		m.logf("empty qr payload ignored")
		return
	}
	if m.onQR != nil {
		m.onQR(raw)
	}

	dataURL, err := m.encodeQR(raw)
	if err != nil {
		m.logf("qr conversion failed, waiting for next code: %v", err)
		return
	}

	m.mu.Lock()
	m.state = StateAwaitingScan
	m.qr = dataURL
	m.mu.Unlock()

	m.logf("state -> %s", StateAwaitingScan)
	m.publish(bus.EventQR, QREvent{QR: dataURL})
}

// advance moves to next when the current state is one of from, clearing the
// QR in the same critical section.
func (m *Manager) advance(evt channels.Event, next State, event string, payload any, from ...State) {
	m.mu.Lock()
	cur := m.state
	allowed := false
	for _, s := range from {
		if cur == s {
			allowed = true
			break
		}
	}
	if allowed {
		m.state = next
		m.qr = ""
	}
	m.mu.Unlock()

	if !allowed {
		m.logf("event %s ignored in state=%s", evt.Type, cur)
		return
	}
	if evt.Reason != "" {
		m.logf("state %s -> %s reason=%q", cur, next, evt.Reason)
	} else {
		m.logf("state %s -> %s", cur, next)
	}
	m.publish(event, payload)
}

func (m *Manager) publish(name string, payload any) {
	if m.pub != nil {
		m.pub.Publish(name, payload)
	}
}

func (m *Manager) logf(format string, args ...any) {
	if lg := logging.Get(); lg != nil && lg.Session != nil {
		lg.Session.Printf(format, args...)
	}
}

// ListChats 列出会话
func (m *Manager) ListChats(ctx context.Context) ([]channels.Chat, error) {
	if !m.IsOperational() {
		return nil, ErrNotReady
	}
	return m.transport.ListChats(ctx)
}

// FetchMessages 拉取会话历史
func (m *Manager) FetchMessages(ctx context.Context, q channels.FetchMessagesQuery) ([]channels.Message, error) {
	if !m.IsOperational() {
		return nil, ErrNotReady
	}
	return m.transport.FetchMessages(ctx, q)
}

// SearchMessages 搜索消息
func (m *Manager) SearchMessages(ctx context.Context, q channels.SearchQuery) ([]channels.Message, error) {
	if !m.IsOperational() {
		return nil, ErrNotReady
	}
	return m.transport.SearchMessages(ctx, q)
}

// SendMessage 发送文本消息
func (m *Manager) SendMessage(ctx context.Context, chatID, text string) (*channels.Message, error) {
	if !m.IsOperational() {
		return nil, ErrNotReady
	}
	return m.transport.SendMessage(ctx, chatID, text)
}

// ProfilePicURL 查询头像
func (m *Manager) ProfilePicURL(ctx context.Context, id string) (string, error) {
	if !m.IsOperational() {
		return "", ErrNotReady
	}
	return m.transport.ProfilePicURL(ctx, id)
}
