package channels

import (
	"context"
	"errors"
)

var (
	// ErrBridgeNotConnected 桥接未连接
	ErrBridgeNotConnected = errors.New("whatsapp bridge not connected")
	// ErrBridgeClosed 桥接连接已关闭
	ErrBridgeClosed = errors.New("whatsapp bridge closed")
	// ErrAlreadyConnected Connect 只能调用一次
	ErrAlreadyConnected = errors.New("whatsapp bridge already connected")
)

// EventType 传输层事件类型
type EventType string

const (
	EventQR            EventType = "qr"
	EventAuthenticated EventType = "authenticated"
	EventReady         EventType = "ready"
	EventAuthFailure   EventType = "auth_failure"
	EventDisconnected  EventType = "disconnected"
	EventLoading       EventType = "loading"
	// EventMessage 收到的消息
	EventMessage EventType = "message"
	// EventMessageCreate 任何新建消息，包括自己发出的
	EventMessageCreate EventType = "message_create"
)

// Event 传输层推送的单个事件
type Event struct {
	Type    EventType
	QR      string
	Reason  string
	Percent int
	Text    string
	Message *Message
}

// Message 一条 WhatsApp 消息
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	From      string `json:"from"`
	To        string `json:"to"`
	FromMe    bool   `json:"fromMe"`
	Timestamp int64  `json:"timestamp"`
	HasMedia  bool   `json:"hasMedia"`
	Mimetype  string `json:"mimetype,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Body      string `json:"body"`
	Type      string `json:"type,omitempty"`
}

// Normalize fills ChatID from the peer side of the message when the bridge left it empty.
func (m *Message) Normalize() {
	if m.ChatID != "" {
		return
	}
	if m.FromMe {
		m.ChatID = m.To
	} else {
		m.ChatID = m.From
	}
}

// Chat 会话摘要
type Chat struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	IsGroup     bool     `json:"isGroup"`
	UnreadCount int      `json:"unreadCount"`
	Timestamp   int64    `json:"timestamp"`
	LastMessage *Message `json:"lastMessage,omitempty"`
}

// Media 下载到的附件内容
type Media struct {
	Mimetype string
	Data     []byte
	Filename string
}

// MediaInfo 附件元数据（不含内容）
type MediaInfo struct {
	Mimetype string `json:"mimetype"`
	Filename string `json:"filename,omitempty"`
	Filesize int64  `json:"filesize,omitempty"`
}

// FetchMessagesQuery 拉取会话历史
type FetchMessagesQuery struct {
	ChatID string `json:"chatId"`
	Limit  int    `json:"limit,omitempty"`
	// FromMe 为 nil 时不过滤
	FromMe *bool `json:"fromMe,omitempty"`
}

// SearchQuery 消息搜索
type SearchQuery struct {
	Query  string `json:"query"`
	ChatID string `json:"chatId,omitempty"`
	Page   int    `json:"page,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Transport is the remote WhatsApp session as seen by this process.
type Transport interface {
	// Connect starts the session; events arrive on the returned channel, which is
	// closed when the connection ends.
	Connect(ctx context.Context) (<-chan Event, error)
	FetchMedia(ctx context.Context, messageID string) (*Media, error)
	MediaInfo(ctx context.Context, messageID string) (*MediaInfo, error)
	ListChats(ctx context.Context) ([]Chat, error)
	FetchMessages(ctx context.Context, q FetchMessagesQuery) ([]Message, error)
	SearchMessages(ctx context.Context, q SearchQuery) ([]Message, error)
	SendMessage(ctx context.Context, chatID, text string) (*Message, error)
	ProfilePicURL(ctx context.Context, id string) (string, error)
	Close() error
}
