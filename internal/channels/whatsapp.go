package channels

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Lichas/wabridge/internal/logging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// BridgeOptions WhatsApp 桥接配置
type BridgeOptions struct {
	URL            string
	RequestTimeout time.Duration
	EventBuffer    int
	Dialer         *websocket.Dialer
}

// WhatsAppBridge talks to the Node.js whatsapp-web bridge over one websocket.
// Lifecycle and message events are pushed by the bridge; queries are
// request/response frames correlated by id. There is no reconnect: when the
// socket ends the event channel emits disconnected and closes.
type WhatsAppBridge struct {
	opts BridgeOptions

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	started   bool

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan bridgeResponse

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWhatsAppBridge 创建桥接客户端
func NewWhatsAppBridge(opts BridgeOptions) *WhatsAppBridge {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &WhatsAppBridge{
		opts:    opts,
		pending: make(map[string]chan bridgeResponse),
		events:  make(chan Event, opts.EventBuffer),
		closed:  make(chan struct{}),
	}
}

// Connect 连接桥接服务并请求初始化会话
func (b *WhatsAppBridge) Connect(ctx context.Context) (<-chan Event, error) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	b.started = true
	b.mu.Unlock()

	conn, _, err := b.opts.Dialer.DialContext(ctx, b.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", b.opts.URL, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.connected = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.readLoop(conn)

	if err := b.call(ctx, "initialize", nil, nil); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("initialize session: %w", err)
	}

	if lg := logging.Get(); lg != nil && lg.Bridge != nil {
		lg.Bridge.Printf("bridge connected url=%s", b.opts.URL)
	}
	return b.events, nil
}

// Close 关闭连接；事件通道随后关闭
func (b *WhatsAppBridge) Close() error {
	b.closeOnce.Do(func() {
		close(b.closed)
		b.mu.Lock()
		if b.conn != nil {
			_ = b.conn.Close()
		}
		b.connected = false
		b.mu.Unlock()
	})
	b.wg.Wait()
	return nil
}

// FetchMedia downloads the attachment body. A nil result means the bridge had
// nothing to deliver.
func (b *WhatsAppBridge) FetchMedia(ctx context.Context, messageID string) (*Media, error) {
	var res *bridgeMedia
	if err := b.call(ctx, "downloadMedia", map[string]string{"messageId": messageID}, &res); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	media := &Media{Mimetype: res.Mimetype, Filename: res.Filename}
	if res.Data != "" {
		data, err := base64.StdEncoding.DecodeString(res.Data)
		if err != nil {
			return nil, fmt.Errorf("decode media %s: %w", messageID, err)
		}
		media.Data = data
	}
	return media, nil
}

// MediaInfo 只取附件元数据
func (b *WhatsAppBridge) MediaInfo(ctx context.Context, messageID string) (*MediaInfo, error) {
	var res *MediaInfo
	if err := b.call(ctx, "mediaInfo", map[string]string{"messageId": messageID}, &res); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("no media info for %s", messageID)
	}
	return res, nil
}

// ListChats 列出会话
func (b *WhatsAppBridge) ListChats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	if err := b.call(ctx, "getChats", nil, &chats); err != nil {
		return nil, err
	}
	for i := range chats {
		if chats[i].LastMessage != nil {
			chats[i].LastMessage.Normalize()
		}
	}
	return chats, nil
}

// FetchMessages 拉取会话历史
func (b *WhatsAppBridge) FetchMessages(ctx context.Context, q FetchMessagesQuery) ([]Message, error) {
	var msgs []Message
	if err := b.call(ctx, "fetchMessages", q, &msgs); err != nil {
		return nil, err
	}
	normalizeAll(msgs)
	return msgs, nil
}

// SearchMessages 搜索消息
func (b *WhatsAppBridge) SearchMessages(ctx context.Context, q SearchQuery) ([]Message, error) {
	var msgs []Message
	if err := b.call(ctx, "searchMessages", q, &msgs); err != nil {
		return nil, err
	}
	normalizeAll(msgs)
	return msgs, nil
}

// SendMessage 发送文本消息
func (b *WhatsAppBridge) SendMessage(ctx context.Context, chatID, text string) (*Message, error) {
	var sent Message
	params := map[string]string{"chatId": chatID, "text": text}
	if err := b.call(ctx, "sendMessage", params, &sent); err != nil {
		if lg := logging.Get(); lg != nil && lg.Bridge != nil {
			lg.Bridge.Printf("whatsapp send error chat=%s err=%v", chatID, err)
		}
		return nil, err
	}
	sent.Normalize()
	if lg := logging.Get(); lg != nil && lg.Bridge != nil {
		lg.Bridge.Printf("whatsapp send chat=%s text=%q", chatID, logging.Truncate(text, 300))
	}
	return &sent, nil
}

// ProfilePicURL 头像地址；没有头像时返回空串
func (b *WhatsAppBridge) ProfilePicURL(ctx context.Context, id string) (string, error) {
	var res struct {
		URL string `json:"url"`
	}
	if err := b.call(ctx, "getProfilePicUrl", map[string]string{"id": id}, &res); err != nil {
		return "", err
	}
	return res.URL, nil
}

// BridgeStatus 连接状态快照
type BridgeStatus struct {
	URL       string `json:"url"`
	Connected bool   `json:"connected"`
	Pending   int    `json:"pending"`
}

// Status 返回桥接连接状态（供 Web UI 使用）
func (b *WhatsAppBridge) Status() BridgeStatus {
	b.mu.RLock()
	connected := b.connected
	b.mu.RUnlock()

	b.pendingMu.Lock()
	pending := len(b.pending)
	b.pendingMu.Unlock()

	return BridgeStatus{URL: b.opts.URL, Connected: connected, Pending: pending}
}

func (b *WhatsAppBridge) call(ctx context.Context, method string, params, out any) error {
	b.mu.RLock()
	conn, connected := b.conn, b.connected
	b.mu.RUnlock()
	if conn == nil || !connected {
		return ErrBridgeNotConnected
	}

	id := uuid.NewString()
	wait := make(chan bridgeResponse, 1)
	b.pendingMu.Lock()
	b.pending[id] = wait
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
	}()

	data, err := json.Marshal(bridgeRequest{Type: "request", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	if err := b.write(conn, data); err != nil {
		return fmt.Errorf("bridge %s: %w", method, err)
	}

	timer := time.NewTimer(b.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-wait:
		if !resp.OK {
			msg := resp.Error
			if msg == "" {
				msg = "request failed"
			}
			return fmt.Errorf("bridge %s: %s", method, msg)
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("bridge %s: decode result: %w", method, err)
			}
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("bridge %s: %w", method, context.DeadlineExceeded)
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closed:
		return ErrBridgeClosed
	}
}

func (b *WhatsAppBridge) write(conn *websocket.Conn, data []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (b *WhatsAppBridge) readLoop(conn *websocket.Conn) {
	defer b.wg.Done()
	defer close(b.events)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			b.connected = false
			b.mu.Unlock()
			b.failPending("bridge connection lost")

			select {
			case <-b.closed:
				// local Close, nothing to report
			default:
				if lg := logging.Get(); lg != nil && lg.Bridge != nil {
					lg.Bridge.Printf("bridge read error: %v", err)
				}
				b.emit(Event{Type: EventDisconnected, Reason: disconnectReason(err)})
			}
			return
		}

		b.handleBridgeMessage(data)
	}
}

func (b *WhatsAppBridge) handleBridgeMessage(data []byte) {
	var msg bridgeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		if lg := logging.Get(); lg != nil && lg.Bridge != nil {
			lg.Bridge.Printf("bridge frame ignored: %v", err)
		}
		return
	}

	switch EventType(msg.Type) {
	case EventQR:
		b.emit(Event{Type: EventQR, QR: msg.QR})
	case EventAuthenticated, EventReady:
		b.emit(Event{Type: EventType(msg.Type)})
	case EventAuthFailure, EventDisconnected:
		b.emit(Event{Type: EventType(msg.Type), Reason: msg.Reason})
	case EventLoading:
		var text string
		_ = json.Unmarshal(msg.Message, &text)
		b.emit(Event{Type: EventLoading, Percent: msg.Percent, Text: text})
	case EventMessage, EventMessageCreate:
		var m Message
		if err := json.Unmarshal(msg.Message, &m); err != nil || m.ID == "" {
			return
		}
		m.Normalize()
		if lg := logging.Get(); lg != nil && lg.Bridge != nil {
			lg.Bridge.Printf("whatsapp %s chat=%s sender=%s fromMe=%v media=%v text=%q",
				msg.Type, m.ChatID, normalizeSender(m.From), m.FromMe, m.HasMedia, logging.Truncate(m.Body, 300))
		}
		b.emit(Event{Type: EventType(msg.Type), Message: &m})
	default:
		if msg.Type == "response" {
			b.resolve(msg.ID, bridgeResponse{OK: msg.OK, Result: msg.Result, Error: msg.Error})
		}
	}
}

// emit blocks until the consumer takes the event so lifecycle ordering is kept.
func (b *WhatsAppBridge) emit(evt Event) {
	select {
	case b.events <- evt:
	case <-b.closed:
	}
}

func (b *WhatsAppBridge) resolve(id string, resp bridgeResponse) {
	b.pendingMu.Lock()
	wait, ok := b.pending[id]
	b.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case wait <- resp:
	default:
	}
}

func (b *WhatsAppBridge) failPending(reason string) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	for _, wait := range b.pending {
		select {
		case wait <- bridgeResponse{Error: reason}:
		default:
		}
	}
}

func normalizeAll(msgs []Message) {
	for i := range msgs {
		msgs[i].Normalize()
	}
}

func normalizeSender(sender string) string {
	if at := strings.Index(sender, "@"); at >= 0 {
		return sender[:at]
	}
	return sender
}

func disconnectReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Text != "" {
		return ce.Text
	}
	return "bridge connection lost"
}

type bridgeRequest struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type bridgeResponse struct {
	OK     bool
	Result json.RawMessage
	Error  string
}

type bridgeMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	QR      string          `json:"qr"`
	Reason  string          `json:"reason"`
	Percent int             `json:"percent"`
	Message json.RawMessage `json:"message"`
	OK      bool            `json:"ok"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
}

type bridgeMedia struct {
	Mimetype string `json:"mimetype"`
	Data     string `json:"data"`
	Filename string `json:"filename"`
}
