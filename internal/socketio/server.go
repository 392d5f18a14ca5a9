package socketio

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lichas/wabridge/internal/auth"
	"github.com/Lichas/wabridge/internal/bus"
	"github.com/Lichas/wabridge/internal/logging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	maxPayload   int64         = 1000000
	writeTimeout time.Duration = 10 * time.Second
)

// Options socket.io 服务配置
type Options struct {
	Bus         *bus.Broadcaster
	TokenConfig auth.TokenConfig
	// Snapshot is sent as a "status" event to each new client and answers
	// the "status" request.
	Snapshot     func() any
	CheckOrigin  func(r *http.Request) bool
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// Server is a minimal socket.io v4 endpoint (websocket transport only, default
// namespace). Every connected client is a broadcaster subscriber.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*conn
}

// NewServer 创建 socket.io 服务
func NewServer(opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 20 * time.Second
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Server{
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		conns:    make(map[string]*conn),
	}
}

// Count 当前连接数
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":0,"message":"Transport unknown"}`))
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxPayload)

	c := newConn(ws)
	c.queryToken, _ = auth.TokenFromRequest(r)
	s.register(c)
	defer s.unregister(c)

	open := map[string]any{
		"sid":          c.sid,
		"upgrades":     []string{},
		"pingInterval": s.opts.PingInterval.Milliseconds(),
		"pingTimeout":  s.opts.PingTimeout.Milliseconds(),
		"maxPayload":   maxPayload,
	}
	openBytes, _ := json.Marshal(open)
	_ = c.writeText(string(engineOpen) + string(openBytes))

	go c.pingLoop(s.opts.PingInterval, s.opts.PingTimeout)
	c.readLoop(func(msg string) {
		s.handleMessage(c, msg)
	})
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.sid] = c
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.sid)
	s.mu.Unlock()

	if c.connected.Load() && s.opts.Bus != nil {
		s.opts.Bus.Unsubscribe(c.sid)
	}
	c.close()
}

func (s *Server) handleMessage(c *conn, msg string) {
	if msg == "" {
		return
	}

	switch enginePacketType(msg[0]) {
	case enginePong:
		c.markPong()
	case engineMessage:
		s.handleSocketPayload(c, msg[1:])
	case engineClose:
		c.close()
	}
}

type connectAuth struct {
	Token string `json:"token"`
}

func (s *Server) handleSocketPayload(c *conn, payload string) {
	if payload == "" {
		return
	}

	switch socketPacketType(payload[0]) {
	case socketConnect:
		s.handleConnect(c, payload)
	case socketEvent:
		s.handleEvent(c, payload)
	case socketDisconnect:
		c.close()
	}
}

func (s *Server) handleConnect(c *conn, payload string) {
	if c.connected.Load() {
		return
	}

	ns, rest := parseOptionalNamespace(payload[1:])
	if ns != "/" {
		_ = c.writeConnectError(ns, "Invalid namespace")
		return
	}

	if s.opts.TokenConfig.Enabled() {
		token := c.queryToken
		if rest != "" {
			var authObj connectAuth
			if err := json.Unmarshal([]byte(rest), &authObj); err == nil && authObj.Token != "" {
				token = authObj.Token
			}
		}
		if _, err := auth.VerifyToken(token, s.opts.TokenConfig); err != nil {
			_ = c.writeConnectError(ns, "Invalid authentication token")
			c.close()
			return
		}
	}

	if s.opts.Bus == nil {
		_ = c.writeConnectError(ns, "Server not ready")
		c.close()
		return
	}
	sub, err := s.opts.Bus.Subscribe(c.sid)
	if err != nil {
		_ = c.writeConnectError(ns, "Server not ready")
		c.close()
		return
	}
	c.connected.Store(true)

	packet, err := buildConnectPacket(ns, c.sid)
	if err == nil {
		_ = c.writeText(string(engineMessage) + packet)
	}

	go c.pump(sub)

	if s.opts.Snapshot != nil {
		_ = s.opts.Bus.PublishTo(c.sid, bus.EventStatus, s.opts.Snapshot())
	}
	if lg := logging.Get(); lg != nil && lg.Web != nil {
		lg.Web.Printf("socket.io client connected sid=%s", c.sid)
	}
}

func (s *Server) handleEvent(c *conn, payload string) {
	if !c.connected.Load() {
		return
	}

	pkt, err := parseEventPacket(payload)
	if err != nil || pkt.ID == nil {
		return
	}

	switch pkt.Event {
	case "ping":
		c.ack(pkt.Namespace, *pkt.ID)
	case "status":
		if s.opts.Snapshot != nil {
			c.ack(pkt.Namespace, *pkt.ID, s.opts.Snapshot())
		} else {
			c.ack(pkt.Namespace, *pkt.ID)
		}
	}
}

type conn struct {
	ws  *websocket.Conn
	sid string

	queryToken string
	connected  atomic.Bool

	sendMu sync.Mutex

	pingMu       sync.Mutex
	awaitingPong bool
	pingSentAt   time.Time
	nextPingAt   time.Time

	closed atomic.Bool
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws, sid: uuid.NewString()}
}

func (c *conn) close() {
	if c.closed.Swap(true) {
		return
	}
	_ = c.ws.Close()
}

func (c *conn) writeText(msg string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *conn) readLoop(onMessage func(string)) {
	defer c.close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		onMessage(string(data))
	}
}

// pump writes broadcaster events until the subscription is closed.
func (c *conn) pump(sub *bus.Subscription) {
	defer c.close()
	for evt := range sub.C {
		if c.closed.Load() {
			continue
		}
		packet, err := buildEventPacket("/", nil, evt.Name, evt.Payload)
		if err != nil {
			continue
		}
		if err := c.writeText(string(engineMessage) + packet); err != nil {
			c.close()
		}
	}
}

func (c *conn) ack(namespace string, id int, args ...any) {
	packet, err := buildAckPacket(namespace, id, args...)
	if err == nil {
		_ = c.writeText(string(engineMessage) + packet)
	}
}

func (c *conn) writeConnectError(namespace, msg string) error {
	packet, err := buildConnectErrorPacket(namespace, msg)
	if err != nil {
		return err
	}
	return c.writeText(string(engineMessage) + packet)
}

func (c *conn) pingLoop(interval, timeout time.Duration) {
	c.pingMu.Lock()
	c.nextPingAt = time.Now().Add(interval)
	c.pingMu.Unlock()

	tick := interval / 25
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for range ticker.C {
		if c.closed.Load() {
			return
		}
		now := time.Now()
		c.pingMu.Lock()
		if c.awaitingPong && now.Sub(c.pingSentAt) > timeout {
			c.pingMu.Unlock()
			c.close()
			return
		}
		if !c.awaitingPong && !now.Before(c.nextPingAt) {
			c.awaitingPong = true
			c.pingSentAt = now
			c.nextPingAt = now.Add(interval)
			c.pingMu.Unlock()
			_ = c.writeText(string(enginePing))
			continue
		}
		c.pingMu.Unlock()
	}
}

func (c *conn) markPong() {
	c.pingMu.Lock()
	c.awaitingPong = false
	c.pingMu.Unlock()
}
