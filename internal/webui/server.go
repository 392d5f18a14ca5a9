package webui

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Lichas/wabridge/internal/auth"
	"github.com/Lichas/wabridge/internal/bus"
	"github.com/Lichas/wabridge/internal/channels"
	"github.com/Lichas/wabridge/internal/cron"
	"github.com/Lichas/wabridge/internal/logging"
	"github.com/Lichas/wabridge/internal/media"
	"github.com/Lichas/wabridge/internal/service"
	"github.com/Lichas/wabridge/internal/session"
	"github.com/Lichas/wabridge/internal/socketio"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// API is the business layer behind the HTTP handlers.
type API interface {
	Status() session.Status
	QR() string
	ListChats(ctx context.Context) []channels.Chat
	FetchMessages(ctx context.Context, q channels.FetchMessagesQuery) []service.MessageView
	SearchMessages(ctx context.Context, q channels.SearchQuery) []service.MessageView
	SendMessage(ctx context.Context, chatID, text string) (*channels.Message, error)
	Avatar(ctx context.Context, id string) string
}

// Deps 服务依赖；Media/Bridge/Cron 为空时状态接口省略对应字段
type Deps struct {
	API          API
	Bus          *bus.Broadcaster
	Media        interface{ Stats() media.Stats }
	Bridge       interface{ Status() channels.BridgeStatus }
	Cron         interface{ Status() cron.Status }
	TokenConfig  auth.TokenConfig
	AllowOrigins []string
	MediaRoot    string
	PublicPrefix string
}

// Server HTTP 服务：REST API、静态媒体、socket.io 和 /ws 订阅
type Server struct {
	deps     Deps
	router   *gin.Engine
	socketIO *socketio.Server
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewServer builds the router. The socket.io endpoint shares the broadcaster
// and the token settings.
func NewServer(deps Deps) *Server {
	if deps.PublicPrefix == "" {
		deps.PublicPrefix = "/media"
	}
	s := &Server{deps: deps}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.socketIO = socketio.NewServer(socketio.Options{
		Bus:         deps.Bus,
		TokenConfig: deps.TokenConfig,
		Snapshot:    s.snapshot,
		CheckOrigin: s.checkOrigin,
	})
	s.router = s.newRouter()
	return s
}

// Handler 返回 gin 路由
func (s *Server) Handler() http.Handler {
	return s.router
}

// SocketIO 返回 socket.io 服务
func (s *Server) SocketIO() *socketio.Server {
	return s.socketIO
}

func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithWriter(logging.WebWriter()))
	r.Use(corsMiddleware(s.deps.AllowOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/api")
	if s.deps.TokenConfig.Enabled() {
		api.Use(RequireToken(s.deps.TokenConfig))
	}
	api.GET("/status", s.handleStatus)
	api.GET("/qr", s.handleQR)
	api.GET("/chats", s.handleChats)
	api.GET("/chats/:id/messages", s.handleMessages)
	api.POST("/chats/:id/messages", s.handleSend)
	api.GET("/messages/search", s.handleSearch)
	api.GET("/avatar/:id", s.handleAvatar)

	if s.deps.MediaRoot != "" {
		r.Static(s.deps.PublicPrefix, s.deps.MediaRoot)
	}

	r.Any("/socket.io/", gin.WrapH(s.socketIO))

	ws := r.Group("/ws")
	if s.deps.TokenConfig.Enabled() {
		ws.Use(RequireToken(s.deps.TokenConfig))
	}
	ws.GET("", s.handleWebSocket)

	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(shutdownCtx)
	}()

	if lg := logging.Get(); lg != nil && lg.Web != nil {
		lg.Web.Printf("listening on %s", addr)
	}
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// snapshot is the one-off status event a new subscriber receives.
func (s *Server) snapshot() any {
	return s.deps.API.Status()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	return originAllowed(s.deps.AllowOrigins, r.Header.Get("Origin"))
}
