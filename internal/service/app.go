package service

import (
	"context"
	"errors"
	"strings"

	"github.com/Lichas/wabridge/internal/channels"
	"github.com/Lichas/wabridge/internal/logging"
	"github.com/Lichas/wabridge/internal/media"
	"github.com/Lichas/wabridge/internal/session"
	"golang.org/x/sync/errgroup"
)

// ErrEmptyMessage 发送内容为空
var ErrEmptyMessage = errors.New("message text is empty")

const describeConcurrency = 8

// Session is the gated view of the WhatsApp session used by the API.
type Session interface {
	Status() session.Status
	IsOperational() bool
	ListChats(ctx context.Context) ([]channels.Chat, error)
	FetchMessages(ctx context.Context, q channels.FetchMessagesQuery) ([]channels.Message, error)
	SearchMessages(ctx context.Context, q channels.SearchQuery) ([]channels.Message, error)
	SendMessage(ctx context.Context, chatID, text string) (*channels.Message, error)
	ProfilePicURL(ctx context.Context, id string) (string, error)
}

// MediaCache 列表接口需要的缓存操作
type MediaCache interface {
	EnsureFetched(msg *channels.Message) media.Asset
	Describe(ctx context.Context, msg *channels.Message) media.Descriptor
}

// MessageView is a message as returned by the list endpoints.
type MessageView struct {
	channels.Message
	MediaInfo *media.Descriptor `json:"_mediaInfo,omitempty"`
}

// App 对外 API 的业务层：查询失败时返回空结果而不是错误
type App struct {
	sess  Session
	cache MediaCache
}

// NewApp 创建业务层
func NewApp(sess Session, cache MediaCache) *App {
	return &App{sess: sess, cache: cache}
}

// Status 当前会话状态
func (a *App) Status() session.Status {
	return a.sess.Status()
}

// QR 当前二维码；非扫码状态为空
func (a *App) QR() string {
	return a.sess.Status().QR
}

// Ready 会话是否可用
func (a *App) Ready() bool {
	return a.sess.IsOperational()
}

// ListChats 列出会话
func (a *App) ListChats(ctx context.Context) []channels.Chat {
	chats, err := a.sess.ListChats(ctx)
	if err != nil {
		logQueryError("list chats", err)
		return []channels.Chat{}
	}
	return chats
}

// FetchMessages returns chat history with media metadata attached, and makes
// sure every attachment gets cached in the background.
func (a *App) FetchMessages(ctx context.Context, q channels.FetchMessagesQuery) []MessageView {
	msgs, err := a.sess.FetchMessages(ctx, q)
	if err != nil {
		logQueryError("fetch messages chat="+q.ChatID, err)
		return []MessageView{}
	}
	return a.decorate(ctx, msgs)
}

// SearchMessages 搜索消息
func (a *App) SearchMessages(ctx context.Context, q channels.SearchQuery) []MessageView {
	if strings.TrimSpace(q.Query) == "" {
		return []MessageView{}
	}
	msgs, err := a.sess.SearchMessages(ctx, q)
	if err != nil {
		logQueryError("search messages", err)
		return []MessageView{}
	}
	return a.decorate(ctx, msgs)
}

// SendMessage surfaces session.ErrNotReady so callers can answer 503.
func (a *App) SendMessage(ctx context.Context, chatID, text string) (*channels.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	return a.sess.SendMessage(ctx, chatID, text)
}

// Avatar 头像地址；拿不到时为空
func (a *App) Avatar(ctx context.Context, id string) string {
	url, err := a.sess.ProfilePicURL(ctx, id)
	if err != nil {
		logQueryError("avatar id="+id, err)
		return ""
	}
	return url
}

func (a *App) decorate(ctx context.Context, msgs []channels.Message) []MessageView {
	views := make([]MessageView, len(msgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(describeConcurrency)
	for i := range msgs {
		views[i].Message = msgs[i]
		if !msgs[i].HasMedia || a.cache == nil {
			continue
		}
		msg := &views[i].Message
		a.cache.EnsureFetched(msg)
		i := i
		g.Go(func() error {
			d := a.cache.Describe(gctx, msg)
			views[i].MediaInfo = &d
			return nil
		})
	}
	_ = g.Wait()
	return views
}

func logQueryError(op string, err error) {
	if lg := logging.Get(); lg != nil && lg.Web != nil {
		if errors.Is(err, session.ErrNotReady) {
			lg.Web.Printf("%s skipped: session not ready", op)
			return
		}
		lg.Web.Printf("%s failed: %v", op, err)
	}
}
