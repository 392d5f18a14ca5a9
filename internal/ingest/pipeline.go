package ingest

import (
	"github.com/Lichas/wabridge/internal/bus"
	"github.com/Lichas/wabridge/internal/channels"
	"github.com/Lichas/wabridge/internal/logging"
	"github.com/Lichas/wabridge/internal/media"
)

// MediaCache 只需要触发下载
type MediaCache interface {
	EnsureFetched(msg *channels.Message) media.Asset
}

// Pipeline forwards inbound messages to subscribers and hands attachments to
// the media cache without waiting for them.
type Pipeline struct {
	pub   bus.Publisher
	cache MediaCache
}

// New 创建消息处理管线
func New(pub bus.Publisher, cache MediaCache) *Pipeline {
	return &Pipeline{pub: pub, cache: cache}
}

// OnMessage publishes the message first, then triggers the media fetch.
func (p *Pipeline) OnMessage(msg *channels.Message) {
	p.pub.Publish(bus.EventMessage, msg)
	p.ensureMedia(msg)
}

// OnMessageCreate caches media of the account's own messages. Inbound ones
// also arrive through OnMessage, which must publish before any fetch starts
// so media-ready never overtakes its message event. Nothing is published here.
func (p *Pipeline) OnMessageCreate(msg *channels.Message) {
	if !msg.FromMe {
		return
	}
	p.ensureMedia(msg)
}

func (p *Pipeline) ensureMedia(msg *channels.Message) {
	if !msg.HasMedia || p.cache == nil {
		return
	}
	a := p.cache.EnsureFetched(msg)
	if lg := logging.Get(); lg != nil && lg.Media != nil {
		lg.Media.Printf("media trigger msg=%s chat=%s state=%s", msg.ID, msg.ChatID, a.State)
	}
}
