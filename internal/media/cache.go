package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Lichas/wabridge/internal/bus"
	"github.com/Lichas/wabridge/internal/channels"
	"github.com/Lichas/wabridge/internal/logging"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoMediaData the transport returned no body for the attachment.
	ErrNoMediaData = errors.New("no media data returned")
	// ErrCacheClosed the cache shut down before the fetch could start.
	ErrCacheClosed = errors.New("media cache closed")
)

// State 附件缓存状态
type State string

const (
	StateNotRequested State = "not_requested"
	StateFetching     State = "fetching"
	StateReady        State = "ready"
	StateFailed       State = "failed"
)

// Asset is a snapshot of one attachment's cache record.
type Asset struct {
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	Stem      string    `json:"stem"`
	Key       string    `json:"key,omitempty"`
	State     State     `json:"state"`
	LocalPath string    `json:"localPath,omitempty"`
	URL       string    `json:"url,omitempty"`
	Mimetype  string    `json:"mimetype,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ReadyEvent media-ready 事件内容
type ReadyEvent struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Key       string `json:"key"`
	LocalPath string `json:"localPath"`
	URL       string `json:"url"`
	Mimetype  string `json:"mimetype"`
	Filename  string `json:"filename"`
}

// ErrorEvent media-error 事件内容
type ErrorEvent struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Key       string `json:"key"`
	Error     string `json:"error"`
}

// Source is the part of the transport the cache needs.
type Source interface {
	FetchMedia(ctx context.Context, messageID string) (*channels.Media, error)
	MediaInfo(ctx context.Context, messageID string) (*channels.MediaInfo, error)
}

// Options 媒体缓存配置
type Options struct {
	Root         string
	PublicPrefix string
	Concurrency  int
	FetchTimeout time.Duration
}

// Cache downloads attachments in the background, at most once per message,
// and tells subscribers when each one is on disk.
type Cache struct {
	layout  Layout
	timeout time.Duration
	source  Source
	pub     bus.Publisher

	sem      *semaphore.Weighted
	describe singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	assets map[string]*Asset
	closed bool
}

// NewCache 创建媒体缓存
func NewCache(opts Options, source Source, pub bus.Publisher) *Cache {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 2 * time.Minute
	}
	if opts.PublicPrefix == "" {
		opts.PublicPrefix = "/media"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		layout:  Layout{Root: opts.Root, PublicPrefix: opts.PublicPrefix},
		timeout: opts.FetchTimeout,
		source:  source,
		pub:     pub,
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		ctx:     ctx,
		cancel:  cancel,
		assets:  make(map[string]*Asset),
	}
}

// Layout 返回磁盘布局
func (c *Cache) Layout() Layout {
	return c.layout
}

// EnsureFetched schedules a background download unless one is running or the
// attachment is already cached. It never does I/O on the caller's goroutine.
func (c *Cache) EnsureFetched(msg *channels.Message) Asset {
	stem := Stem(msg)

	c.mu.Lock()
	defer c.mu.Unlock()

	if a, ok := c.assets[stem]; ok && (a.State == StateFetching || a.State == StateReady) {
		return *a
	}
	if c.closed {
		return Asset{MessageID: msg.ID, ChatID: msg.ChatID, Stem: stem, State: StateNotRequested}
	}

	a := &Asset{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		Stem:      stem,
		State:     StateFetching,
		Mimetype:  msg.Mimetype,
		UpdatedAt: time.Now(),
	}
	c.assets[stem] = a

	m := *msg
	c.wg.Add(1)
	go c.fetch(stem, &m)

	return *a
}

// Lookup 查询当前记录
func (c *Cache) Lookup(msg *channels.Message) (Asset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.assets[Stem(msg)]
	if !ok {
		return Asset{}, false
	}
	return *a, true
}

func (c *Cache) fetch(stem string, msg *channels.Message) {
	defer c.wg.Done()

	if err := c.sem.Acquire(c.ctx, 1); err != nil {
		c.markFailed(stem, msg, fmt.Errorf("%w: %v", ErrCacheClosed, err))
		return
	}
	defer c.sem.Release(1)

	if msg.Mimetype != "" {
		ext := Extension(msg.Mimetype)
		if key := Key(msg, ext); fileExists(c.layout.Path(key)) {
			c.markReady(stem, msg, key, msg.Mimetype, false)
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	media, err := c.source.FetchMedia(ctx, msg.ID)
	if err == nil && (media == nil || len(media.Data) == 0) {
		err = ErrNoMediaData
	}
	if err != nil {
		c.markFailed(stem, msg, err)
		return
	}

	mimetype := media.Mimetype
	if mimetype == "" {
		mimetype = msg.Mimetype
	}
	key := Key(msg, Extension(mimetype))
	target := c.layout.Path(key)

	if fileExists(target) {
		c.markReady(stem, msg, key, mimetype, false)
		return
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		c.markFailed(stem, msg, fmt.Errorf("create chat folder: %w", err))
		return
	}
	if err := writeFileAtomic(target, media.Data, 0644); err != nil {
		c.markFailed(stem, msg, err)
		return
	}

	if lg := logging.Get(); lg != nil && lg.Media != nil {
		lg.Media.Printf("media saved key=%s bytes=%d mimetype=%s", key, len(media.Data), mimetype)
	}
	c.markReady(stem, msg, key, mimetype, true)
}

func (c *Cache) markReady(stem string, msg *channels.Message, key, mimetype string, notify bool) {
	local := c.layout.Path(key)
	url := c.layout.URL(key)
	filename := filepath.Base(local)

	c.finish(stem, func(a *Asset) {
		a.State = StateReady
		a.Key = key
		a.LocalPath = local
		a.URL = url
		a.Mimetype = mimetype
		a.Filename = filename
		a.Error = ""
	})

	if notify && c.pub != nil {
		c.pub.Publish(bus.EventMediaReady, ReadyEvent{
			MessageID: msg.ID,
			ChatID:    msg.ChatID,
			Key:       key,
			LocalPath: local,
			URL:       url,
			Mimetype:  mimetype,
			Filename:  filename,
		})
	}
}

func (c *Cache) markFailed(stem string, msg *channels.Message, err error) {
	c.finish(stem, func(a *Asset) {
		a.State = StateFailed
		a.Error = err.Error()
	})

	if lg := logging.Get(); lg != nil && lg.Media != nil {
		lg.Media.Printf("media fetch failed stem=%s err=%v", stem, err)
	}
	if c.pub != nil {
		c.pub.Publish(bus.EventMediaError, ErrorEvent{
			MessageID: msg.ID,
			ChatID:    msg.ChatID,
			Key:       stem,
			Error:     err.Error(),
		})
	}
}

func (c *Cache) finish(stem string, update func(*Asset)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.assets[stem]
	if !ok {
		return
	}
	update(a)
	a.UpdatedAt = time.Now()
}

// Descriptor describes an attachment without downloading it.
type Descriptor struct {
	Mimetype      string `json:"mimetype"`
	Filename      string `json:"filename"`
	OriginalName  string `json:"originalName,omitempty"`
	Filesize      int64  `json:"filesize,omitempty"`
	AlreadyCached bool   `json:"isDownloaded"`
	URL           string `json:"url,omitempty"`
}

// Describe returns media metadata from the cache record when ready, or from a
// metadata-only transport call plus a local existence check. On metadata
// failure it falls back to what the message itself carries.
func (c *Cache) Describe(ctx context.Context, msg *channels.Message) Descriptor {
	if a, ok := c.Lookup(msg); ok && a.State == StateReady {
		return Descriptor{Mimetype: a.Mimetype, Filename: a.Filename, AlreadyCached: true, URL: a.URL}
	}

	stem := Stem(msg)
	// 合并的调用方共享结果，不能被第一个调用方的取消拖垮
	v, err, _ := c.describe.Do(stem, func() (any, error) {
		infoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.source.MediaInfo(infoCtx, msg.ID)
	})
	info, _ := v.(*channels.MediaInfo)
	if err != nil || info == nil {
		if lg := logging.Get(); lg != nil && lg.Media != nil {
			lg.Media.Printf("media describe fallback stem=%s err=%v", stem, err)
		}
		mimetype, ext := msg.Mimetype, Extension(msg.Mimetype)
		if mimetype == "" {
			mimetype = fallbackMimetype
		}
		return Descriptor{Mimetype: mimetype, Filename: FileName(msg, ext)}
	}

	mimetype := info.Mimetype
	if mimetype == "" {
		mimetype = msg.Mimetype
	}
	ext := Extension(mimetype)
	if mimetype == "" {
		mimetype = fallbackMimetype
	}
	key := Key(msg, ext)
	d := Descriptor{
		Mimetype:     mimetype,
		Filename:     FileName(msg, ext),
		OriginalName: info.Filename,
		Filesize:     info.Filesize,
	}
	if fileExists(c.layout.Path(key)) {
		d.AlreadyCached = true
		d.URL = c.layout.URL(key)
	}
	return d
}

// Stats 缓存计数
type Stats struct {
	Total    int `json:"total"`
	Fetching int `json:"fetching"`
	Ready    int `json:"ready"`
	Failed   int `json:"failed"`
}

// Stats 返回各状态的记录数
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Total: len(c.assets)}
	for _, a := range c.assets {
		switch a.State {
		case StateFetching:
			s.Fetching++
		case StateReady:
			s.Ready++
		case StateFailed:
			s.Failed++
		}
	}
	return s
}

// Sweep forgets ready and failed records older than olderThan. Files stay on
// disk; a later trigger finds them and goes straight to ready.
func (c *Cache) Sweep(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for stem, a := range c.assets {
		if a.State == StateFetching || a.UpdatedAt.After(cutoff) {
			continue
		}
		delete(c.assets, stem)
		removed++
	}
	return removed
}

// CleanupTemp removes temp files left behind by interrupted writes.
func (c *Cache) CleanupTemp(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0

	err := filepath.WalkDir(c.layout.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !isTempName(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(p); err == nil {
			removed++
		}
		return nil
	})
	return removed, err
}

// Wait blocks until all scheduled fetches have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Close 停止接受新任务，取消进行中的下载并等待结束
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
