package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Lichas/wabridge/internal/channels"
	"github.com/Lichas/wabridge/internal/media"
	"github.com/Lichas/wabridge/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	status session.Status
	msgs   []channels.Message
	err    error
	calls  int
}

func (f *fakeSession) Status() session.Status { return f.status }
func (f *fakeSession) IsOperational() bool     { return f.status.State == session.StateReady }

func (f *fakeSession) gate() error {
	if !f.IsOperational() {
		return session.ErrNotReady
	}
	f.calls++
	return f.err
}

func (f *fakeSession) ListChats(context.Context) ([]channels.Chat, error) {
	if err := f.gate(); err != nil {
		return nil, err
	}
	return []channels.Chat{{ID: "123@c.us"}}, nil
}

func (f *fakeSession) FetchMessages(context.Context, channels.FetchMessagesQuery) ([]channels.Message, error) {
	if err := f.gate(); err != nil {
		return nil, err
	}
	return f.msgs, nil
}

func (f *fakeSession) SearchMessages(context.Context, channels.SearchQuery) ([]channels.Message, error) {
	if err := f.gate(); err != nil {
		return nil, err
	}
	return f.msgs, nil
}

func (f *fakeSession) SendMessage(_ context.Context, chatID, text string) (*channels.Message, error) {
	if err := f.gate(); err != nil {
		return nil, err
	}
	return &channels.Message{ID: "sent", ChatID: chatID, Body: text}, nil
}

func (f *fakeSession) ProfilePicURL(context.Context, string) (string, error) {
	if err := f.gate(); err != nil {
		return "", err
	}
	return "https://pps.example/a.jpg", nil
}

type fakeCache struct {
	mu        sync.Mutex
	ensured   []string
	described []string
}

func (c *fakeCache) EnsureFetched(msg *channels.Message) media.Asset {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensured = append(c.ensured, msg.ID)
	return media.Asset{MessageID: msg.ID, State: media.StateFetching}
}

func (c *fakeCache) Describe(_ context.Context, msg *channels.Message) media.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.described = append(c.described, msg.ID)
	return media.Descriptor{Mimetype: "image/jpeg", Filename: msg.ID + ".jpeg"}
}

func ready() *fakeSession {
	return &fakeSession{status: session.Status{State: session.StateReady}}
}

func TestQueriesWhenNotReady(t *testing.T) {
	sess := &fakeSession{status: session.Status{State: session.StateAwaitingScan, QR: "data:image/png;base64,xx"}}
	app := NewApp(sess, &fakeCache{})
	ctx := context.Background()

	assert.Equal(t, "data:image/png;base64,xx", app.QR())
	assert.False(t, app.Ready())
	assert.Empty(t, app.ListChats(ctx))
	assert.NotNil(t, app.ListChats(ctx))
	assert.Empty(t, app.FetchMessages(ctx, channels.FetchMessagesQuery{ChatID: "x"}))
	assert.Empty(t, app.SearchMessages(ctx, channels.SearchQuery{Query: "x"}))
	assert.Empty(t, app.Avatar(ctx, "x"))

	_, err := app.SendMessage(ctx, "x", "hi")
	assert.ErrorIs(t, err, session.ErrNotReady)
	assert.Equal(t, 0, sess.calls)
}

func TestTransportErrorsBecomeEmpty(t *testing.T) {
	sess := ready()
	sess.err = errors.New("bridge timeout")
	app := NewApp(sess, &fakeCache{})
	ctx := context.Background()

	assert.Empty(t, app.ListChats(ctx))
	assert.Empty(t, app.FetchMessages(ctx, channels.FetchMessagesQuery{ChatID: "x"}))
	assert.Empty(t, app.Avatar(ctx, "x"))
}

func TestFetchMessagesAttachesMediaInfo(t *testing.T) {
	sess := ready()
	sess.msgs = []channels.Message{
		{ID: "T1", Body: "text"},
		{ID: "A1", HasMedia: true, Timestamp: 1000},
		{ID: "A2", HasMedia: true, Timestamp: 1001},
	}
	cache := &fakeCache{}
	app := NewApp(sess, cache)

	views := app.FetchMessages(context.Background(), channels.FetchMessagesQuery{ChatID: "123@c.us"})
	require.Len(t, views, 3)

	assert.Nil(t, views[0].MediaInfo)
	require.NotNil(t, views[1].MediaInfo)
	assert.Equal(t, "A1.jpeg", views[1].MediaInfo.Filename)
	require.NotNil(t, views[2].MediaInfo)
	assert.Equal(t, "A2.jpeg", views[2].MediaInfo.Filename)

	assert.ElementsMatch(t, []string{"A1", "A2"}, cache.ensured)
	assert.ElementsMatch(t, []string{"A1", "A2"}, cache.described)
}

func TestMessageViewJSON(t *testing.T) {
	v := MessageView{
		Message:   channels.Message{ID: "A1", HasMedia: true},
		MediaInfo: &media.Descriptor{Mimetype: "image/jpeg", Filename: "1_A1.jpeg", AlreadyCached: true},
	}
	data, err := json.Marshal(v)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "A1", out["id"])
	info := out["_mediaInfo"].(map[string]any)
	assert.Equal(t, true, info["isDownloaded"])
}

func TestSearchEmptyQuery(t *testing.T) {
	sess := ready()
	app := NewApp(sess, &fakeCache{})
	assert.Empty(t, app.SearchMessages(context.Background(), channels.SearchQuery{Query: "  "}))
	assert.Equal(t, 0, sess.calls)
}

func TestSendMessage(t *testing.T) {
	app := NewApp(ready(), &fakeCache{})

	_, err := app.SendMessage(context.Background(), "123@c.us", " ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	sent, err := app.SendMessage(context.Background(), "123@c.us", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", sent.Body)
}

func TestAvatar(t *testing.T) {
	app := NewApp(ready(), &fakeCache{})
	assert.Equal(t, "https://pps.example/a.jpg", app.Avatar(context.Background(), "123@c.us"))
}
