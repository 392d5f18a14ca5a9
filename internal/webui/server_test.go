package webui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lichas/wabridge/internal/auth"
	"github.com/Lichas/wabridge/internal/bus"
	"github.com/Lichas/wabridge/internal/channels"
	"github.com/Lichas/wabridge/internal/cron"
	"github.com/Lichas/wabridge/internal/media"
	"github.com/Lichas/wabridge/internal/service"
	"github.com/Lichas/wabridge/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu        sync.Mutex
	status    session.Status
	sendErr   error
	lastFetch channels.FetchMessagesQuery
	lastQuery channels.SearchQuery
}

func (f *fakeAPI) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeAPI) QR() string { return f.Status().QR }

func (f *fakeAPI) ListChats(context.Context) []channels.Chat {
	return []channels.Chat{{ID: "123@c.us", Name: "Alice"}}
}

func (f *fakeAPI) FetchMessages(_ context.Context, q channels.FetchMessagesQuery) []service.MessageView {
	f.mu.Lock()
	f.lastFetch = q
	f.mu.Unlock()
	return []service.MessageView{{
		Message:   channels.Message{ID: "A1", ChatID: q.ChatID, HasMedia: true},
		MediaInfo: &media.Descriptor{Mimetype: "image/jpeg", AlreadyCached: true},
	}}
}

func (f *fakeAPI) SearchMessages(_ context.Context, q channels.SearchQuery) []service.MessageView {
	f.mu.Lock()
	f.lastQuery = q
	f.mu.Unlock()
	return []service.MessageView{}
}

func (f *fakeAPI) SendMessage(_ context.Context, chatID, text string) (*channels.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, service.ErrEmptyMessage
	}
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &channels.Message{ID: "sent", ChatID: chatID, Body: text, FromMe: true}, nil
}

func (f *fakeAPI) Avatar(context.Context, string) string { return "https://pps.example/a.jpg" }

type fakeStats struct{}

func (fakeStats) Stats() media.Stats { return media.Stats{Total: 2, Ready: 1, Fetching: 1} }

type fakeCron struct{}

func (fakeCron) Status() cron.Status {
	return cron.Status{Running: true, Jobs: []cron.JobStatus{{Name: cron.JobMediaSweep}}}
}

func newTestRouter(t *testing.T, deps Deps) (*Server, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := NewServer(deps)
	return s, s.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndStatus(t *testing.T) {
	b := bus.NewBroadcaster(8)
	defer b.Close()
	api := &fakeAPI{status: session.Status{State: session.StateAwaitingScan, QR: "data:image/png;base64,AAA"}}
	_, h := newTestRouter(t, Deps{API: api, Bus: b, Media: fakeStats{}, Cron: fakeCron{}})

	w := doJSON(t, h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	wa := resp["whatsapp"].(map[string]any)
	assert.Equal(t, "qr", wa["state"])
	assert.Equal(t, float64(0), resp["subscribers"])
	assert.Equal(t, float64(0), resp["published"])
	assert.Equal(t, float64(2), resp["media"].(map[string]any)["total"])
	assert.Equal(t, true, resp["cron"].(map[string]any)["running"])
	assert.NotContains(t, resp, "bridge")

	w = doJSON(t, h, http.MethodGet, "/api/qr", nil, nil)
	assert.Equal(t, "data:image/png;base64,AAA", decode(t, w)["qr"])
}

func TestQueryEndpoints(t *testing.T) {
	api := &fakeAPI{status: session.Status{State: session.StateReady}}
	_, h := newTestRouter(t, Deps{API: api})

	w := doJSON(t, h, http.MethodGet, "/api/chats", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["chats"], 1)

	w = doJSON(t, h, http.MethodGet, "/api/chats/123@c.us/messages?limit=20&fromMe=false", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode(t, w)["messages"].([]any)
	require.Len(t, msgs, 1)
	info := msgs[0].(map[string]any)["_mediaInfo"].(map[string]any)
	assert.Equal(t, true, info["isDownloaded"])

	api.mu.Lock()
	fetch := api.lastFetch
	api.mu.Unlock()
	assert.Equal(t, "123@c.us", fetch.ChatID)
	assert.Equal(t, 20, fetch.Limit)
	require.NotNil(t, fetch.FromMe)
	assert.False(t, *fetch.FromMe)

	w = doJSON(t, h, http.MethodGet, "/api/messages/search?q=hello&chatId=123@c.us&page=2&limit=oops", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decode(t, w)["messages"])
	api.mu.Lock()
	query := api.lastQuery
	api.mu.Unlock()
	assert.Equal(t, channels.SearchQuery{Query: "hello", ChatID: "123@c.us", Page: 2}, query)

	w = doJSON(t, h, http.MethodGet, "/api/avatar/123@c.us", nil, nil)
	assert.Equal(t, "https://pps.example/a.jpg", decode(t, w)["url"])
}

func TestSendMessage(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		sendErr  error
		wantCode int
	}{
		{"ok", map[string]string{"message": "hi"}, nil, http.StatusOK},
		{"empty text", map[string]string{"message": "  "}, nil, http.StatusBadRequest},
		{"not ready", map[string]string{"message": "hi"}, session.ErrNotReady, http.StatusServiceUnavailable},
		{"transport error", map[string]string{"message": "hi"}, errors.New("bridge down"), http.StatusBadGateway},
		{"bad body", "not an object", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{sendErr: tt.sendErr}
			_, h := newTestRouter(t, Deps{API: api})
			w := doJSON(t, h, http.MethodPost, "/api/chats/123@c.us/messages", tt.body, nil)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode == http.StatusOK {
				msg := decode(t, w)["message"].(map[string]any)
				assert.Equal(t, "hi", msg["body"])
				assert.Equal(t, "123@c.us", msg["chatId"])
			}
		})
	}
}

func TestTokenProtectedAPI(t *testing.T) {
	cfg := auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "wabridge"}
	_, h := newTestRouter(t, Deps{API: &fakeAPI{}, TokenConfig: cfg})

	w := doJSON(t, h, http.MethodGet, "/api/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	tok, err := auth.CreateToken("dashboard", cfg)
	require.NoError(t, err)
	w = doJSON(t, h, http.MethodGet, "/api/status", nil, http.Header{"Authorization": {"Bearer " + tok}})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/qr?token="+tok, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	other, err := auth.CreateToken("dashboard", auth.TokenConfig{Secret: "other", Expiry: time.Hour, Issuer: "wabridge"})
	require.NoError(t, err)
	w = doJSON(t, h, http.MethodGet, "/api/status", nil, http.Header{"Authorization": {"Bearer " + other}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORS(t *testing.T) {
	_, h := newTestRouter(t, Deps{API: &fakeAPI{}, AllowOrigins: []string{"http://localhost:5173"}})

	w := doJSON(t, h, http.MethodOptions, "/api/chats", nil, http.Header{"Origin": {"http://localhost:5173"}})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	w = doJSON(t, h, http.MethodGet, "/health", nil, http.Header{"Origin": {"http://evil.example"}})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	assert.True(t, originAllowed(nil, "http://any.example"))
	assert.True(t, originAllowed([]string{"*"}, "http://any.example"))
	assert.True(t, originAllowed([]string{"http://a"}, ""))
	assert.False(t, originAllowed([]string{"http://a"}, "http://b"))
}

func TestStaticMedia(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "123_c_us")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1000_A1.jpeg"), []byte("jpeg-bytes"), 0644))

	_, h := newTestRouter(t, Deps{API: &fakeAPI{}, MediaRoot: root, PublicPrefix: "/media"})

	w := doJSON(t, h, http.MethodGet, "/media/123_c_us/1000_A1.jpeg", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jpeg-bytes", w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/media/123_c_us/missing.jpeg", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebSocketSubscriber(t *testing.T) {
	b := bus.NewBroadcaster(8)
	defer b.Close()
	api := &fakeAPI{status: session.Status{State: session.StateInitializing}}
	_, h := newTestRouter(t, Deps{API: api, Bus: b})

	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent := func() bus.Event {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var evt bus.Event
		require.NoError(t, json.Unmarshal(data, &evt))
		return evt
	}

	first := readEvent()
	assert.Equal(t, bus.EventStatus, first.Name)
	assert.Equal(t, map[string]any{"state": "initializing"}, first.Payload)
	assert.NotEmpty(t, first.ID)

	require.Eventually(t, func() bool { return b.Count() == 1 }, time.Second, 10*time.Millisecond)
	b.Publish(bus.EventReady, nil)
	evt := readEvent()
	assert.Equal(t, bus.EventReady, evt.Name)
	assert.Nil(t, evt.Payload)

	_ = conn.Close()
	require.Eventually(t, func() bool { return b.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSocketIORouted(t *testing.T) {
	b := bus.NewBroadcaster(8)
	defer b.Close()
	_, h := newTestRouter(t, Deps{API: &fakeAPI{}, Bus: b})

	w := doJSON(t, h, http.MethodGet, "/socket.io/?EIO=4&transport=polling", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Transport unknown")
}
