package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Lichas/wabridge/internal/auth"
	"github.com/Lichas/wabridge/internal/channels"
	"github.com/Lichas/wabridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "wabridge v"+version)
}

func TestWaitForPairing(t *testing.T) {
	tests := []struct {
		name    string
		events  []channels.Event
		close   bool
		wantErr string
	}{
		{
			name: "qr then ready",
			events: []channels.Event{
				{Type: channels.EventQR, QR: "2@abc"},
				{Type: channels.EventQR, QR: "2@abc"},
				{Type: channels.EventAuthenticated},
				{Type: channels.EventLoading, Percent: 50, Text: "WhatsApp"},
				{Type: channels.EventReady},
			},
		},
		{
			name:    "auth failure",
			events:  []channels.Event{{Type: channels.EventAuthFailure, Reason: "bad session"}},
			wantErr: "authentication failed: bad session",
		},
		{
			name:    "disconnected",
			events:  []channels.Event{{Type: channels.EventDisconnected, Reason: "NAVIGATION"}},
			wantErr: "bridge disconnected: NAVIGATION",
		},
		{
			name:    "stream closed",
			close:   true,
			wantErr: "bridge connection closed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan channels.Event, len(tt.events))
			for _, e := range tt.events {
				ch <- e
			}
			if tt.close {
				close(ch)
			}

			var out bytes.Buffer
			err := waitForPairing(context.Background(), ch, &out)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("Scan this QR code")))
			assert.Contains(t, out.String(), "loading 50%")
			assert.Contains(t, out.String(), "WhatsApp connected")
		})
	}
}

func TestWaitForPairingTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := waitForPairing(ctx, make(chan channels.Event), &bytes.Buffer{})
	assert.EqualError(t, err, "timeout waiting for QR/connection")
}

func TestLocalURL(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, "http://127.0.0.1:3100", localURL(cfg))

	cfg.Server.Host = "192.168.1.10"
	cfg.Server.Port = 8080
	assert.Equal(t, "http://192.168.1.10:8080", localURL(cfg))
}

func TestFetchServerStatus(t *testing.T) {
	tokenCfg := auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: tokenIssuer}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := auth.TokenFromRequest(r)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if _, err := auth.VerifyToken(tok, tokenCfg); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/api/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"whatsapp":{"state":"ready"},"subscribers":2,"published":41,"media":{"total":3,"ready":3}}`))
	}))
	defer srv.Close()

	status, err := fetchServerStatus(context.Background(), srv.URL, tokenCfg)
	require.NoError(t, err)
	assert.Equal(t, "ready", status.WhatsApp.State)
	assert.Equal(t, 2, status.Subscribers)
	assert.Equal(t, uint64(41), status.Published)
	require.NotNil(t, status.Media)
	assert.Equal(t, 3, status.Media.Ready)

	_, err = fetchServerStatus(context.Background(), srv.URL, auth.TokenConfig{})
	assert.ErrorContains(t, err, "status 401")
}

func TestTokenConfigFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.False(t, tokenConfig(cfg).Enabled())

	cfg.Server.Secret = "s3cret"
	cfg.Server.TokenExpiryHours = 2
	tc := tokenConfig(cfg)
	assert.True(t, tc.Enabled())
	assert.Equal(t, 2*time.Hour, tc.Expiry)
	assert.Equal(t, "wabridge", tc.Issuer)
}
