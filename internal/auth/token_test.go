package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() TokenConfig {
	return TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "wabridge"}
}

func TestCreateAndVerifyToken(t *testing.T) {
	tok, err := CreateToken("dashboard", testConfig())
	require.NoError(t, err)

	claims, err := VerifyToken(tok, testConfig())
	require.NoError(t, err)
	assert.Equal(t, "dashboard", claims.Subject)
	assert.Equal(t, "wabridge", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestVerifyTokenRejects(t *testing.T) {
	tok, err := CreateToken("dashboard", testConfig())
	require.NoError(t, err)

	wrongSecret := testConfig()
	wrongSecret.Secret = "other"
	_, err = VerifyToken(tok, wrongSecret)
	assert.Error(t, err)

	wrongIssuer := testConfig()
	wrongIssuer.Issuer = "someone-else"
	_, err = VerifyToken(tok, wrongIssuer)
	assert.Error(t, err)

	_, err = VerifyToken("not-a-token", testConfig())
	assert.Error(t, err)

	_, err = VerifyToken(tok, TokenConfig{})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestCreateTokenValidation(t *testing.T) {
	_, err := CreateToken("x", TokenConfig{Expiry: time.Hour})
	assert.ErrorIs(t, err, ErrMissingSecret)

	_, err = CreateToken("", testConfig())
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Expiry = -time.Second
	_, err = CreateToken("x", cfg)
	assert.Error(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
		ok     bool
	}{
		{"bearer header", "Bearer abc", "", "abc", true},
		{"lowercase scheme", "bearer abc", "", "abc", true},
		{"query fallback", "", "?token=xyz", "xyz", true},
		{"wrong scheme", "Basic abc", "", "", false},
		{"missing", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/status"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := TokenFromRequest(r)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrMissingToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnabled(t *testing.T) {
	assert.False(t, TokenConfig{}.Enabled())
	assert.True(t, testConfig().Enabled())
}
