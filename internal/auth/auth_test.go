package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/secret"
	"github.com/modelgate/modelgate/internal/secret/env"
)

func testSecrets(t *testing.T) *secret.Manager {
	t.Helper()
	m := secret.NewManager()
	m.Register(secret.SchemeEnv, env.New())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	t.Setenv("GATE_KEY_ALICE", "sk-alice-secret")
	t.Setenv("GATE_KEY_BOB", "sk-bob-secret")
	t.Setenv("GATE_JWT_SECRET", "jwt-signing-secret")

	a, err := NewAuthenticator(context.Background(), config.AuthConfig{
		Enabled: true,
		APIKeys: []config.APIKeyEntry{
			{KeyEnv: "GATE_KEY_ALICE", CallerID: "alice", Role: "admin"},
			{KeyEnv: "GATE_KEY_BOB", CallerID: "bob"},
		},
		JWT: config.JWTConfig{SecretEnv: "GATE_JWT_SECRET", Issuer: "modelgate"},
	}, testSecrets(t), testLogger())
	require.NoError(t, err)
	return a
}

func signToken(t *testing.T, secretKey string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secretKey))
	require.NoError(t, err)
	return token
}

func TestParseBearer(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"bearer prefix", "Bearer sk-123", "sk-123", false},
		{"bare token", "sk-123", "sk-123", false},
		{"padded", "  Bearer sk-123  ", "sk-123", false},
		{"empty", "", "", true},
		{"empty bearer", "Bearer   ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBearer(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "***", MaskKey("short"))
	assert.Equal(t, "sk-alice...cret", MaskKey("sk-alice-secret"))
}

func TestAuthenticateStaticKeys(t *testing.T) {
	a := testAuthenticator(t)

	id, err := a.Authenticate("sk-alice-secret")
	require.NoError(t, err)
	assert.Equal(t, Identity{CallerID: "alice", Role: "admin"}, id)
	assert.True(t, id.IsAdmin())

	id, err = a.Authenticate("sk-bob-secret")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, id.Role)
	assert.False(t, id.IsAdmin())

	_, err = a.Authenticate("sk-wrong")
	assert.Error(t, err)
}

func TestAuthenticateJWT(t *testing.T) {
	a := testAuthenticator(t)
	now := time.Now()

	valid := signToken(t, "jwt-signing-secret", jwt.MapClaims{
		"sub": "carol", "role": "admin", "iss": "modelgate",
		"exp": now.Add(time.Hour).Unix(),
	})
	id, err := a.Authenticate(valid)
	require.NoError(t, err)
	assert.Equal(t, Identity{CallerID: "carol", Role: "admin"}, id)

	noRole := signToken(t, "jwt-signing-secret", jwt.MapClaims{
		"sub": "dave", "iss": "modelgate", "exp": now.Add(time.Hour).Unix(),
	})
	id, err = a.Authenticate(noRole)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, id.Role)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, "other-secret", jwt.MapClaims{
			"sub": "eve", "iss": "modelgate", "exp": now.Add(time.Hour).Unix(),
		})},
		{"expired", signToken(t, "jwt-signing-secret", jwt.MapClaims{
			"sub": "eve", "iss": "modelgate", "exp": now.Add(-time.Hour).Unix(),
		})},
		{"wrong issuer", signToken(t, "jwt-signing-secret", jwt.MapClaims{
			"sub": "eve", "iss": "someone-else", "exp": now.Add(time.Hour).Unix(),
		})},
		{"no expiry", signToken(t, "jwt-signing-secret", jwt.MapClaims{
			"sub": "eve", "iss": "modelgate",
		})},
		{"no subject", signToken(t, "jwt-signing-secret", jwt.MapClaims{
			"iss": "modelgate", "exp": now.Add(time.Hour).Unix(),
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestNewAuthenticatorUnresolvableKey(t *testing.T) {
	_, err := NewAuthenticator(context.Background(), config.AuthConfig{
		Enabled: true,
		APIKeys: []config.APIKeyEntry{
			{KeyEnv: "GATE_KEY_DOES_NOT_EXIST", CallerID: "ghost"},
		},
	}, testSecrets(t), testLogger())
	assert.Error(t, err)
}

func TestMiddlewareAttachesIdentity(t *testing.T) {
	a := testAuthenticator(t)

	var got Identity
	var ok bool
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = IdentityFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/completion", nil)
	req.Header.Set("Authorization", "Bearer sk-alice-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, ok)
	assert.Equal(t, "alice", got.CallerID)
}

func TestMiddlewareRejectsBadCredentials(t *testing.T) {
	a := testAuthenticator(t)
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	for _, header := range []string{"", "Bearer sk-wrong"} {
		req := httptest.NewRequest(http.MethodPost, "/completion", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"type":"authentication"`)
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	a, err := NewAuthenticator(context.Background(), config.AuthConfig{}, testSecrets(t), testLogger())
	require.NoError(t, err)

	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := IdentityFrom(r.Context())
		assert.False(t, ok, "no identity when auth is disabled")
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/completion", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterEnforcesBurst(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	defer rl.Close()

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))

	// Other callers have their own bucket.
	assert.True(t, rl.Allow("bob"))
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	defer rl.Close()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/completion", nil)
	req = req.WithContext(WithIdentity(req.Context(), Identity{CallerID: "alice"}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"type":"rate_limit"`)
}
