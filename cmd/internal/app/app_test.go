package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"filmdoms/cmd/account"
	"filmdoms/cmd/security/password"
)

func setAppEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FILMDOMS_PASETO_V4_SECRET_KEY_HEX", paseto.NewV4AsymmetricSecretKey().ExportHex())
	t.Setenv("FILMDOMS_AUTH_TOKEN_FORMAT", "paseto")
	t.Setenv("FILMDOMS_TOKEN_HMAC_KEY", strings.Repeat("k", 32))
	t.Setenv("FILMDOMS_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("FILMDOMS_ARGON2_ITERATIONS", "1")
	t.Setenv("FILMDOMS_ARGON2_PARALLELISM", "1")
}

func memoryConfig() Config {
	return Config{
		HTTPAddr:       "127.0.0.1:0",
		LogFormat:      "json",
		DBSchema:       "public",
		SessionStore:   StoreMemory,
		MetricsEnabled: true,
	}
}

func testAccounts(t *testing.T) *account.MemoryStore {
	t.Helper()
	pw, err := password.FromEnv()
	require.NoError(t, err)
	hash, err := pw.Hash("film-pass")
	require.NoError(t, err)
	return account.NewMemoryStore(account.Account{
		ID:           "acc-1",
		Email:        "critic@filmdoms.test",
		PasswordHash: hash,
		Role:         account.RoleUser,
	})
}

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	a, err := New(context.Background(), cfg, log, WithAccountFinder(testAccounts(t)))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestApp_HealthAndReady(t *testing.T) {
	setAppEnv(t)
	a := newTestApp(t, memoryConfig())

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rr.Code, path)
		require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	}
}

func TestApp_ReadyRequiresDB(t *testing.T) {
	setAppEnv(t)
	cfg := memoryConfig()
	cfg.ReadinessRequireDB = true
	a := newTestApp(t, cfg)

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestApp_LoginThroughFullStack(t *testing.T) {
	setAppEnv(t)
	a := newTestApp(t, memoryConfig())

	body := strings.NewReader(`{"email":"critic@filmdoms.test","password":"film-pass"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/account/login", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var env struct {
		ResultCode string `json:"resultCode"`
		Result     struct {
			AccessToken string `json:"accessToken"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, "SUCCESS", env.ResultCode)
	require.True(t, strings.HasPrefix(env.Result.AccessToken, "v4.public."))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/account/session", nil)
	req.Header.Set("Authorization", "Bearer "+env.Result.AccessToken)
	rr = httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"accountId":"acc-1"`)

	rr = httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	metrics := rr.Body.String()
	require.Contains(t, metrics, `filmdoms_auth_logins_total{result="SUCCESS"} 1`)
	require.Contains(t, metrics, `filmdoms_http_requests_total{code="200",method="POST",route="POST /api/v1/account/login"} 1`)
}

func TestApp_MetricsDisabled(t *testing.T) {
	setAppEnv(t)
	cfg := memoryConfig()
	cfg.MetricsEnabled = false
	a := newTestApp(t, cfg)

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestApp_RedisSessionStore(t *testing.T) {
	setAppEnv(t)
	mr := miniredis.RunT(t)

	cfg := memoryConfig()
	cfg.SessionStore = StoreRedis
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.RedisKeyPrefix = "test:"
	a := newTestApp(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/account/login",
		strings.NewReader(`{"email":"critic@filmdoms.test","password":"film-pass"}`))
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var found bool
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, "test:rt:") {
			found = true
		}
	}
	require.True(t, found, "refresh record must land in redis: %v", mr.Keys())

	rr = httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	mr.Close()
	rr = httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestApp_ConfigErrors(t *testing.T) {
	setAppEnv(t)
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))

	cfg := memoryConfig()
	cfg.SessionStore = StorePostgres
	_, err := New(context.Background(), cfg, log)
	require.ErrorIs(t, err, ErrConfig)

	t.Setenv("FILMDOMS_TOKEN_HMAC_KEY", "short")
	_, err = New(context.Background(), memoryConfig(), log)
	require.ErrorIs(t, err, ErrConfig)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	setAppEnv(t)
	a := newTestApp(t, memoryConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)
}
