package api

import (
	"net/http"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg := LoadConfigFromEnv()

	if cfg.RefreshCookieName != "refreshToken" {
		t.Fatalf("cookie name=%q want refreshToken", cfg.RefreshCookieName)
	}
	if !cfg.CookieSecure || cfg.CookieSameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie defaults: secure=%v samesite=%v", cfg.CookieSecure, cfg.CookieSameSite)
	}
	if cfg.CSRFEnabled {
		t.Fatalf("csrf must be off by default")
	}
	if cfg.LoginPerMinute != 10 || cfg.LoginBurst != 5 {
		t.Fatalf("login rate=%d/%d", cfg.LoginPerMinute, cfg.LoginBurst)
	}
}

func TestLoadConfigFromEnv_CookieGuardrails(t *testing.T) {
	t.Setenv("FILMDOMS_AUTH_COOKIE_NAME", "rt")
	t.Setenv("FILMDOMS_AUTH_CSRF_COOKIE_NAME", "rt")
	t.Setenv("FILMDOMS_AUTH_COOKIE_SAMESITE", "none")
	t.Setenv("FILMDOMS_AUTH_COOKIE_SECURE", "false")

	cfg := LoadConfigFromEnv()

	if cfg.CSRFCookieName == cfg.RefreshCookieName {
		t.Fatalf("csrf cookie name must differ from refresh cookie name")
	}
	if cfg.CookieSameSite != http.SameSiteNoneMode {
		t.Fatalf("expected SameSite=None, got %v", cfg.CookieSameSite)
	}
	if !cfg.CookieSecure {
		t.Fatalf("SameSite=None requires Secure=true")
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("FILMDOMS_AUTH_LOGIN_RATE", "0")
	t.Setenv("FILMDOMS_AUTH_RETRY_AFTER", "30s")
	t.Setenv("FILMDOMS_AUTH_CSRF_ENABLED", "true")
	t.Setenv("FILMDOMS_AUTH_MAX_BODY_BYTES", "-1")

	cfg := LoadConfigFromEnv()

	if cfg.LoginPerMinute != 0 {
		t.Fatalf("expected limiter disabled, got %d", cfg.LoginPerMinute)
	}
	if cfg.RetryAfter != 30*time.Second {
		t.Fatalf("retry after=%v", cfg.RetryAfter)
	}
	if !cfg.CSRFEnabled {
		t.Fatalf("expected csrf enabled")
	}
	if cfg.MaxBodyBytes != DefaultConfig().MaxBodyBytes {
		t.Fatalf("invalid body limit must fall back to default, got %d", cfg.MaxBodyBytes)
	}
}

func TestParseSameSite(t *testing.T) {
	tests := []struct {
		in   string
		want http.SameSite
	}{
		{in: "strict", want: http.SameSiteStrictMode},
		{in: "Lax", want: http.SameSiteLaxMode},
		{in: "none", want: http.SameSiteNoneMode},
		{in: "default", want: http.SameSiteDefaultMode},
		{in: "unknown", want: http.SameSiteLaxMode},
	}

	for _, tc := range tests {
		got := parseSameSite(tc.in)
		if got != tc.want {
			t.Fatalf("parseSameSite(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}
