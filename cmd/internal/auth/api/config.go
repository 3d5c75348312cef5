package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls the account HTTP surface.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	RefreshCookieName string
	CookiePath        string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite

	// CSRF double submit for the cookie-authenticated refresh route.
	CSRFEnabled    bool
	CSRFCookieName string
	CSRFHeaderName string

	// Per-IP login budget. Zero LoginPerMinute disables limiting.
	LoginPerMinute int
	LoginBurst     int

	// RetryAfter is advertised on 503 responses.
	RetryAfter time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      64 << 10,
		RefreshCookieName: "refreshToken",
		CookiePath:        "/",
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteLaxMode,
		CSRFCookieName:    "csrfToken",
		CSRFHeaderName:    "X-CSRF-Token",
		LoginPerMinute:    10,
		LoginBurst:        5,
		RetryAfter:        5 * time.Second,
	}
}

// LoadConfigFromEnv loads Config from FILMDOMS_AUTH_* variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		TrustProxy:   envBool("FILMDOMS_AUTH_TRUST_PROXY", false),
		MaxBodyBytes: envInt64("FILMDOMS_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),

		RefreshCookieName: envString("FILMDOMS_AUTH_COOKIE_NAME", def.RefreshCookieName),
		CookiePath:        envString("FILMDOMS_AUTH_COOKIE_PATH", def.CookiePath),
		CookieDomain:      envString("FILMDOMS_AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:      envBool("FILMDOMS_AUTH_COOKIE_SECURE", def.CookieSecure),
		CookieSameSite:    parseSameSite(envString("FILMDOMS_AUTH_COOKIE_SAMESITE", "lax")),

		CSRFEnabled:    envBool("FILMDOMS_AUTH_CSRF_ENABLED", false),
		CSRFCookieName: envString("FILMDOMS_AUTH_CSRF_COOKIE_NAME", def.CSRFCookieName),
		CSRFHeaderName: envString("FILMDOMS_AUTH_CSRF_HEADER", def.CSRFHeaderName),

		LoginPerMinute: envNonNegInt("FILMDOMS_AUTH_LOGIN_RATE", def.LoginPerMinute),
		LoginBurst:     envInt("FILMDOMS_AUTH_LOGIN_BURST", def.LoginBurst),

		RetryAfter: envDuration("FILMDOMS_AUTH_RETRY_AFTER", def.RetryAfter),
	}

	// Browsers drop SameSite=None cookies that are not Secure.
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	if cfg.CSRFCookieName == cfg.RefreshCookieName {
		cfg.CSRFCookieName = cfg.RefreshCookieName + "_csrf"
	}
	return cfg
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// envNonNegInt accepts 0 as an explicit "off".
func envNonNegInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
