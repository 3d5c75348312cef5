package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

// parseCookieHeader maps cookie names to values across every Cookie header
// line. The first occurrence of a name wins; malformed pairs are skipped.
func parseCookieHeader(h http.Header) map[string]string {
	out := make(map[string]string)
	for _, line := range h.Values("Cookie") {
		for _, part := range strings.Split(line, ";") {
			name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				continue
			}
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, seen := out[name]; seen {
				continue
			}
			value = strings.TrimSpace(value)
			if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
				value = value[1 : len(value)-1]
			}
			out[name] = value
		}
	}
	return out
}

func (h *Handler) refreshTokenFromCookie(r *http.Request) string {
	return parseCookieHeader(r.Header)[h.cfg.RefreshCookieName]
}

func (h *Handler) setSessionCookies(w http.ResponseWriter, refreshToken string, exp time.Time) error {
	h.setCookie(w, h.cfg.RefreshCookieName, refreshToken, exp, true)
	if !h.cfg.CSRFEnabled {
		return nil
	}
	csrf, err := newOpaqueWebToken(32)
	if err != nil {
		return err
	}
	h.setCookie(w, h.cfg.CSRFCookieName, csrf, exp, false)
	return nil
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	h.expireCookie(w, h.cfg.RefreshCookieName, true)
	if h.cfg.CSRFEnabled {
		h.expireCookie(w, h.cfg.CSRFCookieName, false)
	}
}

// csrfDoubleSubmitValid compares the CSRF header with the CSRF cookie.
// It always passes when CSRF protection is disabled.
func (h *Handler) csrfDoubleSubmitValid(r *http.Request) bool {
	if !h.cfg.CSRFEnabled {
		return true
	}
	cv := parseCookieHeader(r.Header)[h.cfg.CSRFCookieName]
	hv := strings.TrimSpace(r.Header.Get(h.cfg.CSRFHeaderName))
	return secureStringEqual(cv, hv)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, exp time.Time, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func (h *Handler) expireCookie(w http.ResponseWriter, name string, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func newOpaqueWebToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func secureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
