package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"filmdoms/cmd/internal/auth/session"
)

// Sessions is the session behavior the HTTP layer drives.
// *session.Service satisfies it.
type Sessions interface {
	Login(ctx context.Context, now time.Time, email, password string, dev session.DeviceContext) (session.Issued, error)
	Refresh(ctx context.Context, now time.Time, refreshValue string, dev session.DeviceContext) (session.Issued, error)
	Logout(ctx context.Context, now time.Time, refreshValue string) error
	LogoutAll(ctx context.Context, now time.Time, accountID string) (int, error)
	AuthorizeRequest(raw string, now time.Time) (session.AccessClaims, error)
}

// Handler serves the /api/v1/account routes.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions Sessions
	audit    Auditor
	metrics  *Metrics
	limiter  *ipRateLimiter

	now func() time.Time
}

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*Handler)

// WithAuditor replaces the default log-backed auditor.
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.audit = a
		}
	}
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, sessions Sessions, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("api: nil session service")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = DefaultConfig().RetryAfter
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		audit:    LogAuditor{Log: log},
		limiter:  newIPRateLimiter(cfg.LoginPerMinute, cfg.LoginBurst),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires the account routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/account/login", h.handleLogin)
	mux.HandleFunc("POST /api/v1/account/refresh-token", h.handleRefresh)
	mux.HandleFunc("POST /api/v1/account/logout", h.handleLogout)
	mux.Handle("POST /api/v1/account/logout-all", h.RequireAuth(http.HandlerFunc(h.handleLogoutAll)))
	mux.Handle("GET /api/v1/account/session", h.RequireAuth(http.HandlerFunc(h.handleSession)))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "email and password are required")
		return
	}

	ctx := r.Context()
	now := h.now()
	dev := h.device(r)

	if ok, retry := h.limiter.allow(ipKey(dev.IP), now); !ok {
		h.metrics.login(CodeTooManyRequests)
		h.audit.Audit(ctx, AuditEvent{Action: AuditLoginLimited, IP: dev.IP, UserAgent: dev.UserAgent,
			Meta: map[string]any{"retry_after_s": int64(retry.Seconds())}})
		writeRetryAfter(w, http.StatusTooManyRequests, CodeTooManyRequests, "too many attempts", retry)
		return
	}

	issued, err := h.sessions.Login(ctx, now, email, req.Password, dev)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			h.audit.Audit(ctx, AuditEvent{Action: AuditLoginFailed, IP: dev.IP, UserAgent: dev.UserAgent})
		}
		h.metrics.login(h.writeSessionError(w, r, "auth.login.fail", err))
		return
	}

	if err := h.setSessionCookies(w, issued.RefreshToken, issued.RefreshExp); err != nil {
		h.log.ErrorContext(ctx, "auth.login.cookie.fail", "err", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
		return
	}

	h.metrics.login(CodeSuccess)
	h.audit.Audit(ctx, AuditEvent{Action: AuditLoginSuccess, AccountID: issued.AccountID, IP: dev.IP, UserAgent: dev.UserAgent,
		Meta: map[string]any{"session_id": issued.SessionID}})
	writeSuccess(w, accessTokenResponse{AccessToken: issued.AccessToken, AccessTokenExpiresAt: issued.AccessExp})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := h.refreshTokenFromCookie(r)
	if refreshToken == "" {
		h.metrics.refresh(CodeTokenNotFound)
		writeError(w, http.StatusUnauthorized, CodeTokenNotFound, "refresh token not found")
		return
	}
	if !h.csrfDoubleSubmitValid(r) {
		h.metrics.refresh(CodeCSRFInvalid)
		writeError(w, http.StatusForbidden, CodeCSRFInvalid, "missing or invalid csrf token")
		return
	}

	ctx := r.Context()
	dev := h.device(r)

	issued, err := h.sessions.Refresh(ctx, h.now(), refreshToken, dev)
	if err != nil {
		var reuse *session.ReuseError
		if errors.As(err, &reuse) {
			h.metrics.reuseDetected()
			h.audit.Audit(ctx, AuditEvent{Action: AuditRefreshReuse, AccountID: reuse.AccountID, IP: dev.IP, UserAgent: dev.UserAgent,
				Meta: map[string]any{"family_id": reuse.FamilyID}})
		}
		if !errors.Is(err, session.ErrUnavailable) {
			h.clearSessionCookies(w)
		}
		h.metrics.refresh(h.writeSessionError(w, r, "auth.refresh.fail", err))
		return
	}

	if err := h.setSessionCookies(w, issued.RefreshToken, issued.RefreshExp); err != nil {
		h.log.ErrorContext(ctx, "auth.refresh.cookie.fail", "err", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
		return
	}

	h.metrics.refresh(CodeSuccess)
	h.audit.Audit(ctx, AuditEvent{Action: AuditRefreshSuccess, AccountID: issued.AccountID, IP: dev.IP, UserAgent: dev.UserAgent,
		Meta: map[string]any{"session_id": issued.SessionID}})
	writeSuccess(w, accessTokenResponse{AccessToken: issued.AccessToken, AccessTokenExpiresAt: issued.AccessExp})
}

// handleLogout always answers SUCCESS. A store outage is logged only.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dev := h.device(r)

	if err := h.sessions.Logout(ctx, h.now(), h.refreshTokenFromCookie(r)); err != nil {
		h.log.WarnContext(ctx, "auth.logout.fail", "err", err)
	}

	h.metrics.logout("single")
	h.audit.Audit(ctx, AuditEvent{Action: AuditLogout, IP: dev.IP, UserAgent: dev.UserAgent})
	h.clearSessionCookies(w)
	writeSuccess(w, nil)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	ctx := r.Context()
	dev := h.device(r)

	n, err := h.sessions.LogoutAll(ctx, h.now(), claims.AccountID)
	if err != nil {
		h.writeSessionError(w, r, "auth.logout_all.fail", err)
		return
	}

	h.metrics.logout("all")
	h.audit.Audit(ctx, AuditEvent{Action: AuditLogoutAll, AccountID: claims.AccountID, IP: dev.IP, UserAgent: dev.UserAgent,
		Meta: map[string]any{"revoked": n}})
	h.clearSessionCookies(w)
	writeSuccess(w, logoutAllResponse{Revoked: n})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	writeSuccess(w, sessionResponse{
		AccountID: claims.AccountID,
		Role:      string(claims.Role),
		ExpiresAt: claims.ExpiresAt,
	})
}

// writeSessionError maps a session error to its HTTP response and returns
// the result code it wrote.
func (h *Handler) writeSessionError(w http.ResponseWriter, r *http.Request, event string, err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "invalid credentials")
		return CodeInvalidCredentials
	case errors.Is(err, session.ErrTokenNotFound):
		writeError(w, http.StatusUnauthorized, CodeTokenNotFound, "token not found")
		return CodeTokenNotFound
	case errors.Is(err, session.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, CodeTokenRevoked, "token revoked")
		return CodeTokenRevoked
	case errors.Is(err, session.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, CodeTokenExpired, "token expired")
		return CodeTokenExpired
	case errors.Is(err, session.ErrTokenMalformed):
		writeError(w, http.StatusUnauthorized, CodeTokenMalformed, "token malformed")
		return CodeTokenMalformed
	case errors.Is(err, session.ErrUnavailable):
		h.log.ErrorContext(r.Context(), event, "err", err)
		writeRetryAfter(w, http.StatusServiceUnavailable, CodeUnavailable, "please retry later", h.cfg.RetryAfter)
		return CodeUnavailable
	default:
		h.log.ErrorContext(r.Context(), event, "err", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
		return CodeInternal
	}
}

func (h *Handler) device(r *http.Request) session.DeviceContext {
	return session.DeviceContext{
		UserAgent: session.CleanUserAgent(r.UserAgent()),
		IP:        clientIP(r, h.cfg.TrustProxy),
	}
}

func ipKey(ip net.IP) string {
	if ip == nil {
		return "unknown"
	}
	return ip.String()
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
