package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"filmdoms/cmd/internal/auth/session"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions.
const (
	AuditLoginSuccess   = "auth.login.success"
	AuditLoginFailed    = "auth.login.failed"
	AuditLoginLimited   = "auth.login.rate_limited"
	AuditRefreshSuccess = "auth.refresh.success"
	AuditRefreshReuse   = "auth.refresh.reuse_detected"
	AuditLogout         = "auth.logout"
	AuditLogoutAll      = "auth.logout_all"
)

const (
	auditWriteTimeout    = 2 * time.Second
	maxAuditUserAgentLen = 512
)

// AuditEvent is one security-relevant account event.
type AuditEvent struct {
	Action    string
	AccountID string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
}

// Auditor records audit events. Implementations must not fail the request.
type Auditor interface {
	Audit(ctx context.Context, ev AuditEvent)
}

// LogAuditor writes audit events to a structured logger.
type LogAuditor struct {
	Log *slog.Logger
}

func (a LogAuditor) Audit(ctx context.Context, ev AuditEvent) {
	if a.Log == nil {
		return
	}
	attrs := []any{"action", ev.Action}
	if ev.AccountID != "" {
		attrs = append(attrs, "account_id", ev.AccountID)
	}
	if ev.IP != nil {
		attrs = append(attrs, "ip", ev.IP.String())
	}
	for k, v := range ev.Meta {
		attrs = append(attrs, k, v)
	}
	a.Log.InfoContext(ctx, "audit", attrs...)
}

var auditIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresAuditor inserts audit events into the audit_log table.
type PostgresAuditor struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

// NewPostgresAuditor builds an auditor writing to schema.audit_log.
// Insert failures are logged through log.
func NewPostgresAuditor(pool *pgxpool.Pool, schema string, log *slog.Logger) (*PostgresAuditor, error) {
	if pool == nil {
		return nil, errors.New("audit: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if !auditIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("audit: invalid schema identifier %q", schema)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &PostgresAuditor{
		pool:  pool,
		table: pgx.Identifier{schema, "audit_log"}.Sanitize(),
		log:   log,
	}, nil
}

func (a *PostgresAuditor) Audit(ctx context.Context, ev AuditEvent) {
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return
	}

	meta := "{}"
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			meta = string(b)
		}
	}

	// A client hanging up must not drop the audit row.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	_, err := a.pool.Exec(ctx, `
		INSERT INTO `+a.table+` (action, account_id, ip, user_agent, meta)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`, action, trimOrNil(ev.AccountID), ipOrNil(ev.IP), trimOrNil(truncate(ev.UserAgent, maxAuditUserAgentLen)), meta)
	if err != nil {
		a.log.ErrorContext(ctx, "auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}

func ipOrNil(ip net.IP) any {
	if ip == nil {
		return nil
	}
	return ip.String()
}

func truncate(s string, n int) string {
	return session.TruncateUTF8(s, n)
}
