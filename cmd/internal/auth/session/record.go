package session

import (
	"context"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"filmdoms/cmd/account"
)

// State is the lifecycle state of a refresh-token record.
type State string

const (
	StateActive  State = "ACTIVE"
	StateRotated State = "ROTATED"
	StateRevoked State = "REVOKED"
	// StateExpired is derived: never revoked, but past ExpiresAt.
	StateExpired State = "EXPIRED"
)

// Revocation reasons stored with revoked records.
const (
	ReasonRotated       = "rotated"
	ReasonLogout        = "logout"
	ReasonLogoutAll     = "logout_all"
	ReasonReuseDetected = "reuse_detected"
)

// DeviceContext describes the client presenting a token.
type DeviceContext struct {
	UserAgent string
	IP        net.IP
}

// MaxUserAgentLen bounds the stored user agent in bytes.
const MaxUserAgentLen = 512

// CleanUserAgent drops invalid UTF-8, trims surrounding space and cuts
// the result to MaxUserAgentLen on a rune boundary.
func CleanUserAgent(s string) string {
	return TruncateUTF8(strings.TrimSpace(strings.ToValidUTF8(s, "")), MaxUserAgentLen)
}

// TruncateUTF8 returns at most n bytes of s without splitting a rune.
// Invalid sequences in s are dropped first.
func TruncateUTF8(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (d DeviceContext) clean() DeviceContext {
	d.UserAgent = CleanUserAgent(d.UserAgent)
	return d
}

// Record is the persisted state of one refresh token. The token value
// itself is never stored; TokenHash is its keyed digest.
type Record struct {
	ID        string
	FamilyID  string
	AccountID string
	Role      account.Role
	TokenHash string

	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time

	// ReplacedByID is set when the record was retired by rotation.
	ReplacedByID     string
	RevocationReason string

	UserAgent string
	IP        net.IP
}

// State reports the record state at now.
func (r Record) State(now time.Time) State {
	switch {
	case r.RevokedAt != nil && r.ReplacedByID != "":
		return StateRotated
	case r.RevokedAt != nil:
		return StateRevoked
	case !now.Before(r.ExpiresAt):
		return StateExpired
	default:
		return StateActive
	}
}

// Successor describes the record created by a rotation. Account, role and
// family are inherited from the predecessor by the store.
type Successor struct {
	ID        string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Device    DeviceContext
}

// Store persists refresh-token records.
//
// Rotate must be an atomic conditional transition on the record addressed by
// tokenHash: of N concurrent calls for the same hash exactly one succeeds and
// the rest observe the record already rotated. Implementations must not
// serialize unrelated hashes behind a shared lock.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Lookup(ctx context.Context, tokenHash string) (Record, error)
	Rotate(ctx context.Context, now time.Time, tokenHash string, next Successor) (prev Record, created Record, err error)

	// Revoke is idempotent; unknown hashes are not an error.
	Revoke(ctx context.Context, now time.Time, tokenHash, reason string) error
	RevokeFamily(ctx context.Context, now time.Time, familyID, reason string) (int, error)
	RevokeAccount(ctx context.Context, now time.Time, accountID, reason string) (int, error)

	// PurgeExpired deletes records whose ExpiresAt is before the cutoff.
	PurgeExpired(ctx context.Context, before time.Time) (int, error)
}

// checkRotatable applies the rotation preconditions in order:
// revoked (reuse when rotated), then expired.
func checkRotatable(rec Record, now time.Time) error {
	if rec.RevokedAt != nil {
		if rec.ReplacedByID != "" {
			return &ReuseError{RecordID: rec.ID, FamilyID: rec.FamilyID, AccountID: rec.AccountID}
		}
		return ErrTokenRevoked
	}
	if !now.Before(rec.ExpiresAt) {
		return ErrTokenExpired
	}
	return nil
}

// successorRecord builds the record a rotation of prev creates.
func successorRecord(prev Record, next Successor) Record {
	return Record{
		ID:        next.ID,
		FamilyID:  prev.FamilyID,
		AccountID: prev.AccountID,
		Role:      prev.Role,
		TokenHash: next.TokenHash,
		IssuedAt:  next.IssuedAt,
		ExpiresAt: next.ExpiresAt,
		UserAgent: next.Device.UserAgent,
		IP:        next.Device.IP,
	}
}

// retire returns prev marked revoked at now.
func retire(prev Record, now time.Time, replacedBy, reason string) Record {
	t := now
	prev.RevokedAt = &t
	prev.ReplacedByID = replacedBy
	prev.RevocationReason = reason
	return prev
}
