package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"filmdoms/cmd/account"
	"filmdoms/cmd/ids"
	"filmdoms/cmd/security/token"
)

// maxRefreshTokenLen bounds presented values before hashing.
const maxRefreshTokenLen = 512

// RefreshToken is a freshly minted token value with its record. Value must
// reach the client exactly once and never be logged.
type RefreshToken struct {
	Value  string
	Record Record
}

// RefreshTokens issues, rotates and revokes opaque refresh tokens over a Store.
type RefreshTokens struct {
	store  Store
	hasher token.Hasher
	ttl    time.Duration
	nBytes int
}

// NewRefreshTokens binds a Store to the token policy in cfg.
func NewRefreshTokens(store Store, hasher token.Hasher, cfg Config) *RefreshTokens {
	n := cfg.RefreshTokenBytes
	if n < 32 {
		n = 32
	}
	return &RefreshTokens{store: store, hasher: hasher, ttl: cfg.RefreshTokenTTL, nBytes: n}
}

func newOpaqueRefreshToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	// URL-safe, no padding: fits a cookie value without quoting.
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashPresented normalizes a client-supplied value. Empty or oversized
// values report ok=false and are treated as unknown.
func (r *RefreshTokens) hashPresented(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > maxRefreshTokenLen {
		return "", false
	}
	return r.hasher.RefreshTokenHex(value), true
}

// Issue starts a new token family for an account.
func (r *RefreshTokens) Issue(ctx context.Context, now time.Time, accountID string, role account.Role, dev DeviceContext) (RefreshToken, error) {
	dev = dev.clean()
	recID, err := ids.NewULID(now)
	if err != nil {
		return RefreshToken{}, err
	}
	familyID, err := ids.NewULID(now)
	if err != nil {
		return RefreshToken{}, err
	}

	for attempt := 0; ; attempt++ {
		value, err := newOpaqueRefreshToken(r.nBytes)
		if err != nil {
			return RefreshToken{}, err
		}

		rec := Record{
			ID:        recID,
			FamilyID:  familyID,
			AccountID: accountID,
			Role:      role,
			TokenHash: r.hasher.RefreshTokenHex(value),
			IssuedAt:  now,
			ExpiresAt: now.Add(r.ttl),
			UserAgent: dev.UserAgent,
			IP:        dev.IP,
		}
		err = r.store.Insert(ctx, rec)
		if errors.Is(err, errDuplicateToken) && attempt < 2 {
			continue
		}
		if err != nil {
			return RefreshToken{}, err
		}
		return RefreshToken{Value: value, Record: rec}, nil
	}
}

// Lookup returns the record for a presented value.
func (r *RefreshTokens) Lookup(ctx context.Context, value string) (Record, error) {
	hash, ok := r.hashPresented(value)
	if !ok {
		return Record{}, ErrTokenNotFound
	}
	return r.store.Lookup(ctx, hash)
}

// Rotate retires value and issues its successor in the same family.
// It returns the new token and the retired record.
//
// Failures, checked in order: ErrTokenNotFound, ErrTokenRevoked (a
// *ReuseError when value was already rotated), ErrTokenExpired.
func (r *RefreshTokens) Rotate(ctx context.Context, now time.Time, value string, dev DeviceContext) (RefreshToken, Record, error) {
	hash, ok := r.hashPresented(value)
	if !ok {
		return RefreshToken{}, Record{}, ErrTokenNotFound
	}

	newID, err := ids.NewULID(now)
	if err != nil {
		return RefreshToken{}, Record{}, err
	}
	newValue, err := newOpaqueRefreshToken(r.nBytes)
	if err != nil {
		return RefreshToken{}, Record{}, err
	}

	prev, created, err := r.store.Rotate(ctx, now, hash, Successor{
		ID:        newID,
		TokenHash: r.hasher.RefreshTokenHex(newValue),
		IssuedAt:  now,
		ExpiresAt: now.Add(r.ttl),
		Device:    dev.clean(),
	})
	if err != nil {
		return RefreshToken{}, prev, err
	}
	return RefreshToken{Value: newValue, Record: created}, prev, nil
}

// Revoke retires value. Empty, unknown and already revoked values are a no-op.
func (r *RefreshTokens) Revoke(ctx context.Context, now time.Time, value string) error {
	hash, ok := r.hashPresented(value)
	if !ok {
		return nil
	}
	return r.store.Revoke(ctx, now, hash, ReasonLogout)
}

// RevokeFamily retires every active token descending from one login.
func (r *RefreshTokens) RevokeFamily(ctx context.Context, now time.Time, familyID, reason string) (int, error) {
	if familyID == "" {
		return 0, nil
	}
	return r.store.RevokeFamily(ctx, now, familyID, reason)
}

// RevokeAccount retires every active token of an account.
func (r *RefreshTokens) RevokeAccount(ctx context.Context, now time.Time, accountID string) (int, error) {
	if accountID == "" {
		return 0, nil
	}
	return r.store.RevokeAccount(ctx, now, accountID, ReasonLogoutAll)
}

// PurgeExpired deletes records that expired before the cutoff.
func (r *RefreshTokens) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	return r.store.PurgeExpired(ctx, before)
}
