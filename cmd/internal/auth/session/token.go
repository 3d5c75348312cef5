package session

import (
	"fmt"
	"time"

	"filmdoms/cmd/account"
	"filmdoms/cmd/ids"
)

// AccessToken is a signed, self-contained access credential.
type AccessToken struct {
	Token     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AccessClaims is what a verified access token asserts.
type AccessClaims struct {
	AccountID string
	Role      account.Role
	TokenID   string
	Issuer    string
	KeyID     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AccessTokenCodec issues and parses access tokens. Implementations are
// stateless and safe for concurrent use.
//
// Parse returns ErrTokenMalformed for anything that fails decoding, signature,
// key id, issuer or claim checks, and ErrTokenExpired when now is past the
// expiry of an otherwise valid token.
type AccessTokenCodec interface {
	Issue(accountID string, role account.Role, now time.Time) (AccessToken, error)
	Parse(raw string, now time.Time) (AccessClaims, error)
}

// NewAccessTokenCodec builds the codec selected by cfg.TokenFormat.
func NewAccessTokenCodec(cfg Config) (AccessTokenCodec, error) {
	switch cfg.TokenFormat {
	case TokenFormatPaseto, "":
		return NewPasetoV4PublicCodec(cfg)
	case TokenFormatJWT:
		return NewJWTCodec(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown token format %q", ErrConfig, cfg.TokenFormat)
	}
}

// tokenTimes fixes the second-resolution timestamps both formats carry.
func tokenTimes(now time.Time, ttl time.Duration) (iat, exp time.Time) {
	iat = now.UTC().Truncate(time.Second)
	return iat, iat.Add(ttl)
}

func newTokenID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// checkTimes applies expiry exactly and tolerates skew on not-before only.
func checkTimes(now, nbf, exp time.Time, skew time.Duration) error {
	if exp.IsZero() {
		return ErrTokenMalformed
	}
	if !nbf.IsZero() && now.Add(skew).Before(nbf) {
		return ErrTokenMalformed
	}
	if now.After(exp) {
		return ErrTokenExpired
	}
	return nil
}

// claimsFrom validates the custom claims shared by both formats.
func claimsFrom(accountID, role, tokenID string) (string, account.Role, error) {
	if accountID == "" || tokenID == "" {
		return "", "", ErrTokenMalformed
	}
	r, err := account.ParseRole(role)
	if err != nil {
		return "", "", ErrTokenMalformed
	}
	return accountID, r, nil
}
