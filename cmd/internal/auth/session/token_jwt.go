package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"filmdoms/cmd/account"
)

type jwtClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type jwtCodec struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	kid  string
	keys map[string][]byte
}

// NewJWTCodec builds an HS256 codec. The key id travels in the "kid" header.
func NewJWTCodec(cfg Config) (AccessTokenCodec, error) {
	if len(cfg.JWTSecret) < MinJWTSecretBytes {
		return nil, fmt.Errorf("%w: JWT secret must be at least %d bytes", ErrConfig, MinJWTSecretBytes)
	}

	keys := map[string][]byte{cfg.KeyID: []byte(cfg.JWTSecret)}
	for kid, secret := range cfg.JWTRetiredSecrets {
		if kid == cfg.KeyID {
			return nil, fmt.Errorf("%w: retired key reuses active key id %q", ErrConfig, kid)
		}
		if len(secret) < MinJWTSecretBytes {
			return nil, fmt.Errorf("%w: retired JWT secret %q is too short", ErrConfig, kid)
		}
		keys[kid] = []byte(secret)
	}

	return &jwtCodec{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		kid:       cfg.KeyID,
		keys:      keys,
	}, nil
}

func (c *jwtCodec) Issue(accountID string, role account.Role, now time.Time) (AccessToken, error) {
	iat, exp := tokenTimes(now, c.ttl)
	jti, err := newTokenID(now)
	if err != nil {
		return AccessToken{}, err
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   accountID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(iat),
			NotBefore: jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	t.Header["kid"] = c.kid

	signed, err := t.SignedString(c.keys[c.kid])
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, TokenID: jti, IssuedAt: iat, ExpiresAt: exp}, nil
}

func (c *jwtCodec) Parse(raw string, now time.Time) (AccessClaims, error) {
	var (
		claims jwtClaims
		kid    string
	)

	// Time claims are checked by checkTimes so expiry stays exact while
	// not-before gets the skew.
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(t *jwt.Token) (any, error) {
		k, _ := t.Header["kid"].(string)
		key, ok := c.keys[k]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", k)
		}
		kid = k
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return AccessClaims{}, ErrTokenMalformed
	}
	if claims.Issuer != c.issuer {
		return AccessClaims{}, ErrTokenMalformed
	}

	var nbf, exp, iat time.Time
	if claims.NotBefore != nil {
		nbf = claims.NotBefore.Time
	}
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		iat = claims.IssuedAt.Time
	}
	if err := checkTimes(now, nbf, exp, c.clockSkew); err != nil {
		return AccessClaims{}, err
	}

	accountID, role, err := claimsFrom(claims.Subject, claims.Role, claims.ID)
	if err != nil {
		return AccessClaims{}, err
	}

	return AccessClaims{
		AccountID: accountID,
		Role:      role,
		TokenID:   claims.ID,
		Issuer:    claims.Issuer,
		KeyID:     kid,
		IssuedAt:  iat.UTC(),
		ExpiresAt: exp.UTC(),
	}, nil
}
