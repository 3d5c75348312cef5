package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"filmdoms/cmd/account"
)

const pasetoV4PublicHeader = "v4.public."

type pasetoFooter struct {
	KID string `json:"kid"`
}

type pasetoV4PublicCodec struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	kid    string
	secret paseto.V4AsymmetricSecretKey
	// public holds the active key and every retired verification key.
	public map[string]paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicCodec builds a codec over PASETO v4.public (Ed25519).
// The key id travels in the footer.
func NewPasetoV4PublicCodec(cfg Config) (AccessTokenCodec, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: PASETO secret key: %v", ErrConfig, err)
	}

	public := map[string]paseto.V4AsymmetricPublicKey{cfg.KeyID: secret.Public()}
	for kid, hexKey := range cfg.PasetoRetiredPublicKeys {
		if kid == cfg.KeyID {
			return nil, fmt.Errorf("%w: retired key reuses active key id %q", ErrConfig, kid)
		}
		pk, err := paseto.NewV4AsymmetricPublicKeyFromHex(hexKey)
		if err != nil {
			return nil, fmt.Errorf("%w: retired PASETO key %q: %v", ErrConfig, kid, err)
		}
		public[kid] = pk
	}

	return &pasetoV4PublicCodec{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		kid:       cfg.KeyID,
		secret:    secret,
		public:    public,
	}, nil
}

func (c *pasetoV4PublicCodec) Issue(accountID string, role account.Role, now time.Time) (AccessToken, error) {
	iat, exp := tokenTimes(now, c.ttl)
	jti, err := newTokenID(now)
	if err != nil {
		return AccessToken{}, err
	}

	footer, err := json.Marshal(pasetoFooter{KID: c.kid})
	if err != nil {
		return AccessToken{}, err
	}

	tok := paseto.NewToken()
	tok.SetIssuer(c.issuer)
	tok.SetSubject(accountID)
	tok.SetJti(jti)
	tok.SetIssuedAt(iat)
	tok.SetNotBefore(iat)
	tok.SetExpiration(exp)
	tok.SetString("role", string(role))
	tok.SetFooter(footer)

	return AccessToken{
		Token:     tok.V4Sign(c.secret, nil),
		TokenID:   jti,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}

// footerKID reads the key id from the untrusted footer so the right key can
// be picked before the signature is checked.
func footerKID(raw string) (string, bool) {
	if !strings.HasPrefix(raw, pasetoV4PublicHeader) {
		return "", false
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 4 {
		return "", false
	}
	b, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return "", false
	}
	var f pasetoFooter
	if err := json.Unmarshal(b, &f); err != nil || f.KID == "" {
		return "", false
	}
	return f.KID, true
}

func (c *pasetoV4PublicCodec) Parse(raw string, now time.Time) (AccessClaims, error) {
	raw = strings.TrimSpace(raw)
	kid, ok := footerKID(raw)
	if !ok {
		return AccessClaims{}, ErrTokenMalformed
	}
	pk, ok := c.public[kid]
	if !ok {
		return AccessClaims{}, ErrTokenMalformed
	}

	// Expiry is checked below so an expired token reports ErrTokenExpired
	// rather than a generic rule failure.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(c.issuer))

	parsed, err := p.ParseV4Public(pk, raw, nil)
	if err != nil {
		return AccessClaims{}, ErrTokenMalformed
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return AccessClaims{}, ErrTokenMalformed
	}
	nbf, _ := parsed.GetNotBefore()
	if err := checkTimes(now, nbf, exp, c.clockSkew); err != nil {
		return AccessClaims{}, err
	}

	sub, _ := parsed.GetSubject()
	jti, _ := parsed.GetJti()
	roleRaw, _ := parsed.GetString("role")
	accountID, role, err := claimsFrom(sub, roleRaw, jti)
	if err != nil {
		return AccessClaims{}, err
	}
	iat, _ := parsed.GetIssuedAt()
	iss, _ := parsed.GetIssuer()

	return AccessClaims{
		AccountID: accountID,
		Role:      role,
		TokenID:   jti,
		Issuer:    iss,
		KeyID:     kid,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}
