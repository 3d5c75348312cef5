package session

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TokenFormat selects the access-token codec.
type TokenFormat string

const (
	TokenFormatPaseto TokenFormat = "paseto"
	TokenFormatJWT    TokenFormat = "jwt"
)

// MinJWTSecretBytes is the minimum HS256 secret size.
const MinJWTSecretBytes = 32

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// ClockSkew is tolerated on not-before only; expiry is exact.
	ClockSkew time.Duration

	// RefreshTokenBytes is the entropy of opaque refresh tokens.
	RefreshTokenBytes int

	TokenFormat TokenFormat

	// KeyID names the active signing key and travels inside every token.
	KeyID string

	// PasetoV4SecretKeyHex is the hex Ed25519 secret key for v4.public.
	PasetoV4SecretKeyHex string
	// PasetoRetiredPublicKeys maps key id to hex public key for tokens signed
	// by keys that no longer sign.
	PasetoRetiredPublicKeys map[string]string

	// JWTSecret is the HS256 secret.
	JWTSecret string
	// JWTRetiredSecrets maps key id to a secret that only verifies.
	JWTRetiredSecrets map[string]string

	// RevokeFamilyOnReuse revokes every token descending from the same login
	// when a rotated token is presented again.
	RevokeFamilyOnReuse bool
}

// DefaultConfig returns defaults without signing keys.
func DefaultConfig() Config {
	return Config{
		Issuer:            "filmdoms",
		AccessTokenTTL:    30 * time.Minute,
		RefreshTokenTTL:   14 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
		TokenFormat:       TokenFormatPaseto,
		KeyID:             "k1",
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required, depending on FILMDOMS_AUTH_TOKEN_FORMAT (paseto|jwt):
//   - FILMDOMS_PASETO_V4_SECRET_KEY_HEX
//   - FILMDOMS_JWT_SECRET (at least 32 bytes)
//
// Optional (durations are Go duration strings):
//   - FILMDOMS_AUTH_ISSUER
//   - FILMDOMS_AUTH_ACCESS_TTL
//   - FILMDOMS_AUTH_REFRESH_TTL
//   - FILMDOMS_AUTH_CLOCK_SKEW
//   - FILMDOMS_AUTH_REFRESH_TOKEN_BYTES (32..64)
//   - FILMDOMS_AUTH_KEY_ID
//   - FILMDOMS_PASETO_V4_RETIRED_PUBLIC_KEYS ("kid:hex,kid:hex")
//   - FILMDOMS_JWT_RETIRED_SECRETS ("kid:secret,kid:secret")
//   - FILMDOMS_AUTH_REVOKE_FAMILY_ON_REUSE
//
// Every failure wraps ErrConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("FILMDOMS_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		key       string
		allowZero bool
		dst       *time.Duration
	}{
		{"FILMDOMS_AUTH_ACCESS_TTL", false, &cfg.AccessTokenTTL},
		{"FILMDOMS_AUTH_REFRESH_TTL", false, &cfg.RefreshTokenTTL},
		{"FILMDOMS_AUTH_CLOCK_SKEW", true, &cfg.ClockSkew},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && !d.allowZero) {
			return Config{}, fmt.Errorf("%w: %s must be a positive duration", ErrConfig, d.key)
		}
		*d.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("FILMDOMS_AUTH_REFRESH_TOKEN_BYTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, fmt.Errorf("%w: FILMDOMS_AUTH_REFRESH_TOKEN_BYTES must be in [32..64]", ErrConfig)
		}
		cfg.RefreshTokenBytes = n
	}

	if v := strings.TrimSpace(os.Getenv("FILMDOMS_AUTH_TOKEN_FORMAT")); v != "" {
		cfg.TokenFormat = TokenFormat(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("FILMDOMS_AUTH_KEY_ID")); v != "" {
		cfg.KeyID = v
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("FILMDOMS_PASETO_V4_SECRET_KEY_HEX"))
	cfg.JWTSecret = strings.TrimSpace(os.Getenv("FILMDOMS_JWT_SECRET"))

	var err error
	if cfg.PasetoRetiredPublicKeys, err = parseKeyList(os.Getenv("FILMDOMS_PASETO_V4_RETIRED_PUBLIC_KEYS")); err != nil {
		return Config{}, fmt.Errorf("%w: FILMDOMS_PASETO_V4_RETIRED_PUBLIC_KEYS: %v", ErrConfig, err)
	}
	if cfg.JWTRetiredSecrets, err = parseKeyList(os.Getenv("FILMDOMS_JWT_RETIRED_SECRETS")); err != nil {
		return Config{}, fmt.Errorf("%w: FILMDOMS_JWT_RETIRED_SECRETS: %v", ErrConfig, err)
	}

	if v := strings.TrimSpace(os.Getenv("FILMDOMS_AUTH_REVOKE_FAMILY_ON_REUSE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: FILMDOMS_AUTH_REVOKE_FAMILY_ON_REUSE must be a boolean", ErrConfig)
		}
		cfg.RevokeFamilyOnReuse = b
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants. Errors wrap ErrConfig.
func (c Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("%w: empty issuer", ErrConfig)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("%w: token TTLs must be positive", ErrConfig)
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		return fmt.Errorf("%w: access TTL must be shorter than refresh TTL", ErrConfig)
	}
	if c.RefreshTokenBytes < 32 || c.RefreshTokenBytes > 64 {
		return fmt.Errorf("%w: refresh token bytes must be in [32..64]", ErrConfig)
	}
	if c.KeyID == "" || strings.ContainsAny(c.KeyID, ":,") {
		return fmt.Errorf("%w: invalid key id %q", ErrConfig, c.KeyID)
	}

	switch c.TokenFormat {
	case TokenFormatPaseto:
		if c.PasetoV4SecretKeyHex == "" {
			return fmt.Errorf("%w: FILMDOMS_PASETO_V4_SECRET_KEY_HEX is required", ErrConfig)
		}
		if _, dup := c.PasetoRetiredPublicKeys[c.KeyID]; dup {
			return fmt.Errorf("%w: retired key reuses active key id %q", ErrConfig, c.KeyID)
		}
	case TokenFormatJWT:
		if len(c.JWTSecret) < MinJWTSecretBytes {
			return fmt.Errorf("%w: FILMDOMS_JWT_SECRET must be at least %d bytes", ErrConfig, MinJWTSecretBytes)
		}
		if _, dup := c.JWTRetiredSecrets[c.KeyID]; dup {
			return fmt.Errorf("%w: retired key reuses active key id %q", ErrConfig, c.KeyID)
		}
	default:
		return fmt.Errorf("%w: unknown token format %q", ErrConfig, c.TokenFormat)
	}
	return nil
}

// parseKeyList parses "kid:value,kid:value".
func parseKeyList(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	out := make(map[string]string)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		kid, val, ok := strings.Cut(item, ":")
		kid, val = strings.TrimSpace(kid), strings.TrimSpace(val)
		if !ok || kid == "" || val == "" {
			return nil, fmt.Errorf("entry %q is not kid:value", item)
		}
		if _, dup := out[kid]; dup {
			return nil, fmt.Errorf("duplicate key id %q", kid)
		}
		out[kid] = val
	}
	return out, nil
}
