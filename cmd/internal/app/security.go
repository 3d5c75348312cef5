package app

import (
	"errors"
	"fmt"

	"filmdoms/cmd/security/token"
)

// ValidateSecurityConfig builds the refresh-token hasher and enforces the
// startup policy. With RequireTokenHMAC set, a missing or short
// FILMDOMS_TOKEN_HMAC_KEY is fatal; a short key is always fatal.
func ValidateSecurityConfig(cfg Config) (token.Hasher, error) {
	h, err := token.NewHasherFromEnv(cfg.RequireTokenHMAC)
	switch {
	case err == nil:
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Hasher{}, fmt.Errorf("%w: FILMDOMS_REQUIRE_TOKEN_HMAC=true but %s is missing", ErrConfig, token.HMACEnvKey)
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Hasher{}, fmt.Errorf("%w: %s is too short (min %d bytes)", ErrConfig, token.HMACEnvKey, token.MinHMACKeyBytes)
	default:
		return token.Hasher{}, err
	}

	if cfg.RequireTokenHMAC && !h.HMACEnabled() {
		return token.Hasher{}, fmt.Errorf("%w: token hasher is not in HMAC mode", ErrConfig)
	}
	return h, nil
}
