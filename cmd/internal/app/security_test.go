package app

import (
	"errors"
	"strings"
	"testing"

	"filmdoms/cmd/security/token"
)

func TestValidateSecurityConfig(t *testing.T) {
	t.Run("optional and missing", func(t *testing.T) {
		t.Setenv(token.HMACEnvKey, "")
		h, err := ValidateSecurityConfig(Config{})
		if err != nil || h.HMACEnabled() {
			t.Fatalf("want sha256 hasher, got hmac=%v err=%v", h.HMACEnabled(), err)
		}
	})
	t.Run("required and missing", func(t *testing.T) {
		t.Setenv(token.HMACEnvKey, "")
		if _, err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}); !errors.Is(err, ErrConfig) {
			t.Fatalf("want ErrConfig, got %v", err)
		}
	})
	t.Run("short key", func(t *testing.T) {
		t.Setenv(token.HMACEnvKey, "tiny")
		if _, err := ValidateSecurityConfig(Config{}); !errors.Is(err, ErrConfig) {
			t.Fatalf("want ErrConfig, got %v", err)
		}
	})
	t.Run("required and present", func(t *testing.T) {
		t.Setenv(token.HMACEnvKey, strings.Repeat("x", token.MinHMACKeyBytes))
		h, err := ValidateSecurityConfig(Config{RequireTokenHMAC: true})
		if err != nil || !h.HMACEnabled() {
			t.Fatalf("want hmac hasher, got hmac=%v err=%v", h.HMACEnabled(), err)
		}
	})
}
