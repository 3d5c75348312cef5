// Package token provides refresh-token hashing primitives.
//
// It is the single source of truth for how refresh-token values are turned
// into the digests persisted by the session stores.
//
// Modes:
//   - HMAC-SHA256(token, key) when a key is configured (production).
//   - SHA-256(token) when no key is configured (dev only).
//
// Output is always a 64-char lowercase hex string.
//
// The key is read once at startup (FILMDOMS_TOKEN_HMAC_KEY) and injected into
// a Hasher; nothing in this package reads the environment on the hot path.
package token
