// Package session implements the login session lifecycle.
//
// Login yields a short-lived signed access token (PASETO v4.public by
// default, HS256 JWT as an alternative) and an opaque refresh token. Every
// refresh rotates the refresh token: the presented value is retired and a
// successor in the same family is issued, atomically per token value.
// Presenting a retired value again is reported as reuse.
//
// Refresh tokens are stored hashed (HMAC-SHA256 when FILMDOMS_TOKEN_HMAC_KEY
// is set, SHA-256 otherwise). Backends: in-memory, Postgres and Redis.
//
// HTTP transport lives in the sibling api package.
package session
