package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	// ErrNotFound is returned by Finder implementations for unknown accounts.
	ErrNotFound = errors.New("account: not found")
	// ErrUnavailable wraps storage failures.
	ErrUnavailable = errors.New("account: store unavailable")
)

// Role is the authorization role carried in access tokens.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole accepts "USER"/"ADMIN" in any case, with or without a "ROLE_" prefix.
func ParseRole(s string) (Role, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "ROLE_")
	switch Role(v) {
	case RoleUser, RoleAdmin:
		return Role(v), nil
	default:
		return "", fmt.Errorf("account: unknown role %q", s)
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAdmin }

// Account is the identity the session core authenticates.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
}

// Finder resolves accounts. FindByEmail receives an already normalized email.
type Finder interface {
	FindByEmail(ctx context.Context, emailNorm string) (Account, error)
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
