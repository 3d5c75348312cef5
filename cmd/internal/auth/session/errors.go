package session

import (
	"errors"
	"fmt"

	"filmdoms/cmd/account"
)

var (
	// ErrInvalidCredentials is returned by Login for an unknown email or a wrong password.
	ErrInvalidCredentials = account.ErrInvalidCredentials

	// ErrTokenNotFound is returned when a refresh token is absent or unknown.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenMalformed is returned when an access token fails decoding or signature checks.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrTokenExpired is returned for expired access or refresh tokens.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked is returned for rotated or logged-out refresh tokens.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrUnavailable wraps storage and connectivity failures.
	ErrUnavailable = errors.New("session store unavailable")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	errDuplicateToken = errors.New("duplicate refresh token hash")
)

// ReuseError reports that an already rotated refresh token was presented again.
// It unwraps to ErrTokenRevoked so callers that only care about the outcome
// treat it like any other revoked token.
type ReuseError struct {
	RecordID  string
	FamilyID  string
	AccountID string
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("%s: reuse detected (family %s)", ErrTokenRevoked.Error(), e.FamilyID)
}

func (e *ReuseError) Unwrap() error { return ErrTokenRevoked }

// unavailable tags a backend failure with the operation that failed.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
