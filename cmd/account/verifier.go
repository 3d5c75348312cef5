package account

import (
	"context"
	"errors"
	"fmt"

	"filmdoms/cmd/security/password"
)

// dummyPassword seeds the hash compared against when the email is unknown,
// so both failure paths pay for one hash verification.
const dummyPassword = "filmdoms-timing-equalizer-not-a-real-password"

// Verifier checks submitted credentials against stored hashes.
// It holds no locks; Verify is safe for concurrent use.
type Verifier struct {
	finder    Finder
	passwords password.Config
	dummyHash string
}

// NewVerifier builds a Verifier. The dummy hash uses the same Argon2id
// parameters as real hashes.
func NewVerifier(finder Finder, passwords password.Config) (*Verifier, error) {
	if finder == nil {
		return nil, errors.New("account: nil finder")
	}
	dummy, err := passwords.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("account: dummy hash: %w", err)
	}
	return &Verifier{finder: finder, passwords: passwords, dummyHash: dummy}, nil
}

// Verify returns the account for email when password matches its stored hash.
//
// Unknown email, wrong password and an undecodable stored hash all yield
// ErrInvalidCredentials. Lookup failures yield an error wrapping ErrUnavailable.
func (v *Verifier) Verify(ctx context.Context, email, pw string) (Account, error) {
	norm := NormalizeEmail(email)
	if norm == "" {
		v.burn(pw)
		return Account{}, ErrInvalidCredentials
	}

	acc, err := v.finder.FindByEmail(ctx, norm)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			v.burn(pw)
			return Account{}, ErrInvalidCredentials
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Account{}, ctxErr
		}
		return Account{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	ok, err := v.passwords.Verify(acc.PasswordHash, pw)
	if err != nil || !ok {
		return Account{}, ErrInvalidCredentials
	}
	if !acc.Role.Valid() {
		acc.Role = RoleUser
	}
	return acc, nil
}

func (v *Verifier) burn(pw string) {
	_, _ = v.passwords.Verify(v.dummyHash, pw)
}
