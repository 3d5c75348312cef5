package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"filmdoms/cmd/account"
)

// CredentialVerifier checks a submitted email and password.
// *account.Verifier satisfies it.
type CredentialVerifier interface {
	Verify(ctx context.Context, email, password string) (account.Account, error)
}

// Issued is the result of a login or refresh.
type Issued struct {
	AccountID string
	Role      account.Role

	AccessToken string
	AccessExp   time.Time

	RefreshToken string
	RefreshExp   time.Time

	// SessionID is the refresh record id; FamilyID is shared by every
	// rotation descending from the same login.
	SessionID string
	FamilyID  string
}

// Service orchestrates login, refresh, logout and request authorization.
type Service struct {
	cfg      Config
	verifier CredentialVerifier
	tokens   AccessTokenCodec
	refresh  *RefreshTokens
	log      *slog.Logger
}

// NewService wires the session components. A nil logger discards output.
func NewService(cfg Config, verifier CredentialVerifier, tokens AccessTokenCodec, refresh *RefreshTokens, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{cfg: cfg, verifier: verifier, tokens: tokens, refresh: refresh, log: log}
}

// Login verifies credentials and starts a new token family.
// Unknown email and wrong password both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, now time.Time, email, password string, dev DeviceContext) (Issued, error) {
	acc, err := s.verifier.Verify(ctx, email, password)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrInvalidCredentials):
			return Issued{}, ErrInvalidCredentials
		case errors.Is(err, account.ErrUnavailable):
			return Issued{}, unavailable("session.login", err)
		default:
			return Issued{}, err
		}
	}

	rt, err := s.refresh.Issue(ctx, now, acc.ID, acc.Role, dev)
	if err != nil {
		return Issued{}, err
	}

	at, err := s.tokens.Issue(acc.ID, acc.Role, now)
	if err != nil {
		return Issued{}, fmt.Errorf("session.login: issue access token: %w", err)
	}

	return issued(rt, at), nil
}

// Refresh rotates refreshValue and issues a new access token for the same
// account and role. The presented value is dead afterwards.
//
// No access token is issued on any failure. Reuse of a rotated value is
// logged and, with RevokeFamilyOnReuse, retires the whole family.
func (s *Service) Refresh(ctx context.Context, now time.Time, refreshValue string, dev DeviceContext) (Issued, error) {
	// The successor inherits account and role, so the access token is
	// signed before the rotation commits. A signing failure leaves the
	// presented token active.
	var at AccessToken
	if rec, err := s.refresh.Lookup(ctx, refreshValue); err == nil && rec.State(now) == StateActive {
		if at, err = s.tokens.Issue(rec.AccountID, rec.Role, now); err != nil {
			return Issued{}, fmt.Errorf("session.refresh: issue access token: %w", err)
		}
	}

	rt, _, err := s.refresh.Rotate(ctx, now, refreshValue, dev)
	if err != nil {
		var reuse *ReuseError
		if errors.As(err, &reuse) {
			s.onReuse(ctx, now, reuse, dev)
		}
		return Issued{}, err
	}

	if at.Token == "" {
		if at, err = s.tokens.Issue(rt.Record.AccountID, rt.Record.Role, now); err != nil {
			return Issued{}, fmt.Errorf("session.refresh: issue access token: %w", err)
		}
	}
	return issued(rt, at), nil
}

func (s *Service) onReuse(ctx context.Context, now time.Time, reuse *ReuseError, dev DeviceContext) {
	attrs := []any{
		"account_id", reuse.AccountID,
		"family_id", reuse.FamilyID,
		"record_id", reuse.RecordID,
		"ip", ipString(dev),
	}

	if !s.cfg.RevokeFamilyOnReuse {
		s.log.WarnContext(ctx, "auth.refresh.reuse_detected", attrs...)
		return
	}

	n, err := s.refresh.RevokeFamily(ctx, now, reuse.FamilyID, ReasonReuseDetected)
	if err != nil {
		s.log.ErrorContext(ctx, "auth.refresh.reuse_revoke_failed", append(attrs, "err", err)...)
		return
	}
	s.log.WarnContext(ctx, "auth.refresh.reuse_detected", append(attrs, "family_revoked", n)...)
}

// Logout revokes refreshValue. Existing, revoked, unknown and empty values
// all succeed; only a store outage is returned.
func (s *Service) Logout(ctx context.Context, now time.Time, refreshValue string) error {
	return s.refresh.Revoke(ctx, now, refreshValue)
}

// LogoutAll revokes every refresh token of an account and reports how many
// were active.
func (s *Service) LogoutAll(ctx context.Context, now time.Time, accountID string) (int, error) {
	return s.refresh.RevokeAccount(ctx, now, accountID)
}

// AuthorizeRequest verifies an access token. It never touches the store.
func (s *Service) AuthorizeRequest(raw string, now time.Time) (AccessClaims, error) {
	if raw == "" {
		return AccessClaims{}, ErrTokenNotFound
	}
	return s.tokens.Parse(raw, now)
}

// PurgeExpired deletes refresh records that expired before the cutoff.
func (s *Service) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	return s.refresh.PurgeExpired(ctx, before)
}

// Config returns the configuration the service was built with.
func (s *Service) Config() Config { return s.cfg }

func issued(rt RefreshToken, at AccessToken) Issued {
	return Issued{
		AccountID:    rt.Record.AccountID,
		Role:         rt.Record.Role,
		AccessToken:  at.Token,
		AccessExp:    at.ExpiresAt,
		RefreshToken: rt.Value,
		RefreshExp:   rt.Record.ExpiresAt,
		SessionID:    rt.Record.ID,
		FamilyID:     rt.Record.FamilyID,
	}
}

func ipString(dev DeviceContext) string {
	if dev.IP == nil {
		return ""
	}
	return dev.IP.String()
}
