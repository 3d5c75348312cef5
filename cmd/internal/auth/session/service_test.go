package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	paseto "aidanwoods.dev/go-paseto"

	"filmdoms/cmd/account"
	"filmdoms/cmd/security/password"
	"filmdoms/cmd/security/token"
)

type serviceFixture struct {
	svc   *Service
	store *MemoryStore
	now   time.Time
}

func fastPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newServiceFixture(t *testing.T, mutate func(*Config)) serviceFixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	if mutate != nil {
		mutate(&cfg)
	}

	pw := fastPasswords()
	h, err := pw.Hash("correct")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	accounts := account.NewMemoryStore(account.Account{ID: "acc-u", Email: "u@x.com", PasswordHash: h, Role: account.RoleUser})
	verifier, err := account.NewVerifier(accounts, pw)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	codec, err := NewAccessTokenCodec(cfg)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	store := NewMemoryStore()
	refresh := NewRefreshTokens(store, token.NewHasher([]byte("0123456789abcdef0123456789abcdef")), cfg)

	return serviceFixture{
		svc:   NewService(cfg, verifier, codec, refresh, slog.New(slog.DiscardHandler)),
		store: store,
		now:   time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f serviceFixture) state(t *testing.T, refreshValue string) State {
	t.Helper()
	rec, err := f.svc.refresh.Lookup(context.Background(), refreshValue)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	return rec.State(f.now)
}

func TestService_LoginRefreshLogoutScenario(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Login(ctx, f.now, "u@x.com", "correct", DeviceContext{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if first.AccessToken == "" || first.RefreshToken == "" {
		t.Fatalf("expected tokens, got %+v", first)
	}
	if got := f.state(t, first.RefreshToken); got != StateActive {
		t.Fatalf("R1 state=%s want ACTIVE", got)
	}

	second, err := f.svc.Refresh(ctx, f.now.Add(time.Minute), first.RefreshToken, DeviceContext{})
	if err != nil {
		t.Fatalf("Refresh(R1): %v", err)
	}
	if second.AccessToken == first.AccessToken {
		t.Fatalf("A2 must differ from A1")
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("R2 must differ from R1")
	}
	if second.AccountID != "acc-u" || second.Role != account.RoleUser || second.FamilyID != first.FamilyID {
		t.Fatalf("rotation lost identity: %+v", second)
	}
	if got := f.state(t, first.RefreshToken); got != StateRotated {
		t.Fatalf("R1 state=%s want ROTATED", got)
	}
	if got := f.state(t, second.RefreshToken); got != StateActive {
		t.Fatalf("R2 state=%s want ACTIVE", got)
	}

	if _, err := f.svc.Refresh(ctx, f.now.Add(2*time.Minute), first.RefreshToken, DeviceContext{}); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("Refresh(R1) again: expected ErrTokenRevoked, got %v", err)
	}

	if err := f.svc.Logout(ctx, f.now.Add(3*time.Minute), second.RefreshToken); err != nil {
		t.Fatalf("Logout(R2): %v", err)
	}
	if got := f.state(t, second.RefreshToken); got != StateRevoked {
		t.Fatalf("R2 state=%s want REVOKED", got)
	}

	if _, err := f.svc.Refresh(ctx, f.now.Add(4*time.Minute), second.RefreshToken, DeviceContext{}); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("Refresh(R2): expected ErrTokenRevoked, got %v", err)
	}
}

func TestService_LoginFailuresAreIndistinguishable(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	_, wrongPw := f.svc.Login(ctx, f.now, "u@x.com", "incorrect", DeviceContext{})
	_, unknown := f.svc.Login(ctx, f.now, "ghost@x.com", "correct", DeviceContext{})

	if !errors.Is(wrongPw, ErrInvalidCredentials) || !errors.Is(unknown, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v and %v", wrongPw, unknown)
	}
	if wrongPw.Error() != unknown.Error() {
		t.Fatalf("failures differ: %q vs %q", wrongPw, unknown)
	}
}

func TestService_ConcurrentRefreshHasOneWinner(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, f.now, "u@x.com", "correct", DeviceContext{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const n = 32
	results := make(chan error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Refresh(ctx, f.now.Add(time.Second), login.RefreshToken, DeviceContext{})
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	wins, revoked := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrTokenRevoked):
			revoked++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || revoked != n-1 {
		t.Fatalf("wins=%d revoked=%d, want 1 and %d", wins, revoked, n-1)
	}
}

func TestService_LogoutAlwaysSucceeds(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, f.now, "u@x.com", "correct", DeviceContext{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	for _, v := range []string{login.RefreshToken, login.RefreshToken, "unknown-token", "", "   "} {
		if err := f.svc.Logout(ctx, f.now, v); err != nil {
			t.Fatalf("Logout(%q): %v", v, err)
		}
	}
	if got := f.state(t, login.RefreshToken); got != StateRevoked {
		t.Fatalf("state=%s want REVOKED", got)
	}
}

func TestService_RefreshFailures(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.Refresh(ctx, f.now, "", DeviceContext{}); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("empty: expected ErrTokenNotFound, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, f.now, "never-issued", DeviceContext{}); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("unknown: expected ErrTokenNotFound, got %v", err)
	}

	login, err := f.svc.Login(ctx, f.now, "u@x.com", "correct", DeviceContext{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	late := login.RefreshExp.Add(time.Second)
	if _, err := f.svc.Refresh(ctx, late, login.RefreshToken, DeviceContext{}); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired: expected ErrTokenExpired, got %v", err)
	}
}

func TestService_ReuseRevokesFamilyWhenEnabled(t *testing.T) {
	for _, revokeFamily := range []bool{false, true} {
		f := newServiceFixture(t, func(c *Config) { c.RevokeFamilyOnReuse = revokeFamily })
		ctx := context.Background()

		login, err := f.svc.Login(ctx, f.now, "u@x.com", "correct", DeviceContext{})
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		next, err := f.svc.Refresh(ctx, f.now, login.RefreshToken, DeviceContext{})
		if err != nil {
			t.Fatalf("Refresh: %v", err)
		}

		_, err = f.svc.Refresh(ctx, f.now, login.RefreshToken, DeviceContext{})
		var reuse *ReuseError
		if !errors.As(err, &reuse) || reuse.FamilyID != login.FamilyID {
			t.Fatalf("expected ReuseError for family %s, got %v", login.FamilyID, err)
		}

		want := StateActive
		if revokeFamily {
			want = StateRevoked
		}
		if got := f.state(t, next.RefreshToken); got != want {
			t.Fatalf("revokeFamily=%v: successor state=%s want %s", revokeFamily, got, want)
		}
	}
}

func TestService_LogoutAll(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	a, err := f.svc.Login(ctx, f.now, "u@x.com", "correct", DeviceContext{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	b, err := f.svc.Login(ctx, f.now, "u@x.com", "correct", DeviceContext{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	n, err := f.svc.LogoutAll(ctx, f.now, "acc-u")
	if err != nil || n != 2 {
		t.Fatalf("LogoutAll=%d,%v want 2", n, err)
	}
	for _, v := range []string{a.RefreshToken, b.RefreshToken} {
		if _, err := f.svc.Refresh(ctx, f.now, v, DeviceContext{}); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("expected ErrTokenRevoked, got %v", err)
		}
	}
}

func TestService_AuthorizeRequest(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, f.now, "u@x.com", "correct", DeviceContext{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	claims, err := f.svc.AuthorizeRequest(login.AccessToken, f.now.Add(time.Minute))
	if err != nil {
		t.Fatalf("AuthorizeRequest: %v", err)
	}
	if claims.AccountID != "acc-u" || claims.Role != account.RoleUser {
		t.Fatalf("claims mismatch: %+v", claims)
	}

	// Still valid after logout: access tokens are stateless.
	if err := f.svc.Logout(ctx, f.now, login.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.svc.AuthorizeRequest(login.AccessToken, f.now.Add(time.Minute)); err != nil {
		t.Fatalf("AuthorizeRequest after logout: %v", err)
	}

	if _, err := f.svc.AuthorizeRequest(login.AccessToken, login.AccessExp.Add(time.Second)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := f.svc.AuthorizeRequest("", f.now); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

type downFinder struct{}

func (downFinder) FindByEmail(context.Context, string) (account.Account, error) {
	return account.Account{}, errors.New("connection refused")
}

func TestService_LoginStoreOutage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()

	verifier, err := account.NewVerifier(downFinder{}, fastPasswords())
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	codec, err := NewAccessTokenCodec(cfg)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	svc := NewService(cfg, verifier, codec, NewRefreshTokens(NewMemoryStore(), token.Hasher{}, cfg), nil)

	_, err = svc.Login(context.Background(), time.Now(), "u@x.com", "pw", DeviceContext{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("outage must not look like bad credentials")
	}
}

func TestService_PurgeExpired(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, f.now, "u@x.com", "correct", DeviceContext{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	n, err := f.svc.PurgeExpired(ctx, login.RefreshExp.Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpired=%d,%v want 1", n, err)
	}
	if _, err := f.svc.Refresh(ctx, f.now, login.RefreshToken, DeviceContext{}); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound after purge, got %v", err)
	}
}

type failingCodec struct {
	AccessTokenCodec
	fail bool
}

func (c *failingCodec) Issue(accountID string, role account.Role, now time.Time) (AccessToken, error) {
	if c.fail {
		return AccessToken{}, errors.New("signer unavailable")
	}
	return c.AccessTokenCodec.Issue(accountID, role, now)
}

func TestService_RefreshSigningFailureKeepsSession(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, f.now, "u@x.com", "correct", DeviceContext{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	codec := &failingCodec{AccessTokenCodec: f.svc.tokens, fail: true}
	f.svc.tokens = codec
	if _, err := f.svc.Refresh(ctx, f.now, login.RefreshToken, DeviceContext{}); err == nil {
		t.Fatalf("expected signing error")
	}
	if st := f.state(t, login.RefreshToken); st != StateActive {
		t.Fatalf("state after failed refresh = %s, want %s", st, StateActive)
	}

	codec.fail = false
	next, err := f.svc.Refresh(ctx, f.now, login.RefreshToken, DeviceContext{})
	if err != nil {
		t.Fatalf("retry Refresh: %v", err)
	}
	if next.AccessToken == "" || next.RefreshToken == login.RefreshToken {
		t.Fatalf("retry did not rotate: %+v", next)
	}
	if st := f.state(t, login.RefreshToken); st != StateRotated {
		t.Fatalf("state after retry = %s, want %s", st, StateRotated)
	}
}

func TestService_StoresCleanUserAgent(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, f.now, "u@x.com", "correct", DeviceContext{UserAgent: " curl\xff/8 "})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	rec, err := f.svc.refresh.Lookup(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if rec.UserAgent != "curl/8" {
		t.Fatalf("login user agent = %q", rec.UserAgent)
	}

	next, err := f.svc.Refresh(ctx, f.now, login.RefreshToken, DeviceContext{UserAgent: strings.Repeat("ñ", MaxUserAgentLen)})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	rec, err = f.svc.refresh.Lookup(ctx, next.RefreshToken)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(rec.UserAgent) > MaxUserAgentLen || !utf8.ValidString(rec.UserAgent) {
		t.Fatalf("rotated user agent len=%d valid=%v", len(rec.UserAgent), utf8.ValidString(rec.UserAgent))
	}
}

func TestTruncateUTF8(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"aé", 2, "a"},
		{"aé", 3, "aé"},
		{"\xff\xfeok", 2, "ok"},
		{"日本", 4, "日"},
	}
	for _, c := range cases {
		if got := TruncateUTF8(c.in, c.n); got != c.want {
			t.Fatalf("TruncateUTF8(%q, %d) = %q, want %q", c.in, c.n, got, c.want)
		}
	}
}
