package account

import (
	"context"
	"errors"
	"testing"

	"filmdoms/cmd/security/password"
)

// fastPasswords keeps Argon2id cheap enough for unit tests.
func fastPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

type failingFinder struct{ err error }

func (f failingFinder) FindByEmail(context.Context, string) (Account, error) {
	return Account{}, f.err
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()

	pw := fastPasswords()
	h, err := pw.Hash("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	store := NewMemoryStore(Account{ID: "1", Email: "U@x.com", PasswordHash: h, Role: RoleAdmin})

	v, err := NewVerifier(store, pw)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func TestVerifier_OK(t *testing.T) {
	v := newTestVerifier(t)

	acc, err := v.Verify(context.Background(), "  u@X.com ", "correct horse")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if acc.ID != "1" || acc.Role != RoleAdmin {
		t.Fatalf("unexpected account: %+v", acc)
	}
}

func TestVerifier_FailuresAreIndistinguishable(t *testing.T) {
	v := newTestVerifier(t)

	cases := []struct {
		name, email, pw string
	}{
		{"wrong password", "u@x.com", "wrong horse"},
		{"unknown email", "nobody@x.com", "correct horse"},
		{"empty email", "", "correct horse"},
	}

	var msgs []string
	for _, tc := range cases {
		_, err := v.Verify(context.Background(), tc.email, tc.pw)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: expected ErrInvalidCredentials, got %v", tc.name, err)
		}
		msgs = append(msgs, err.Error())
	}
	for _, m := range msgs[1:] {
		if m != msgs[0] {
			t.Fatalf("failure messages differ: %q vs %q", msgs[0], m)
		}
	}
}

func TestVerifier_CorruptStoredHash(t *testing.T) {
	store := NewMemoryStore(Account{ID: "2", Email: "c@x.com", PasswordHash: "garbage", Role: RoleUser})
	v, err := NewVerifier(store, fastPasswords())
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	if _, err := v.Verify(context.Background(), "c@x.com", "whatever1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifier_StoreFailureIsUnavailable(t *testing.T) {
	boom := errors.New("conn reset")
	v, err := NewVerifier(failingFinder{err: boom}, fastPasswords())
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	_, err = v.Verify(context.Background(), "u@x.com", "pw")
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrUnavailable wrapping cause, got %v", err)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("store failure must not look like bad credentials")
	}
}

func TestNewVerifier_NilFinder(t *testing.T) {
	if _, err := NewVerifier(nil, fastPasswords()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "USER", want: RoleUser},
		{in: "admin", want: RoleAdmin},
		{in: "ROLE_ADMIN", want: RoleAdmin},
		{in: " role_user ", want: RoleUser},
		{in: "root", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseRole(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseRole(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseRole(%q)=%q,%v want %q", tc.in, got, err, tc.want)
		}
	}
}
