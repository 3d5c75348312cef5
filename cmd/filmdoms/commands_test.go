package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/stretchr/testify/require"

	"filmdoms/cmd/security/password"
)

func TestRun_DefaultsToServe(t *testing.T) {
	called := false
	prev := serveFn
	serveFn = func(context.Context) error { called = true; return nil }
	t.Cleanup(func() { serveFn = prev })

	require.NoError(t, run(context.Background(), nil, nil, &bytes.Buffer{}, &bytes.Buffer{}))
	require.True(t, called)
}

func TestRun_PurgeSessionsFlag(t *testing.T) {
	var got time.Duration
	prev := purgeFn
	purgeFn = func(_ context.Context, d time.Duration) (int, error) { got = d; return 3, nil }
	t.Cleanup(func() { purgeFn = prev })

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"purge-sessions", "-older-than=48h"}, nil, &out, &bytes.Buffer{}))
	require.Equal(t, 48*time.Hour, got)
	require.Equal(t, "purged 3 refresh token records\n", out.String())
}

func TestRun_MigrateError(t *testing.T) {
	boom := errors.New("boom")
	prev := migrateFn
	migrateFn = func(context.Context) error { return boom }
	t.Cleanup(func() { migrateFn = prev })

	require.ErrorIs(t, run(context.Background(), []string{"migrate"}, nil, &bytes.Buffer{}, &bytes.Buffer{}), boom)
}

func TestRun_UnknownCommandAndArgs(t *testing.T) {
	err := run(context.Background(), []string{"dance"}, nil, &bytes.Buffer{}, &bytes.Buffer{})
	require.ErrorIs(t, err, errUsage)

	err = run(context.Background(), []string{"gen-keys", "extra"}, nil, &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestHashPassword_FromPipe(t *testing.T) {
	t.Setenv("FILMDOMS_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("FILMDOMS_ARGON2_ITERATIONS", "1")
	t.Setenv("FILMDOMS_ARGON2_PARALLELISM", "1")

	var out bytes.Buffer
	err := run(context.Background(), []string{"hash-password"}, strings.NewReader("cinema-paradiso\n"), &out, &bytes.Buffer{})
	require.NoError(t, err)

	hash := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(hash, "$argon2id$"), hash)

	cfg, err := password.FromEnv()
	require.NoError(t, err)
	ok, err := cfg.Verify(hash, "cinema-paradiso")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHashPassword_AcceptsShortPassword(t *testing.T) {
	t.Setenv("FILMDOMS_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("FILMDOMS_ARGON2_ITERATIONS", "1")
	t.Setenv("FILMDOMS_ARGON2_PARALLELISM", "1")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"hash-password"}, strings.NewReader("correct\n"), &out, &bytes.Buffer{}))

	cfg, err := password.FromEnv()
	require.NoError(t, err)
	ok, err := cfg.Verify(strings.TrimSpace(out.String()), "correct")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHashPassword_Empty(t *testing.T) {
	err := run(context.Background(), []string{"hash-password"}, strings.NewReader("\n"), &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestGenKeys(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"gen-keys"}, nil, &out, &bytes.Buffer{}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	secretHex := strings.TrimPrefix(lines[0], "FILMDOMS_PASETO_V4_SECRET_KEY_HEX=")

	sk, err := paseto.NewV4AsymmetricSecretKeyFromHex(secretHex)
	require.NoError(t, err)
	require.Equal(t, sk.Public().ExportHex(), lines[2])
}
