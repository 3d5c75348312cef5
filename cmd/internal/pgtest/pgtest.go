// Package pgtest opens throwaway Postgres schemas for integration tests.
//
// Tests are opt-in via FILMDOMS_DATABASE_URL. Outside CI an unreachable
// server skips instead of failing, which keeps local runs fast.
package pgtest

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"filmdoms/cmd/ids"
	"filmdoms/cmd/internal/migrations"
)

// EnvDatabaseURL names the connection string variable.
const EnvDatabaseURL = "FILMDOMS_DATABASE_URL"

// Open creates a fresh schema, applies migrations into it and returns a pool
// whose search_path points at it. The schema is dropped on cleanup.
func Open(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	if raw == "" {
		t.Skipf("integration test skipped: %s is not set", EnvDatabaseURL)
	}

	admin := connect(t, raw, "")
	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		admin.Close()
		t.Fatalf("ulid: %v", err)
	}
	schema := "filmdoms_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := admin.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
		admin.Close()
	})

	pool := connect(t, raw, schema)
	t.Cleanup(pool.Close)

	migCtx, migCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer migCancel()
	if err := migrations.Up(migCtx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool, schema
}

func connect(t *testing.T, raw, schema string) *pgxpool.Pool {
	t.Helper()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", EnvDatabaseURL, err)
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		if ShouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable (%s set): %v", EnvDatabaseURL, err)
		}
		t.Fatalf("ping: %v", err)
	}
	return pool
}

// ShouldSkip reports whether err looks like an unreachable server outside CI.
func ShouldSkip(err error) bool {
	if err == nil || os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "context deadline exceeded", "timeout", "dial tcp", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
