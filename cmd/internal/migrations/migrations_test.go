package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestFS_ContainsOrderedUpDown(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	want := []string{"00001_accounts.sql", "00002_refresh_tokens.sql", "00003_audit_log.sql"}
	if len(names) != len(want) {
		t.Fatalf("migrations=%v want %v", names, want)
	}
	for i, n := range names {
		if n != want[i] {
			t.Fatalf("migrations[%d]=%q want %q", i, n, want[i])
		}
		b, err := fs.ReadFile(FS, n)
		if err != nil {
			t.Fatalf("read %s: %v", n, err)
		}
		s := string(b)
		if !strings.Contains(s, "-- +goose Up") || !strings.Contains(s, "-- +goose Down") {
			t.Fatalf("%s: missing goose annotations", n)
		}
	}
}

func TestUp_NilPool(t *testing.T) {
	if err := Up(t.Context(), nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}
