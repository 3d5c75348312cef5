package account

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads accounts from the accounts table.
// The pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the accounts table (default "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("account: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "public"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("account: nil pool")
	}
	return st, nil
}

// FindByEmail implements Finder.
func (s *PostgresStore) FindByEmail(ctx context.Context, emailNorm string) (Account, error) {
	accounts := pgx.Identifier{s.schema, "accounts"}.Sanitize()

	var (
		out  Account
		role string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, role
		   FROM `+accounts+`
		  WHERE email_norm = $1`,
		emailNorm,
	).Scan(&out.ID, &out.Email, &out.PasswordHash, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}

	out.Role, err = ParseRole(role)
	if err != nil {
		out.Role = RoleUser
	}
	return out, nil
}

// Insert adds an account row. It exists for seeding and tests; production
// accounts are written by the account service.
func (s *PostgresStore) Insert(ctx context.Context, a Account) error {
	accounts := pgx.Identifier{s.schema, "accounts"}.Sanitize()
	if !a.Role.Valid() {
		a.Role = RoleUser
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+accounts+` (id, email, email_norm, password_hash, role)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, strings.TrimSpace(a.Email), NormalizeEmail(a.Email), a.PasswordHash, string(a.Role),
	)
	return err
}
