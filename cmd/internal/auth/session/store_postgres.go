package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"filmdoms/cmd/account"
)

// PostgresStore implements Store over the refresh_tokens table.
//
// The pool is owned by the caller. Rotation locks the presented row with
// SELECT ... FOR UPDATE, so only rotations of the same token serialize.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	table  string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding refresh_tokens (default "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed store.
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
		return nil, errors.New("session: nil pool")
	}
	st.table = pgx.Identifier{st.schema, "refresh_tokens"}.Sanitize()
	return st, nil
}

const pgRecordColumns = `id, family_id, account_id, role, token_hash,
	issued_at, expires_at, revoked_at, replaced_by_id, revocation_reason,
	user_agent, ip::text`

// pgQuerier is satisfied by both the pool and a transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	if err := s.insert(ctx, s.pool, rec); err != nil {
		if pgIsUniqueViolation(err) {
			return errDuplicateToken
		}
		return unavailable("session.postgres.insert", err)
	}
	return nil
}

func (s *PostgresStore) insert(ctx context.Context, q pgQuerier, rec Record) error {
	_, err := q.Exec(ctx, `
		INSERT INTO `+s.table+` (
			id, family_id, account_id, role, token_hash,
			issued_at, expires_at, user_agent, ip
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::inet)
	`, rec.ID, rec.FamilyID, rec.AccountID, string(rec.Role), rec.TokenHash,
		rec.IssuedAt, rec.ExpiresAt, nullIfEmpty(rec.UserAgent), ipText(rec.IP))
	return err
}

func (s *PostgresStore) Lookup(ctx context.Context, tokenHash string) (Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+pgRecordColumns+` FROM `+s.table+` WHERE token_hash = $1`, tokenHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrTokenNotFound
		}
		return Record{}, unavailable("session.postgres.lookup", err)
	}
	return rec, nil
}

func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, tokenHash string, next Successor) (Record, Record, error) {
	const op = "session.postgres.rotate"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Record{}, Record{}, unavailable(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanRecord(tx.QueryRow(ctx,
		`SELECT `+pgRecordColumns+` FROM `+s.table+` WHERE token_hash = $1 FOR UPDATE`, tokenHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, Record{}, ErrTokenNotFound
		}
		return Record{}, Record{}, unavailable(op, err)
	}
	if err := checkRotatable(cur, now); err != nil {
		return cur, Record{}, err
	}

	created := successorRecord(cur, next)
	if err := s.insert(ctx, tx, created); err != nil {
		if pgIsUniqueViolation(err) {
			return cur, Record{}, errDuplicateToken
		}
		return cur, Record{}, unavailable(op, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE `+s.table+`
		   SET revoked_at = $2, replaced_by_id = $3, revocation_reason = $4
		 WHERE id = $1
	`, cur.ID, now, created.ID, ReasonRotated); err != nil {
		return cur, Record{}, unavailable(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return cur, Record{}, unavailable(op, err)
	}
	return retire(cur, now, created.ID, ReasonRotated), created, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, tokenHash, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		   SET revoked_at = $2, revocation_reason = $3
		 WHERE token_hash = $1 AND revoked_at IS NULL
	`, tokenHash, now, reason)
	return unavailable("session.postgres.revoke", err)
}

func (s *PostgresStore) RevokeFamily(ctx context.Context, now time.Time, familyID, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		   SET revoked_at = $2, revocation_reason = $3
		 WHERE family_id = $1 AND revoked_at IS NULL
	`, familyID, now, reason)
	if err != nil {
		return 0, unavailable("session.postgres.revoke_family", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RevokeAccount(ctx context.Context, now time.Time, accountID, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		   SET revoked_at = $2, revocation_reason = $3
		 WHERE account_id = $1 AND revoked_at IS NULL
	`, accountID, now, reason)
	if err != nil {
		return 0, unavailable("session.postgres.revoke_account", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	// Successors reference predecessors via replaced_by_id ON DELETE SET NULL.
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE expires_at < $1`, before)
	if err != nil {
		return 0, unavailable("session.postgres.purge", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec          Record
		role         string
		replacedByID *string
		reason       *string
		userAgent    *string
		ip           *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.FamilyID,
		&rec.AccountID,
		&role,
		&rec.TokenHash,
		&rec.IssuedAt,
		&rec.ExpiresAt,
		&rec.RevokedAt,
		&replacedByID,
		&reason,
		&userAgent,
		&ip,
	)
	if err != nil {
		return Record{}, err
	}

	rec.Role = account.Role(role)
	rec.ReplacedByID = deref(replacedByID)
	rec.RevocationReason = deref(reason)
	rec.UserAgent = deref(userAgent)
	if ip != nil {
		// inet::text always carries a prefix length.
		rec.IP = net.ParseIP(strings.SplitN(*ip, "/", 2)[0])
	}
	return rec, nil
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ipText(ip net.IP) any {
	if ip == nil {
		return nil
	}
	return ip.String()
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
