package session

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"filmdoms/cmd/account"
)

// RedisStore keeps each record in a Redis hash keyed by its token hash.
// Check-and-rotate runs as one Lua script, which Redis executes atomically.
//
// Keys (with the configured prefix):
//
//	rt:<token hash>   record hash
//	fam:<family id>   set of token hashes
//	acct:<account id> set of token hashes
//
// Keys expire Retention after the record's ExpiresAt, so PurgeExpired is
// only needed to reclaim space earlier.
type RedisStore struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

// RedisOption configures the store.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key namespace (default "filmdoms:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRetention sets how long records outlive ExpiresAt (default 24h).
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d >= 0 {
			s.retention = d
		}
	}
}

// NewRedisStore wraps a client owned by the caller.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "filmdoms:", retention: 24 * time.Hour}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) recKey(hash string) string  { return s.prefix + "rt:" + hash }
func (s *RedisStore) famKey(id string) string    { return s.prefix + "fam:" + id }
func (s *RedisStore) acctKey(id string) string   { return s.prefix + "acct:" + id }
func (s *RedisStore) expireAt(t time.Time) int64 { return t.Add(s.retention).UnixMilli() }

// KEYS: record, family set, account set
// ARGV: key expire-at (ms), token hash, field/value pairs...
var redisInsertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('PEXPIREAT', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], ARGV[2])
redis.call('PEXPIREAT', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[2])
redis.call('PEXPIREAT', KEYS[3], ARGV[1])
return 1
`)

// KEYS: old record, new record, family set, account set
// ARGV: now (ms), new id, new hash, new key expire-at (ms), new field/value pairs...
var redisRotateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'notfound' end
local st = redis.call('HMGET', KEYS[1], 'revoked', 'replaced_by', 'expires')
if st[1] and st[1] ~= '' then
  if st[2] and st[2] ~= '' then return 'reuse' end
  return 'revoked'
end
if tonumber(ARGV[1]) >= tonumber(st[3]) then return 'expired' end
if redis.call('EXISTS', KEYS[2]) == 1 then return 'duplicate' end
redis.call('HSET', KEYS[2], unpack(ARGV, 5))
redis.call('PEXPIREAT', KEYS[2], ARGV[4])
redis.call('HSET', KEYS[1], 'revoked', ARGV[1], 'replaced_by', ARGV[2], 'reason', 'rotated')
redis.call('SADD', KEYS[3], ARGV[3])
redis.call('PEXPIREAT', KEYS[3], ARGV[4])
redis.call('SADD', KEYS[4], ARGV[3])
redis.call('PEXPIREAT', KEYS[4], ARGV[4])
return 'ok'
`)

// KEYS: record
// ARGV: now (ms), reason
var redisRevokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
local r = redis.call('HGET', KEYS[1], 'revoked')
if r and r ~= '' then return 0 end
redis.call('HSET', KEYS[1], 'revoked', ARGV[1], 'reason', ARGV[2])
return 1
`)

func recordFields(rec Record) []any {
	ip := ""
	if rec.IP != nil {
		ip = rec.IP.String()
	}
	return []any{
		"id", rec.ID,
		"family", rec.FamilyID,
		"account", rec.AccountID,
		"role", string(rec.Role),
		"hash", rec.TokenHash,
		"issued", strconv.FormatInt(rec.IssuedAt.UnixMilli(), 10),
		"expires", strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10),
		"revoked", "",
		"replaced_by", "",
		"reason", "",
		"ua", rec.UserAgent,
		"ip", ip,
	}
}

func parseRecordFields(m map[string]string) (Record, error) {
	issued, err := strconv.ParseInt(m["issued"], 10, 64)
	if err != nil {
		return Record{}, err
	}
	expires, err := strconv.ParseInt(m["expires"], 10, 64)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:               m["id"],
		FamilyID:         m["family"],
		AccountID:        m["account"],
		Role:             account.Role(m["role"]),
		TokenHash:        m["hash"],
		IssuedAt:         time.UnixMilli(issued).UTC(),
		ExpiresAt:        time.UnixMilli(expires).UTC(),
		ReplacedByID:     m["replaced_by"],
		RevocationReason: m["reason"],
		UserAgent:        m["ua"],
	}
	if v := m["revoked"]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Record{}, err
		}
		t := time.UnixMilli(ms).UTC()
		rec.RevokedAt = &t
	}
	if v := m["ip"]; v != "" {
		rec.IP = net.ParseIP(v)
	}
	return rec, nil
}

func (s *RedisStore) Insert(ctx context.Context, rec Record) error {
	args := append([]any{s.expireAt(rec.ExpiresAt), rec.TokenHash}, recordFields(rec)...)
	n, err := redisInsertScript.Run(ctx, s.rdb,
		[]string{s.recKey(rec.TokenHash), s.famKey(rec.FamilyID), s.acctKey(rec.AccountID)},
		args...,
	).Int()
	if err != nil {
		return unavailable("session.redis.insert", err)
	}
	if n == 0 {
		return errDuplicateToken
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, tokenHash string) (Record, error) {
	m, err := s.rdb.HGetAll(ctx, s.recKey(tokenHash)).Result()
	if err != nil {
		return Record{}, unavailable("session.redis.lookup", err)
	}
	if len(m) == 0 {
		return Record{}, ErrTokenNotFound
	}
	rec, err := parseRecordFields(m)
	if err != nil {
		return Record{}, unavailable("session.redis.lookup", err)
	}
	return rec, nil
}

func (s *RedisStore) Rotate(ctx context.Context, now time.Time, tokenHash string, next Successor) (Record, Record, error) {
	const op = "session.redis.rotate"

	// Family, account and role never change, so reading them ahead of the
	// script is safe; the script re-checks state atomically.
	cur, err := s.Lookup(ctx, tokenHash)
	if err != nil {
		return Record{}, Record{}, err
	}

	created := successorRecord(cur, next)
	args := append([]any{
		strconv.FormatInt(now.UnixMilli(), 10),
		created.ID,
		created.TokenHash,
		s.expireAt(created.ExpiresAt),
	}, recordFields(created)...)

	status, err := redisRotateScript.Run(ctx, s.rdb,
		[]string{s.recKey(tokenHash), s.recKey(created.TokenHash), s.famKey(cur.FamilyID), s.acctKey(cur.AccountID)},
		args...,
	).Text()
	if err != nil {
		return cur, Record{}, unavailable(op, err)
	}

	switch status {
	case "ok":
		return retire(cur, now, created.ID, ReasonRotated), created, nil
	case "notfound":
		return Record{}, Record{}, ErrTokenNotFound
	case "reuse":
		return cur, Record{}, &ReuseError{RecordID: cur.ID, FamilyID: cur.FamilyID, AccountID: cur.AccountID}
	case "revoked":
		return cur, Record{}, ErrTokenRevoked
	case "expired":
		return cur, Record{}, ErrTokenExpired
	case "duplicate":
		return cur, Record{}, errDuplicateToken
	default:
		return cur, Record{}, unavailable(op, errors.New("unexpected script status "+strconv.Quote(status)))
	}
}

func (s *RedisStore) revoke(ctx context.Context, now time.Time, tokenHash, reason string) (bool, error) {
	n, err := redisRevokeScript.Run(ctx, s.rdb,
		[]string{s.recKey(tokenHash)},
		strconv.FormatInt(now.UnixMilli(), 10), reason,
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) Revoke(ctx context.Context, now time.Time, tokenHash, reason string) error {
	_, err := s.revoke(ctx, now, tokenHash, reason)
	return unavailable("session.redis.revoke", err)
}

func (s *RedisStore) revokeSet(ctx context.Context, op, setKey string, now time.Time, reason string) (int, error) {
	hashes, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, unavailable(op, err)
	}
	n := 0
	for _, h := range hashes {
		ok, err := s.revoke(ctx, now, h, reason)
		if err != nil {
			return n, unavailable(op, err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *RedisStore) RevokeFamily(ctx context.Context, now time.Time, familyID, reason string) (int, error) {
	return s.revokeSet(ctx, "session.redis.revoke_family", s.famKey(familyID), now, reason)
}

func (s *RedisStore) RevokeAccount(ctx context.Context, now time.Time, accountID, reason string) (int, error) {
	return s.revokeSet(ctx, "session.redis.revoke_account", s.acctKey(accountID), now, reason)
}

func (s *RedisStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	const op = "session.redis.purge"

	n := 0
	iter := s.rdb.Scan(ctx, 0, s.prefix+"rt:*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		vals, err := s.rdb.HMGet(ctx, key, "expires", "hash", "family", "account").Result()
		if err != nil {
			return n, unavailable(op, err)
		}
		exp, _ := vals[0].(string)
		ms, err := strconv.ParseInt(exp, 10, 64)
		if err != nil || !time.UnixMilli(ms).Before(before) {
			continue
		}
		hash, _ := vals[1].(string)
		fam, _ := vals[2].(string)
		acct, _ := vals[3].(string)

		_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			p.SRem(ctx, s.famKey(fam), hash)
			p.SRem(ctx, s.acctKey(acct), hash)
			return nil
		})
		if err != nil {
			return n, unavailable(op, err)
		}
		n++
	}
	if err := iter.Err(); err != nil {
		return n, unavailable(op, err)
	}
	return n, nil
}
