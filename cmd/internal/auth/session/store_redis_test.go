package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMiniredisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, opts...), mr
}

func TestRedisStore_Contract(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		st, _ := newMiniredisStore(t)
		return st
	})
}

func TestRedisStore_KeysExpireAfterRetention(t *testing.T) {
	st, mr := newMiniredisStore(t, WithKeyPrefix("t:"), WithRetention(time.Hour))
	ctx := context.Background()
	now := testNow()

	rec := testRecord(t, now, "acc-r")
	rec.ExpiresAt = now.Add(time.Minute)
	require.NoError(t, st.Insert(ctx, rec))
	require.True(t, mr.Exists("t:rt:"+rec.TokenHash))
	require.True(t, mr.Exists("t:fam:"+rec.FamilyID))
	require.True(t, mr.Exists("t:acct:acc-r"))

	mr.FastForward(time.Minute + time.Hour + time.Second)

	_, err := st.Lookup(ctx, rec.TokenHash)
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRedisStore_Unavailable(t *testing.T) {
	st, mr := newMiniredisStore(t)
	mr.Close()

	_, err := st.Lookup(context.Background(), "x")
	require.ErrorIs(t, err, ErrUnavailable)

	err = st.Revoke(context.Background(), testNow(), "x", ReasonLogout)
	require.ErrorIs(t, err, ErrUnavailable)
}
