package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore keeps records in process memory.
//
// Each record lives in its own slot; state transitions are compare-and-swap
// on the slot pointer, so concurrent rotations of one token race only with
// each other.
type MemoryStore struct {
	byHash sync.Map // token hash -> *memSlot
	byID   sync.Map // record id -> *memSlot
}

type memSlot struct {
	rec atomic.Pointer[Record]
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func newMemSlot(rec Record) *memSlot {
	s := &memSlot{}
	s.rec.Store(&rec)
	return s
}

func (m *MemoryStore) Insert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slot := newMemSlot(rec)
	if _, loaded := m.byHash.LoadOrStore(rec.TokenHash, slot); loaded {
		return errDuplicateToken
	}
	m.byID.Store(rec.ID, slot)
	return nil
}

func (m *MemoryStore) Lookup(ctx context.Context, tokenHash string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	v, ok := m.byHash.Load(tokenHash)
	if !ok {
		return Record{}, ErrTokenNotFound
	}
	return *v.(*memSlot).rec.Load(), nil
}

func (m *MemoryStore) Rotate(ctx context.Context, now time.Time, tokenHash string, next Successor) (Record, Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, Record{}, err
	}
	v, ok := m.byHash.Load(tokenHash)
	if !ok {
		return Record{}, Record{}, ErrTokenNotFound
	}
	slot := v.(*memSlot)

	for {
		cur := slot.rec.Load()
		if err := checkRotatable(*cur, now); err != nil {
			return *cur, Record{}, err
		}

		retired := retire(*cur, now, next.ID, ReasonRotated)
		if !slot.rec.CompareAndSwap(cur, &retired) {
			continue
		}

		created := successorRecord(*cur, next)
		if err := m.Insert(ctx, created); err != nil {
			// Roll the predecessor back so the caller can retry cleanly.
			slot.rec.CompareAndSwap(&retired, cur)
			return *cur, Record{}, err
		}
		return retired, created, nil
	}
}

// revokeSlot marks the slot revoked unless it already is. It reports whether
// this call made the transition.
func revokeSlot(slot *memSlot, now time.Time, reason string) bool {
	for {
		cur := slot.rec.Load()
		if cur.RevokedAt != nil {
			return false
		}
		revoked := retire(*cur, now, "", reason)
		if slot.rec.CompareAndSwap(cur, &revoked) {
			return true
		}
	}
}

func (m *MemoryStore) Revoke(ctx context.Context, now time.Time, tokenHash, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v, ok := m.byHash.Load(tokenHash); ok {
		revokeSlot(v.(*memSlot), now, reason)
	}
	return nil
}

func (m *MemoryStore) revokeWhere(ctx context.Context, now time.Time, reason string, match func(Record) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	m.byID.Range(func(_, v any) bool {
		slot := v.(*memSlot)
		if match(*slot.rec.Load()) && revokeSlot(slot, now, reason) {
			n++
		}
		return true
	})
	return n, nil
}

func (m *MemoryStore) RevokeFamily(ctx context.Context, now time.Time, familyID, reason string) (int, error) {
	return m.revokeWhere(ctx, now, reason, func(r Record) bool { return r.FamilyID == familyID })
}

func (m *MemoryStore) RevokeAccount(ctx context.Context, now time.Time, accountID, reason string) (int, error) {
	return m.revokeWhere(ctx, now, reason, func(r Record) bool { return r.AccountID == accountID })
}

func (m *MemoryStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	m.byID.Range(func(k, v any) bool {
		rec := v.(*memSlot).rec.Load()
		if rec.ExpiresAt.Before(before) {
			m.byID.Delete(k)
			m.byHash.Delete(rec.TokenHash)
			n++
		}
		return true
	})
	return n, nil
}
