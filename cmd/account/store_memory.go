package account

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// MemoryStore is an in-process Finder for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]Account
}

// NewMemoryStore returns a store seeded with accounts. Emails are normalized
// on insert; later duplicates win.
func NewMemoryStore(accounts ...Account) *MemoryStore {
	s := &MemoryStore{byEmail: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		s.Put(a)
	}
	return s
}

// seedAccount is the on-disk shape of FILMDOMS_DEV_ACCOUNTS_FILE entries.
type seedAccount struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
	Role         string `json:"role"`
}

// LoadMemoryStoreFile reads a JSON array of accounts:
//
//	[{"id":"1","email":"u@x.com","passwordHash":"$argon2id$...","role":"USER"}]
func LoadMemoryStoreFile(path string) (*MemoryStore, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied dev seed path.
	if err != nil {
		return nil, fmt.Errorf("account: read seed file: %w", err)
	}

	var seeds []seedAccount
	if err := json.Unmarshal(raw, &seeds); err != nil {
		return nil, fmt.Errorf("account: decode seed file: %w", err)
	}

	s := NewMemoryStore()
	for i, sa := range seeds {
		if strings.TrimSpace(sa.ID) == "" || NormalizeEmail(sa.Email) == "" || sa.PasswordHash == "" {
			return nil, fmt.Errorf("account: seed entry %d: id, email and passwordHash are required", i)
		}
		role := RoleUser
		if sa.Role != "" {
			role, err = ParseRole(sa.Role)
			if err != nil {
				return nil, fmt.Errorf("account: seed entry %d: %w", i, err)
			}
		}
		s.Put(Account{ID: sa.ID, Email: sa.Email, PasswordHash: sa.PasswordHash, Role: role})
	}
	return s, nil
}

// Put inserts or replaces an account.
func (s *MemoryStore) Put(a Account) {
	s.mu.Lock()
	s.byEmail[NormalizeEmail(a.Email)] = a
	s.mu.Unlock()
}

// Len returns the number of accounts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byEmail)
}

// FindByEmail implements Finder.
func (s *MemoryStore) FindByEmail(ctx context.Context, emailNorm string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.RLock()
	a, ok := s.byEmail[emailNorm]
	s.mu.RUnlock()
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}
