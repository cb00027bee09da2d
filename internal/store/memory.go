// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/schoolgate/internal/account"
)

// =============================================================================
// IN-MEMORY STORE
// =============================================================================

// MemoryStore keeps accounts in process memory for tests. It honors the
// same version semantics as SQLite.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*account.Account
	byEmail  map[string]uuid.UUID
	byName   map[string]uuid.UUID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*account.Account),
		byEmail:  make(map[string]uuid.UUID),
		byName:   make(map[string]uuid.UUID),
	}
}

// Create inserts a new account.
func (m *MemoryStore) Create(ctx context.Context, a *account.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[a.Email]; ok {
		return ErrDuplicateEmail
	}
	if a.Username != "" {
		if _, ok := m.byName[a.Username]; ok {
			return ErrDuplicateUsername
		}
	}

	stampNew(a)

	stored := *a
	m.accounts[a.ID] = &stored
	m.byEmail[a.Email] = a.ID
	if a.Username != "" {
		m.byName[a.Username] = a.ID
	}
	return nil
}

// GetByID returns the account with the given ID.
func (m *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *a
	return &out, nil
}

// GetByEmail returns the account with the given email.
func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (*account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	out := *m.accounts[id]
	return &out, nil
}

// Update writes the account if its version still matches the stored copy.
func (m *MemoryStore) Update(ctx context.Context, a *account.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.accounts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != a.Version {
		return ErrVersionConflict
	}

	// Keep the lookup indexes consistent with the new field values
	if stored.Email != a.Email {
		delete(m.byEmail, stored.Email)
		m.byEmail[a.Email] = a.ID
	}
	if stored.Username != a.Username {
		if stored.Username != "" {
			delete(m.byName, stored.Username)
		}
		if a.Username != "" {
			m.byName[a.Username] = a.ID
		}
	}

	a.Version++
	a.UpdatedAt = time.Now()

	updated := *a
	m.accounts[a.ID] = &updated
	return nil
}

// List returns all accounts ordered by email.
func (m *MemoryStore) List(ctx context.Context) ([]*account.Account, error) {
	return m.list(func(*account.Account) bool { return true })
}

// ListByStatus returns accounts in the given status, ordered by email.
func (m *MemoryStore) ListByStatus(ctx context.Context, status account.Status) ([]*account.Account, error) {
	return m.list(func(a *account.Account) bool { return a.Status == status })
}

func (m *MemoryStore) list(keep func(*account.Account) bool) ([]*account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var accounts []*account.Account
	for _, a := range m.accounts {
		if keep(a) {
			out := *a
			accounts = append(accounts, &out)
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Email < accounts[j].Email
	})
	return accounts, nil
}

// Delete removes the account with the given ID.
func (m *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byEmail, a.Email)
	if a.Username != "" {
		delete(m.byName, a.Username)
	}
	delete(m.accounts, id)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
