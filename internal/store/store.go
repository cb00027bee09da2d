// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists accounts. Two implementations are provided: a
// SQLite-backed store for production use and an in-memory store for tests.
//
// Updates are optimistic: every account row carries a version counter, and
// an update only lands when the caller's version matches the stored one.
// A losing writer gets ErrVersionConflict and is expected to re-read and
// replay its transition.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/jeranaias/schoolgate/internal/account"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound indicates no account matches the lookup key
	ErrNotFound = errors.New("account not found")

	// ErrDuplicateEmail indicates the email is already registered
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrDuplicateUsername indicates the generated username collided
	ErrDuplicateUsername = errors.New("username already taken")

	// ErrVersionConflict indicates a concurrent update won the race;
	// re-read the account and replay the transition
	ErrVersionConflict = errors.New("account version conflict")
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is the persistence interface for accounts.
type Store interface {
	// Create inserts a new account. The account's CreatedAt, UpdatedAt,
	// and Version are stamped if unset.
	Create(ctx context.Context, a *account.Account) error

	// GetByID returns the account with the given ID, or ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error)

	// GetByEmail returns the account with the given email, or ErrNotFound.
	// The email is matched as stored (callers normalize before lookup).
	GetByEmail(ctx context.Context, email string) (*account.Account, error)

	// Update writes the account if its Version still matches the stored
	// row, then bumps Version and stamps UpdatedAt on the passed struct.
	// Returns ErrVersionConflict when another writer got there first.
	Update(ctx context.Context, a *account.Account) error

	// List returns all accounts ordered by email.
	List(ctx context.Context) ([]*account.Account, error)

	// ListByStatus returns accounts in the given status, ordered by email.
	ListByStatus(ctx context.Context, status account.Status) ([]*account.Account, error)

	// Delete removes the account with the given ID, or ErrNotFound.
	Delete(ctx context.Context, id uuid.UUID) error

	// Close releases store resources.
	Close() error
}
