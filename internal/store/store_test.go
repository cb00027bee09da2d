// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/schoolgate/internal/account"
)

// openers returns a constructor per store implementation so every test
// runs against both.
func openers() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "accounts.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore() error = %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
	}
}

func newTestAccount(t *testing.T, email string) *account.Account {
	t.Helper()
	a, err := account.New(account.CreateParams{
		Email:     email,
		FirstName: "ada",
		LastName:  "lovelace",
		Role:      account.RoleTeacher,
	}, time.Now())
	if err != nil {
		t.Fatalf("account.New() error = %v", err)
	}
	return &a
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, open := range openers() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			a := newTestAccount(t, "ada@example.edu")
			a.Username = "OS--K7Q2M9PL4XB1R"
			if err := s.Create(ctx, a); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			got, err := s.GetByEmail(ctx, "ada@example.edu")
			if err != nil {
				t.Fatalf("GetByEmail() error = %v", err)
			}
			if got.ID != a.ID {
				t.Errorf("GetByEmail() ID = %v, want %v", got.ID, a.ID)
			}
			if got.Username != "OS--K7Q2M9PL4XB1R" {
				t.Errorf("Username = %q after round trip", got.Username)
			}
			if got.Role != account.RoleTeacher {
				t.Errorf("Role = %q after round trip", got.Role)
			}
			if got.Status != account.StatusActive {
				t.Errorf("Status = %q, want ACTIVE", got.Status)
			}
			if got.Version != 1 {
				t.Errorf("Version = %d, want 1", got.Version)
			}

			byID, err := s.GetByID(ctx, a.ID)
			if err != nil {
				t.Fatalf("GetByID() error = %v", err)
			}
			if byID.Email != a.Email {
				t.Errorf("GetByID() email = %q, want %q", byID.Email, a.Email)
			}
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, open := range openers() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			if _, err := s.GetByEmail(ctx, "nobody@example.edu"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetByEmail() error = %v, want ErrNotFound", err)
			}
			if _, err := s.GetByID(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetByID() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_DuplicateEmail(t *testing.T) {
	for name, open := range openers() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			if err := s.Create(ctx, newTestAccount(t, "dup@example.edu")); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			err := s.Create(ctx, newTestAccount(t, "dup@example.edu"))
			if !errors.Is(err, ErrDuplicateEmail) {
				t.Errorf("Create() duplicate error = %v, want ErrDuplicateEmail", err)
			}
		})
	}
}

func TestStore_DuplicateUsername(t *testing.T) {
	for name, open := range openers() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			first := newTestAccount(t, "first@example.edu")
			first.Username = "OS--SAME"
			if err := s.Create(ctx, first); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			second := newTestAccount(t, "second@example.edu")
			second.Username = "OS--SAME"
			if err := s.Create(ctx, second); !errors.Is(err, ErrDuplicateUsername) {
				t.Errorf("Create() duplicate error = %v, want ErrDuplicateUsername", err)
			}

			// Accounts without usernames never collide with each other
			blankA := newTestAccount(t, "blank-a@example.edu")
			blankB := newTestAccount(t, "blank-b@example.edu")
			if err := s.Create(ctx, blankA); err != nil {
				t.Fatalf("Create() blank username error = %v", err)
			}
			if err := s.Create(ctx, blankB); err != nil {
				t.Errorf("Create() second blank username error = %v", err)
			}
		})
	}
}

func TestStore_UpdateBumpsVersion(t *testing.T) {
	for name, open := range openers() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			a := newTestAccount(t, "bump@example.edu")
			if err := s.Create(ctx, a); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			a.FailedLoginAttempts = 2
			a.LastFailedLogin = time.Now()
			if err := s.Update(ctx, a); err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			if a.Version != 2 {
				t.Errorf("Version after update = %d, want 2", a.Version)
			}

			got, err := s.GetByEmail(ctx, "bump@example.edu")
			if err != nil {
				t.Fatalf("GetByEmail() error = %v", err)
			}
			if got.FailedLoginAttempts != 2 {
				t.Errorf("FailedLoginAttempts = %d, want 2", got.FailedLoginAttempts)
			}
			if got.Version != 2 {
				t.Errorf("stored Version = %d, want 2", got.Version)
			}
			if got.UpdatedAt.IsZero() {
				t.Error("UpdatedAt should be stamped on update")
			}
		})
	}
}

func TestStore_VersionConflict(t *testing.T) {
	for name, open := range openers() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			a := newTestAccount(t, "race@example.edu")
			if err := s.Create(ctx, a); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			// Two workers read the same version
			first, err := s.GetByEmail(ctx, "race@example.edu")
			if err != nil {
				t.Fatalf("GetByEmail() error = %v", err)
			}
			second, err := s.GetByEmail(ctx, "race@example.edu")
			if err != nil {
				t.Fatalf("GetByEmail() error = %v", err)
			}

			first.FailedLoginAttempts = 1
			if err := s.Update(ctx, first); err != nil {
				t.Fatalf("first Update() error = %v", err)
			}

			second.FailedLoginAttempts = 5
			if err := s.Update(ctx, second); !errors.Is(err, ErrVersionConflict) {
				t.Errorf("second Update() error = %v, want ErrVersionConflict", err)
			}

			// The winning write is the one that landed
			got, _ := s.GetByEmail(ctx, "race@example.edu")
			if got.FailedLoginAttempts != 1 {
				t.Errorf("FailedLoginAttempts = %d, want 1", got.FailedLoginAttempts)
			}
		})
	}
}

func TestStore_UpdateMissing(t *testing.T) {
	for name, open := range openers() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			a := newTestAccount(t, "ghost@example.edu")
			a.Version = 1
			if err := s.Update(ctx, a); !errors.Is(err, ErrNotFound) {
				t.Errorf("Update() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_ListByStatus(t *testing.T) {
	for name, open := range openers() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			emails := []string{"c@example.edu", "a@example.edu", "b@example.edu"}
			for _, email := range emails {
				if err := s.Create(ctx, newTestAccount(t, email)); err != nil {
					t.Fatalf("Create(%s) error = %v", email, err)
				}
			}

			locked, err := s.GetByEmail(ctx, "b@example.edu")
			if err != nil {
				t.Fatalf("GetByEmail() error = %v", err)
			}
			locked.Status = account.StatusLocked
			if err := s.Update(ctx, locked); err != nil {
				t.Fatalf("Update() error = %v", err)
			}

			all, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("List() returned %d accounts, want 3", len(all))
			}
			// Ordered by email
			for i, want := range []string{"a@example.edu", "b@example.edu", "c@example.edu"} {
				if all[i].Email != want {
					t.Errorf("List()[%d] = %q, want %q", i, all[i].Email, want)
				}
			}

			lockedOnly, err := s.ListByStatus(ctx, account.StatusLocked)
			if err != nil {
				t.Fatalf("ListByStatus() error = %v", err)
			}
			if len(lockedOnly) != 1 || lockedOnly[0].Email != "b@example.edu" {
				t.Errorf("ListByStatus(LOCKED) = %v accounts, want just b@example.edu", len(lockedOnly))
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, open := range openers() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			a := newTestAccount(t, "gone@example.edu")
			if err := s.Create(ctx, a); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			if err := s.Delete(ctx, a.ID); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := s.GetByEmail(ctx, "gone@example.edu"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetByEmail() after delete error = %v, want ErrNotFound", err)
			}
			if err := s.Delete(ctx, a.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("second Delete() error = %v, want ErrNotFound", err)
			}

			// The freed email can be registered again
			if err := s.Create(ctx, newTestAccount(t, "gone@example.edu")); err != nil {
				t.Errorf("Create() after delete error = %v", err)
			}
		})
	}
}

func TestStore_TimestampRoundTrip(t *testing.T) {
	for name, open := range openers() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			expiry := time.Date(2026, 3, 14, 10, 5, 0, 500, time.UTC)
			failed := time.Date(2026, 3, 14, 9, 59, 59, 0, time.UTC)

			a := newTestAccount(t, "times@example.edu")
			a.OTP = "483920"
			a.OTPExpiry = expiry
			a.LastFailedLogin = failed
			if err := s.Create(ctx, a); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			got, err := s.GetByEmail(ctx, "times@example.edu")
			if err != nil {
				t.Fatalf("GetByEmail() error = %v", err)
			}
			if !got.OTPExpiry.Equal(expiry) {
				t.Errorf("OTPExpiry = %v, want %v", got.OTPExpiry, expiry)
			}
			if !got.LastFailedLogin.Equal(failed) {
				t.Errorf("LastFailedLogin = %v, want %v", got.LastFailedLogin, failed)
			}

			// Cleared timestamps survive as zero values
			got.OTP = ""
			got.OTPExpiry = time.Time{}
			got.LastFailedLogin = time.Time{}
			if err := s.Update(ctx, got); err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			cleared, _ := s.GetByEmail(ctx, "times@example.edu")
			if !cleared.OTPExpiry.IsZero() {
				t.Errorf("cleared OTPExpiry = %v, want zero", cleared.OTPExpiry)
			}
			if !cleared.LastFailedLogin.IsZero() {
				t.Errorf("cleared LastFailedLogin = %v, want zero", cleared.LastFailedLogin)
			}
		})
	}
}
