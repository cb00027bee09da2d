// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/schoolgate/internal/account"
)

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore persists accounts in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the account database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Create database directory if needed
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000", // 5s wait on contended writes
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the database schema.
func (s *SQLiteStore) initSchema() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return err
	}
	_, err := s.db.Exec(InitMetadata)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// CRUD OPERATIONS
// =============================================================================

const accountColumns = `id, email, COALESCE(username, ''), first_name, middle_name, last_name,
	role, security_question, security_answer_hash, password_hash, totp_secret,
	otp, otp_expiry, failed_login_attempts, last_failed_login, status,
	created_at, updated_at, version`

// Create inserts a new account.
func (s *SQLiteStore) Create(ctx context.Context, a *account.Account) error {
	stampNew(a)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Pre-check uniqueness so callers get typed errors instead of raw
	// constraint failures. Safe under the single-connection pool.
	var n int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM accounts WHERE email = ?", a.Email).Scan(&n); err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if n > 0 {
		return ErrDuplicateEmail
	}
	if a.Username != "" {
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM accounts WHERE username = ?", a.Username).Scan(&n); err != nil {
			return fmt.Errorf("failed to check username: %w", err)
		}
		if n > 0 {
			return ErrDuplicateUsername
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (
			id, email, username, first_name, middle_name, last_name,
			role, security_question, security_answer_hash, password_hash, totp_secret,
			otp, otp_expiry, failed_login_attempts, last_failed_login, status,
			created_at, updated_at, version
		) VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID.String(), a.Email, a.Username, a.FirstName, a.MiddleName, a.LastName,
		string(a.Role), string(a.SecurityQuestion), a.SecurityAnswerHash, a.PasswordHash, a.TOTPSecret,
		a.OTP, timeToNanos(a.OTPExpiry), a.FailedLoginAttempts, timeToNanos(a.LastFailedLogin), string(a.Status),
		timeToNanos(a.CreatedAt), timeToNanos(a.UpdatedAt), a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	return tx.Commit()
}

// GetByID returns the account with the given ID.
func (s *SQLiteStore) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id.String())
	return scanAccount(row)
}

// GetByEmail returns the account with the given email.
func (s *SQLiteStore) GetByEmail(ctx context.Context, email string) (*account.Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE email = ?", email)
	return scanAccount(row)
}

// Update writes the account if its version still matches the stored row.
func (s *SQLiteStore) Update(ctx context.Context, a *account.Account) error {
	now := time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET
			email = ?, username = NULLIF(?, ''), first_name = ?, middle_name = ?, last_name = ?,
			role = ?, security_question = ?, security_answer_hash = ?, password_hash = ?, totp_secret = ?,
			otp = ?, otp_expiry = ?, failed_login_attempts = ?, last_failed_login = ?, status = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`,
		a.Email, a.Username, a.FirstName, a.MiddleName, a.LastName,
		string(a.Role), string(a.SecurityQuestion), a.SecurityAnswerHash, a.PasswordHash, a.TOTPSecret,
		a.OTP, timeToNanos(a.OTPExpiry), a.FailedLoginAttempts, timeToNanos(a.LastFailedLogin), string(a.Status),
		timeToNanos(now),
		a.ID.String(), a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or another writer bumped the version
		var n int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM accounts WHERE id = ?", a.ID.String()).Scan(&n); err != nil {
			return fmt.Errorf("failed to check account: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	a.Version++
	a.UpdatedAt = now
	return nil
}

// List returns all accounts ordered by email.
func (s *SQLiteStore) List(ctx context.Context) ([]*account.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts ORDER BY email")
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// ListByStatus returns accounts in the given status, ordered by email.
func (s *SQLiteStore) ListByStatus(ctx context.Context, status account.Status) ([]*account.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE status = ? ORDER BY email", string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// Delete removes the account with the given ID.
func (s *SQLiteStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// ROW MAPPING
// =============================================================================

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAccount maps a row onto an Account.
func scanAccount(row rowScanner) (*account.Account, error) {
	var (
		a                    account.Account
		id, role, question   string
		status               string
		otpExpiry            int64
		lastFailed           int64
		createdAt, updatedAt int64
	)

	err := row.Scan(
		&id, &a.Email, &a.Username, &a.FirstName, &a.MiddleName, &a.LastName,
		&role, &question, &a.SecurityAnswerHash, &a.PasswordHash, &a.TOTPSecret,
		&a.OTP, &otpExpiry, &a.FailedLoginAttempts, &lastFailed, &status,
		&createdAt, &updatedAt, &a.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	a.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt account id %q: %w", id, err)
	}
	a.Role = account.Role(role)
	a.SecurityQuestion = account.SecurityQuestion(question)
	a.Status = account.Status(status)
	a.OTPExpiry = nanosToTime(otpExpiry)
	a.LastFailedLogin = nanosToTime(lastFailed)
	a.CreatedAt = nanosToTime(createdAt)
	a.UpdatedAt = nanosToTime(updatedAt)

	return &a, nil
}

// collectAccounts drains a result set.
func collectAccounts(rows *sql.Rows) ([]*account.Account, error) {
	var accounts []*account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

// =============================================================================
// TIME ENCODING
// =============================================================================

// timeToNanos encodes a timestamp as Unix nanoseconds, with 0 for unset.
func timeToNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// nanosToTime decodes a Unix nanosecond timestamp, with 0 meaning unset.
func nanosToTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// stampNew fills bookkeeping fields on first insert.
func stampNew(a *account.Account) {
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}
	if a.Version == 0 {
		a.Version = 1
	}
}
