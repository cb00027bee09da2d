// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// accounts.go - Account lifecycle and the composed login flow. The six core
// operations in guard.go move an existing record between states; this file
// covers getting records into and out of the store, password authentication,
// and staff authenticator enrollment.

package guard

import (
	"context"
	"errors"
	"time"

	"github.com/jeranaias/schoolgate/internal/account"
	"github.com/jeranaias/schoolgate/internal/credentials"
	"github.com/jeranaias/schoolgate/internal/otp"
	"github.com/jeranaias/schoolgate/internal/store"
)

// usernameRetries bounds regeneration after a username collision. The suffix
// space is large enough that one retry is already improbable.
const usernameRetries = 5

// =============================================================================
// ACCOUNT LIFECYCLE
// =============================================================================

// CreateAccountParams carries the operator-supplied fields for enrollment.
type CreateAccountParams struct {
	Email            string
	FirstName        string
	MiddleName       string
	LastName         string
	Role             account.Role
	SecurityQuestion account.SecurityQuestion
	SecurityAnswer   string
	Password         string
}

// CreateAccount validates the parameters, hashes the secrets, generates a
// username from the school name, and stores the new record in its initial
// ACTIVE state.
func (g *Guard) CreateAccount(ctx context.Context, p CreateAccountParams) (account.Account, error) {
	if err := credentials.ValidateEmail(p.Email); err != nil {
		return account.Account{}, err
	}
	if p.Password == "" {
		return account.Account{}, credentials.ErrEmptyPassword
	}
	if p.SecurityQuestion != "" && p.SecurityAnswer == "" {
		return account.Account{}, ErrAnswerRequired
	}

	a, err := account.New(account.CreateParams{
		Email:            p.Email,
		FirstName:        p.FirstName,
		MiddleName:       p.MiddleName,
		LastName:         p.LastName,
		Role:             p.Role,
		SecurityQuestion: p.SecurityQuestion,
	}, g.now())
	if err != nil {
		return account.Account{}, err
	}

	a.PasswordHash, err = credentials.HashPassword(p.Password, g.iterations)
	if err != nil {
		return account.Account{}, err
	}
	if p.SecurityAnswer != "" {
		a.SecurityAnswerHash, err = credentials.HashAnswer(p.SecurityAnswer, g.iterations)
		if err != nil {
			return account.Account{}, err
		}
	}

	for attempt := 0; ; attempt++ {
		a.Username, err = credentials.GenerateUsernameWithPrefixLength(g.schoolName, g.usernamePfx)
		if err != nil {
			return account.Account{}, err
		}

		err = g.store.Create(ctx, &a)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateUsername) || attempt >= usernameRetries {
			return account.Account{}, err
		}
	}

	g.logEvent(a.Email, "ACCOUNT_CREATED", map[string]string{
		"role": string(a.Role),
	})
	return a, nil
}

// Account returns the stored record for an email.
func (g *Guard) Account(ctx context.Context, email string) (*account.Account, error) {
	return g.store.GetByEmail(ctx, credentials.NormalizeEmail(email))
}

// Accounts returns a snapshot of every stored record, ordered by email.
func (g *Guard) Accounts(ctx context.Context) ([]account.Account, error) {
	list, err := g.store.List(ctx)
	if err != nil {
		return nil, err
	}
	accounts := make([]account.Account, 0, len(list))
	for _, a := range list {
		accounts = append(accounts, *a)
	}
	return accounts, nil
}

// DeleteAccount removes an account permanently.
func (g *Guard) DeleteAccount(ctx context.Context, email string) error {
	email = credentials.NormalizeEmail(email)

	a, err := g.store.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := g.store.Delete(ctx, a.ID); err != nil {
		return err
	}

	g.logEvent(email, "ACCOUNT_DELETED", map[string]string{
		"role": string(a.Role),
	})
	return nil
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

// AuthResult is the outcome of a password authentication. Denials are values
// here, not errors: the error return is reserved for infrastructure
// failures (and unknown emails, which surface store.ErrNotFound).
type AuthResult struct {
	// OK means the password matched. The login is not complete until the
	// delivered code passes VerifyOTP.
	OK bool

	// Locked means the account is locked, either before this attempt or
	// because this failure crossed the limit.
	Locked bool

	// TimeRemaining is how long the lockout has left to run. Zero for a
	// lockout that only a manual unlock can clear.
	TimeRemaining time.Duration

	// Code is the freshly issued login code on success. Operator surfaces
	// show it when mail delivery is not configured.
	Code string

	// OTPThrottled means the password matched but the resend limit blocked
	// a new code. Any previously issued code is still pending.
	OTPThrottled bool
}

// Authenticate runs the password stage of a login: lockout check, password
// verification, then counter reset and code issue on a match. A mismatch
// counts one failed attempt and can itself trip the lockout.
func (g *Guard) Authenticate(ctx context.Context, email, password string) (AuthResult, error) {
	email = credentials.NormalizeEmail(email)

	locked, err := g.IsLockedOut(ctx, email)
	if err != nil {
		return AuthResult{}, err
	}
	if locked {
		st, err := g.GetStatus(ctx, email)
		if err != nil {
			return AuthResult{}, err
		}
		g.logFailure(email, "AUTH_ATTEMPT_BLOCKED", "account locked", map[string]string{
			"time_remaining": st.TimeRemaining.String(),
		})
		return AuthResult{Locked: true, TimeRemaining: st.TimeRemaining}, nil
	}

	a, err := g.store.GetByEmail(ctx, email)
	if err != nil {
		return AuthResult{}, err
	}

	if !credentials.VerifyPassword(password, a.PasswordHash) {
		st, err := g.RecordFailedAttempt(ctx, email)
		if err != nil {
			return AuthResult{}, err
		}
		res := AuthResult{}
		if st.AccountStatus == account.StatusLocked {
			res.Locked = true
			res.TimeRemaining = st.TimeRemaining
		}
		return res, nil
	}

	if err := g.ResetAttempts(ctx, email); err != nil {
		return AuthResult{}, err
	}
	g.logEvent(email, "AUTH_ATTEMPT", nil)

	code, err := g.IssueOTP(ctx, email)
	if errors.Is(err, ErrOTPThrottled) {
		return AuthResult{OK: true, OTPThrottled: true}, nil
	}
	if err != nil {
		return AuthResult{}, err
	}

	return AuthResult{OK: true, Code: code}, nil
}

// VerifySecurityAnswer checks a recovery answer against the stored hash.
// Answers are normalized (trimmed, lowercased) before comparison.
func (g *Guard) VerifySecurityAnswer(ctx context.Context, email, answer string) (bool, error) {
	a, err := g.store.GetByEmail(ctx, credentials.NormalizeEmail(email))
	if err != nil {
		return false, err
	}
	if a.SecurityAnswerHash == "" {
		return false, nil
	}
	return credentials.VerifyAnswer(answer, a.SecurityAnswerHash), nil
}

// =============================================================================
// STAFF TOTP
// =============================================================================

// EnrollTOTP creates an authenticator secret for a staff account and stores
// it, returning the secret and provisioning URL for the authenticator app.
// Re-enrolling replaces the previous secret.
func (g *Guard) EnrollTOTP(ctx context.Context, email string) (*otp.TOTPEnrollment, error) {
	email = credentials.NormalizeEmail(email)

	a, err := g.store.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !a.Role.Staff() {
		return nil, ErrNotStaff
	}

	enrollment, err := otp.EnrollTOTP(g.totpIssuer, a.Email)
	if err != nil {
		return nil, err
	}

	_, err = g.mutate(ctx, email, func(a account.Account) account.Result {
		a.TOTPSecret = enrollment.Secret
		return account.Result{
			Account: a,
			Effects: []account.Effect{account.EffectPersist},
		}
	})
	if err != nil {
		return nil, err
	}

	g.logEvent(email, "TOTP_ENROLLED", nil)
	return enrollment, nil
}

// VerifyTOTP reports whether code is currently valid for the account's
// enrolled authenticator. Accounts without an enrollment always fail.
func (g *Guard) VerifyTOTP(ctx context.Context, email, code string) (bool, error) {
	email = credentials.NormalizeEmail(email)

	a, err := g.store.GetByEmail(ctx, email)
	if err != nil {
		return false, err
	}

	ok := otp.ValidateTOTP(code, a.TOTPSecret)
	if ok {
		g.logEvent(email, "TOTP_VERIFIED", nil)
	} else {
		g.logFailure(email, "TOTP_REJECTED", "code invalid or no enrollment", nil)
	}
	return ok, nil
}
