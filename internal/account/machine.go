// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// machine.go - Pure state transitions for the account security state machine.
//
// Each transition takes the record by value and returns a Result: the
// post-transition record plus the side effects the caller must apply. No
// transition performs I/O, reads a clock, or mutates shared state. This keeps
// every invariant testable with nothing but a time.Time cursor.
//
// States: ACTIVE <-> LOCKED. Lockout expiry is lazy: it is evaluated only
// when IsLockedOut is called, never by a background timer.

package account

import (
	"crypto/subtle"
	"fmt"
	"time"
)

// =============================================================================
// POLICY
// =============================================================================

// Policy holds the externally supplied security thresholds.
type Policy struct {
	// OTPTTL is how long an issued OTP remains valid.
	OTPTTL time.Duration

	// MaxFailedAttempts is the failure count at which the account locks.
	MaxFailedAttempts int

	// LockoutDuration is how long a lockout lasts before the lazy expiry
	// check clears it.
	LockoutDuration time.Duration
}

// DefaultPolicy returns the shipped thresholds: 5 minute OTP lifetime,
// lock after 3 failures, 15 minute lockout.
func DefaultPolicy() Policy {
	return Policy{
		OTPTTL:            5 * time.Minute,
		MaxFailedAttempts: 3,
		LockoutDuration:   15 * time.Minute,
	}
}

// Validate rejects thresholds that would make the machine degenerate.
func (p Policy) Validate() error {
	if p.OTPTTL <= 0 {
		return fmt.Errorf("account: otp ttl must be positive, got %v", p.OTPTTL)
	}
	if p.MaxFailedAttempts < 1 {
		return fmt.Errorf("account: max failed attempts must be at least 1, got %d", p.MaxFailedAttempts)
	}
	if p.LockoutDuration <= 0 {
		return fmt.Errorf("account: lockout duration must be positive, got %v", p.LockoutDuration)
	}
	return nil
}

// =============================================================================
// EFFECTS
// =============================================================================

// Effect is a side-effect intent produced by a transition. The guard applies
// effects in order; transitions only declare them.
type Effect int

const (
	// EffectPersist means the returned record must be written to storage.
	EffectPersist Effect = iota + 1

	// EffectNotifyOTP means the OTP delivery collaborator must be invoked
	// with the freshly issued code.
	EffectNotifyOTP

	// EffectNotifyLockout means the lockout collaborator must be invoked.
	// Emitted exactly once per ACTIVE -> LOCKED transition.
	EffectNotifyLockout
)

// String returns the effect name for audit metadata.
func (e Effect) String() string {
	switch e {
	case EffectPersist:
		return "persist"
	case EffectNotifyOTP:
		return "notify_otp"
	case EffectNotifyLockout:
		return "notify_lockout"
	}
	return "unknown"
}

// Result is the outcome of a transition: the new record and its effects.
// An empty Effects slice means the transition was a no-op and nothing, not
// even a persistence write, should happen.
type Result struct {
	Account Account
	Effects []Effect
}

// Has reports whether the result carries the given effect.
func (r Result) Has(e Effect) bool {
	for _, have := range r.Effects {
		if have == e {
			return true
		}
	}
	return false
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// IssueOTP stores code with an expiry of now + OTPTTL, overwriting any prior
// pending OTP. There is no precondition on the current status; callers that
// want to refuse OTPs to locked accounts check IsLockedOut first. The result
// requests persistence and OTP delivery.
func (a Account) IssueOTP(code string, now time.Time, p Policy) Result {
	a.OTP = code
	a.OTPExpiry = now.Add(p.OTPTTL)
	return Result{
		Account: a,
		Effects: []Effect{EffectPersist, EffectNotifyOTP},
	}
}

// VerifyOTP reports whether candidate matches the pending OTP and the OTP is
// still within its lifetime (valid up to and including the expiry instant).
// On success the OTP is consumed: both fields clear and the result requests
// persistence, so the same code can never verify twice. On any failure the
// record is returned unchanged with no effects; whether a mismatch counts as
// a failed login attempt is the caller's decision.
func (a Account) VerifyOTP(candidate string, now time.Time) (Result, bool) {
	if a.OTP == "" || candidate == "" {
		return Result{Account: a}, false
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(a.OTP)) != 1 {
		return Result{Account: a}, false
	}
	if a.OTPExpiry.IsZero() || now.After(a.OTPExpiry) {
		return Result{Account: a}, false
	}

	a.OTP = ""
	a.OTPExpiry = time.Time{}
	return Result{
		Account: a,
		Effects: []Effect{EffectPersist},
	}, true
}

// RecordFailedAttempt increments the failure counter and stamps the failure
// time. Crossing the policy threshold locks the account and requests the
// lockout notification; the notification effect is emitted only on the
// ACTIVE -> LOCKED edge, never while already locked, so continued failures
// against a locked account cannot cause a notification storm. The counter
// itself keeps incrementing and persisting regardless.
func (a Account) RecordFailedAttempt(now time.Time, p Policy) Result {
	a.FailedLoginAttempts++
	a.LastFailedLogin = now

	effects := []Effect{EffectPersist}
	if a.FailedLoginAttempts >= p.MaxFailedAttempts && a.Status != StatusLocked {
		a.Status = StatusLocked
		effects = append(effects, EffectNotifyLockout)
	}
	return Result{Account: a, Effects: effects}
}

// ResetAttempts returns the account to ACTIVE with counters cleared. Used
// after a successful authentication; always requests persistence.
func (a Account) ResetAttempts() Result {
	a.FailedLoginAttempts = 0
	a.LastFailedLogin = time.Time{}
	a.Status = StatusActive
	return Result{
		Account: a,
		Effects: []Effect{EffectPersist},
	}
}

// Unlock has the same effect as ResetAttempts but is a true no-op, with no
// persistence effect, when the account is already ACTIVE. Administrative and
// automatic unlock paths use this form.
func (a Account) Unlock() Result {
	if a.Status == StatusActive {
		return Result{Account: a}
	}
	return a.ResetAttempts()
}

// IsLockedOut evaluates whether the account should currently be treated as
// locked. A lockout whose duration has elapsed since the last failure is
// cleared here, as a side effect of the read: the returned result carries the
// unlocked record and a persistence effect, and the boolean is false. A
// locked account with no recorded failure time stays locked until an explicit
// unlock.
func (a Account) IsLockedOut(now time.Time, p Policy) (Result, bool) {
	if a.Status != StatusLocked {
		return Result{Account: a}, false
	}
	if !a.LastFailedLogin.IsZero() && now.Sub(a.LastFailedLogin) > p.LockoutDuration {
		return a.ResetAttempts(), false
	}
	return Result{Account: a}, true
}
