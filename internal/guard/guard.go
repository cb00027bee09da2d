// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package guard is the adapter between the pure account state machine and
// the outside world. Each operation loads the record, runs a transition from
// internal/account, and applies the declared effects: persistence through
// the store, notification dispatch, and audit logging.
//
// Operations are keyed by email and serialized per identity, so concurrent
// calls against the same account cannot interleave between load and persist.
// Writes use the store's optimistic versioning; a conflicting write from
// another process reloads the record and replays the transition.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/schoolgate/internal/account"
	"github.com/jeranaias/schoolgate/internal/audit"
	"github.com/jeranaias/schoolgate/internal/credentials"
	"github.com/jeranaias/schoolgate/internal/notify"
	"github.com/jeranaias/schoolgate/internal/otp"
	"github.com/jeranaias/schoolgate/internal/store"
)

// persistRetries bounds transition replays after version conflicts. Conflicts
// need another writer on the same row, so one replay nearly always settles it.
const persistRetries = 3

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrOTPThrottled is returned when an identity asks for codes faster
	// than the configured resend limit.
	ErrOTPThrottled = errors.New("guard: code resend limit reached, try again shortly")

	// ErrNotStaff is returned when TOTP enrollment is attempted for a
	// non-staff account.
	ErrNotStaff = errors.New("guard: authenticator enrollment is limited to staff accounts")

	// ErrAnswerRequired is returned when a security question is chosen
	// without an answer.
	ErrAnswerRequired = errors.New("guard: a security answer is required for the chosen question")
)

// =============================================================================
// GUARD
// =============================================================================

// Guard owns the collaborators the state machine declares effects against.
type Guard struct {
	store    store.Store
	notifier notify.Notifier
	audit    *audit.Logger

	policy      account.Policy
	otpLength   int
	resendRate  int // codes per identity per minute; 0 means unlimited
	iterations  int
	schoolName  string
	usernamePfx int // max initials in generated usernames; 0 keeps all
	totpIssuer  string

	// now is the clock; tests replace it with a fixed cursor.
	now func() time.Time

	// mu protects the per-identity lock and limiter registries.
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	limiters map[string]*rate.Limiter
}

// GuardOption is a functional option for configuring a Guard.
type GuardOption func(*Guard)

// WithPolicy sets the security thresholds (OTP lifetime, attempt limit,
// lockout duration).
func WithPolicy(p account.Policy) GuardOption {
	return func(g *Guard) {
		g.policy = p
	}
}

// WithNotifier sets the notification target, normally a notify.Dispatcher.
func WithNotifier(n notify.Notifier) GuardOption {
	return func(g *Guard) {
		g.notifier = n
	}
}

// WithAuditLogger sets the audit logger. When unset, the global logger is
// used.
func WithAuditLogger(logger *audit.Logger) GuardOption {
	return func(g *Guard) {
		g.audit = logger
	}
}

// WithClock replaces the wall clock, letting tests drive time-dependent
// transitions deterministically.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithOTPLength sets the number of digits in issued codes.
func WithOTPLength(n int) GuardOption {
	return func(g *Guard) {
		if n > 0 {
			g.otpLength = n
		}
	}
}

// WithOTPResendLimit caps how many codes one identity can request per
// minute. Zero disables the throttle.
func WithOTPResendLimit(perMinute int) GuardOption {
	return func(g *Guard) {
		if perMinute >= 0 {
			g.resendRate = perMinute
		}
	}
}

// WithIterations sets the PBKDF2 work factor for new password hashes.
func WithIterations(n int) GuardOption {
	return func(g *Guard) {
		if n > 0 {
			g.iterations = n
		}
	}
}

// WithSchoolName sets the school name used as the username prefix source.
func WithSchoolName(name string) GuardOption {
	return func(g *Guard) {
		g.schoolName = name
	}
}

// WithUsernamePrefixLength caps how many school-name initials prefix
// generated usernames. Zero keeps every initial.
func WithUsernamePrefixLength(n int) GuardOption {
	return func(g *Guard) {
		if n >= 0 {
			g.usernamePfx = n
		}
	}
}

// WithIssuer sets the issuer shown in authenticator apps for staff TOTP.
func WithIssuer(issuer string) GuardOption {
	return func(g *Guard) {
		g.totpIssuer = issuer
	}
}

// New creates a Guard over the given store with the default policy, wall
// clock, and code length.
func New(st store.Store, opts ...GuardOption) *Guard {
	g := &Guard{
		store:      st,
		policy:     account.DefaultPolicy(),
		otpLength:  otp.DefaultLength,
		resendRate: 3,
		iterations: credentials.DefaultIterations,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
		limiters:   make(map[string]*rate.Limiter),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Policy returns the thresholds the guard enforces.
func (g *Guard) Policy() account.Policy {
	return g.policy
}

// =============================================================================
// CORE OPERATIONS
// =============================================================================

// IssueOTP generates a fresh login code for the account, stores it with its
// expiry, and requests delivery. Any previously pending code is overwritten.
// There is no precondition on account status: issuing to a locked account is
// allowed, verification is where lockout bites. Returns the code so operator
// surfaces can hand it over when mail delivery is not configured.
func (g *Guard) IssueOTP(ctx context.Context, email string) (string, error) {
	email = credentials.NormalizeEmail(email)

	if !g.issueLimiter(email).Allow() {
		g.logFailure(email, "OTP_THROTTLED", "resend limit reached", nil)
		return "", ErrOTPThrottled
	}

	code, err := otp.GenerateCode(g.otpLength)
	if err != nil {
		return "", err
	}

	now := g.now()
	_, err = g.mutate(ctx, email, func(a account.Account) account.Result {
		return a.IssueOTP(code, now, g.policy)
	})
	if err != nil {
		return "", err
	}

	g.logEvent(email, "OTP_ISSUED", map[string]string{
		"ttl": g.policy.OTPTTL.String(),
	})
	return code, nil
}

// VerifyOTP reports whether candidate matches the account's pending code
// within its lifetime. A successful verification consumes the code; the same
// code can never pass twice. A failed verification changes nothing; whether
// it should also count as a failed login attempt is the caller's decision.
func (g *Guard) VerifyOTP(ctx context.Context, email, candidate string) (bool, error) {
	email = credentials.NormalizeEmail(email)
	now := g.now()

	var ok bool
	_, err := g.mutate(ctx, email, func(a account.Account) account.Result {
		res, valid := a.VerifyOTP(candidate, now)
		ok = valid
		return res
	})
	if err != nil {
		return false, err
	}

	if ok {
		g.logEvent(email, "OTP_VERIFIED", nil)
	} else {
		g.logFailure(email, "OTP_REJECTED", "code mismatch or expired", nil)
	}
	return ok, nil
}

// RecordFailedAttempt increments the account's failure counter and stamps
// the failure time. Reaching the policy limit locks the account and fires
// the lockout notification, once per lock. Returns the post-transition
// status so callers can show the remaining allowance.
func (g *Guard) RecordFailedAttempt(ctx context.Context, email string) (Status, error) {
	email = credentials.NormalizeEmail(email)
	now := g.now()

	res, err := g.mutate(ctx, email, func(a account.Account) account.Result {
		return a.RecordFailedAttempt(now, g.policy)
	})
	if err != nil {
		return Status{}, err
	}

	a := res.Account
	g.logFailure(email, "AUTH_ATTEMPT", "invalid credentials", map[string]string{
		"attempt_count": fmt.Sprintf("%d/%d", a.FailedLoginAttempts, g.policy.MaxFailedAttempts),
	})
	if res.Has(account.EffectNotifyLockout) {
		g.logFailure(email, "AUTH_LOCKOUT", "failed attempt limit reached", map[string]string{
			"duration": g.policy.LockoutDuration.String(),
			"until":    now.Add(g.policy.LockoutDuration).Format(time.RFC3339),
		})
	}

	return g.statusOf(a), nil
}

// ResetAttempts clears the failure counter and returns the account to
// ACTIVE. Called after a successful authentication.
func (g *Guard) ResetAttempts(ctx context.Context, email string) error {
	email = credentials.NormalizeEmail(email)

	_, err := g.mutate(ctx, email, func(a account.Account) account.Result {
		return a.ResetAttempts()
	})
	if err != nil {
		return err
	}

	g.logEvent(email, "AUTH_RESET", nil)
	return nil
}

// Unlock clears a lockout administratively. Unlocking an account that is
// already ACTIVE is a true no-op: nothing is written and nothing is logged.
// The boolean reports whether a lockout was actually cleared.
func (g *Guard) Unlock(ctx context.Context, email string) (bool, error) {
	email = credentials.NormalizeEmail(email)

	var changed bool
	_, err := g.mutate(ctx, email, func(a account.Account) account.Result {
		res := a.Unlock()
		changed = res.Has(account.EffectPersist)
		return res
	})
	if err != nil {
		return false, err
	}

	if changed {
		g.logEvent(email, "AUTH_UNLOCK", map[string]string{"method": "manual"})
	}
	return changed, nil
}

// IsLockedOut reports whether the account is currently locked. Expiry is
// lazy: a lockout whose duration has elapsed is cleared here, during the
// check, and false is returned. There is no background sweep, so an expired
// lockout stays on the record until something asks.
func (g *Guard) IsLockedOut(ctx context.Context, email string) (bool, error) {
	email = credentials.NormalizeEmail(email)
	now := g.now()

	var locked, expired bool
	_, err := g.mutate(ctx, email, func(a account.Account) account.Result {
		res, l := a.IsLockedOut(now, g.policy)
		locked = l
		expired = res.Has(account.EffectPersist)
		return res
	})
	if err != nil {
		return false, err
	}

	if expired {
		g.logEvent(email, "AUTH_UNLOCK", map[string]string{"method": "auto_expire"})
	}
	return locked, nil
}

// =============================================================================
// STATUS, LISTING AND STATS
// =============================================================================

// Status is a display view of one account's security state. LockedUntil is
// zero for a lockout with no recorded failure time; such locks never expire
// on their own and need a manual unlock.
type Status struct {
	Email           string         `json:"email"`
	Username        string         `json:"username,omitempty"`
	FullName        string         `json:"full_name,omitempty"`
	Role            account.Role   `json:"role"`
	AccountStatus   account.Status `json:"account_status"`
	FailedAttempts  int            `json:"failed_attempts"`
	LastFailedLogin time.Time      `json:"last_failed_login,omitempty"`
	LockedUntil     time.Time      `json:"locked_until,omitempty"`
	TimeRemaining   time.Duration  `json:"time_remaining"`
	PendingOTP      bool           `json:"pending_otp"`
	OTPExpiry       time.Time      `json:"otp_expiry,omitempty"`
	TOTPEnrolled    bool           `json:"totp_enrolled"`
}

// GetStatus returns the stored security state of an account. This is a pure
// read: an elapsed lockout still shows as LOCKED here until a check-style
// operation clears it.
func (g *Guard) GetStatus(ctx context.Context, email string) (Status, error) {
	email = credentials.NormalizeEmail(email)
	a, err := g.store.GetByEmail(ctx, email)
	if err != nil {
		return Status{}, err
	}
	return g.statusOf(*a), nil
}

func (g *Guard) statusOf(a account.Account) Status {
	now := g.now()

	st := Status{
		Email:           a.Email,
		Username:        a.Username,
		FullName:        a.FullName(),
		Role:            a.Role,
		AccountStatus:   a.Status,
		FailedAttempts:  a.FailedLoginAttempts,
		LastFailedLogin: a.LastFailedLogin,
		PendingOTP:      a.HasPendingOTP(),
		OTPExpiry:       a.OTPExpiry,
		TOTPEnrolled:    a.TOTPSecret != "",
	}

	if a.Status == account.StatusLocked && !a.LastFailedLogin.IsZero() {
		st.LockedUntil = a.LastFailedLogin.Add(g.policy.LockoutDuration)
		if remaining := st.LockedUntil.Sub(now); remaining > 0 {
			st.TimeRemaining = remaining
		}
	}
	return st
}

// LockoutEntry is one locked account in a listing. Expired entries have
// served their lockout and will clear on the next check.
type LockoutEntry struct {
	Email           string        `json:"email"`
	FailedAttempts  int           `json:"failed_attempts"`
	LastFailedLogin time.Time     `json:"last_failed_login"`
	LockedUntil     time.Time     `json:"locked_until"`
	TimeRemaining   time.Duration `json:"time_remaining"`
	Expired         bool          `json:"expired"`
}

// ListLocked returns every account currently in the LOCKED state, expired
// lockouts included.
func (g *Guard) ListLocked(ctx context.Context) ([]LockoutEntry, error) {
	accounts, err := g.store.ListByStatus(ctx, account.StatusLocked)
	if err != nil {
		return nil, err
	}

	now := g.now()
	entries := make([]LockoutEntry, 0, len(accounts))
	for _, a := range accounts {
		entry := LockoutEntry{
			Email:           a.Email,
			FailedAttempts:  a.FailedLoginAttempts,
			LastFailedLogin: a.LastFailedLogin,
		}
		if !a.LastFailedLogin.IsZero() {
			entry.LockedUntil = a.LastFailedLogin.Add(g.policy.LockoutDuration)
			if remaining := entry.LockedUntil.Sub(now); remaining > 0 {
				entry.TimeRemaining = remaining
			} else {
				entry.Expired = true
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Stats summarizes the security state across all accounts.
type Stats struct {
	TotalAccounts   int           `json:"total_accounts"`
	CurrentlyLocked int           `json:"currently_locked"`
	PendingOTPs     int           `json:"pending_otps"`
	MaxAttempts     int           `json:"max_attempts"`
	LockoutDuration time.Duration `json:"lockout_duration"`
	OTPTTL          time.Duration `json:"otp_ttl"`
}

// GetStats returns aggregate counts plus the effective policy.
func (g *Guard) GetStats(ctx context.Context) (Stats, error) {
	accounts, err := g.store.List(ctx)
	if err != nil {
		return Stats{}, err
	}

	now := g.now()
	stats := Stats{
		TotalAccounts:   len(accounts),
		MaxAttempts:     g.policy.MaxFailedAttempts,
		LockoutDuration: g.policy.LockoutDuration,
		OTPTTL:          g.policy.OTPTTL,
	}
	for _, a := range accounts {
		if a.Status == account.StatusLocked {
			elapsed := !a.LastFailedLogin.IsZero() &&
				now.Sub(a.LastFailedLogin) > g.policy.LockoutDuration
			if !elapsed {
				stats.CurrentlyLocked++
			}
		}
		if a.HasPendingOTP() && !now.After(a.OTPExpiry) {
			stats.PendingOTPs++
		}
	}
	return stats, nil
}

// =============================================================================
// TRANSITION PLUMBING
// =============================================================================

// mutate runs fn against the stored record under the identity's lock and
// applies the resulting effects. A result without a persist effect writes
// nothing. Version conflicts (a concurrent writer from another process)
// reload the record and replay fn, so the transition always runs against the
// state it persists over.
func (g *Guard) mutate(ctx context.Context, email string, fn func(account.Account) account.Result) (account.Result, error) {
	unlock := g.lockIdentity(email)
	defer unlock()

	var res account.Result
	for attempt := 0; ; attempt++ {
		a, err := g.store.GetByEmail(ctx, email)
		if err != nil {
			return account.Result{}, err
		}

		res = fn(*a)
		if !res.Has(account.EffectPersist) {
			return res, nil
		}

		err = g.store.Update(ctx, &res.Account)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrVersionConflict) || attempt >= persistRetries {
			return account.Result{}, fmt.Errorf("failed to persist account state: %w", err)
		}
	}

	// Notifications dispatch only after the state they describe is durable.
	g.dispatchNotifications(res)
	return res, nil
}

func (g *Guard) dispatchNotifications(res account.Result) {
	if g.notifier == nil {
		return
	}
	if res.Has(account.EffectNotifyOTP) {
		_ = g.notifier.NotifyOTP(res.Account.Email, res.Account.OTP, g.policy.OTPTTL)
	}
	if res.Has(account.EffectNotifyLockout) {
		_ = g.notifier.NotifyLockout(res.Account.Email, g.policy.LockoutDuration)
	}
}

// lockIdentity serializes operations on one email. The returned func
// releases the lock.
func (g *Guard) lockIdentity(email string) func() {
	g.mu.Lock()
	m, ok := g.locks[email]
	if !ok {
		m = &sync.Mutex{}
		g.locks[email] = m
	}
	g.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// issueLimiter returns the code-issue limiter for an identity, creating it
// on first use.
func (g *Guard) issueLimiter(email string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	lim, ok := g.limiters[email]
	if !ok {
		if g.resendRate <= 0 {
			lim = rate.NewLimiter(rate.Inf, 1)
		} else {
			lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(g.resendRate)), g.resendRate)
		}
		g.limiters[email] = lim
	}
	return lim
}

// =============================================================================
// AUDIT HELPERS
// =============================================================================

func (g *Guard) logEvent(identity, eventType string, metadata map[string]string) {
	g.logger().LogEvent(identity, eventType, metadata)
}

func (g *Guard) logFailure(identity, eventType, errMsg string, metadata map[string]string) {
	g.logger().LogFailure(identity, eventType, errMsg, metadata)
}

func (g *Guard) logger() *audit.Logger {
	if g.audit != nil {
		return g.audit
	}
	return audit.Global()
}
