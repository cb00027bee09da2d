// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// This file contains tests for concurrent access safety:
// - Parallel logins against a single account
// - Lockout and unlock accounting under contention
// - Status reads racing state transitions
package guard

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/schoolgate/internal/account"
)

// =============================================================================
// PARALLEL LOGIN TESTS
// =============================================================================

// TestConcurrentAuthenticate_WrongPassword hammers one account with wrong
// passwords from many goroutines. The account must end up locked with no
// lost increments and exactly one lockout alert.
func TestConcurrentAuthenticate_WrongPassword(t *testing.T) {
	ctx := context.Background()
	tg := newTestGuard(t)
	email := seedAccount(t, tg, "ada@example.edu")

	const n = 10
	results := make(chan AuthResult, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := tg.Authenticate(ctx, email, "not the password")
			results <- res
			errs <- err
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for res := range results {
		require.False(t, res.OK, "a wrong password must never authenticate")
	}

	locked, err := tg.IsLockedOut(ctx, email)
	require.NoError(t, err)
	require.True(t, locked, "the account must be locked after %d failures", n)

	a, err := tg.store.GetByEmail(ctx, email)
	require.NoError(t, err)
	limit := tg.Policy().MaxFailedAttempts
	require.GreaterOrEqual(t, a.FailedLoginAttempts, limit)
	require.LessOrEqual(t, a.FailedLoginAttempts, n)
	require.Equal(t, 1, tg.notifier.lockoutCount(), "lockout alert must fire once per lock")
}

// TestConcurrentAuthenticate_CorrectPassword runs parallel logins with the
// right password. Every caller authenticates; code deliveries stay within
// the resend limit and each delivered code is well formed.
func TestConcurrentAuthenticate_CorrectPassword(t *testing.T) {
	ctx := context.Background()
	tg := newTestGuard(t, WithOTPResendLimit(3))
	email := seedAccount(t, tg, "ada@example.edu")

	const n = 5
	results := make(chan AuthResult, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := tg.Authenticate(ctx, email, testPassword)
			results <- res
			errs <- err
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	var delivered, throttled int
	for res := range results {
		require.True(t, res.OK, "the correct password must authenticate")
		if res.OTPThrottled {
			require.Empty(t, res.Code, "a throttled login carries no code")
			throttled++
			continue
		}
		require.Len(t, res.Code, 6)
		delivered++
	}
	require.Equal(t, n, delivered+throttled)
	require.Equal(t, 3, delivered, "the resend limit caps concurrent issues")
	require.Equal(t, delivered, tg.notifier.otpCount())
}

// =============================================================================
// UNLOCK CONTENTION TESTS
// =============================================================================

// TestConcurrentUnlock_OneClears races several administrative unlocks on a
// locked account. Exactly one clears it; the rest are silent no-ops.
func TestConcurrentUnlock_OneClears(t *testing.T) {
	ctx := context.Background()
	tg := newTestGuard(t)
	email := seedAccount(t, tg, "ada@example.edu")
	lockAccount(t, tg, email)

	const n = 8
	changes := make(chan bool, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := tg.Unlock(ctx, email)
			changes <- changed
			errs <- err
		}()
	}
	wg.Wait()
	close(changes)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	cleared := 0
	for changed := range changes {
		if changed {
			cleared++
		}
	}
	require.Equal(t, 1, cleared, "exactly one unlock clears the lockout")

	unlocks := 0
	for _, e := range auditEvents(t, tg) {
		if e.EventType == "AUTH_UNLOCK" {
			unlocks++
		}
	}
	require.Equal(t, 1, unlocks, "no-op unlocks must not log")
}

// =============================================================================
// READ/WRITE RACE TESTS
// =============================================================================

// TestConcurrentStatusReads_DuringTransitions polls the operator read
// surfaces while writers cycle the account through lock and unlock. No
// call may fail, and the final record must be coherent.
func TestConcurrentStatusReads_DuringTransitions(t *testing.T) {
	ctx := context.Background()
	tg := newTestGuard(t)
	email := seedAccount(t, tg, "ada@example.edu")

	const iterations = 25
	errs := make(chan error, iterations*6)
	var wg sync.WaitGroup

	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				if _, err := tg.RecordFailedAttempt(ctx, email); err != nil {
					errs <- err
					return
				}
				if _, err := tg.Unlock(ctx, email); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				if _, err := tg.GetStatus(ctx, email); err != nil {
					errs <- err
					return
				}
				if _, err := tg.IsLockedOut(ctx, email); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Whatever interleaving ran, lock state and counter must agree.
	st, err := tg.GetStatus(ctx, email)
	require.NoError(t, err)
	limit := tg.Policy().MaxFailedAttempts
	if st.AccountStatus == account.StatusLocked {
		require.GreaterOrEqual(t, st.FailedAttempts, limit)
	} else {
		require.Less(t, st.FailedAttempts, limit)
	}
}
