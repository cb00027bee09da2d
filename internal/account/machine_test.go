// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package account

import (
	"testing"
	"time"
)

func testPolicy() Policy {
	return Policy{
		OTPTTL:            5 * time.Minute,
		MaxFailedAttempts: 3,
		LockoutDuration:   15 * time.Minute,
	}
}

func testAccount(t *testing.T, now time.Time) Account {
	t.Helper()
	a, err := New(CreateParams{
		Email:     "student@outshine.edu",
		FirstName: "ada",
		LastName:  "lovelace",
	}, now)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return a
}

// =============================================================================
// OTP ISSUANCE
// =============================================================================

func TestIssueOTP_SetsCodeAndExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := testAccount(t, now)

	res := a.IssueOTP("483920", now, testPolicy())

	if res.Account.OTP != "483920" {
		t.Errorf("OTP = %q, want %q", res.Account.OTP, "483920")
	}
	wantExpiry := now.Add(5 * time.Minute)
	if !res.Account.OTPExpiry.Equal(wantExpiry) {
		t.Errorf("OTPExpiry = %v, want %v", res.Account.OTPExpiry, wantExpiry)
	}
	if !res.Has(EffectPersist) {
		t.Error("issue should request persistence")
	}
	if !res.Has(EffectNotifyOTP) {
		t.Error("issue should request OTP delivery")
	}
}

func TestIssueOTP_OverwritesPendingOTP(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := testAccount(t, now)

	a = a.IssueOTP("111111", now, testPolicy()).Account
	later := now.Add(2 * time.Minute)
	a = a.IssueOTP("222222", later, testPolicy()).Account

	if a.OTP != "222222" {
		t.Errorf("OTP = %q, want the replacement code", a.OTP)
	}
	if !a.OTPExpiry.Equal(later.Add(5 * time.Minute)) {
		t.Errorf("expiry not recomputed from the second issue: %v", a.OTPExpiry)
	}

	// The first code is gone.
	if _, ok := a.VerifyOTP("111111", later); ok {
		t.Error("overwritten OTP must not verify")
	}
}

func TestIssueOTP_AllowedWhileLocked(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := testAccount(t, now)
	a.Status = StatusLocked
	a.LastFailedLogin = now

	res := a.IssueOTP("334455", now, testPolicy())
	if res.Account.OTP != "334455" || res.Account.Status != StatusLocked {
		t.Error("issue has no precondition on status and must not change it")
	}
}

// =============================================================================
// OTP VERIFICATION
// =============================================================================

func TestVerifyOTP_SingleUse(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := testAccount(t, now)
	a = a.IssueOTP("483920", now, testPolicy()).Account

	res, ok := a.VerifyOTP("483920", now.Add(time.Minute))
	if !ok {
		t.Fatal("correct code within TTL must verify")
	}
	if res.Account.OTP != "" || !res.Account.OTPExpiry.IsZero() {
		t.Error("successful verification must consume the OTP")
	}
	if !res.Has(EffectPersist) {
		t.Error("consumption must be persisted")
	}

	// Replay with the same code against the post-verification record.
	if _, ok := res.Account.VerifyOTP("483920", now.Add(time.Minute)); ok {
		t.Error("a consumed OTP must never verify a second time")
	}
}

func TestVerifyOTP_Expired(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := testAccount(t, now)
	a = a.IssueOTP("483920", now, testPolicy()).Account

	res, ok := a.VerifyOTP("483920", now.Add(5*time.Minute+time.Second))
	if ok {
		t.Fatal("expired OTP must not verify")
	}
	if res.Account.OTP != "483920" || !res.Account.OTPExpiry.Equal(a.OTPExpiry) {
		t.Error("failed verification must leave otp and expiry unchanged")
	}
	if len(res.Effects) != 0 {
		t.Errorf("failed verification must carry no effects, got %v", res.Effects)
	}
}

func TestVerifyOTP_ExpiryInstantIsInclusive(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := testAccount(t, now)
	a = a.IssueOTP("483920", now, testPolicy()).Account

	// Valid through now+TTL exactly, invalid one instant after.
	if _, ok := a.VerifyOTP("483920", now.Add(5*time.Minute)); !ok {
		t.Error("OTP must be valid at the expiry instant itself")
	}
	if _, ok := a.VerifyOTP("483920", now.Add(5*time.Minute+time.Nanosecond)); ok {
		t.Error("OTP must be invalid past the expiry instant")
	}
}

func TestVerifyOTP_Negative(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	issued := testAccount(t, now).IssueOTP("483920", now, testPolicy()).Account

	tests := []struct {
		name      string
		account   Account
		candidate string
	}{
		{"wrong code", issued, "000000"},
		{"empty candidate", issued, ""},
		{"no pending otp", testAccount(t, now), "483920"},
		{"prefix of the code", issued, "4839"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := tt.account.VerifyOTP(tt.candidate, now)
			if ok {
				t.Fatal("verification must fail")
			}
			if res.Account.OTP != tt.account.OTP {
				t.Error("record must be unchanged on failure")
			}
			if len(res.Effects) != 0 {
				t.Errorf("no effects expected, got %v", res.Effects)
			}
		})
	}
}

// =============================================================================
// FAILED ATTEMPTS AND LOCKOUT
// =============================================================================

func TestRecordFailedAttempt_CounterTracksCalls(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := testAccount(t, now)
	p := testPolicy()

	for i := 1; i < p.MaxFailedAttempts; i++ {
		at := now.Add(time.Duration(i) * time.Second)
		res := a.RecordFailedAttempt(at, p)
		a = res.Account

		if a.FailedLoginAttempts != i {
			t.Fatalf("after %d failures counter = %d", i, a.FailedLoginAttempts)
		}
		if a.Status != StatusActive {
			t.Fatalf("must stay ACTIVE below the threshold, got %s", a.Status)
		}
		if !a.LastFailedLogin.Equal(at) {
			t.Errorf("LastFailedLogin = %v, want %v", a.LastFailedLogin, at)
		}
		if !res.Has(EffectPersist) {
			t.Error("every failure must persist")
		}
		if res.Has(EffectNotifyLockout) {
			t.Error("no lockout notification below the threshold")
		}
	}
}

func TestRecordFailedAttempt_ThreeFailuresLockWithOneNotification(t *testing.T) {
	// MAX_FAILED_ATTEMPTS=3: three failures lock the account and notify
	// once; a fourth keeps it locked with no further notification.
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := testAccount(t, now)
	p := testPolicy()

	notifications := 0
	for i := 0; i < 3; i++ {
		res := a.RecordFailedAttempt(now.Add(time.Duration(i)*time.Second), p)
		a = res.Account
		if res.Has(EffectNotifyLockout) {
			notifications++
		}
	}

	if a.Status != StatusLocked {
		t.Fatalf("status = %s after 3 failures, want LOCKED", a.Status)
	}
	if notifications != 1 {
		t.Fatalf("lockout notifications = %d, want exactly 1", notifications)
	}

	fourth := a.RecordFailedAttempt(now.Add(10*time.Second), p)
	if fourth.Has(EffectNotifyLockout) {
		t.Error("failure while already LOCKED must not notify again")
	}
	if !fourth.Has(EffectPersist) {
		t.Error("counters must still persist while locked")
	}
	if fourth.Account.FailedLoginAttempts != 4 {
		t.Errorf("counter = %d after fourth failure, want 4", fourth.Account.FailedLoginAttempts)
	}
	if fourth.Account.Status != StatusLocked {
		t.Error("account must remain LOCKED")
	}
}

func TestRecordFailedAttempt_RelockNotifiesAgain(t *testing.T) {
	// The notification is edge-triggered: a fresh ACTIVE -> LOCKED
	// transition after a lazy unlock fires again.
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := testAccount(t, now)
	p := testPolicy()

	for i := 0; i < p.MaxFailedAttempts; i++ {
		a = a.RecordFailedAttempt(now, p).Account
	}
	res, locked := a.IsLockedOut(now.Add(p.LockoutDuration+time.Minute), p)
	if locked {
		t.Fatal("lockout should have expired")
	}
	a = res.Account

	notifications := 0
	for i := 0; i < p.MaxFailedAttempts; i++ {
		r := a.RecordFailedAttempt(now.Add(time.Hour), p)
		a = r.Account
		if r.Has(EffectNotifyLockout) {
			notifications++
		}
	}
	if notifications != 1 {
		t.Errorf("re-lock notifications = %d, want exactly 1", notifications)
	}
}

// =============================================================================
// LOCKOUT EVALUATION
// =============================================================================

func TestIsLockedOut_LazyExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := testAccount(t, now)
	p := testPolicy()

	for i := 0; i < p.MaxFailedAttempts; i++ {
		a = a.RecordFailedAttempt(now, p).Account
	}

	// Immediately after lockout.
	res, locked := a.IsLockedOut(now.Add(time.Second), p)
	if !locked {
		t.Fatal("must report locked immediately after lockout")
	}
	if len(res.Effects) != 0 {
		t.Errorf("a still-valid lockout must not produce effects, got %v", res.Effects)
	}

	// Within the window.
	if _, locked := a.IsLockedOut(now.Add(p.LockoutDuration), p); !locked {
		t.Error("lockout must hold until the duration has strictly elapsed")
	}

	// Past the window: the read clears the lockout.
	res, locked = a.IsLockedOut(now.Add(p.LockoutDuration+time.Second), p)
	if locked {
		t.Fatal("lockout must clear once the duration has elapsed")
	}
	if res.Account.Status != StatusActive {
		t.Errorf("status = %s post-check, want ACTIVE", res.Account.Status)
	}
	if res.Account.FailedLoginAttempts != 0 || !res.Account.LastFailedLogin.IsZero() {
		t.Error("lazy unlock must clear the failure counters")
	}
	if !res.Has(EffectPersist) {
		t.Error("the self-transition must be persisted")
	}
	if res.Has(EffectNotifyLockout) || res.Has(EffectNotifyOTP) {
		t.Error("unlocking must not notify")
	}
}

func TestIsLockedOut_ActiveIsFalse(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := testAccount(t, now)

	res, locked := a.IsLockedOut(now, testPolicy())
	if locked {
		t.Error("ACTIVE account must never report locked")
	}
	if len(res.Effects) != 0 {
		t.Errorf("no effects expected on an ACTIVE read, got %v", res.Effects)
	}
}

func TestIsLockedOut_NoFailureTimeStaysLocked(t *testing.T) {
	// An administratively locked record with no failure timestamp has no
	// expiry anchor: it stays locked until an explicit unlock.
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := testAccount(t, now)
	a.Status = StatusLocked

	if _, locked := a.IsLockedOut(now.Add(24*time.Hour), testPolicy()); !locked {
		t.Error("locked record without a failure time must stay locked")
	}
}

// =============================================================================
// RESET AND UNLOCK
// =============================================================================

func TestResetAttempts_ClearsCountersAndActivates(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := testAccount(t, now)
	p := testPolicy()
	for i := 0; i < p.MaxFailedAttempts; i++ {
		a = a.RecordFailedAttempt(now, p).Account
	}

	res := a.ResetAttempts()
	if res.Account.FailedLoginAttempts != 0 {
		t.Error("counter must reset to zero")
	}
	if !res.Account.LastFailedLogin.IsZero() {
		t.Error("failure timestamp must clear")
	}
	if res.Account.Status != StatusActive {
		t.Errorf("status = %s, want ACTIVE", res.Account.Status)
	}
	if !res.Has(EffectPersist) {
		t.Error("reset must persist")
	}
}

func TestUnlock_NoopWhenAlreadyActive(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := testAccount(t, now)
	a.FailedLoginAttempts = 1 // below threshold, still ACTIVE
	a.LastFailedLogin = now

	res := a.Unlock()
	if len(res.Effects) != 0 {
		t.Fatalf("unlock on ACTIVE must be a true no-op, got effects %v", res.Effects)
	}
	if res.Account.FailedLoginAttempts != 1 {
		t.Error("no-op unlock must not touch the counter")
	}
}

func TestUnlock_ClearsLockedAccount(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := testAccount(t, now)
	p := testPolicy()
	for i := 0; i < p.MaxFailedAttempts; i++ {
		a = a.RecordFailedAttempt(now, p).Account
	}

	res := a.Unlock()
	if res.Account.Status != StatusActive || res.Account.FailedLoginAttempts != 0 {
		t.Error("unlock must restore ACTIVE with counters cleared")
	}
	if !res.Has(EffectPersist) {
		t.Error("unlocking a locked account must persist")
	}
}

// =============================================================================
// END-TO-END SCENARIOS
// =============================================================================

func TestScenario_OTPLifetimeWindow(t *testing.T) {
	// OTP "483920" issued at T with a 300s TTL: valid at T+299s,
	// invalid at T+301s.
	issuedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := Policy{OTPTTL: 300 * time.Second, MaxFailedAttempts: 3, LockoutDuration: 15 * time.Minute}

	a := testAccount(t, issuedAt)
	a = a.IssueOTP("483920", issuedAt, p).Account

	if _, ok := a.VerifyOTP("483920", issuedAt.Add(299*time.Second)); !ok {
		t.Error("OTP must verify at T+299s")
	}
	if _, ok := a.VerifyOTP("483920", issuedAt.Add(301*time.Second)); ok {
		t.Error("OTP must not verify at T+301s")
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"defaults", DefaultPolicy(), false},
		{"zero ttl", Policy{OTPTTL: 0, MaxFailedAttempts: 3, LockoutDuration: time.Minute}, true},
		{"zero attempts", Policy{OTPTTL: time.Minute, MaxFailedAttempts: 0, LockoutDuration: time.Minute}, true},
		{"negative lockout", Policy{OTPTTL: time.Minute, MaxFailedAttempts: 3, LockoutDuration: -time.Minute}, true},
		{"single attempt allowed", Policy{OTPTTL: time.Minute, MaxFailedAttempts: 1, LockoutDuration: time.Minute}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
