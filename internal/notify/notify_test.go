// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/schoolgate/internal/audit"
)

// captureNotifier records deliveries for assertions. If block is non-nil,
// deliveries hang until it is closed; if fail is set, deliveries error.
type captureNotifier struct {
	mu       sync.Mutex
	otps     []string
	lockouts []string
	block    chan struct{}
	fail     bool
	panics   bool
}

func (c *captureNotifier) NotifyOTP(address, code string, ttl time.Duration) error {
	if c.block != nil {
		<-c.block
	}
	if c.panics {
		panic("notifier exploded")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("relay unreachable")
	}
	c.otps = append(c.otps, address+":"+code)
	return nil
}

func (c *captureNotifier) NotifyLockout(identity string, lockoutDuration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("relay unreachable")
	}
	c.lockouts = append(c.lockouts, identity)
	return nil
}

func (c *captureNotifier) snapshot() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.otps...), append([]string(nil), c.lockouts...)
}

func newTestAudit(t *testing.T) (*audit.Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := audit.NewLogger(path)
	if err != nil {
		t.Fatalf("audit.NewLogger() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

// TestDispatcher_Delivers tests that queued notifications reach the target.
func TestDispatcher_Delivers(t *testing.T) {
	log, _ := newTestAudit(t)
	target := &captureNotifier{}
	d := NewDispatcher(target, log)
	defer d.Close()

	if err := d.NotifyOTP("ada@example.edu", "483920", 5*time.Minute); err != nil {
		t.Fatalf("NotifyOTP() error = %v", err)
	}
	if err := d.NotifyLockout("grace@example.edu", 15*time.Minute); err != nil {
		t.Fatalf("NotifyLockout() error = %v", err)
	}
	d.Flush()

	otps, lockouts := target.snapshot()
	if len(otps) != 1 || otps[0] != "ada@example.edu:483920" {
		t.Errorf("otps = %v, want one delivery to ada", otps)
	}
	if len(lockouts) != 1 || lockouts[0] != "grace@example.edu" {
		t.Errorf("lockouts = %v, want one alert to grace", lockouts)
	}
	if d.Dropped() != 0 || d.Failed() != 0 {
		t.Errorf("dropped=%d failed=%d, want 0/0", d.Dropped(), d.Failed())
	}
}

// TestDispatcher_DropsWhenSaturated tests that a full queue drops instead
// of blocking the caller.
func TestDispatcher_DropsWhenSaturated(t *testing.T) {
	log, _ := newTestAudit(t)
	target := &captureNotifier{block: make(chan struct{})}
	d := NewDispatcher(target, log)

	// The worker can hold at most one delivery while blocked, the queue
	// holds queueSize more. Anything beyond that must drop.
	for i := 0; i < queueSize+2; i++ {
		d.NotifyOTP("ada@example.edu", "000000", time.Minute)
	}

	if d.Dropped() == 0 {
		t.Error("expected drops once the queue saturated")
	}

	close(target.block)
	d.Close()
}

// TestDispatcher_CountsFailures tests that notifier errors are counted,
// not propagated.
func TestDispatcher_CountsFailures(t *testing.T) {
	log, path := newTestAudit(t)
	target := &captureNotifier{fail: true}
	d := NewDispatcher(target, log)
	defer d.Close()

	if err := d.NotifyLockout("ada@example.edu", 15*time.Minute); err != nil {
		t.Fatalf("NotifyLockout() must not propagate failures, got %v", err)
	}
	d.Flush()

	if d.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", d.Failed())
	}

	log.Flush()
	events, err := audit.Tail(path, 0)
	if err != nil {
		t.Fatalf("audit.Tail() error = %v", err)
	}
	found := false
	for _, e := range events {
		if e.EventType == "NOTIFY_FAILED" {
			found = true
		}
	}
	if !found {
		t.Error("expected a NOTIFY_FAILED audit event")
	}
}

// TestDispatcher_ContainsPanics tests that a panicking notifier does not
// kill the delivery worker.
func TestDispatcher_ContainsPanics(t *testing.T) {
	log, _ := newTestAudit(t)
	target := &captureNotifier{panics: true}
	d := NewDispatcher(target, log)
	defer d.Close()

	d.NotifyOTP("ada@example.edu", "111111", time.Minute)
	d.Flush()

	if d.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1 after panic", d.Failed())
	}

	// Worker must still be alive
	target.panics = false
	d.NotifyOTP("ada@example.edu", "222222", time.Minute)
	d.Flush()

	otps, _ := target.snapshot()
	if len(otps) != 1 {
		t.Errorf("worker dead after panic: got %d deliveries, want 1", len(otps))
	}
}

// TestDispatcher_CloseIsIdempotent tests double close and use-after-close.
func TestDispatcher_CloseIsIdempotent(t *testing.T) {
	log, _ := newTestAudit(t)
	d := NewDispatcher(&captureNotifier{}, log)

	d.Close()
	d.Close()

	// Must not panic
	d.NotifyOTP("ada@example.edu", "333333", time.Minute)
	d.Flush()
}

// TestLogNotifier tests that the log-backed notifier records delivery
// requests without leaking the code.
func TestLogNotifier(t *testing.T) {
	log, path := newTestAudit(t)
	n := NewLogNotifier(log)

	if err := n.NotifyOTP("ada@example.edu", "483920", 5*time.Minute); err != nil {
		t.Fatalf("NotifyOTP() error = %v", err)
	}
	if err := n.NotifyLockout("ada@example.edu", 15*time.Minute); err != nil {
		t.Fatalf("NotifyLockout() error = %v", err)
	}
	log.Flush()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read audit log: %v", err)
	}
	if strings.Contains(string(data), "483920") {
		t.Error("login code leaked into the audit log")
	}
	if strings.Contains(string(data), "ada@example.edu") {
		t.Error("raw email leaked into the audit log")
	}

	events, err := audit.Tail(path, 0)
	if err != nil {
		t.Fatalf("audit.Tail() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].EventType != "NOTIFY_OTP" || events[0].Metadata["ttl"] != "5m0s" {
		t.Errorf("first event = %+v, want NOTIFY_OTP with ttl 5m0s", events[0])
	}
	if events[1].EventType != "NOTIFY_LOCKOUT" || events[1].Metadata["lockout_duration"] != "15m0s" {
		t.Errorf("second event = %+v, want NOTIFY_LOCKOUT with 15m0s", events[1])
	}
}

// TestOTPTemplate tests the login-code email rendering.
func TestOTPTemplate(t *testing.T) {
	body, err := renderTemplate(otpBodyTmpl, map[string]any{
		"Code":     "483920",
		"TTL":      5 * time.Minute,
		"SiteName": "Outshine School Management",
	})
	if err != nil {
		t.Fatalf("renderTemplate() error = %v", err)
	}

	for _, want := range []string{"483920", "5m0s", "Outshine School Management"} {
		if !strings.Contains(body, want) {
			t.Errorf("otp body missing %q:\n%s", want, body)
		}
	}
}

// TestLockoutTemplate tests the account-locked email rendering.
func TestLockoutTemplate(t *testing.T) {
	body, err := renderTemplate(lockoutBodyTmpl, map[string]any{
		"Identity": "ada@example.edu",
		"Minutes":  15,
		"SiteName": "Outshine School Management",
	})
	if err != nil {
		t.Fatalf("renderTemplate() error = %v", err)
	}

	for _, want := range []string{"ada@example.edu", "15 minutes", "locked"} {
		if !strings.Contains(body, want) {
			t.Errorf("lockout body missing %q:\n%s", want, body)
		}
	}
}

// TestBuildMessage tests SMTP message assembly.
func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("no-reply@outshine.edu", "ada@example.edu",
		"Please verify your login", "body text"))

	for _, want := range []string{
		"From: no-reply@outshine.edu\r\n",
		"To: ada@example.edu\r\n",
		"Subject: Please verify your login\r\n",
		"\r\n\r\nbody text",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}
