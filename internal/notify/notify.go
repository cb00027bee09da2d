// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify delivers account-security notifications: one-time login
// codes and lockout alerts. Delivery is fire-and-forget by contract. A
// notifier failure is logged and counted, never surfaced to the login path
// that triggered it.
//
// The Dispatcher wraps any Notifier in a bounded queue with a single
// delivery worker, so callers holding account locks are never blocked on
// SMTP round-trips. When the queue is full, deliveries are dropped and
// counted rather than queued unboundedly.
package notify

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/schoolgate/internal/audit"
)

// queueSize bounds the dispatcher's delivery backlog.
const queueSize = 64

// =============================================================================
// NOTIFIER INTERFACES
// =============================================================================

// OTPNotifier delivers a one-time login code to an address.
type OTPNotifier interface {
	// NotifyOTP delivers code to address, noting how long it stays valid.
	NotifyOTP(address, code string, ttl time.Duration) error
}

// LockoutNotifier alerts a user that their account has been locked.
type LockoutNotifier interface {
	// NotifyLockout tells identity their account is locked for lockoutDuration.
	NotifyLockout(identity string, lockoutDuration time.Duration) error
}

// Notifier combines both delivery channels.
type Notifier interface {
	OTPNotifier
	LockoutNotifier
}

// =============================================================================
// ASYNC DISPATCHER
// =============================================================================

// delivery is one queued notification, or a flush request carrying an ack
// channel.
type delivery struct {
	kind     string // "otp" or "lockout"
	address  string
	code     string
	ttl      time.Duration
	duration time.Duration
	ack      chan struct{}
}

// Dispatcher fans notifications out to a target Notifier from a worker
// goroutine. It implements Notifier itself, so callers hold one interface
// whether delivery is synchronous or not. NotifyOTP and NotifyLockout never
// block and never return an error: failures are logged and counted.
type Dispatcher struct {
	target Notifier
	log    *audit.Logger

	// lifeMu orders channel sends against Close: senders hold the read
	// side, Close takes the write side before closing the channel.
	lifeMu sync.RWMutex
	closed bool

	ch      chan delivery
	done    chan struct{}
	dropped uint64 // atomic
	failed  uint64 // atomic
}

// NewDispatcher starts a dispatcher delivering through target. Failures are
// recorded to log; a nil log uses the global audit logger.
func NewDispatcher(target Notifier, log *audit.Logger) *Dispatcher {
	d := &Dispatcher{
		target: target,
		log:    log,
		ch:     make(chan delivery, queueSize),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// NotifyOTP queues a login-code delivery. It never blocks: when the queue is
// full the delivery is dropped and counted.
func (d *Dispatcher) NotifyOTP(address, code string, ttl time.Duration) error {
	d.enqueue(delivery{kind: "otp", address: address, code: code, ttl: ttl})
	return nil
}

// NotifyLockout queues a lockout alert. It never blocks.
func (d *Dispatcher) NotifyLockout(identity string, lockoutDuration time.Duration) error {
	d.enqueue(delivery{kind: "lockout", address: identity, duration: lockoutDuration})
	return nil
}

func (d *Dispatcher) enqueue(job delivery) {
	d.lifeMu.RLock()
	defer d.lifeMu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.ch <- job:
	default:
		n := atomic.AddUint64(&d.dropped, 1)
		d.logger().LogFailure(job.address, "NOTIFY_DROPPED",
			fmt.Sprintf("notification queue full (%d dropped)", n),
			map[string]string{"kind": job.kind})
	}
}

// run is the single delivery worker.
func (d *Dispatcher) run() {
	defer close(d.done)
	for job := range d.ch {
		if job.ack != nil {
			close(job.ack)
			continue
		}
		d.deliver(job)
	}
}

// deliver performs one delivery, containing panics so a broken notifier
// cannot kill the worker.
func (d *Dispatcher) deliver(job delivery) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&d.failed, 1)
			d.logger().LogFailure(job.address, "NOTIFY_FAILED",
				fmt.Sprintf("notifier panic: %v", r),
				map[string]string{"kind": job.kind})
		}
	}()

	var err error
	switch job.kind {
	case "otp":
		err = d.target.NotifyOTP(job.address, job.code, job.ttl)
	case "lockout":
		err = d.target.NotifyLockout(job.address, job.duration)
	}
	if err != nil {
		atomic.AddUint64(&d.failed, 1)
		d.logger().LogFailure(job.address, "NOTIFY_FAILED", err.Error(),
			map[string]string{"kind": job.kind})
	}
}

// Flush blocks until every delivery queued before the call has been
// attempted. Intended for tests and shutdown paths.
func (d *Dispatcher) Flush() {
	d.lifeMu.RLock()
	if d.closed {
		d.lifeMu.RUnlock()
		return
	}
	ack := make(chan struct{})
	d.ch <- delivery{ack: ack}
	d.lifeMu.RUnlock()

	<-ack
}

// Dropped returns the number of deliveries dropped due to a full queue.
func (d *Dispatcher) Dropped() uint64 {
	return atomic.LoadUint64(&d.dropped)
}

// Failed returns the number of deliveries the target notifier rejected.
func (d *Dispatcher) Failed() uint64 {
	return atomic.LoadUint64(&d.failed)
}

// Close stops the worker after draining queued deliveries. Safe to call
// more than once.
func (d *Dispatcher) Close() {
	d.lifeMu.Lock()
	if d.closed {
		d.lifeMu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.lifeMu.Unlock()

	<-d.done
}

func (d *Dispatcher) logger() *audit.Logger {
	if d.log != nil {
		return d.log
	}
	return audit.Global()
}

// =============================================================================
// LOG NOTIFIER
// =============================================================================

// LogNotifier records notifications to the audit trail instead of sending
// them anywhere. It is the default when mail is not configured: operators
// read codes off the CLI, and the trail still shows that delivery was
// requested. Codes are never written to the log.
type LogNotifier struct {
	log *audit.Logger
}

// NewLogNotifier creates a log-backed notifier. A nil log uses the global
// audit logger.
func NewLogNotifier(log *audit.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// NotifyOTP records that a login code was issued to address.
func (n *LogNotifier) NotifyOTP(address, code string, ttl time.Duration) error {
	n.logger().LogEvent(address, "NOTIFY_OTP", map[string]string{
		"ttl": ttl.String(),
	})
	return nil
}

// NotifyLockout records that a lockout alert was raised for identity.
func (n *LogNotifier) NotifyLockout(identity string, lockoutDuration time.Duration) error {
	n.logger().LogEvent(identity, "NOTIFY_LOCKOUT", map[string]string{
		"lockout_duration": lockoutDuration.String(),
	})
	return nil
}

func (n *LogNotifier) logger() *audit.Logger {
	if n.log != nil {
		return n.log
	}
	return audit.Global()
}
