// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// runtime.go - Shared command runtime for schoolgate.
//
// Every command that touches accounts goes through openGuard, which wires
// the stack from the global config: audit trail first (so everything below
// can log), then storage, then the notification dispatcher, then the guard.

package cli

import (
	"github.com/jeranaias/schoolgate/internal/audit"
	"github.com/jeranaias/schoolgate/internal/config"
	"github.com/jeranaias/schoolgate/internal/guard"
	"github.com/jeranaias/schoolgate/internal/notify"
	"github.com/jeranaias/schoolgate/internal/store"
)

// openGuard builds the account guard and its supporting services.
// The returned cleanup drains the notifier and flushes the audit trail;
// callers must run it before returning.
func openGuard() (*guard.Guard, func(), error) {
	cfg := config.Global()

	auditPath, err := cfg.AuditLogPath()
	if err != nil {
		return nil, nil, WrapError(err, "resolve audit log path")
	}
	if err := audit.Init(auditPath, cfg.Audit.Enabled, int64(cfg.Audit.MaxSizeMB)*1024*1024); err != nil {
		return nil, nil, WrapError(err, "open audit log")
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, nil, WrapError(err, "resolve database path")
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, nil, WrapError(err, "open account store")
	}

	// Codes go out by mail when a relay is configured; otherwise they are
	// only recorded in the audit trail and shown to the operator.
	var target notify.Notifier
	if cfg.Mail.Enabled {
		target = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			From:     cfg.Mail.FromAddress,
			Username: cfg.Mail.SMTPUsername,
			Password: cfg.Mail.SMTPPassword,
			SiteName: cfg.School.SiteName,
		})
	} else {
		target = notify.NewLogNotifier(audit.Global())
	}
	dispatcher := notify.NewDispatcher(target, audit.Global())

	g := guard.New(st,
		guard.WithPolicy(cfg.Policy()),
		guard.WithNotifier(dispatcher),
		guard.WithOTPLength(cfg.Security.OTPLength),
		guard.WithOTPResendLimit(cfg.Security.OTPResendPerMinute),
		guard.WithIterations(cfg.Security.PBKDF2Iterations),
		guard.WithSchoolName(cfg.School.Name),
		guard.WithUsernamePrefixLength(cfg.School.UsernamePrefixLength),
		guard.WithIssuer(cfg.Issuer()),
	)

	cleanup := func() {
		dispatcher.Close()
		st.Close()
		audit.Global().Flush()
	}
	return g, cleanup, nil
}
