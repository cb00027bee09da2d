// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
	"time"
)

// =============================================================================
// EMAIL TEMPLATES
// =============================================================================

var otpBodyTmpl = template.Must(template.New("otp").Parse(
	`Your one-time login code for {{.SiteName}} is:

    {{.Code}}

The code expires in {{.TTL}}. If you did not request a login, you can
ignore this message.
`))

var lockoutBodyTmpl = template.Must(template.New("lockout").Parse(
	`Your {{.SiteName}} account ({{.Identity}}) has been locked after too many
failed login attempts. It will unlock automatically after {{.Minutes}} minutes.

If this was not you, contact your administrator.
`))

const (
	otpSubject     = "Please verify your login"
	lockoutSubject = "Account Locked"
)

// =============================================================================
// SMTP MAILER
// =============================================================================

// SMTPConfig carries the mailer's connection and branding settings.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string // SMTP credential, not an account secret
	SiteName string
}

// SMTPMailer sends notification emails through a plain SMTP relay. Errors
// are returned to the caller (normally a Dispatcher, which logs them); this
// type never blocks a login path itself.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates a mailer for the given relay.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// NotifyOTP emails a one-time login code to address.
func (m *SMTPMailer) NotifyOTP(address, code string, ttl time.Duration) error {
	body, err := renderTemplate(otpBodyTmpl, map[string]any{
		"Code":     code,
		"TTL":      ttl,
		"SiteName": m.cfg.SiteName,
	})
	if err != nil {
		return err
	}
	return m.send(address, otpSubject, body)
}

// NotifyLockout emails a lockout alert to identity.
func (m *SMTPMailer) NotifyLockout(identity string, lockoutDuration time.Duration) error {
	body, err := renderTemplate(lockoutBodyTmpl, map[string]any{
		"Identity": identity,
		"Minutes":  int(lockoutDuration.Minutes()),
		"SiteName": m.cfg.SiteName,
	})
	if err != nil {
		return err
	}
	return m.send(identity, lockoutSubject, body)
}

func (m *SMTPMailer) send(recipient, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	msg := buildMessage(m.cfg.From, recipient, subject, body)

	// Unauthenticated relays (local sendmail bridges) leave the username
	// empty.
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{recipient}, msg); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", addr, err)
	}
	return nil
}

// buildMessage assembles a minimal RFC 5322 message.
func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func renderTemplate(tmpl *template.Template, data map[string]any) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render notification template: %w", err)
	}
	return b.String(), nil
}
