// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// policy_cmd.go - Policy command implementation for schoolgate.
//
// Command: policy
// Short:   Show the effective account security policy
// Aliases: (none)
//
// Renders the rules the state machine currently enforces as a readable
// document. The numbers come from the live config, so this is the
// authoritative answer to "what happens after three bad passwords".
//
// Examples:
//   schoolgate policy                       Show the policy document
//   schoolgate policy --json                Thresholds as JSON
//
// Flags:
//   --json              Output in JSON format

package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/schoolgate/internal/config"
)

// markdownRenderer is the shared glamour renderer for document output.
var markdownRenderer *glamour.TermRenderer

func init() {
	var err error
	markdownRenderer, err = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		// Fall back to plain text if renderer initialization fails
		markdownRenderer = nil
	}
}

// renderMarkdown renders markdown content for terminal display.
// Returns the original content if rendering fails or renderer is unavailable.
func renderMarkdown(content string) string {
	if markdownRenderer == nil {
		return content
	}

	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// PolicyOutput is the JSON output format for the policy command.
type PolicyOutput struct {
	School             string `json:"school"`
	OTPTTL             string `json:"otp_ttl"`
	OTPLength          int    `json:"otp_length"`
	OTPResendPerMinute int    `json:"otp_resend_per_minute"`
	MaxFailedAttempts  int    `json:"max_failed_attempts"`
	LockoutDuration    string `json:"lockout_duration"`
	TOTPIssuer         string `json:"totp_issuer"`
	MailEnabled        bool   `json:"mail_enabled"`
	AuditEnabled       bool   `json:"audit_enabled"`
}

// HandlePolicy handles the "policy" command.
func HandlePolicy(args Args) error {
	parser := NewArgParser(args.Raw)
	jsonMode := args.JSON || parser.BoolFlag("json")

	cfg := config.Global()

	if jsonMode {
		pol := cfg.Policy()
		resp := NewJSONResponse("policy", PolicyOutput{
			School:             cfg.School.Name,
			OTPTTL:             pol.OTPTTL.String(),
			OTPLength:          cfg.Security.OTPLength,
			OTPResendPerMinute: cfg.Security.OTPResendPerMinute,
			MaxFailedAttempts:  pol.MaxFailedAttempts,
			LockoutDuration:    pol.LockoutDuration.String(),
			TOTPIssuer:         cfg.Issuer(),
			MailEnabled:        cfg.Mail.Enabled,
			AuditEnabled:       cfg.Audit.Enabled,
		})
		return resp.Print()
	}

	fmt.Print(renderMarkdown(policyDocument(cfg)))
	return nil
}

// policyDocument builds the policy text from the live config. Every
// statement here describes enforced behavior; when the wording and the
// state machine disagree, the state machine is right and this is a bug.
func policyDocument(cfg *config.Config) string {
	pol := cfg.Policy()
	var b strings.Builder

	fmt.Fprintf(&b, "# Account Security Policy - %s\n\n", cfg.School.Name)

	b.WriteString("## Sign-in codes\n\n")
	b.WriteString("A correct password is not a session. It issues a one-time code that\n")
	b.WriteString("must be verified before sign-in completes.\n\n")
	fmt.Fprintf(&b, "- Codes are **%d digits** and expire **%s** after they are issued.\n",
		cfg.Security.OTPLength, formatDuration(pol.OTPTTL))
	b.WriteString("- A code verifies at most once; verification consumes it.\n")
	fmt.Fprintf(&b, "- Requesting a new code replaces the pending one. An account can\n"+
		"  request at most **%d** codes per minute.\n\n", cfg.Security.OTPResendPerMinute)

	b.WriteString("## Failed logins\n\n")
	fmt.Fprintf(&b, "- **%d** consecutive failed password attempts lock the account.\n",
		pol.MaxFailedAttempts)
	b.WriteString("- While locked, sign-in attempts are refused before the password is\n")
	b.WriteString("  checked and do not count as failures.\n")
	fmt.Fprintf(&b, "- A lockout expires **%s** after the last failed attempt. Expiry is\n"+
		"  evaluated on the next use of the account, not by a timer; the\n"+
		"  failure counter resets when it clears.\n", formatDuration(pol.LockoutDuration))
	b.WriteString("- An administrator can unlock early: `schoolgate lockout unlock <email>`.\n")
	b.WriteString("- A locked account with no recorded failure time never expires on its\n")
	b.WriteString("  own and must be unlocked manually.\n\n")

	b.WriteString("## Authenticator apps (staff)\n\n")
	fmt.Fprintf(&b, "TEACHER and ADMINISTRATOR accounts can enroll a time-based\n"+
		"authenticator (issuer: **%s**). Enrolled devices are confirmed with\n"+
		"`schoolgate totp verify` before they count for anything.\n\n", cfg.Issuer())

	b.WriteString("## Notifications\n\n")
	if cfg.Mail.Enabled {
		fmt.Fprintf(&b, "Mail delivery is **enabled**. Codes and lockout notices are sent\n"+
			"from %s via %s:%d.\n\n",
			cfg.Mail.FromAddress, cfg.Mail.SMTPHost, cfg.Mail.SMTPPort)
	} else {
		b.WriteString("Mail delivery is **disabled**. Codes print to the operator console\n")
		b.WriteString("and lockout notices are recorded in the audit log only.\n\n")
	}

	b.WriteString("## Audit trail\n\n")
	if cfg.Audit.Enabled {
		auditPath, err := cfg.AuditLogPath()
		if err != nil {
			auditPath = "the audit log"
		}
		fmt.Fprintf(&b, "Every authentication, code, lockout, and account event is recorded\n"+
			"to `%s`. Identities are masked before they are written.\n\n", auditPath)
	} else {
		b.WriteString("The audit trail is **disabled**. Enable it with\n")
		b.WriteString("`schoolgate config set audit.enabled true`.\n\n")
	}

	b.WriteString("Adjust any threshold with `schoolgate config set` (see\n")
	b.WriteString("`schoolgate config show` for the key names).\n")

	return b.String()
}
