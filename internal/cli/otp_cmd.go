// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// otp_cmd.go - CLI commands for one-time login codes in schoolgate.
//
// CLI: Comprehensive help and examples for all commands
//
// Command: otp [subcommand]
// Short:   Issue and check one-time login codes
// Aliases: code
//
// Subcommands:
//   issue <email>          Issue a fresh code and hand it to the notifier
//   verify <email> <code>  Check a code; consumes it on success
//
// Examples:
//   schoolgate otp issue ada@outshine.edu
//   schoolgate otp verify ada@outshine.edu 483920
//   schoolgate otp verify ada@outshine.edu 483920 --json
//
// Issuing replaces any previous pending code. A rejected code is a normal
// result, not an error: the command prints the outcome and exits zero so
// scripts can branch on the JSON "verified" field.

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/schoolgate/internal/config"
	"github.com/jeranaias/schoolgate/internal/guard"
	"github.com/jeranaias/schoolgate/internal/store"
)

const otpUsage = "Usage:\n" +
	"  schoolgate otp issue <email>          Issue and deliver a one-time code\n" +
	"  schoolgate otp verify <email> <code>  Check a code (consumes it on success)"

// HandleOTP handles the "otp" command with various subcommands.
func HandleOTP(args Args) error {
	parser := NewArgParser(args.Raw)
	jsonMode := args.JSON || parser.BoolFlag("json")

	switch parser.Subcommand() {
	case "issue", "send":
		return handleOTPIssue(parser, jsonMode)
	case "verify", "check":
		return handleOTPVerify(parser, jsonMode)
	case "":
		return fmt.Errorf("otp requires a subcommand\n\n%s", otpUsage)
	default:
		return fmt.Errorf("unknown otp subcommand: %s\n\n%s", parser.Subcommand(), otpUsage)
	}
}

// =============================================================================
// OTP ISSUE
// =============================================================================

// OTPIssueOutput is the JSON output format for otp issue.
type OTPIssueOutput struct {
	Email     string `json:"email"`
	Code      string `json:"code"`
	ExpiresIn string `json:"expires_in"`
}

// handleOTPIssue issues a new code for an account. The code is shown to
// the operator as well as delivered, because many school deployments run
// without a mail relay.
func handleOTPIssue(parser *ArgParser, jsonMode bool) error {
	email := parser.Positional(1)
	if email == "" {
		return ErrMissingArgument("email", "schoolgate otp issue ada@outshine.edu")
	}

	g, cleanup, err := openGuard()
	if err != nil {
		return err
	}
	defer cleanup()

	code, err := g.IssueOTP(context.Background(), email)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return NewNotFoundError("account", email)
		case errors.Is(err, guard.ErrOTPThrottled):
			return fmt.Errorf("resend limit reached for %s; wait a minute and try again", email)
		}
		return WrapError(err, "issue code")
	}

	cfg := config.Global()
	ttl := cfg.Policy().OTPTTL

	if jsonMode {
		return NewJSONResponse("otp issue", OTPIssueOutput{
			Email:     email,
			Code:      code,
			ExpiresIn: ttl.String(),
		}).Print()
	}

	fmt.Println()
	fmt.Printf("%s Code issued for %s\n", SuccessStyle.Render("[OK]"), email)
	fmt.Println()
	fmt.Printf("  %s%s\n", RenderLabel("Code:"), HighlightStyle.Render(code))
	fmt.Printf("  %s%s\n", RenderLabel("Valid For:"), ValueStyle.Render(formatDuration(ttl)))
	if !cfg.Mail.Enabled {
		fmt.Println()
		fmt.Println(DimStyle.Render("  Mail delivery is disabled; share the code with the account holder directly."))
	}
	fmt.Println()

	return nil
}

// =============================================================================
// OTP VERIFY
// =============================================================================

// OTPVerifyOutput is the JSON output format for otp verify.
type OTPVerifyOutput struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

// handleOTPVerify checks a candidate code against the pending one.
func handleOTPVerify(parser *ArgParser, jsonMode bool) error {
	email := parser.Positional(1)
	code := parser.Positional(2)
	if email == "" || code == "" {
		return ErrMissingArgument("email and code", "schoolgate otp verify ada@outshine.edu 483920")
	}

	g, cleanup, err := openGuard()
	if err != nil {
		return err
	}
	defer cleanup()

	ok, err := g.VerifyOTP(context.Background(), email, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError("account", email)
		}
		return WrapError(err, "verify code")
	}

	if jsonMode {
		return NewJSONResponse("otp verify", OTPVerifyOutput{
			Email:    email,
			Verified: ok,
		}).Print()
	}

	fmt.Println()
	if ok {
		fmt.Printf("%s Code accepted for %s\n", SuccessStyle.Render("[OK]"), email)
		fmt.Println(DimStyle.Render("  The pending code is cleared; the next login needs a fresh one."))
	} else {
		fmt.Printf("%s Code rejected for %s\n", ErrorStyle.Render("[FAIL]"), email)
		fmt.Println(DimStyle.Render("  Wrong, expired, or already used. Issue a fresh code with 'schoolgate otp issue'."))
	}
	fmt.Println()

	return nil
}
