// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// login_cmd.go - Interactive sign-in check for schoolgate.
//
// CLI: Comprehensive help and examples for all commands
//
// Command: login <email>
// Short:   Run a full two-step login against the stored account state
// Aliases: signin
//
// Examples:
//   schoolgate login ada@outshine.edu
//
// The flow mirrors what the school portal does: lockout check, password,
// then the one-time code. Wrong passwords count against the lockout
// policy, so this command is also the quickest way to trip and test a
// lockout on a scratch account.

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/schoolgate/internal/config"
	"github.com/jeranaias/schoolgate/internal/store"
)

// HandleLogin handles the "login" command.
func HandleLogin(args Args) error {
	parser := NewArgParser(args.Raw)
	if args.JSON || parser.BoolFlag("json") {
		return NewValidationError("--json", "", "login is interactive and has no JSON output")
	}

	email := parser.Positional(0)
	if email == "" {
		return ErrMissingArgument("email", "schoolgate login ada@outshine.edu")
	}

	if err := RequiresTTY("sign in"); err != nil {
		return err
	}

	g, cleanup, err := openGuard()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	cfg := config.Global()

	fmt.Println()
	fmt.Println(TitleStyle.Render("Sign In - " + cfg.School.Name))

	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}

	res, err := g.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError("account", email)
		}
		return WrapError(err, "authenticate")
	}

	switch {
	case res.Locked && res.TimeRemaining > 0:
		return fmt.Errorf("account is locked; try again in %s", formatDurationShort(res.TimeRemaining))

	case res.Locked:
		return fmt.Errorf("account is locked; an administrator must unlock it")

	case !res.OK:
		// Show how close the account is to locking, since the operator is
		// usually debugging exactly that.
		if st, stErr := g.GetStatus(ctx, email); stErr == nil {
			return fmt.Errorf("authentication failed: wrong password (attempt %d of %d)",
				st.FailedAttempts, cfg.Security.MaxFailedAttempts)
		}
		return fmt.Errorf("authentication failed: wrong password")
	}

	fmt.Println()
	fmt.Printf("%s Password accepted\n", SuccessStyle.Render("[OK]"))

	switch {
	case res.OTPThrottled:
		fmt.Println(WarningStyle.Render("  Resend limit reached; no new code was issued."))
		fmt.Println(DimStyle.Render("  A previously delivered code may still be pending. Enter it below."))
	case cfg.Mail.Enabled:
		fmt.Printf("  A login code has been sent to %s.\n", email)
	default:
		// No relay configured: the operator relays the code by hand.
		fmt.Printf("  %s%s\n", RenderLabel("Code:"), HighlightStyle.Render(res.Code))
	}

	fmt.Println()
	code := promptInput("Enter code: ")
	if code == "" {
		return fmt.Errorf("authentication failed: no code entered")
	}

	ok, err := g.VerifyOTP(ctx, email, code)
	if err != nil {
		return WrapError(err, "verify code")
	}
	if !ok {
		return fmt.Errorf("authentication failed: code rejected")
	}

	fmt.Println()
	fmt.Printf("%s Signed in as %s\n", SuccessStyle.Render("[OK]"), email)
	fmt.Println()

	return nil
}
