// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// totp_cmd.go - CLI commands for staff authenticator enrollment in schoolgate.
//
// CLI: Comprehensive help and examples for all commands
//
// Command: totp [subcommand]
// Short:   Authenticator app enrollment for staff accounts
// Aliases: authenticator
//
// Subcommands:
//   enroll <email>         Generate an authenticator secret (staff only)
//   verify <email> <code>  Check an authenticator code
//
// Examples:
//   schoolgate totp enroll ada@outshine.edu
//   schoolgate totp verify ada@outshine.edu 123456
//
// Enrollment prints the secret and the otpauth:// URL for manual entry
// into an authenticator app. Re-enrolling replaces the previous secret.
// Student and parent accounts cannot enroll.

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/schoolgate/internal/guard"
	"github.com/jeranaias/schoolgate/internal/store"
)

const totpUsage = "Usage:\n" +
	"  schoolgate totp enroll <email>         Generate an authenticator secret\n" +
	"  schoolgate totp verify <email> <code>  Check an authenticator code"

// HandleTOTP handles the "totp" command with various subcommands.
func HandleTOTP(args Args) error {
	parser := NewArgParser(args.Raw)
	jsonMode := args.JSON || parser.BoolFlag("json")

	switch parser.Subcommand() {
	case "enroll", "setup":
		return handleTOTPEnroll(parser, jsonMode)
	case "verify", "check":
		return handleTOTPVerify(parser, jsonMode)
	case "":
		return fmt.Errorf("totp requires a subcommand\n\n%s", totpUsage)
	default:
		return fmt.Errorf("unknown totp subcommand: %s\n\n%s", parser.Subcommand(), totpUsage)
	}
}

// =============================================================================
// TOTP ENROLL
// =============================================================================

// TOTPEnrollOutput is the JSON output format for totp enroll.
type TOTPEnrollOutput struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// handleTOTPEnroll generates and stores a new authenticator secret.
func handleTOTPEnroll(parser *ArgParser, jsonMode bool) error {
	email := parser.Positional(1)
	if email == "" {
		return ErrMissingArgument("email", "schoolgate totp enroll ada@outshine.edu")
	}

	g, cleanup, err := openGuard()
	if err != nil {
		return err
	}
	defer cleanup()

	enrollment, err := g.EnrollTOTP(context.Background(), email)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return NewNotFoundError("account", email)
		case errors.Is(err, guard.ErrNotStaff):
			return NewPermissionError("totp enroll", email, "a staff role (TEACHER or ADMINISTRATOR)")
		}
		return WrapError(err, "enroll authenticator")
	}

	if jsonMode {
		return NewJSONResponse("totp enroll", TOTPEnrollOutput{
			Email:  email,
			Secret: enrollment.Secret,
			URL:    enrollment.URL,
		}).Print()
	}

	fmt.Println()
	fmt.Printf("%s Authenticator enrolled for %s\n", SuccessStyle.Render("[OK]"), email)
	fmt.Println()
	fmt.Printf("  %s%s\n", RenderLabel("Secret:"), HighlightStyle.Render(enrollment.Secret))
	fmt.Printf("  %s%s\n", RenderLabel("URL:"), ValueStyle.Render(enrollment.URL))
	fmt.Println()
	fmt.Println(DimStyle.Render("  Enter the secret (or scan the URL as a QR code) in an authenticator app,"))
	fmt.Println(DimStyle.Render("  then confirm with 'schoolgate totp verify'."))
	fmt.Println()

	return nil
}

// =============================================================================
// TOTP VERIFY
// =============================================================================

// TOTPVerifyOutput is the JSON output format for totp verify.
type TOTPVerifyOutput struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

// handleTOTPVerify checks an authenticator code against the stored secret.
func handleTOTPVerify(parser *ArgParser, jsonMode bool) error {
	email := parser.Positional(1)
	code := parser.Positional(2)
	if email == "" || code == "" {
		return ErrMissingArgument("email and code", "schoolgate totp verify ada@outshine.edu 123456")
	}

	g, cleanup, err := openGuard()
	if err != nil {
		return err
	}
	defer cleanup()

	ok, err := g.VerifyTOTP(context.Background(), email, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError("account", email)
		}
		return WrapError(err, "verify authenticator code")
	}

	if jsonMode {
		return NewJSONResponse("totp verify", TOTPVerifyOutput{
			Email:    email,
			Verified: ok,
		}).Print()
	}

	fmt.Println()
	if ok {
		fmt.Printf("%s Authenticator code accepted for %s\n", SuccessStyle.Render("[OK]"), email)
	} else {
		fmt.Printf("%s Authenticator code rejected for %s\n", ErrorStyle.Render("[FAIL]"), email)
		fmt.Println(DimStyle.Render("  Codes rotate every 30 seconds; check the device clock and try the current one."))
	}
	fmt.Println()

	return nil
}
