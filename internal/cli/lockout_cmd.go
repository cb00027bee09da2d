// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// lockout_cmd.go - CLI commands for lockout management in schoolgate.
//
// CLI: Comprehensive help and examples for all commands
//
// Command: lockout [subcommand]
// Short:   Account lockout management
// Aliases: lock, lockouts
//
// Subcommands:
//   status (default)    Show lockout policy and aggregate state
//   list                List locked accounts (alias: ls)
//   unlock <email>      Manually unlock an account
//   reset <email>       Reset the failed-attempt counter
//
// Examples:
//   schoolgate lockout                          Show status (default)
//   schoolgate lockout status --json            Status in JSON format
//   schoolgate lockout list                     List locked accounts
//   schoolgate lockout unlock ada@outshine.edu  Manually unlock
//   schoolgate lockout reset ada@outshine.edu   Reset attempt counter
//
// Lockout behavior:
//   - Accounts lock after the configured number of consecutive failures
//   - A lockout expires after the configured duration, cleared lazily on
//     the next login attempt or unlock
//   - An account locked with no recorded failure time stays locked until
//     manually unlocked
//   - All lockout events are written to the audit trail
//
// Flags:
//   --json              Output in JSON format

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/schoolgate/internal/audit"
	"github.com/jeranaias/schoolgate/internal/store"
)

// =============================================================================
// LOCKOUT COMMAND STYLES
// =============================================================================

var (
	lockoutTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")). // Cyan
				MarginBottom(1)

	lockoutSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("255")). // White
				MarginTop(1)

	lockoutLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")). // Light gray
				Width(20)

	lockoutValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("255")) // White

	lockoutGreenStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("82")) // Green

	lockoutRedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // Red

	lockoutYellowStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("220")) // Yellow

	lockoutDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242")) // Dim

	lockoutSuccessStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("82")).
				Bold(true)
)

// =============================================================================
// LOCKOUT ARGUMENTS
// =============================================================================

// LockoutArgs holds parsed lockout command arguments.
type LockoutArgs struct {
	Subcommand string
	Email      string
	JSON       bool
}

// parseLockoutArgs parses lockout command specific arguments.
func parseLockoutArgs(args *Args, remaining []string) LockoutArgs {
	lockoutArgs := LockoutArgs{
		JSON: args.JSON,
	}

	if len(remaining) > 0 {
		lockoutArgs.Subcommand = remaining[0]
		remaining = remaining[1:]
	}

	for i := 0; i < len(remaining); i++ {
		arg := remaining[i]

		switch arg {
		case "--json":
			lockoutArgs.JSON = true
		default:
			// First non-flag argument is the account email
			if !strings.HasPrefix(arg, "-") && lockoutArgs.Email == "" {
				lockoutArgs.Email = arg
			}
		}
	}

	return lockoutArgs
}

// =============================================================================
// HANDLE LOCKOUT
// =============================================================================

// HandleLockout handles the "lockout" command with various subcommands.
func HandleLockout(args Args) error {
	lockoutArgs := parseLockoutArgs(&args, args.Raw)

	switch lockoutArgs.Subcommand {
	case "", "status", "stats":
		return handleLockoutStatus(lockoutArgs)
	case "list", "ls":
		return handleLockoutList(lockoutArgs)
	case "unlock":
		return handleLockoutUnlock(lockoutArgs)
	case "reset":
		return handleLockoutReset(lockoutArgs)
	default:
		return fmt.Errorf("unknown lockout subcommand: %s\n\nUsage:\n"+
			"  schoolgate lockout status          Show policy and aggregate state\n"+
			"  schoolgate lockout list            List locked accounts\n"+
			"  schoolgate lockout unlock <email>  Manually unlock an account\n"+
			"  schoolgate lockout reset <email>   Reset the failed-attempt counter", lockoutArgs.Subcommand)
	}
}

// =============================================================================
// LOCKOUT STATUS
// =============================================================================

// LockoutStatusOutput is the JSON output format for lockout status.
type LockoutStatusOutput struct {
	MaxAttempts     int    `json:"max_attempts"`
	LockoutDuration string `json:"lockout_duration"`
	OTPTTL          string `json:"otp_ttl"`
	TotalAccounts   int    `json:"total_accounts"`
	CurrentlyLocked int    `json:"currently_locked"`
	PendingOTPs     int    `json:"pending_otps"`
}

// handleLockoutStatus shows the effective policy and aggregate lockout state.
func handleLockoutStatus(args LockoutArgs) error {
	g, cleanup, err := openGuard()
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := g.GetStats(context.Background())
	if err != nil {
		return WrapError(err, "read lockout stats")
	}

	output := LockoutStatusOutput{
		MaxAttempts:     stats.MaxAttempts,
		LockoutDuration: stats.LockoutDuration.String(),
		OTPTTL:          stats.OTPTTL.String(),
		TotalAccounts:   stats.TotalAccounts,
		CurrentlyLocked: stats.CurrentlyLocked,
		PendingOTPs:     stats.PendingOTPs,
	}

	if args.JSON {
		data, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	// Display human-readable status
	separator := strings.Repeat("=", 50)
	fmt.Println()
	fmt.Println(lockoutTitleStyle.Render("Lockout Status"))
	fmt.Println(lockoutDimStyle.Render(separator))
	fmt.Println()

	// Policy section
	fmt.Println(lockoutSectionStyle.Render("Policy"))
	fmt.Printf("  %s%s\n", lockoutLabelStyle.Render("Max Attempts:"), lockoutValueStyle.Render(fmt.Sprintf("%d", stats.MaxAttempts)))
	fmt.Printf("  %s%s\n", lockoutLabelStyle.Render("Lockout Duration:"), lockoutValueStyle.Render(formatDuration(stats.LockoutDuration)))
	fmt.Printf("  %s%s\n", lockoutLabelStyle.Render("OTP Lifetime:"), lockoutValueStyle.Render(formatDuration(stats.OTPTTL)))
	fmt.Println()

	// Current state section
	fmt.Println(lockoutSectionStyle.Render("Current State"))
	fmt.Printf("  %s%s\n", lockoutLabelStyle.Render("Total Accounts:"), lockoutValueStyle.Render(fmt.Sprintf("%d", stats.TotalAccounts)))

	lockedStr := lockoutGreenStyle.Render("0")
	if stats.CurrentlyLocked > 0 {
		lockedStr = lockoutRedStyle.Render(fmt.Sprintf("%d", stats.CurrentlyLocked))
	}
	fmt.Printf("  %s%s\n", lockoutLabelStyle.Render("Currently Locked:"), lockedStr)
	fmt.Printf("  %s%s\n", lockoutLabelStyle.Render("Pending OTPs:"), lockoutValueStyle.Render(fmt.Sprintf("%d", stats.PendingOTPs)))

	if stats.CurrentlyLocked > 0 {
		fmt.Println()
		fmt.Println(lockoutDimStyle.Render("  Run 'schoolgate lockout list' to see who is locked."))
	}

	fmt.Println()
	return nil
}

// =============================================================================
// LOCKOUT LIST
// =============================================================================

// handleLockoutList lists all accounts currently in the LOCKED state.
func handleLockoutList(args LockoutArgs) error {
	g, cleanup, err := openGuard()
	if err != nil {
		return err
	}
	defer cleanup()

	locked, err := g.ListLocked(context.Background())
	if err != nil {
		return WrapError(err, "list locked accounts")
	}

	if args.JSON {
		data, err := json.MarshalIndent(map[string]interface{}{
			"locked_accounts": locked,
			"count":           len(locked),
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	fmt.Println(lockoutTitleStyle.Render("Locked Accounts"))
	fmt.Println(lockoutDimStyle.Render(strings.Repeat("=", 50)))
	fmt.Println()

	if len(locked) == 0 {
		fmt.Println(lockoutGreenStyle.Render("  No accounts are currently locked."))
		fmt.Println()
		return nil
	}

	// Table header
	fmt.Printf("  %-30s %-10s %-20s\n", "Email", "Attempts", "Time Remaining")
	fmt.Println(lockoutDimStyle.Render("  " + strings.Repeat("-", 62)))

	for _, entry := range locked {
		var remaining string
		switch {
		case entry.TimeRemaining > 0:
			remaining = lockoutYellowStyle.Render(formatDurationShort(entry.TimeRemaining))
		case entry.Expired:
			remaining = lockoutDimStyle.Render("elapsed (clears on next login)")
		default:
			// Locked with no recorded failure time: only a manual unlock clears it
			remaining = lockoutRedStyle.Render("manual unlock required")
		}

		fmt.Printf("  %-30s %-10d %s\n",
			lockoutRedStyle.Render(entry.Email),
			entry.FailedAttempts,
			remaining)
	}

	fmt.Println()
	fmt.Printf("  Total: %d locked account(s)\n", len(locked))
	fmt.Println()
	fmt.Println("  Commands:")
	fmt.Println("    schoolgate lockout unlock <email>  Manually unlock")
	fmt.Println("    schoolgate lockout reset <email>   Reset attempt counter")
	fmt.Println()

	return nil
}

// =============================================================================
// LOCKOUT UNLOCK
// =============================================================================

// handleLockoutUnlock manually unlocks an account.
func handleLockoutUnlock(args LockoutArgs) error {
	if args.Email == "" {
		return fmt.Errorf("email required\nUsage: schoolgate lockout unlock <email>")
	}

	g, cleanup, err := openGuard()
	if err != nil {
		return err
	}
	defer cleanup()

	changed, err := g.Unlock(context.Background(), args.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError("account", args.Email)
		}
		return WrapError(err, "unlock account")
	}

	// Attribute the manual action to the operator; the guard has already
	// recorded the state transition itself.
	audit.Global().LogEvent(getCurrentUserID(), "LOCKOUT_UNLOCK", map[string]string{
		"email":  audit.MaskIdentity(args.Email),
		"method": "manual_cli",
	})

	if args.JSON {
		data, _ := json.MarshalIndent(map[string]interface{}{
			"unlocked": true,
			"changed":  changed,
			"email":    args.Email,
		}, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	if changed {
		fmt.Printf("%s Unlocked: %s\n", lockoutSuccessStyle.Render("[OK]"), args.Email)
	} else {
		fmt.Printf("%s Already active: %s\n", lockoutSuccessStyle.Render("[OK]"), args.Email)
	}
	fmt.Println()

	return nil
}

// =============================================================================
// LOCKOUT RESET
// =============================================================================

// handleLockoutReset resets the failed-attempt counter for an account.
func handleLockoutReset(args LockoutArgs) error {
	if args.Email == "" {
		return fmt.Errorf("email required\nUsage: schoolgate lockout reset <email>")
	}

	g, cleanup, err := openGuard()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := g.ResetAttempts(context.Background(), args.Email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError("account", args.Email)
		}
		return WrapError(err, "reset attempts")
	}

	audit.Global().LogEvent(getCurrentUserID(), "LOCKOUT_RESET", map[string]string{
		"email":  audit.MaskIdentity(args.Email),
		"method": "manual_cli",
	})

	if args.JSON {
		data, _ := json.MarshalIndent(map[string]interface{}{
			"reset": true,
			"email": args.Email,
		}, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	fmt.Printf("%s Attempt counter reset for: %s\n", lockoutSuccessStyle.Render("[OK]"), args.Email)
	fmt.Println()

	return nil
}
