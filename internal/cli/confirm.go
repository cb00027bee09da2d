// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// confirm.go - Unified confirmation handling for all CLI commands in schoolgate.
//
// USABILITY: TTY detection for proper terminal handling
//
// Destructive commands (account delete) follow a single pattern:
//   1. If --confirm flag is present, proceed without prompting
//   2. If --json mode, require --confirm flag (no interactive prompts in JSON mode)
//   3. If stdin is not a TTY, require --confirm flag (can't prompt)
//   4. Otherwise, show interactive prompt for confirmation

package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// =============================================================================
// UNIFIED CONFIRMATION HANDLING
// =============================================================================

// RequireConfirmation checks if the user has confirmed a destructive action.
// It implements a consistent confirmation pattern across all CLI commands.
//
// Confirmation flow:
//  1. If confirmFlag is true (--confirm), return true immediately
//  2. If jsonMode is true, return error (JSON mode requires --confirm flag)
//  3. Otherwise, show interactive prompt and wait for user input
//
// Example:
//
//	confirmed, err := RequireConfirmation(confirmFlag, "delete this account", jsonMode)
//	if err != nil {
//	    return err  // JSON mode without --confirm
//	}
//	if !confirmed {
//	    ShowCancellationMessage()
//	    return nil
//	}
//	// Proceed with destructive action
func RequireConfirmation(confirmFlag bool, action string, jsonMode bool) (bool, error) {
	// If --confirm flag is present, proceed without prompting
	if confirmFlag {
		return true, nil
	}

	// In JSON mode, --confirm flag is required (no interactive prompts)
	if jsonMode {
		return false, fmt.Errorf("confirmation required: use --confirm flag for destructive actions in JSON mode")
	}

	// USABILITY: TTY detection for proper terminal handling
	// Can't prompt if stdin is not a TTY (e.g., piped input, cron jobs, CI/CD)
	if !IsTTY() {
		return false, fmt.Errorf("confirmation required but stdin is not a terminal; use --confirm flag")
	}

	// Show interactive prompt
	fmt.Println()
	fmt.Printf("Are you sure you want to %s? [y/N]: ", action)

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	// Parse response
	response := strings.ToLower(strings.TrimSpace(input))
	confirmed := response == "y" || response == "yes"

	return confirmed, nil
}

// RequireConfirmationWithDetails is like RequireConfirmation but shows
// additional details before prompting. Used where the operator should see
// exactly which account is affected before committing.
//
// Example:
//
//	details := map[string]string{
//	    "Email": a.Email,
//	    "Name":  a.FullName(),
//	    "Role":  string(a.Role),
//	}
//	confirmed, err := RequireConfirmationWithDetails(confirmFlag, "delete this account", details, jsonMode)
func RequireConfirmationWithDetails(confirmFlag bool, action string, details map[string]string, jsonMode bool) (bool, error) {
	// If --confirm flag is present, proceed without prompting
	if confirmFlag {
		return true, nil
	}

	// In JSON mode, --confirm flag is required
	if jsonMode {
		return false, fmt.Errorf("confirmation required: use --confirm flag for destructive actions in JSON mode")
	}

	// USABILITY: TTY detection for proper terminal handling
	// Can't prompt if stdin is not a TTY (e.g., piped input, cron jobs, CI/CD)
	if !IsTTY() {
		return false, fmt.Errorf("confirmation required but stdin is not a terminal; use --confirm flag")
	}

	// Show details
	fmt.Println()
	fmt.Println(WarningStyle.Render("WARNING: Destructive Action"))
	fmt.Println(RenderSeparator(50))
	fmt.Println()

	// Display details in consistent format
	for label, value := range details {
		fmt.Printf("  %s%s\n", RenderLabel(label+":", 20), value)
	}

	fmt.Println()
	fmt.Println(ErrorStyle.Render("This action cannot be undone."))
	fmt.Println()
	fmt.Printf("Are you sure you want to %s? [y/N]: ", action)

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	// Parse response
	response := strings.ToLower(strings.TrimSpace(input))
	confirmed := response == "y" || response == "yes"

	return confirmed, nil
}

// =============================================================================
// HELPER FUNCTIONS FOR COMMON CONFIRMATION PATTERNS
// =============================================================================

// ShowCancellationMessage displays a standard cancellation message.
// Use this after RequireConfirmation returns false.
func ShowCancellationMessage() {
	fmt.Println()
	fmt.Println(DimStyle.Render("Cancelled."))
	fmt.Println()
}

// PromptYesNo prompts the user with a yes/no question.
// Returns true for yes, false for no.
// Returns false if stdin is not a TTY (cannot prompt).
// This is for simple yes/no prompts that are not destructive confirmations.
//
// Example:
//
//	if PromptYesNo("Add a security question?") {
//	    // Prompt for question and answer
//	}
func PromptYesNo(question string) bool {
	// USABILITY: TTY detection for proper terminal handling
	if !IsTTY() {
		return false
	}

	fmt.Printf("%s [y/N]: ", question)

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response := strings.ToLower(strings.TrimSpace(input))
	return response == "y" || response == "yes"
}

// PromptChoice prompts the user to choose from a list of options.
// Returns the index of the selected option (0-based).
// Returns -1 if cancelled, invalid input, or stdin is not a TTY.
//
// Example:
//
//	options := []string{"What is your mother's maiden name?", "What is your favourite colour?"}
//	choice := PromptChoice("Security question:", options)
func PromptChoice(question string, options []string) int {
	// USABILITY: TTY detection for proper terminal handling
	if !IsTTY() {
		return -1
	}

	fmt.Println()
	fmt.Println(question)
	fmt.Println()

	for i, option := range options {
		fmt.Printf("  %d) %s\n", i+1, option)
	}

	fmt.Println()
	fmt.Printf("Enter choice (1-%d): ", len(options))

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return -1
	}

	response := strings.TrimSpace(input)
	var choice int
	_, err = fmt.Sscanf(response, "%d", &choice)
	if err != nil || choice < 1 || choice > len(options) {
		return -1
	}

	return choice - 1 // Convert to 0-based index
}
