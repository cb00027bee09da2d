// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// setup_cmd.go - First-run setup for schoolgate.
//
// Command: setup
// Short: Create the configuration and the first administrator
//
// The default is a full-screen wizard. Non-TTY invocations (and
// --plain) fall back to line-by-line prompts so setup can be scripted:
//
//   schoolgate setup --plain <<EOF
//   Outshine School
//   admin@outshine.edu
//   Grace
//   Hopper
//   correct-horse-battery
//   EOF
//
// Re-running setup keeps the existing configuration as defaults and
// fails cleanly if the administrator email is already enrolled.

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/schoolgate/internal/account"
	"github.com/jeranaias/schoolgate/internal/config"
	"github.com/jeranaias/schoolgate/internal/guard"
	"github.com/jeranaias/schoolgate/internal/setup"
	"github.com/jeranaias/schoolgate/internal/store"
)

// HandleSetup runs the first-run wizard, or the plain-prompt fallback
// when stdin is not a terminal.
func HandleSetup(args Args) error {
	parser := NewArgParser(args.Raw)
	if args.JSON {
		return NewValidationErrorWithExample("json", "true",
			"setup is interactive and has no JSON mode",
			"schoolgate config show --json")
	}

	cfg := loadConfigOrDefaults()

	if parser.BoolFlag("plain") || !IsTTY() || !IsStdoutTTY() {
		return runSetupPlain(cfg.School.Name, applySetup)
	}

	m := setup.New(cfg.School.Name, applySetup)
	p := tea.NewProgram(m, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return WrapError(err, "run setup wizard")
	}

	fm, ok := final.(*setup.Model)
	if !ok {
		return nil
	}
	if err := fm.Err(); err != nil {
		return WrapError(err, "setup")
	}
	if !fm.Completed() {
		fmt.Println(DimStyle.Render("Setup cancelled. Nothing was written."))
		return nil
	}

	// The alternate screen took the wizard's summary with it.
	email, username := fm.Summary()
	fmt.Printf("%s Setup complete.\n", SuccessStyle.Render("[OK]"))
	printSetupSummary(email, username)
	return nil
}

// applySetup persists a wizard result: configuration first, then the
// administrator account through the regular guard stack so creation is
// hashed, validated, and audited exactly like any other enrollment.
func applySetup(res setup.Result) (string, error) {
	cfg := loadConfigOrDefaults()
	cfg.School.Name = res.SchoolName
	if cfg.School.SiteName == "" || cfg.School.SiteName == config.Default().School.SiteName {
		cfg.School.SiteName = res.SchoolName + " Management"
	}
	if err := cfg.Validate(); err != nil {
		return "", WrapError(err, "validate configuration")
	}
	if err := config.Save(cfg); err != nil {
		return "", WrapError(err, "write configuration")
	}
	config.SetGlobal(cfg)

	g, cleanup, err := openGuard()
	if err != nil {
		return "", err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := g.CreateAccount(ctx, guard.CreateAccountParams{
		Email:     res.AdminEmail,
		FirstName: res.FirstName,
		LastName:  res.LastName,
		Role:      account.RoleAdministrator,
		Password:  res.Password,
	})
	if errors.Is(err, store.ErrDuplicateEmail) {
		return "", fmt.Errorf("an account for %s already exists (use 'schoolgate account show %s')",
			res.AdminEmail, res.AdminEmail)
	}
	if err != nil {
		return "", err
	}
	return a.Username, nil
}

// runSetupPlain collects the same fields with line prompts. One shared
// reader, so piped input is consumed in order instead of being
// swallowed by per-prompt buffering.
func runSetupPlain(defaultSchool string, apply setup.ApplyFunc) error {
	reader := bufio.NewReader(os.Stdin)
	readLine := func(prompt string) (string, error) {
		fmt.Print(prompt)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read input: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("schoolgate setup"))
	fmt.Println(DimStyle.Render("Creates the configuration and the first administrator account."))
	fmt.Println()

	school, err := readLine(fmt.Sprintf("School name [%s]: ", defaultSchool))
	if err != nil {
		return err
	}
	if school == "" {
		school = defaultSchool
	}

	email, err := readLine("Administrator email: ")
	if err != nil {
		return err
	}
	first, err := readLine("First name: ")
	if err != nil {
		return err
	}
	last, err := readLine("Last name: ")
	if err != nil {
		return err
	}

	var password string
	if IsTTY() {
		password, err = promptNewPassword()
	} else {
		password, err = readLine("Password: ")
	}
	if err != nil {
		return err
	}

	fmt.Println()
	username, err := apply(setup.Result{
		SchoolName: school,
		AdminEmail: email,
		FirstName:  first,
		LastName:   last,
		Password:   password,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s Setup complete.\n", SuccessStyle.Render("[OK]"))
	printSetupSummary(email, username)
	return nil
}

func printSetupSummary(email, username string) {
	fmt.Printf("%s%s\n", LabelStyle.Render("Administrator"), ValueStyle.Render(email))
	fmt.Printf("%s%s\n", LabelStyle.Render("Username"), ValueStyle.Render(username))
	fmt.Println()
	fmt.Println(DimStyle.Render("Next: 'schoolgate login " + email + "' or 'schoolgate shell'."))
}
