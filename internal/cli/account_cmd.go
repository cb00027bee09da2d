// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// account_cmd.go - CLI commands for account management in schoolgate.
//
// CLI: Comprehensive help and examples for all commands
//
// Command: account [subcommand]
// Short:   Account enrollment and inspection
// Aliases: accounts
//
// Subcommands:
//   create              Enroll an account (flags or interactive prompts)
//   show <email>        Show account security state
//   list (default)      List all accounts (alias: ls)
//   delete <email>      Delete an account (requires confirmation)
//
// Examples:
//   schoolgate account create --email ada@outshine.edu --first Ada --last Lovelace --role TEACHER
//   schoolgate account create                   Interactive enrollment
//   schoolgate account show ada@outshine.edu
//   schoolgate account list --json
//   schoolgate account delete ada@outshine.edu --confirm
//
// Create flags:
//   --email ADDRESS     Login email (required in non-interactive mode)
//   --first, --middle, --last
//                       Name fields
//   --role ROLE         STUDENT, TEACHER, PARENT, ADMINISTRATOR (default: STUDENT)
//   --question Q        Security question id (e.g. BIRTH_CITY)
//   --answer A          Security answer (required with --question)
//   --password PW       Password (prompted when omitted; prefer the prompt)

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/schoolgate/internal/account"
	"github.com/jeranaias/schoolgate/internal/audit"
	"github.com/jeranaias/schoolgate/internal/credentials"
	"github.com/jeranaias/schoolgate/internal/guard"
	"github.com/jeranaias/schoolgate/internal/store"
	"github.com/jeranaias/schoolgate/internal/util"
)

// =============================================================================
// HANDLE ACCOUNT
// =============================================================================

// HandleAccount handles the "account" command with various subcommands.
func HandleAccount(args Args) error {
	parser := NewArgParser(args.Raw)
	jsonMode := args.JSON || parser.BoolFlag("json")

	switch parser.Subcommand() {
	case "create", "add", "enroll":
		return handleAccountCreate(parser, jsonMode)
	case "show", "info":
		return handleAccountShow(parser, jsonMode)
	case "", "list", "ls":
		return handleAccountList(jsonMode)
	case "delete", "remove", "rm":
		return handleAccountDelete(parser, jsonMode)
	default:
		return fmt.Errorf("unknown account subcommand: %s\n\nUsage:\n"+
			"  schoolgate account create          Enroll an account\n"+
			"  schoolgate account show <email>    Show account security state\n"+
			"  schoolgate account list            List all accounts\n"+
			"  schoolgate account delete <email>  Delete an account", parser.Subcommand())
	}
}

// =============================================================================
// ACCOUNT CREATE
// =============================================================================

// handleAccountCreate enrolls a new account. With --email it runs from
// flags; without it, and on a TTY, it walks through interactive prompts.
func handleAccountCreate(parser *ArgParser, jsonMode bool) error {
	p := guard.CreateAccountParams{
		Email:          parser.Flag("email"),
		FirstName:      parser.Flag("first"),
		MiddleName:     parser.Flag("middle"),
		LastName:       parser.Flag("last"),
		Role:           account.Role(strings.ToUpper(parser.FlagOrDefault("role", string(account.DefaultRole)))),
		SecurityAnswer: parser.Flag("answer"),
		Password:       parser.Flag("password"),
	}
	if q := parser.Flag("question"); q != "" {
		p.SecurityQuestion = account.SecurityQuestion(strings.ToUpper(q))
	}

	if p.Email == "" {
		if !CanPrompt() {
			return ErrMissingArgument("email",
				"schoolgate account create --email ada@outshine.edu --first Ada --last Lovelace")
		}

		fmt.Println()
		fmt.Println(TitleStyle.Render("Enroll Account"))
		p.Email = promptInput("Email: ")
		p.FirstName = promptInput("First name: ")
		p.MiddleName = promptInput("Middle name (blank to skip): ")
		p.LastName = promptInput("Last name: ")
		p.Role = account.Role(strings.ToUpper(promptInputDefault(
			"Role (STUDENT, TEACHER, PARENT, ADMINISTRATOR)", string(account.DefaultRole))))

		if PromptYesNo("Add a security question?") {
			questions := account.SecurityQuestions()
			options := make([]string, len(questions))
			for i, q := range questions {
				options[i] = q.Prompt()
			}
			if choice := PromptChoice("Security question:", options); choice >= 0 {
				p.SecurityQuestion = questions[choice]
				p.SecurityAnswer = promptInput("Answer: ")
			}
		}
	}

	if p.Password == "" {
		if !CanPrompt() {
			return ErrMissingArgument("password",
				"run interactively to be prompted, or pass --password")
		}
		password, err := promptNewPassword()
		if err != nil {
			return err
		}
		p.Password = password
	}

	g, cleanup, err := openGuard()
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := g.CreateAccount(context.Background(), p)
	if err != nil {
		return accountCreateError(err, p)
	}

	if jsonMode {
		return NewJSONResponse("account create", newAccountData(a)).Print()
	}

	fmt.Println()
	fmt.Printf("%s Account created\n", SuccessStyle.Render("[OK]"))
	fmt.Println()
	fmt.Printf("  %s%s\n", RenderLabel("Email:"), ValueStyle.Render(a.Email))
	fmt.Printf("  %s%s\n", RenderLabel("Username:"), HighlightStyle.Render(a.Username))
	fmt.Printf("  %s%s\n", RenderLabel("Name:"), ValueStyle.Render(a.FullName()))
	fmt.Printf("  %s%s\n", RenderLabel("Role:"), ValueStyle.Render(string(a.Role)))
	fmt.Println()

	return nil
}

// accountCreateError turns guard validation failures into CLI errors with
// usage guidance.
func accountCreateError(err error, p guard.CreateAccountParams) error {
	switch {
	case errors.Is(err, credentials.ErrInvalidEmail):
		return NewValidationErrorWithExample("email", p.Email, "not a valid address", "ada@outshine.edu")
	case errors.Is(err, account.ErrInvalidRole):
		return NewValidationErrorWithExample("role", string(p.Role), "unknown role", roleList())
	case errors.Is(err, account.ErrInvalidQuestion):
		return NewValidationErrorWithExample("question", string(p.SecurityQuestion), "unknown security question", questionList())
	case errors.Is(err, guard.ErrAnswerRequired):
		return NewValidationError("answer", "", "a security question needs an answer")
	case errors.Is(err, credentials.ErrEmptyPassword):
		return NewValidationError("password", "", "password must not be empty")
	case errors.Is(err, store.ErrDuplicateEmail):
		return fmt.Errorf("account already exists: %s", p.Email)
	default:
		return WrapError(err, "create account")
	}
}

func roleList() string {
	roles := account.Roles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}

func questionList() string {
	questions := account.SecurityQuestions()
	names := make([]string, len(questions))
	for i, q := range questions {
		names[i] = string(q)
	}
	return strings.Join(names, ", ")
}

// =============================================================================
// ACCOUNT SHOW
// =============================================================================

// handleAccountShow displays the stored security state of one account.
func handleAccountShow(parser *ArgParser, jsonMode bool) error {
	email := parser.Positional(1)
	if email == "" {
		return ErrMissingArgument("email", "schoolgate account show ada@outshine.edu")
	}

	g, cleanup, err := openGuard()
	if err != nil {
		return err
	}
	defer cleanup()

	status, err := g.GetStatus(context.Background(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError("account", email)
		}
		return WrapError(err, "read account")
	}

	if jsonMode {
		return NewJSONResponse("account show", status).Print()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Account: " + status.Email))
	fmt.Println(RenderSeparator(50))
	fmt.Println()
	fmt.Printf("  %s%s\n", RenderLabel("Username:"), ValueStyle.Render(status.Username))
	fmt.Printf("  %s%s\n", RenderLabel("Name:"), ValueStyle.Render(status.FullName))
	fmt.Printf("  %s%s\n", RenderLabel("Role:"), ValueStyle.Render(string(status.Role)))
	fmt.Printf("  %s%s\n", RenderLabel("Status:"), RenderAccountStatus(string(status.AccountStatus)))
	fmt.Printf("  %s%d\n", RenderLabel("Failed Attempts:"), status.FailedAttempts)

	if !status.LastFailedLogin.IsZero() {
		fmt.Printf("  %s%s\n", RenderLabel("Last Failure:"), DimStyle.Render(status.LastFailedLogin.Format(time.RFC822)))
	}
	if status.TimeRemaining > 0 {
		fmt.Printf("  %s%s\n", RenderLabel("Lockout Remaining:"), WarningStyle.Render(formatDurationShort(status.TimeRemaining)))
	}
	if status.PendingOTP {
		fmt.Printf("  %s%s\n", RenderLabel("Pending OTP:"), InfoStyle.Render("yes, expires "+status.OTPExpiry.Format("15:04:05")))
	}

	totpStr := DimStyle.Render("not enrolled")
	if status.TOTPEnrolled {
		totpStr = SuccessStyle.Render("enrolled")
	}
	fmt.Printf("  %s%s\n", RenderLabel("Authenticator:"), totpStr)
	fmt.Println()

	return nil
}

// =============================================================================
// ACCOUNT LIST
// =============================================================================

// handleAccountList lists every enrolled account.
func handleAccountList(jsonMode bool) error {
	g, cleanup, err := openGuard()
	if err != nil {
		return err
	}
	defer cleanup()

	accounts, err := g.Accounts(context.Background())
	if err != nil {
		return WrapError(err, "list accounts")
	}

	if jsonMode {
		list := AccountListData{
			Accounts: make([]AccountData, 0, len(accounts)),
			Total:    len(accounts),
		}
		for _, a := range accounts {
			list.Accounts = append(list.Accounts, newAccountData(a))
		}
		return NewJSONResponse("account list", list).Print()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Accounts"))
	fmt.Println(RenderSeparator(78))
	fmt.Println()

	if len(accounts) == 0 {
		fmt.Println(DimStyle.Render("  No accounts enrolled. Run 'schoolgate account create' or 'schoolgate setup'."))
		fmt.Println()
		return nil
	}

	fmt.Printf("  %-28s %-19s %-14s %s\n", "Email", "Username", "Role", "Status")
	fmt.Println(DimStyle.Render("  " + strings.Repeat("-", 74)))

	// Pad before styling: ANSI escapes would throw off fmt's width
	// verbs, and emails or CJK names would break the columns.
	for _, a := range accounts {
		fmt.Printf("  %s %s %s %s\n",
			util.PadRight(util.TruncateWidth(a.Email, 28), 28),
			DimStyle.Render(util.PadRight(a.Username, 19)),
			util.PadRight(string(a.Role), 14),
			RenderAccountStatus(string(a.Status)))
	}

	fmt.Println()
	fmt.Printf("  Total: %d account(s)\n", len(accounts))
	fmt.Println()

	return nil
}

// newAccountData converts an account to its redacted listing view.
func newAccountData(a account.Account) AccountData {
	data := AccountData{
		Email:          a.Email,
		Username:       a.Username,
		FullName:       a.FullName(),
		Role:           string(a.Role),
		Status:         string(a.Status),
		FailedAttempts: a.FailedLoginAttempts,
		PendingOTP:     a.HasPendingOTP(),
		TOTPEnrolled:   a.TOTPSecret != "",
		CreatedAt:      a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !a.LastFailedLogin.IsZero() {
		data.LastFailedLogin = a.LastFailedLogin.UTC().Format(time.RFC3339)
	}
	return data
}

// =============================================================================
// ACCOUNT DELETE
// =============================================================================

// handleAccountDelete removes an account after confirmation.
func handleAccountDelete(parser *ArgParser, jsonMode bool) error {
	email := parser.Positional(1)
	if email == "" {
		return ErrMissingArgument("email", "schoolgate account delete ada@outshine.edu --confirm")
	}
	confirmFlag := parser.BoolFlag("confirm") || parser.BoolFlag("y")

	g, cleanup, err := openGuard()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()

	// Fetch first so the confirmation shows what is about to go.
	a, err := g.Account(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError("account", email)
		}
		return WrapError(err, "read account")
	}

	details := map[string]string{
		"Email": a.Email,
		"Name":  a.FullName(),
		"Role":  string(a.Role),
	}
	confirmed, err := RequireConfirmationWithDetails(confirmFlag, "delete this account", details, jsonMode)
	if err != nil {
		return err
	}
	if !confirmed {
		ShowCancellationMessage()
		return nil
	}

	if err := g.DeleteAccount(ctx, email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError("account", email)
		}
		return WrapError(err, "delete account")
	}

	audit.Global().LogEvent(getCurrentUserID(), "ACCOUNT_DELETE", map[string]string{
		"email":  audit.MaskIdentity(email),
		"method": "manual_cli",
	})

	if jsonMode {
		data, _ := json.MarshalIndent(map[string]interface{}{
			"deleted": true,
			"email":   email,
		}, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	fmt.Printf("%s Deleted: %s\n", SuccessStyle.Render("[OK]"), email)
	fmt.Println()

	return nil
}
