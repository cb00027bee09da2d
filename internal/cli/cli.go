// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command dispatch for schoolgate.
//
// CLI: Comprehensive help and examples for all commands
package cli

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdShell Command = iota
	CmdAccount
	CmdOTP
	CmdLockout
	CmdLogin
	CmdTOTP
	CmdConfig
	CmdAudit
	CmdPolicy
	CmdSetup
	CmdVersion
	CmdHelp
	CmdUnknown
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet   bool
	Verbose bool
	JSON    bool // Output in JSON format

	// Command is the raw command word as typed (for error messages).
	Command string

	// Raw args (remaining after the command word)
	Raw []string
}

const usageText = `schoolgate - account security management for school deployments

Schoolgate manages the login security of school accounts: one-time login
codes delivered by email, failed-attempt tracking with time-boxed lockouts,
staff authenticator enrollment, and a tamper-evident audit trail.

Usage:
  schoolgate                         Start the admin shell (default)
  schoolgate account [subcommand]    Account management
  schoolgate otp [subcommand]        One-time login codes
  schoolgate lockout [subcommand]    Lockout management
  schoolgate login <email>           Interactive sign-in check
  schoolgate totp [subcommand]       Staff authenticator enrollment
  schoolgate config [subcommand]     Configuration
  schoolgate audit [subcommand]      Audit trail review
  schoolgate policy                  Effective security policy
  schoolgate shell                   Interactive admin REPL
  schoolgate setup                   First-run wizard
  schoolgate version                 Version information

Account Commands:
  schoolgate account create          Enroll an account (flags or prompts)
    --email ADDRESS                  Login email (required)
    --first NAME, --last NAME        Name fields
    --role ROLE                      STUDENT, TEACHER, PARENT, ADMINISTRATOR (default: STUDENT)
    --question Q --answer A          Recovery question and answer
  schoolgate account show <email>    Show account security state
  schoolgate account list            List all accounts
  schoolgate account delete <email>  Delete an account
    --confirm, -y                    Skip the confirmation prompt

OTP Commands:
  schoolgate otp issue <email>       Issue and deliver a one-time code
  schoolgate otp verify <email> <code>
                                     Check a code (consumes it on success)

Lockout Commands:
  schoolgate lockout status          Policy and aggregate lockout state
  schoolgate lockout list            List locked accounts (alias: ls)
  schoolgate lockout unlock <email>  Manually unlock an account
  schoolgate lockout reset <email>   Reset the failed-attempt counter

Authenticator Commands (staff only):
  schoolgate totp enroll <email>     Generate an authenticator secret
  schoolgate totp verify <email> <code>
                                     Check an authenticator code

Config Commands:
  schoolgate config show             Display current configuration
  schoolgate config get <key>        Print a single value
  schoolgate config set <key> <value>
                                     Set a configuration value
  schoolgate config reset            Restore defaults
  schoolgate config path             Show the config file location

Audit Commands:
  schoolgate audit show              Display recent audit events (default: 50)
    --lines N                        Show last N events
    --type TYPE                      Filter by event type (AUTH_LOCKOUT, OTP_ISSUED, ...)
    --since WHEN                     Events after a date (2026-01-15) or window (24h, 7d)
  schoolgate audit tail [N]          Raw log lines, last N (default: 10)
  schoolgate audit stats             Event counts, actors, and log size

Global Flags:
  -q, --quiet     Minimal output
  --verbose       Debug output
  --json          Output in JSON format for scripting

Examples:
  # First run
  schoolgate setup                        Create config and the first admin

  # Day-to-day account management
  schoolgate account create --email ada@outshine.edu --first Ada --last Lovelace --role TEACHER
  schoolgate account show ada@outshine.edu
  schoolgate lockout list                 Who is locked out right now?
  schoolgate lockout unlock ada@outshine.edu

  # Login flow testing
  schoolgate login ada@outshine.edu       Password prompt, then code prompt
  schoolgate otp issue ada@outshine.edu   Deliver a fresh code
  schoolgate otp verify ada@outshine.edu 483920

  # Staff two-factor
  schoolgate totp enroll ada@outshine.edu
  schoolgate totp verify ada@outshine.edu 123456

  # Configuration and review
  schoolgate config set security.max_failed_attempts 5
  schoolgate audit show --type AUTH_LOCKOUT --lines 20
  schoolgate audit show --json            Machine-readable events
  schoolgate policy                       Rendered policy summary

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("schoolgate version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// Parse parses os.Args and returns the command and args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses command-line arguments and returns the command and args.
// The shell reuses this to dispatch typed lines.
func ParseArgs(argv []string) (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(argv)

	// No command: drop into the admin shell
	if len(remaining) == 0 {
		return CmdShell, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	parsedArgs.Command = cmd
	parsedArgs.Raw = remaining[1:]

	switch cmd {
	case "account", "accounts":
		return CmdAccount, parsedArgs

	case "otp", "code":
		return CmdOTP, parsedArgs

	case "lockout", "lockouts", "lock":
		return CmdLockout, parsedArgs

	case "login", "signin":
		return CmdLogin, parsedArgs

	case "totp", "authenticator":
		return CmdTOTP, parsedArgs

	case "config":
		return CmdConfig, parsedArgs

	case "audit":
		return CmdAudit, parsedArgs

	case "policy":
		return CmdPolicy, parsedArgs

	case "shell", "repl":
		return CmdShell, parsedArgs

	case "setup":
		return CmdSetup, parsedArgs

	case "version", "-v", "--version":
		return CmdVersion, parsedArgs

	case "help", "-h", "--help":
		return CmdHelp, parsedArgs

	default:
		return CmdUnknown, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	for _, arg := range args {
		switch arg {
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "--verbose":
			parsedArgs.Verbose = true
		case "--json":
			parsedArgs.JSON = true
		default:
			remaining = append(remaining, arg)
		}
	}

	return remaining, parsedArgs
}

// =============================================================================
// COMMAND DISPATCH
// =============================================================================

// Run executes a parsed command and returns the process exit code.
func Run(cmd Command, args Args) int {
	var err error

	switch cmd {
	case CmdShell:
		err = HandleShell(args)
	case CmdAccount:
		err = HandleAccount(args)
	case CmdOTP:
		err = HandleOTP(args)
	case CmdLockout:
		err = HandleLockout(args)
	case CmdLogin:
		err = HandleLogin(args)
	case CmdTOTP:
		err = HandleTOTP(args)
	case CmdConfig:
		err = HandleConfig(args)
	case CmdAudit:
		err = HandleAudit(args)
	case CmdPolicy:
		err = HandlePolicy(args)
	case CmdSetup:
		err = HandleSetup(args)

	case CmdVersion:
		HandleVersion(args)
		return ExitSuccess

	case CmdHelp:
		PrintUsage()
		return ExitSuccess

	case CmdUnknown:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n\nRun 'schoolgate help' for usage.\n", args.Command)
		return ExitUsageError
	}

	if err != nil {
		DisplayError(err, args.JSON)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// HandleVersion handles the "version" command.
func HandleVersion(args Args) {
	if args.JSON {
		data := VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}
		resp := NewJSONResponse("version", data)
		resp.Print()
		return
	}
	PrintVersion()
}
