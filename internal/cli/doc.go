// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line interface parsing and execution for
// schoolgate.
//
// This package implements the operator commands for managing school accounts:
// enrollment, one-time login codes, failed-attempt tracking and lockouts,
// staff authenticator enrollment, configuration, and the audit trail.
//
// # Key Types
//
//   - Command: Enumeration of all available CLI commands
//   - Args: Parsed command-line arguments with global and command-specific flags
//   - ArgParser: Unified flag/subcommand parsing shared by all commands
//
// # Usage
//
// Parse and execute commands:
//
//	cmd, args := cli.Parse()
//	os.Exit(cli.Run(cmd, args))
//
// # Commands Overview
//
// Account Commands:
//   - account: Create, inspect, list, and delete accounts
//   - login: Interactive password + one-time code sign-in
//   - totp: Staff authenticator enrollment and verification
//
// Security Commands:
//   - otp: Issue and verify one-time login codes
//   - lockout: Lockout status, listing, unlock, and counter reset
//   - audit: Security audit trail review
//
// System Commands:
//   - config: Configuration management
//   - policy: Effective security policy summary
//   - shell: Interactive admin REPL
//   - setup: First-run wizard
//
// All read commands support the --json flag for scripting.
package cli
