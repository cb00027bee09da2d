// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// schoolgate.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - SchoolConfig: School identity (name, site branding)
//   - SecurityConfig: OTP, lockout, and password hashing thresholds
//   - MailConfig: SMTP notifier settings
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (SCHOOLGATE_*, SCHOOL_NAME)
//   - ~/.schoolgate/config.toml
//   - ~/.schoolgate/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	policy := cfg.Policy()
//	school := cfg.School.Name
package config
