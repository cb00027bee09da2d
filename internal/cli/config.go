// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation for schoolgate.
//
// Command: config [subcommand]
// Short:   View and modify configuration
// Aliases: (none)
//
// Subcommands:
//   show (default)      Display current configuration
//   get <key>           Print a single configuration value
//   set <key> <value>   Set a configuration value and save
//   reset               Reset to default configuration
//   path                Show configuration file path
//
// Examples:
//   schoolgate config                         Show current config (default)
//   schoolgate config show --json             Config in JSON format
//   schoolgate config get security.max_failed_attempts
//   schoolgate config set security.lockout_duration_minutes 30
//   schoolgate config set security.otp_ttl_seconds 120
//   schoolgate config set mail.enabled true
//   schoolgate config set mail.smtp_host smtp.outshine.edu
//   schoolgate config set mail.smtp_password hunter2
//   schoolgate config reset                   Reset to defaults
//   schoolgate config path                    Show config file location
//
// Keys use dot notation matching the TOML sections
// (school.name, security.otp_length, mail.smtp_port, audit.log_path,
// storage.database_path). Setting an unknown key prints the full list.
//
// Flags:
//   --json              Output in JSON format

package cli

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/schoolgate/internal/config"
)

// configPathStyle renders file locations in config output.
var configPathStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("245")).
	Italic(true)

// HandleConfig handles the "config" command.
// Supports JSON output so the config can be collected alongside audit events.
func HandleConfig(args Args) error {
	parser := NewArgParser(args.Raw)
	jsonMode := args.JSON || parser.BoolFlag("json")

	switch parser.Subcommand() {
	case "", "show":
		return handleConfigShow(jsonMode)
	case "get":
		return handleConfigGet(parser, jsonMode)
	case "set":
		return handleConfigSet(parser, jsonMode)
	case "reset":
		return handleConfigReset(jsonMode)
	case "path":
		return handleConfigPath(jsonMode)
	default:
		return fmt.Errorf("unknown config subcommand: %s\n\nUsage:\n"+
			"  schoolgate config show             Display current configuration\n"+
			"  schoolgate config get <key>        Print a single value\n"+
			"  schoolgate config set <key> <val>  Set a value and save\n"+
			"  schoolgate config reset            Reset to defaults\n"+
			"  schoolgate config path             Show config file location", parser.Subcommand())
	}
}

// loadConfigOrDefaults loads the on-disk config, warning and falling back to
// defaults when the file is unreadable. Command handlers keep going so that
// a corrupt config file never locks the operator out of the config command.
func loadConfigOrDefaults() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		StderrPrint("Warning: %s (using defaults)\n", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg
}

// handleConfigShow displays the current configuration.
func handleConfigShow(jsonMode bool) error {
	cfg := loadConfigOrDefaults()

	auditPath, _ := cfg.AuditLogPath()
	dbPath, _ := cfg.DatabasePath()

	if jsonMode {
		data := ConfigData{
			School: ConfigSchoolInfo{
				Name:                 cfg.School.Name,
				SiteName:             cfg.School.SiteName,
				UsernamePrefixLength: cfg.School.UsernamePrefixLength,
			},
			Security: ConfigSecurityInfo{
				OTPTTLSeconds:          cfg.Security.OTPTTLSeconds,
				OTPLength:              cfg.Security.OTPLength,
				MaxFailedAttempts:      cfg.Security.MaxFailedAttempts,
				LockoutDurationMinutes: cfg.Security.LockoutDurationMinutes,
				TOTPIssuer:             cfg.Issuer(),
				PBKDF2Iterations:       cfg.Security.PBKDF2Iterations,
				OTPResendPerMinute:     cfg.Security.OTPResendPerMinute,
			},
			Mail: ConfigMailInfo{
				Enabled:         cfg.Mail.Enabled,
				FromAddress:     cfg.Mail.FromAddress,
				SMTPHost:        cfg.Mail.SMTPHost,
				SMTPPort:        cfg.Mail.SMTPPort,
				SMTPUsername:    cfg.Mail.SMTPUsername,
				SMTPPasswordSet: cfg.Mail.SMTPPassword != "",
			},
			Audit: ConfigAuditInfo{
				Enabled:   cfg.Audit.Enabled,
				LogPath:   auditPath,
				MaxSizeMB: cfg.Audit.MaxSizeMB,
			},
			Storage: ConfigStorageInfo{
				DatabasePath: dbPath,
			},
			Path: configFilePath(),
		}
		resp := NewJSONResponse("config show", data)
		return resp.Print()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("schoolgate Configuration"))
	fmt.Println(RenderSeparator(41))
	fmt.Println()

	fmt.Println(SectionStyle.Render("[school]"))
	printConfigLine("name:", cfg.School.Name)
	printConfigLine("site_name:", cfg.School.SiteName)
	prefixLen := fmt.Sprintf("%d", cfg.School.UsernamePrefixLength)
	if cfg.School.UsernamePrefixLength == 0 {
		prefixLen += " " + DimStyle.Render("(all initials)")
	}
	printConfigLine("username_prefix_length:", prefixLen)
	fmt.Println()

	fmt.Println(SectionStyle.Render("[security]"))
	printConfigLine("otp_ttl_seconds:", fmt.Sprintf("%d (%s)",
		cfg.Security.OTPTTLSeconds, formatDuration(cfg.Policy().OTPTTL)))
	printConfigLine("otp_length:", fmt.Sprintf("%d digits", cfg.Security.OTPLength))
	printConfigLine("max_failed_attempts:", fmt.Sprintf("%d", cfg.Security.MaxFailedAttempts))
	printConfigLine("lockout_duration_minutes:", fmt.Sprintf("%d (%s)",
		cfg.Security.LockoutDurationMinutes, formatDuration(cfg.Policy().LockoutDuration)))
	issuer := cfg.Issuer()
	if cfg.Security.TOTPIssuer == "" {
		issuer += " " + DimStyle.Render("(school name)")
	}
	printConfigLine("totp_issuer:", issuer)
	printConfigLine("pbkdf2_iterations:", fmt.Sprintf("%d", cfg.Security.PBKDF2Iterations))
	printConfigLine("otp_resend_per_minute:", fmt.Sprintf("%d", cfg.Security.OTPResendPerMinute))
	fmt.Println()

	fmt.Println(SectionStyle.Render("[mail]"))
	printConfigLine("enabled:", fmt.Sprintf("%t", cfg.Mail.Enabled))
	printConfigLine("from_address:", cfg.Mail.FromAddress)
	printConfigLine("smtp_host:", cfg.Mail.SMTPHost)
	printConfigLine("smtp_port:", fmt.Sprintf("%d", cfg.Mail.SMTPPort))
	username := cfg.Mail.SMTPUsername
	if username == "" {
		username = DimStyle.Render("(not set)")
	}
	printConfigLine("smtp_username:", username)
	printConfigLine("smtp_password:", DimStyle.Render(maskSecret(cfg.Mail.SMTPPassword)))
	fmt.Println()

	fmt.Println(SectionStyle.Render("[audit]"))
	printConfigLine("enabled:", fmt.Sprintf("%t", cfg.Audit.Enabled))
	logPath := auditPath
	if cfg.Audit.LogPath == "" {
		logPath += " " + DimStyle.Render("(default)")
	}
	printConfigLine("log_path:", logPath)
	printConfigLine("max_size_mb:", fmt.Sprintf("%d", cfg.Audit.MaxSizeMB))
	fmt.Println()

	fmt.Println(SectionStyle.Render("[storage]"))
	storagePath := dbPath
	if cfg.Storage.DatabasePath == "" {
		storagePath += " " + DimStyle.Render("(default)")
	}
	printConfigLine("database_path:", storagePath)
	fmt.Println()

	fmt.Println(SeparatorStyle.Render(strings.Repeat("-", 41)))
	fmt.Printf("Config file: %s\n", configPathStyle.Render(configFilePath()))
	fmt.Println()

	return nil
}

// printConfigLine renders one "key: value" row in the show panel.
func printConfigLine(key, value string) {
	fmt.Printf("  %s%s\n", LabelStyle.Render(key), ValueStyle.Render(value))
}

// handleConfigGet prints one configuration value, bare, so it can be used
// from scripts. Secret values print as fingerprints.
func handleConfigGet(parser *ArgParser, jsonMode bool) error {
	key := strings.ToLower(parser.Positional(1))
	if key == "" {
		return fmt.Errorf("no config key provided\nUsage: schoolgate config get <key>")
	}

	cfg := loadConfigOrDefaults()

	val, err := cfg.Get(key)
	if err != nil {
		return unknownConfigKeyError(key)
	}

	display := fmt.Sprintf("%v", val)
	if isSecretKey(key) {
		display = maskSecret(display)
	}

	if jsonMode {
		resp := NewJSONResponse("config get", map[string]interface{}{
			"key":   key,
			"value": display,
		})
		return resp.Print()
	}

	fmt.Println(display)
	return nil
}

// handleConfigSet sets a configuration value and saves the file.
func handleConfigSet(parser *ArgParser, jsonMode bool) error {
	key := strings.ToLower(parser.Positional(1))
	value := parser.Positional(2)

	if key == "" {
		return fmt.Errorf("no config key provided\nUsage: schoolgate config set <key> <value>")
	}
	if value == "" {
		return fmt.Errorf("no config value provided\nUsage: schoolgate config set %s <value>", key)
	}

	cfg := loadConfigOrDefaults()

	// Distinguish an unknown key from a bad value before mutating.
	if _, err := cfg.Get(key); err != nil {
		return unknownConfigKeyError(key)
	}
	if err := cfg.Set(key, value); err != nil {
		return fmt.Errorf("invalid value for %s: %v", key, err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration value: %w", err)
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	// Keep the running process (shell sessions in particular) consistent
	// with what was just written.
	config.SetGlobal(cfg)

	if jsonMode {
		resp := NewJSONResponse("config set", map[string]interface{}{
			"key":   key,
			"value": maskIfSecret(key, value),
			"saved": true,
		})
		return resp.Print()
	}

	fmt.Printf("%s %s = %s\n",
		SuccessStyle.Render("[OK]"),
		key,
		maskIfSecret(key, value))
	return nil
}

// handleConfigReset resets configuration to defaults.
func handleConfigReset(jsonMode bool) error {
	cfg := config.Default()

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	config.SetGlobal(cfg)

	if jsonMode {
		resp := NewJSONResponse("config reset", map[string]interface{}{
			"reset": true,
			"path":  configFilePath(),
		})
		return resp.Print()
	}

	fmt.Printf("%s Configuration reset to defaults\n", SuccessStyle.Render("[OK]"))
	fmt.Printf("Config file: %s\n", configPathStyle.Render(configFilePath()))
	return nil
}

// handleConfigPath shows the config file path.
func handleConfigPath(jsonMode bool) error {
	path := configFilePath()
	_, err := os.Stat(path)
	exists := !os.IsNotExist(err)

	if jsonMode {
		resp := NewJSONResponse("config path", map[string]interface{}{
			"path":   path,
			"exists": exists,
		})
		return resp.Print()
	}

	fmt.Println(path)
	if !exists {
		StderrPrint("%s (file does not exist - will be created on first use)\n",
			DimStyle.Render("Note"))
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// configFilePath returns the TOML config path, or "" when the home
// directory cannot be resolved.
func configFilePath() string {
	path, err := config.ConfigPathTOML()
	if err != nil {
		return ""
	}
	return path
}

// unknownConfigKeyError lists the valid keys so the operator never has to
// guess the dot notation.
func unknownConfigKeyError(key string) error {
	return fmt.Errorf("unknown config key: %s\n\nValid keys:\n  %s",
		key, strings.Join(config.GetAllKeys(), "\n  "))
}

// maskSecret masks a secret for display using a SHA-256 fingerprint rather
// than a prefix, so nothing of the secret itself is echoed back.
func maskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	hash := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("sha256:%x...", hash[:4])
}

// isSecretKey reports whether a config key holds a credential.
func isSecretKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, s := range []string{"password", "secret", "token"} {
		if strings.Contains(keyLower, s) {
			return true
		}
	}
	return false
}

// maskIfSecret masks the value if the key is a secret field.
func maskIfSecret(key, value string) string {
	if isSecretKey(key) {
		return maskSecret(value)
	}
	return value
}
