// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// schoolgate.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.schoolgate/config.toml
//   - ~/.schoolgate/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/schoolgate/internal/account"
	"github.com/jeranaias/schoolgate/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete schoolgate configuration.
type Config struct {
	// Version of the configuration schema
	Version string `toml:"version" json:"version"`

	// School identity
	School SchoolConfig `toml:"school" json:"school"`

	// Security thresholds for the account state machine
	Security SecurityConfig `toml:"security" json:"security"`

	// Mail notifier configuration
	Mail MailConfig `toml:"mail" json:"mail"`

	// Audit trail configuration
	Audit AuditConfig `toml:"audit" json:"audit"`

	// Storage configuration
	Storage StorageConfig `toml:"storage" json:"storage"`
}

// SchoolConfig identifies the institution the accounts belong to.
type SchoolConfig struct {
	// Name is the school's full name. Its initials form the prefix of
	// generated usernames ("Outshine School" -> "OS--...").
	Name string `toml:"name" json:"name"`
	// SiteName is the branding used in notification subjects and bodies.
	SiteName string `toml:"site_name" json:"site_name"`
	// UsernamePrefixLength caps how many initials go into the username
	// prefix. Schools with long names set this so handles stay short.
	// 0 keeps every initial.
	UsernamePrefixLength int `toml:"username_prefix_length" json:"username_prefix_length"`
}

// SecurityConfig contains the account security thresholds.
type SecurityConfig struct {
	// OTPTTLSeconds is how long an issued OTP remains valid.
	OTPTTLSeconds int `toml:"otp_ttl_seconds" json:"otp_ttl_seconds"`
	// OTPLength is the number of digits in a delivered code.
	OTPLength int `toml:"otp_length" json:"otp_length"`
	// MaxFailedAttempts is the failed-login count at which an account locks.
	MaxFailedAttempts int `toml:"max_failed_attempts" json:"max_failed_attempts"`
	// LockoutDurationMinutes is how long a lockout lasts before the lazy
	// expiry check clears it.
	LockoutDurationMinutes int `toml:"lockout_duration_minutes" json:"lockout_duration_minutes"`
	// TOTPIssuer is the issuer shown in authenticator apps for staff
	// enrollment. Defaults to the school name.
	TOTPIssuer string `toml:"totp_issuer" json:"totp_issuer"`
	// PBKDF2Iterations is the password hashing work factor for new hashes.
	PBKDF2Iterations int `toml:"pbkdf2_iterations" json:"pbkdf2_iterations"`
	// OTPResendPerMinute caps how many OTP issues a single identity can
	// request per minute (0 = library default).
	OTPResendPerMinute int `toml:"otp_resend_per_minute" json:"otp_resend_per_minute"`
}

// MailConfig configures the SMTP notifier. When disabled, notifications go
// to the audit log only.
type MailConfig struct {
	// Enabled turns on SMTP delivery of OTP and lockout notifications.
	Enabled bool `toml:"enabled" json:"enabled"`
	// FromAddress is the sender for all notifications.
	FromAddress string `toml:"from_address" json:"from_address"`
	// SMTPHost and SMTPPort locate the relay.
	SMTPHost string `toml:"smtp_host" json:"smtp_host"`
	SMTPPort int    `toml:"smtp_port" json:"smtp_port"`
	// SMTPUsername and SMTPPassword authenticate against the relay.
	// The password is redacted from String() output.
	SMTPUsername string `toml:"smtp_username" json:"smtp_username"`
	SMTPPassword string `toml:"smtp_password" json:"smtp_password"`
}

// AuditConfig configures the security audit trail.
type AuditConfig struct {
	// Enabled turns the audit trail on.
	Enabled bool `toml:"enabled" json:"enabled"`
	// LogPath is the audit log location (empty = ~/.schoolgate/audit.log).
	LogPath string `toml:"log_path" json:"log_path"`
	// MaxSizeMB rotates the log once it exceeds this size.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb"`
}

// StorageConfig configures account persistence.
type StorageConfig struct {
	// DatabasePath is the SQLite database location
	// (empty = ~/.schoolgate/accounts.db).
	DatabasePath string `toml:"database_path" json:"database_path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		School: SchoolConfig{
			Name:                 "Outshine School",
			SiteName:             "Outshine School Management",
			UsernamePrefixLength: 0, // keep every initial
		},

		Security: SecurityConfig{
			OTPTTLSeconds:          300, // 5 minute OTP lifetime
			OTPLength:              6,
			MaxFailedAttempts:      3,  // lock after 3 consecutive failures
			LockoutDurationMinutes: 15, // 15 minute lockout
			TOTPIssuer:             "",
			PBKDF2Iterations:       600000,
			OTPResendPerMinute:     3,
		},

		Mail: MailConfig{
			Enabled:     false,
			FromAddress: "no-reply@outshine.edu",
			SMTPHost:    "localhost",
			SMTPPort:    587,
		},

		Audit: AuditConfig{
			Enabled:   true,
			LogPath:   "",
			MaxSizeMB: 10,
		},

		Storage: StorageConfig{
			DatabasePath: "",
		},
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Policy converts the configured thresholds into the state machine's policy.
func (c *Config) Policy() account.Policy {
	return account.Policy{
		OTPTTL:            time.Duration(c.Security.OTPTTLSeconds) * time.Second,
		MaxFailedAttempts: c.Security.MaxFailedAttempts,
		LockoutDuration:   time.Duration(c.Security.LockoutDurationMinutes) * time.Minute,
	}
}

// Issuer returns the TOTP issuer, falling back to the school name.
func (c *Config) Issuer() string {
	if c.Security.TOTPIssuer != "" {
		return c.Security.TOTPIssuer
	}
	return c.School.Name
}

// AuditLogPath resolves the audit log location, applying the default when
// the config leaves it empty.
func (c *Config) AuditLogPath() (string, error) {
	if c.Audit.LogPath != "" {
		return c.Audit.LogPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audit.log"), nil
}

// DatabasePath resolves the SQLite database location, applying the default
// when the config leaves it empty.
func (c *Config) DatabasePath() (string, error) {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "accounts.db"), nil
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the schoolgate configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".schoolgate"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	// The directory holds the account database, the audit trail, and
	// SMTP credentials. Owner-only.
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to protect
// SMTP credentials.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err // File doesn't exist or not accessible
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error

	// Try TOML first
	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
			} else {
				return finalize(cfg)
			}
		}
	}

	// Try JSON as fallback
	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
			} else {
				return finalize(cfg)
			}
		}
	}

	// No file found (or both unreadable): defaults plus env overrides.
	cfg, err = finalize(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// finalize applies the standard post-load pipeline: env overrides,
// migration, defaults, validation.
func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	if err := cfg.Migrate(); err != nil {
		return nil, fmt.Errorf("config migration failed: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	cfg.SetDefaults()
	return nil
}

// LoadJSON loads configuration from a JSON file.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	cfg.SetDefaults()
	return nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Used by the --config flag.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finalize(cfg)
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents a torn config on crash.
func SaveTOML(cfg *Config, path string) error {
	var buf strings.Builder
	buf.WriteString("# schoolgate configuration file\n")
	buf.WriteString("# Generated by schoolgate - edit with care\n")
	buf.WriteString("\n")

	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFileWithDir(path, []byte(buf.String()), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// ==========================================================================
	// School identity
	// ==========================================================================

	if strings.TrimSpace(c.School.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "school.name",
			Message: "school name is required (username prefixes derive from it)",
		})
	}

	if c.School.UsernamePrefixLength < 0 || c.School.UsernamePrefixLength > 8 {
		errs = append(errs, ValidationError{
			Field:   "school.username_prefix_length",
			Message: fmt.Sprintf("must be 0-8 (0 keeps every initial), got %d", c.School.UsernamePrefixLength),
		})
	}

	// ==========================================================================
	// Security thresholds
	// ==========================================================================

	if c.Security.OTPTTLSeconds < 30 || c.Security.OTPTTLSeconds > 3600 {
		errs = append(errs, ValidationError{
			Field:   "security.otp_ttl_seconds",
			Message: fmt.Sprintf("must be 30-3600 seconds, got %d", c.Security.OTPTTLSeconds),
		})
	}

	if c.Security.OTPLength < 4 || c.Security.OTPLength > 10 {
		errs = append(errs, ValidationError{
			Field:   "security.otp_length",
			Message: fmt.Sprintf("must be 4-10 digits, got %d", c.Security.OTPLength),
		})
	}

	if c.Security.MaxFailedAttempts < 1 || c.Security.MaxFailedAttempts > 10 {
		errs = append(errs, ValidationError{
			Field:   "security.max_failed_attempts",
			Message: fmt.Sprintf("must be 1-10 attempts, got %d", c.Security.MaxFailedAttempts),
		})
	}

	if c.Security.LockoutDurationMinutes < 1 || c.Security.LockoutDurationMinutes > 1440 {
		errs = append(errs, ValidationError{
			Field:   "security.lockout_duration_minutes",
			Message: fmt.Sprintf("must be 1-1440 minutes, got %d", c.Security.LockoutDurationMinutes),
		})
	}

	// SECURITY: Refuse work factors below the floor the hash decoder accepts.
	if c.Security.PBKDF2Iterations < 10000 {
		errs = append(errs, ValidationError{
			Field:   "security.pbkdf2_iterations",
			Message: fmt.Sprintf("must be at least 10000, got %d", c.Security.PBKDF2Iterations),
		})
	}

	if c.Security.OTPResendPerMinute < 1 || c.Security.OTPResendPerMinute > 60 {
		errs = append(errs, ValidationError{
			Field:   "security.otp_resend_per_minute",
			Message: fmt.Sprintf("must be 1-60, got %d", c.Security.OTPResendPerMinute),
		})
	}

	// ==========================================================================
	// Mail settings (only when SMTP delivery is enabled)
	// ==========================================================================

	if c.Mail.Enabled {
		if _, err := mail.ParseAddress(c.Mail.FromAddress); err != nil {
			errs = append(errs, ValidationError{
				Field:   "mail.from_address",
				Message: fmt.Sprintf("invalid address %q: %v", c.Mail.FromAddress, err),
			})
		}
		if c.Mail.SMTPHost == "" {
			errs = append(errs, ValidationError{
				Field:   "mail.smtp_host",
				Message: "smtp host is required when mail is enabled",
			})
		}
		if c.Mail.SMTPPort < 1 || c.Mail.SMTPPort > 65535 {
			errs = append(errs, ValidationError{
				Field:   "mail.smtp_port",
				Message: fmt.Sprintf("must be 1-65535, got %d", c.Mail.SMTPPort),
			})
		}
	}

	// ==========================================================================
	// Audit settings
	// ==========================================================================

	if c.Audit.Enabled && c.Audit.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "audit.max_size_mb",
			Message: fmt.Sprintf("must be at least 1 MB, got %d", c.Audit.MaxSizeMB),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// SET DEFAULTS
// =============================================================================

// SetDefaults fills zero values with defaults. Called after decoding a
// partial config file so omitted keys behave as documented.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}

	if c.School.Name == "" {
		c.School.Name = defaults.School.Name
	}
	if c.School.SiteName == "" {
		c.School.SiteName = c.School.Name
	}

	if c.Security.OTPTTLSeconds == 0 {
		c.Security.OTPTTLSeconds = defaults.Security.OTPTTLSeconds
	}
	if c.Security.OTPLength == 0 {
		c.Security.OTPLength = defaults.Security.OTPLength
	}
	if c.Security.MaxFailedAttempts == 0 {
		c.Security.MaxFailedAttempts = defaults.Security.MaxFailedAttempts
	}
	if c.Security.LockoutDurationMinutes == 0 {
		c.Security.LockoutDurationMinutes = defaults.Security.LockoutDurationMinutes
	}
	if c.Security.PBKDF2Iterations == 0 {
		c.Security.PBKDF2Iterations = defaults.Security.PBKDF2Iterations
	}
	if c.Security.OTPResendPerMinute == 0 {
		c.Security.OTPResendPerMinute = defaults.Security.OTPResendPerMinute
	}

	if c.Mail.FromAddress == "" {
		c.Mail.FromAddress = defaults.Mail.FromAddress
	}
	if c.Mail.SMTPHost == "" {
		c.Mail.SMTPHost = defaults.Mail.SMTPHost
	}
	if c.Mail.SMTPPort == 0 {
		c.Mail.SMTPPort = defaults.Mail.SMTPPort
	}

	if c.Audit.MaxSizeMB == 0 {
		c.Audit.MaxSizeMB = defaults.Audit.MaxSizeMB
	}
}

// =============================================================================
// MIGRATION
// =============================================================================

// Migrate handles migration from old configuration formats to new ones.
func (c *Config) Migrate() error {
	// Pre-1.0 configs carried a bare numeric version
	switch c.Version {
	case "0.1", "0.2", "1":
		c.Version = "1.0.0"
	}

	// Early builds stored the lockout window in seconds; anything over a
	// day's worth of minutes is unmistakably a seconds value.
	if c.Security.LockoutDurationMinutes > 1440 && c.Security.LockoutDurationMinutes%60 == 0 {
		c.Security.LockoutDurationMinutes /= 60
	}

	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - SCHOOL_NAME: overrides school.name
//   - SCHOOLGATE_SITE_NAME: overrides school.site_name
//   - SCHOOLGATE_OTP_TTL_SECONDS: overrides security.otp_ttl_seconds
//   - SCHOOLGATE_MAX_FAILED_ATTEMPTS: overrides security.max_failed_attempts
//   - SCHOOLGATE_LOCKOUT_MINUTES: overrides security.lockout_duration_minutes
//   - SCHOOLGATE_DB_PATH: overrides storage.database_path
//   - SCHOOLGATE_FROM_EMAIL: overrides mail.from_address
//   - SCHOOLGATE_SMTP_PASSWORD: overrides mail.smtp_password
//   - SCHOOLGATE_AUDIT: set to "0" or "false" to disable the audit trail
func (c *Config) ApplyEnvOverrides() {
	// SCHOOL_NAME (kept without a prefix: deployments have always
	// configured the school this way)
	if name := os.Getenv("SCHOOL_NAME"); name != "" {
		c.School.Name = name
	}

	if siteName := os.Getenv("SCHOOLGATE_SITE_NAME"); siteName != "" {
		c.School.SiteName = siteName
	}

	if ttl := os.Getenv("SCHOOLGATE_OTP_TTL_SECONDS"); ttl != "" {
		if v, err := strconv.Atoi(ttl); err == nil {
			c.Security.OTPTTLSeconds = v
		}
	}

	if attempts := os.Getenv("SCHOOLGATE_MAX_FAILED_ATTEMPTS"); attempts != "" {
		if v, err := strconv.Atoi(attempts); err == nil {
			c.Security.MaxFailedAttempts = v
		}
	}

	if lockout := os.Getenv("SCHOOLGATE_LOCKOUT_MINUTES"); lockout != "" {
		if v, err := strconv.Atoi(lockout); err == nil {
			c.Security.LockoutDurationMinutes = v
		}
	}

	if dbPath := os.Getenv("SCHOOLGATE_DB_PATH"); dbPath != "" {
		c.Storage.DatabasePath = dbPath
	}

	if from := os.Getenv("SCHOOLGATE_FROM_EMAIL"); from != "" {
		c.Mail.FromAddress = from
	}

	// SECURITY: SMTP credentials belong in the environment, not on disk.
	if password := os.Getenv("SCHOOLGATE_SMTP_PASSWORD"); password != "" {
		c.Mail.SMTPPassword = password
	}

	if audit := os.Getenv("SCHOOLGATE_AUDIT"); audit != "" {
		c.Audit.Enabled = audit != "0" && strings.ToLower(audit) != "false"
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation
// (e.g., "security.max_failed_attempts").
func (c *Config) Get(key string) (interface{}, error) {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return nil, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			return field.Interface(), nil
		}

		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return nil, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return nil, fmt.Errorf("invalid key: %s", key)
}

// Set sets a configuration value using dot notation
// (e.g., "security.lockout_duration_minutes").
func (c *Config) Set(key string, value interface{}) error {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			if !field.CanSet() {
				return fmt.Errorf("cannot set field: %s", key)
			}
			return setFieldValue(field, value)
		}

		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go
// field equivalent. Initialisms used in field names are special-cased.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		switch strings.ToLower(part) {
		case "otp":
			result.WriteString("OTP")
		case "ttl":
			result.WriteString("TTL")
		case "totp":
			result.WriteString("TOTP")
		case "smtp":
			result.WriteString("SMTP")
		case "pbkdf2":
			result.WriteString("PBKDF2")
		case "mb":
			result.WriteString("MB")
		default:
			if len(part) > 0 {
				result.WriteString(strings.ToUpper(string(part[0])))
				result.WriteString(strings.ToLower(part[1:]))
			}
		}
	}

	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type
// conversion. String inputs (the CLI path) convert to the field's kind.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal := strVal == "1" || strings.ToLower(strVal) == "true" || strings.ToLower(strVal) == "yes"
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"school.name",
		"school.site_name",
		"school.username_prefix_length",
		"security.otp_ttl_seconds",
		"security.otp_length",
		"security.max_failed_attempts",
		"security.lockout_duration_minutes",
		"security.totp_issuer",
		"security.pbkdf2_iterations",
		"security.otp_resend_per_minute",
		"mail.enabled",
		"mail.from_address",
		"mail.smtp_host",
		"mail.smtp_port",
		"mail.smtp_username",
		"mail.smtp_password",
		"audit.enabled",
		"audit.log_path",
		"audit.max_size_mb",
		"storage.database_path",
	}
}

// =============================================================================
// MERGE / CLONE / STRING
// =============================================================================

// Merge merges another config into this one, overwriting only non-zero
// values.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Version != "" {
		c.Version = other.Version
	}

	if other.School.Name != "" {
		c.School.Name = other.School.Name
	}
	if other.School.SiteName != "" {
		c.School.SiteName = other.School.SiteName
	}
	if other.School.UsernamePrefixLength != 0 {
		c.School.UsernamePrefixLength = other.School.UsernamePrefixLength
	}

	if other.Security.OTPTTLSeconds != 0 {
		c.Security.OTPTTLSeconds = other.Security.OTPTTLSeconds
	}
	if other.Security.OTPLength != 0 {
		c.Security.OTPLength = other.Security.OTPLength
	}
	if other.Security.MaxFailedAttempts != 0 {
		c.Security.MaxFailedAttempts = other.Security.MaxFailedAttempts
	}
	if other.Security.LockoutDurationMinutes != 0 {
		c.Security.LockoutDurationMinutes = other.Security.LockoutDurationMinutes
	}
	if other.Security.TOTPIssuer != "" {
		c.Security.TOTPIssuer = other.Security.TOTPIssuer
	}
	if other.Security.PBKDF2Iterations != 0 {
		c.Security.PBKDF2Iterations = other.Security.PBKDF2Iterations
	}
	if other.Security.OTPResendPerMinute != 0 {
		c.Security.OTPResendPerMinute = other.Security.OTPResendPerMinute
	}

	if other.Mail.Enabled {
		c.Mail.Enabled = true
	}
	if other.Mail.FromAddress != "" {
		c.Mail.FromAddress = other.Mail.FromAddress
	}
	if other.Mail.SMTPHost != "" {
		c.Mail.SMTPHost = other.Mail.SMTPHost
	}
	if other.Mail.SMTPPort != 0 {
		c.Mail.SMTPPort = other.Mail.SMTPPort
	}
	if other.Mail.SMTPUsername != "" {
		c.Mail.SMTPUsername = other.Mail.SMTPUsername
	}
	if other.Mail.SMTPPassword != "" {
		c.Mail.SMTPPassword = other.Mail.SMTPPassword
	}

	if other.Audit.Enabled {
		c.Audit.Enabled = true
	}
	if other.Audit.LogPath != "" {
		c.Audit.LogPath = other.Audit.LogPath
	}
	if other.Audit.MaxSizeMB != 0 {
		c.Audit.MaxSizeMB = other.Audit.MaxSizeMB
	}

	if other.Storage.DatabasePath != "" {
		c.Storage.DatabasePath = other.Storage.DatabasePath
	}
}

// Clone creates a copy of the configuration. The struct holds only value
// types, so an assignment copy is a full copy.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a string representation of the config for debugging.
// SECURITY: Redacts the SMTP password so dumps of the effective config
// never leak relay credentials into logs or terminal scrollback.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Mail.SMTPPassword != "" {
		safe.Mail.SMTPPassword = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			// Log but don't fail - use defaults
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			// A SetGlobal that raced the first load wins
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
// This should only be used in tests to reset state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
