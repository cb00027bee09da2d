// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestConfig_ConcurrentAccess tests that Global(), SetGlobal(), and ReloadGlobal()
// can be safely called concurrently without race conditions.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	// Reset state before test
	ResetGlobalForTesting()

	var wg sync.WaitGroup

	// 50 writers using SetGlobal, 50 readers using Global
	for i := 0; i < 50; i++ {
		wg.Add(2)

		// Writer goroutine
		go func(id int) {
			defer wg.Done()
			c := &Config{
				Version: "test",
				School: SchoolConfig{
					Name: "Test School",
				},
			}
			SetGlobal(c)
		}(i)

		// Reader goroutine
		go func(id int) {
			defer wg.Done()
			cfg := Global()
			if cfg == nil {
				t.Error("Global() returned nil")
			}
		}(i)
	}

	wg.Wait()
}

// TestConfig_ConcurrentReload tests concurrent ReloadGlobal and Global calls.
func TestConfig_ConcurrentReload(t *testing.T) {
	// Reset state before test
	ResetGlobalForTesting()

	// Initialize config first
	_ = Global()

	var wg sync.WaitGroup

	// 20 reloaders, 80 readers
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// ReloadGlobal may fail if config file doesn't exist, that's ok
			_ = ReloadGlobal()
		}()
	}

	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg := Global()
			if cfg == nil {
				t.Error("Global() returned nil")
			}
		}()
	}

	wg.Wait()
}

// TestConfig_GlobalInitialization tests that Global() properly initializes
// the config on first access.
func TestConfig_GlobalInitialization(t *testing.T) {
	// Reset state before test
	ResetGlobalForTesting()

	cfg := Global()
	if cfg == nil {
		t.Fatal("Global() returned nil")
	}

	// Verify defaults are applied
	if cfg.Version == "" {
		t.Error("Config version should not be empty")
	}
	if cfg.Security.MaxFailedAttempts == 0 {
		t.Error("Max failed attempts should not be zero")
	}
}

// TestConfig_SetGlobalOverwrites tests that SetGlobal properly overwrites
// the existing global config.
func TestConfig_SetGlobalOverwrites(t *testing.T) {
	// Reset state before test
	ResetGlobalForTesting()

	// Initialize with defaults
	_ = Global()

	// Set custom config
	customCfg := &Config{
		Version: "custom-version",
		School: SchoolConfig{
			Name: "Custom Academy",
		},
	}
	SetGlobal(customCfg)

	// Verify the custom config is returned
	result := Global()
	if result.Version != "custom-version" {
		t.Errorf("Expected version 'custom-version', got '%s'", result.Version)
	}
	if result.School.Name != "Custom Academy" {
		t.Errorf("Expected school 'Custom Academy', got '%s'", result.School.Name)
	}
}

// TestConfig_ConcurrentMixedOperations tests a mix of all global operations
// happening concurrently.
func TestConfig_ConcurrentMixedOperations(t *testing.T) {
	// Reset state before test
	ResetGlobalForTesting()

	var wg sync.WaitGroup

	// Mix of operations: Global, SetGlobal, ReloadGlobal
	for i := 0; i < 100; i++ {
		wg.Add(1)
		switch i % 3 {
		case 0:
			// Reader
			go func() {
				defer wg.Done()
				cfg := Global()
				if cfg == nil {
					t.Error("Global() returned nil")
				}
			}()
		case 1:
			// SetGlobal writer
			go func() {
				defer wg.Done()
				c := Default()
				c.Version = "concurrent-test"
				SetGlobal(c)
			}()
		case 2:
			// ReloadGlobal
			go func() {
				defer wg.Done()
				_ = ReloadGlobal()
			}()
		}
	}

	wg.Wait()
}

// TestConfig_Default tests that Default() returns a valid config with defaults.
func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Version == "" {
		t.Error("Default config should have a version")
	}

	if cfg.School.Name == "" {
		t.Error("Default config should have a school name")
	}

	if cfg.Security.OTPTTLSeconds != 300 {
		t.Errorf("Expected default OTP TTL of 300s, got %d", cfg.Security.OTPTTLSeconds)
	}

	if cfg.Security.MaxFailedAttempts != 3 {
		t.Errorf("Expected default max failed attempts of 3, got %d", cfg.Security.MaxFailedAttempts)
	}

	if cfg.Security.LockoutDurationMinutes != 15 {
		t.Errorf("Expected default lockout of 15 minutes, got %d", cfg.Security.LockoutDurationMinutes)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got: %v", err)
	}
}

// TestConfig_Policy tests that configured thresholds convert to the state
// machine policy.
func TestConfig_Policy(t *testing.T) {
	cfg := Default()
	cfg.Security.OTPTTLSeconds = 120
	cfg.Security.MaxFailedAttempts = 5
	cfg.Security.LockoutDurationMinutes = 30

	p := cfg.Policy()

	if p.OTPTTL != 2*time.Minute {
		t.Errorf("Policy OTP TTL = %v, want 2m", p.OTPTTL)
	}
	if p.MaxFailedAttempts != 5 {
		t.Errorf("Policy max failed attempts = %d, want 5", p.MaxFailedAttempts)
	}
	if p.LockoutDuration != 30*time.Minute {
		t.Errorf("Policy lockout duration = %v, want 30m", p.LockoutDuration)
	}

	if err := p.Validate(); err != nil {
		t.Errorf("Policy from valid config should validate, got: %v", err)
	}
}

// TestConfig_Issuer tests TOTP issuer fallback to the school name.
func TestConfig_Issuer(t *testing.T) {
	cfg := Default()
	cfg.School.Name = "Greenhill Academy"

	if got := cfg.Issuer(); got != "Greenhill Academy" {
		t.Errorf("Issuer() = %q, want school name fallback", got)
	}

	cfg.Security.TOTPIssuer = "Greenhill Logins"
	if got := cfg.Issuer(); got != "Greenhill Logins" {
		t.Errorf("Issuer() = %q, want explicit issuer", got)
	}
}

// TestConfig_Validate tests configuration validation.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "valid default config",
			config:  Default(),
			wantErr: false,
		},
		{
			name: "blank school name",
			config: func() *Config {
				c := Default()
				c.School.Name = "   "
				return c
			}(),
			wantErr: true,
		},
		{
			name: "username prefix cap in range",
			config: func() *Config {
				c := Default()
				c.School.UsernamePrefixLength = 2
				return c
			}(),
			wantErr: false,
		},
		{
			name: "negative username prefix cap",
			config: func() *Config {
				c := Default()
				c.School.UsernamePrefixLength = -1
				return c
			}(),
			wantErr: true,
		},
		{
			name: "otp ttl below minimum",
			config: func() *Config {
				c := Default()
				c.Security.OTPTTLSeconds = 29
				return c
			}(),
			wantErr: true,
		},
		{
			name: "otp ttl at minimum (30)",
			config: func() *Config {
				c := Default()
				c.Security.OTPTTLSeconds = 30
				return c
			}(),
			wantErr: false,
		},
		{
			name: "otp ttl above maximum",
			config: func() *Config {
				c := Default()
				c.Security.OTPTTLSeconds = 3601
				return c
			}(),
			wantErr: true,
		},
		{
			name: "otp length too short",
			config: func() *Config {
				c := Default()
				c.Security.OTPLength = 3
				return c
			}(),
			wantErr: true,
		},
		{
			name: "zero max failed attempts",
			config: func() *Config {
				c := Default()
				c.Security.MaxFailedAttempts = 0
				return c
			}(),
			wantErr: true,
		},
		{
			name: "max failed attempts above maximum",
			config: func() *Config {
				c := Default()
				c.Security.MaxFailedAttempts = 11
				return c
			}(),
			wantErr: true,
		},
		{
			name: "lockout at maximum (1440)",
			config: func() *Config {
				c := Default()
				c.Security.LockoutDurationMinutes = 1440
				return c
			}(),
			wantErr: false,
		},
		{
			name: "lockout above maximum",
			config: func() *Config {
				c := Default()
				c.Security.LockoutDurationMinutes = 1441
				return c
			}(),
			wantErr: true,
		},
		{
			name: "pbkdf2 iterations below floor",
			config: func() *Config {
				c := Default()
				c.Security.PBKDF2Iterations = 9999
				return c
			}(),
			wantErr: true,
		},
		{
			name: "mail enabled with valid settings",
			config: func() *Config {
				c := Default()
				c.Mail.Enabled = true
				return c
			}(),
			wantErr: false,
		},
		{
			name: "mail enabled with invalid from address",
			config: func() *Config {
				c := Default()
				c.Mail.Enabled = true
				c.Mail.FromAddress = "not an address"
				return c
			}(),
			wantErr: true,
		},
		{
			name: "mail enabled with invalid port",
			config: func() *Config {
				c := Default()
				c.Mail.Enabled = true
				c.Mail.SMTPPort = 70000
				return c
			}(),
			wantErr: true,
		},
		{
			name: "mail disabled skips mail checks",
			config: func() *Config {
				c := Default()
				c.Mail.Enabled = false
				c.Mail.FromAddress = "not an address"
				return c
			}(),
			wantErr: false,
		},
		{
			name: "audit enabled with zero max size",
			config: func() *Config {
				c := Default()
				c.Audit.MaxSizeMB = 0
				return c
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestConfig_SetDefaults tests that zero values are filled in after loading
// a partial config file.
func TestConfig_SetDefaults(t *testing.T) {
	cfg := &Config{
		School: SchoolConfig{
			Name: "St. Mary",
		},
	}

	cfg.SetDefaults()

	if cfg.Version == "" {
		t.Error("SetDefaults should fill the version")
	}
	if cfg.School.SiteName != "St. Mary" {
		t.Errorf("Site name should fall back to school name, got %q", cfg.School.SiteName)
	}
	if cfg.Security.OTPTTLSeconds != 300 {
		t.Errorf("OTP TTL should default to 300, got %d", cfg.Security.OTPTTLSeconds)
	}
	if cfg.Security.PBKDF2Iterations == 0 {
		t.Error("SetDefaults should fill the PBKDF2 work factor")
	}
	if cfg.Mail.SMTPPort != 587 {
		t.Errorf("SMTP port should default to 587, got %d", cfg.Mail.SMTPPort)
	}
}

// TestConfig_Migrate tests migration of old configuration formats.
func TestConfig_Migrate(t *testing.T) {
	cfg := Default()
	cfg.Version = "0.2"
	cfg.Security.LockoutDurationMinutes = 1800 // stored as seconds by old builds

	if err := cfg.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if cfg.Version != "1.0.0" {
		t.Errorf("Version should migrate to 1.0.0, got %q", cfg.Version)
	}
	if cfg.Security.LockoutDurationMinutes != 30 {
		t.Errorf("Seconds-valued lockout should convert to minutes, got %d", cfg.Security.LockoutDurationMinutes)
	}
}

// TestConfig_ApplyEnvOverrides tests environment variable overrides.
func TestConfig_ApplyEnvOverrides(t *testing.T) {
	t.Setenv("SCHOOL_NAME", "Envvar High")
	t.Setenv("SCHOOLGATE_MAX_FAILED_ATTEMPTS", "5")
	t.Setenv("SCHOOLGATE_LOCKOUT_MINUTES", "45")
	t.Setenv("SCHOOLGATE_SMTP_PASSWORD", "hunter2")
	t.Setenv("SCHOOLGATE_AUDIT", "false")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.School.Name != "Envvar High" {
		t.Errorf("SCHOOL_NAME override not applied, got %q", cfg.School.Name)
	}
	if cfg.Security.MaxFailedAttempts != 5 {
		t.Errorf("Max failed attempts override not applied, got %d", cfg.Security.MaxFailedAttempts)
	}
	if cfg.Security.LockoutDurationMinutes != 45 {
		t.Errorf("Lockout override not applied, got %d", cfg.Security.LockoutDurationMinutes)
	}
	if cfg.Mail.SMTPPassword != "hunter2" {
		t.Error("SMTP password override not applied")
	}
	if cfg.Audit.Enabled {
		t.Error("SCHOOLGATE_AUDIT=false should disable the audit trail")
	}
}

// TestConfig_SaveLoadRoundTrip tests that a saved config loads back with the
// same values.
func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Security.OTPLength = 8
	cfg.Security.PBKDF2Iterations = 150000
	cfg.Mail.SMTPHost = "smtp.example.edu"

	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML() error = %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if loaded.Security.OTPLength != 8 {
		t.Errorf("OTP length = %d after round trip, want 8", loaded.Security.OTPLength)
	}
	if loaded.Security.PBKDF2Iterations != 150000 {
		t.Errorf("PBKDF2 iterations = %d after round trip, want 150000", loaded.Security.PBKDF2Iterations)
	}
	if loaded.Mail.SMTPHost != "smtp.example.edu" {
		t.Errorf("SMTP host = %q after round trip", loaded.Mail.SMTPHost)
	}
}

// TestConfig_GetSet tests Get and Set methods with dot notation.
func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	// Test Get
	val, err := cfg.Get("security.max_failed_attempts")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if val != 3 {
		t.Errorf("Get('security.max_failed_attempts') = %v, want 3", val)
	}

	// Test Set with string conversion (the CLI path)
	err = cfg.Set("security.lockout_duration_minutes", "25")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	val, _ = cfg.Get("security.lockout_duration_minutes")
	if val != 25 {
		t.Errorf("Get('security.lockout_duration_minutes') after Set = %v, want 25", val)
	}

	// Test Set on a bool field
	err = cfg.Set("mail.enabled", "true")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !cfg.Mail.Enabled {
		t.Error("Set('mail.enabled', 'true') should enable mail")
	}

	// Test Get with invalid key
	_, err = cfg.Get("invalid.key")
	if err == nil {
		t.Error("Get() with invalid key should return error")
	}
}

// TestConfig_GetAllKeys tests that every advertised key resolves via Get.
func TestConfig_GetAllKeys(t *testing.T) {
	cfg := Default()

	for _, key := range GetAllKeys() {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("Get(%q) error = %v", key, err)
		}
	}
}

// TestConfig_Clone tests that Clone creates an independent copy.
func TestConfig_Clone(t *testing.T) {
	original := Default()
	original.Version = "original"

	clone := original.Clone()

	// Modify clone
	clone.Version = "cloned"

	// Verify original unchanged
	if original.Version != "original" {
		t.Error("Clone should create an independent copy")
	}
	if clone.Version != "cloned" {
		t.Error("Clone version should be modified")
	}
}

// TestConfig_Merge tests merging two configs.
func TestConfig_Merge(t *testing.T) {
	base := Default()
	base.Version = "base"

	other := &Config{
		Version: "merged",
		School: SchoolConfig{
			Name: "Merged School",
		},
	}

	base.Merge(other)

	if base.Version != "merged" {
		t.Errorf("Merge should overwrite Version, got '%s'", base.Version)
	}
	if base.School.Name != "Merged School" {
		t.Errorf("Merge should overwrite school name, got '%s'", base.School.Name)
	}
	// Verify non-overwritten values remain
	if base.Security.MaxFailedAttempts != 3 {
		t.Error("Merge should not overwrite unset fields")
	}
}

// TestConfig_StringRedactsSecrets tests that String() never exposes the
// SMTP password.
func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Mail.SMTPPassword = "relay-secret"

	out := cfg.String()

	if strings.Contains(out, "relay-secret") {
		t.Error("String() should redact the SMTP password")
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Error("String() should mark the redacted password")
	}
	// Redaction must not mutate the live config
	if cfg.Mail.SMTPPassword != "relay-secret" {
		t.Error("String() should not modify the config")
	}
}
