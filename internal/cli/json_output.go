// json_output.go - JSON output support for scripting and SIS integration.
//
// Provides a standardized JSON output format for all CLI commands so
// shell scripts and school information systems can consume results
// without scraping styled terminal output.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// JSONResponse is the standardized response format for all CLI commands.
type JSONResponse struct {
	// Success indicates whether the command completed successfully
	Success bool `json:"success"`

	// Data contains the command-specific response data
	Data interface{} `json:"data"`

	// Error contains the error message if Success is false, null otherwise
	Error *string `json:"error"`

	// Timestamp is the ISO8601 timestamp when the response was generated
	Timestamp string `json:"timestamp"`

	// Command is the command that was executed (for audit trail)
	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Error:     nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a new error JSON response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	errStr := err.Error()
	return &JSONResponse{
		Success:   false,
		Data:      nil,
		Error:     &errStr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Print outputs the JSON response to stdout.
// Human-readable messages should go to stderr when JSON mode is enabled.
func (r *JSONResponse) Print() error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// PrintCompact outputs the JSON response without indentation.
// Useful for piping to other tools or log aggregation.
func (r *JSONResponse) PrintCompact() error {
	return json.NewEncoder(os.Stdout).Encode(r)
}

// String returns the JSON response as a string.
func (r *JSONResponse) String() string {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"failed to marshal response: %s","timestamp":"%s"}`,
			err.Error(), time.Now().UTC().Format(time.RFC3339))
	}
	return string(data)
}

// OutputJSON is a helper function that outputs either JSON or runs a normal handler.
// If jsonMode is true, it outputs JSON and handles errors. Otherwise it runs the handler.
func OutputJSON(jsonMode bool, command string, handler func() (interface{}, error)) error {
	if !jsonMode {
		_, err := handler()
		return err
	}

	data, err := handler()
	if err != nil {
		resp := NewJSONErrorResponse(command, err)
		resp.Print()
		return err
	}

	resp := NewJSONResponse(command, data)
	return resp.Print()
}

// StderrPrint prints a message to stderr (for human-readable output in JSON mode).
func StderrPrint(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
}

// StderrPrintln prints a line to stderr (for human-readable output in JSON mode).
func StderrPrintln(msg string) {
	fmt.Fprintln(os.Stderr, msg)
}

// =============================================================================
// COMMAND-SPECIFIC DATA STRUCTURES
// =============================================================================
// Read models that already carry JSON tags (guard.Status, guard.LockoutEntry,
// guard.Stats, audit.Event) are embedded as-is; the structs below exist where
// the internal type would leak secrets (password hashes, SMTP credentials).

// VersionData represents the data returned by the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// AccountData is the redacted view of an account used by account show/list.
// Never include hash or OTP fields here.
type AccountData struct {
	Email           string `json:"email"`
	Username        string `json:"username"`
	FullName        string `json:"full_name"`
	Role            string `json:"role"`
	Status          string `json:"status"`
	FailedAttempts  int    `json:"failed_attempts"`
	LastFailedLogin string `json:"last_failed_login,omitempty"`
	PendingOTP      bool   `json:"pending_otp"`
	TOTPEnrolled    bool   `json:"totp_enrolled"`
	CreatedAt       string `json:"created_at"`
}

// AccountListData represents the data returned by the account list command.
type AccountListData struct {
	Accounts []AccountData `json:"accounts"`
	Total    int           `json:"total"`
}

// ConfigData represents the data returned by the config show command.
type ConfigData struct {
	School   ConfigSchoolInfo   `json:"school"`
	Security ConfigSecurityInfo `json:"security"`
	Mail     ConfigMailInfo     `json:"mail"`
	Audit    ConfigAuditInfo    `json:"audit"`
	Storage  ConfigStorageInfo  `json:"storage"`
	Path     string             `json:"config_path"`
}

// ConfigSchoolInfo contains school identity settings.
type ConfigSchoolInfo struct {
	Name                 string `json:"name"`
	SiteName             string `json:"site_name"`
	UsernamePrefixLength int    `json:"username_prefix_length,omitempty"`
}

// ConfigSecurityInfo contains the lockout and OTP policy settings.
type ConfigSecurityInfo struct {
	OTPTTLSeconds          int    `json:"otp_ttl_seconds"`
	OTPLength              int    `json:"otp_length"`
	MaxFailedAttempts      int    `json:"max_failed_attempts"`
	LockoutDurationMinutes int    `json:"lockout_duration_minutes"`
	TOTPIssuer             string `json:"totp_issuer,omitempty"`
	PBKDF2Iterations       int    `json:"pbkdf2_iterations"`
	OTPResendPerMinute     int    `json:"otp_resend_per_minute"`
}

// ConfigMailInfo contains mail delivery settings (password masked).
type ConfigMailInfo struct {
	Enabled         bool   `json:"enabled"`
	FromAddress     string `json:"from_address"`
	SMTPHost        string `json:"smtp_host"`
	SMTPPort        int    `json:"smtp_port"`
	SMTPUsername    string `json:"smtp_username,omitempty"`
	SMTPPasswordSet bool   `json:"smtp_password_configured"`
}

// ConfigAuditInfo contains audit trail settings.
type ConfigAuditInfo struct {
	Enabled   bool   `json:"enabled"`
	LogPath   string `json:"log_path"`
	MaxSizeMB int    `json:"max_size_mb"`
}

// ConfigStorageInfo contains storage settings.
type ConfigStorageInfo struct {
	DatabasePath string `json:"database_path"`
}
