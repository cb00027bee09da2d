// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit provides append-only audit logging for account security
// events, with secret redaction and identity masking.
//
// Events are written as JSON lines to a log file under the state directory.
// Writes are asynchronous: a saturated logger drops events (and counts the
// drops) rather than block a login path on disk I/O.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultMaxFileSize is the default max file size before rotation (10MB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// queueSize is the async writer's buffer. Beyond this, events are dropped.
const queueSize = 256

// =============================================================================
// AUDIT EVENT
// =============================================================================

// Event represents a single audit log entry.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Actor     string            `json:"actor,omitempty"` // Masked identity
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ToJSON formats the event as a single JSON line.
func (e *Event) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ToLogLine formats the event for human reading (the audit CLI command).
func (e *Event) ToLogLine() string {
	timestamp := e.Timestamp.Format("2006-01-02 15:04:05")

	status := "SUCCESS"
	if !e.Success {
		if e.Error != "" {
			status = fmt.Sprintf("ERROR: %s", e.Error)
		} else {
			status = "FAILURE"
		}
	}

	meta := ""
	if len(e.Metadata) > 0 {
		pairs := make([]string, 0, len(e.Metadata))
		for k, v := range e.Metadata {
			pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
		}
		meta = strings.Join(pairs, " ")
	}

	return fmt.Sprintf("%s | %-18s | %s | %s | %s",
		timestamp, e.EventType, e.Actor, meta, status)
}

// =============================================================================
// REDACTOR INTERFACE
// =============================================================================

// Redactor defines the interface for secret redaction.
type Redactor interface {
	// Redact replaces sensitive data in the input string.
	Redact(input string) string
	// Name returns the name of this redactor.
	Name() string
}

// PatternRedactor redacts text matching a regex pattern.
type PatternRedactor struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

// NewPatternRedactor creates a new pattern-based redactor.
func NewPatternRedactor(name string, pattern *regexp.Regexp, replace string) *PatternRedactor {
	return &PatternRedactor{
		name:    name,
		pattern: pattern,
		replace: replace,
	}
}

// Redact replaces matches with the replacement string.
func (r *PatternRedactor) Redact(input string) string {
	return r.pattern.ReplaceAllString(input, r.replace)
}

// Name returns the redactor name.
func (r *PatternRedactor) Name() string {
	return r.name
}

// =============================================================================
// BUILT-IN SECRET PATTERNS
// =============================================================================

// secretPatterns covers the secrets an account-security trail could leak:
// passwords, login codes, TOTP seeds, stored hashes, and bearer tokens.
var secretPatterns = []struct {
	name    string
	pattern *regexp.Regexp
	replace string
}{
	{"Password", regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*\S+`), "[PASSWORD_REDACTED]"},
	{"OTP", regexp.MustCompile(`(?i)\b(otp|code)\s*[=:]\s*[0-9]{4,10}\b`), "[OTP_REDACTED]"},
	{"TOTPSecret", regexp.MustCompile(`\b[A-Z2-7]{32}\b`), "[TOTP_SECRET_REDACTED]"},
	{"PBKDF2", regexp.MustCompile(`pbkdf2_sha256\$[0-9]+\$[^\s$]+\$[A-Za-z0-9+/=]+`), "[HASH_REDACTED]"},
	{"Bearer", regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-_.]+`), "Bearer [TOKEN_REDACTED]"},
	{"JWT", regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), "[JWT_REDACTED]"},
}

// defaultRedactors returns the default set of secret redactors.
func defaultRedactors() []Redactor {
	redactors := make([]Redactor, 0, len(secretPatterns))
	for _, sp := range secretPatterns {
		redactors = append(redactors, NewPatternRedactor(sp.name, sp.pattern, sp.replace))
	}
	return redactors
}

// RedactSecrets applies the default redaction patterns to the input string.
// This can be used without a Logger instance.
func RedactSecrets(input string) string {
	result := input
	for _, sp := range secretPatterns {
		result = sp.pattern.ReplaceAllString(result, sp.replace)
	}
	return result
}

// =============================================================================
// IDENTITY MASKING
// =============================================================================

// MaskIdentity masks an identity (email, username) for logging using a
// SHA256 hash prefix. Consistent across events, not reversible.
func MaskIdentity(id string) string {
	hash := sha256.Sum256([]byte(id))
	return "hash:" + hex.EncodeToString(hash[:])[:12]
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

// Logger provides thread-safe asynchronous audit logging with secret
// redaction and size-based rotation.
type Logger struct {
	path      string
	file      *os.File
	mu        sync.Mutex // guards file, enabled, redactors
	enabled   bool
	maxSize   int64
	redactors []Redactor

	// lifeMu orders channel sends against Close: senders hold the read
	// side, Close takes the write side before closing the channel.
	lifeMu sync.RWMutex
	closed bool

	ch      chan message
	done    chan struct{}
	dropped uint64 // atomic
	failed  uint64 // atomic: write/rotation failures
}

// message is a queue entry: a loggable event, or a flush request carrying
// an ack channel.
type message struct {
	event *Event
	ack   chan struct{}
}

// NewLogger creates an audit logger at the specified path. An empty path
// uses the default location.
func NewLogger(path string) (*Logger, error) {
	if path == "" {
		path = DefaultPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	l := &Logger{
		path:      path,
		file:      file,
		enabled:   true,
		maxSize:   DefaultMaxFileSize,
		redactors: defaultRedactors(),
		ch:        make(chan message, queueSize),
		done:      make(chan struct{}),
	}

	go l.writeLoop()

	return l, nil
}

// DefaultPath returns the default audit log path (~/.schoolgate/audit.log).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".schoolgate", "audit.log")
}

// =============================================================================
// LOGGING
// =============================================================================

// Log queues an audit event. Never blocks: when the queue is saturated the
// event is dropped and the drop counter incremented.
func (l *Logger) Log(event Event) {
	l.mu.Lock()
	if !l.enabled {
		l.mu.Unlock()
		return
	}

	// Redact before the event leaves the caller's control
	if event.Error != "" {
		event.Error = l.redactLocked(event.Error)
	}
	for k, v := range event.Metadata {
		event.Metadata[k] = l.redactLocked(v)
	}
	l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.lifeMu.RLock()
	defer l.lifeMu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.ch <- message{event: &event}:
	default:
		atomic.AddUint64(&l.dropped, 1)
	}
}

// LogEvent logs a generic event for the given (unmasked) identity.
func (l *Logger) LogEvent(identity, eventType string, metadata map[string]string) {
	l.Log(Event{
		Timestamp: time.Now(),
		EventType: eventType,
		Actor:     MaskIdentity(identity),
		Success:   true,
		Metadata:  metadata,
	})
}

// LogFailure logs a failed operation for the given (unmasked) identity.
func (l *Logger) LogFailure(identity, eventType, errMsg string, metadata map[string]string) {
	l.Log(Event{
		Timestamp: time.Now(),
		EventType: eventType,
		Actor:     MaskIdentity(identity),
		Success:   false,
		Error:     errMsg,
		Metadata:  metadata,
	})
}

// writeLoop is the single writer goroutine. It owns all file writes.
func (l *Logger) writeLoop() {
	defer close(l.done)

	for msg := range l.ch {
		if msg.ack != nil {
			l.syncFile()
			close(msg.ack)
			continue
		}
		l.writeEvent(msg.event)
	}

	l.syncFile()
}

// writeEvent writes one event, rotating first when the file has grown past
// the size limit.
func (l *Logger) writeEvent(e *Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}

	if err := l.checkRotationLocked(); err != nil {
		l.noteFailure(fmt.Errorf("audit rotation failed: %w", err))
	}

	line, err := e.ToJSON()
	if err != nil {
		l.noteFailure(fmt.Errorf("failed to encode audit event: %w", err))
		return
	}

	if _, err := fmt.Fprintln(l.file, line); err != nil {
		l.noteFailure(fmt.Errorf("failed to write audit log: %w", err))
	}
}

// noteFailure counts a failure and alerts via stderr. The audit trail is
// best-effort: a broken disk must not take logins down with it.
func (l *Logger) noteFailure(err error) {
	n := atomic.AddUint64(&l.failed, 1)
	fmt.Fprintf(os.Stderr, "[AUDIT FAILURE #%d] %v\n", n, err)
}

// syncFile flushes the log file to disk.
func (l *Logger) syncFile() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_ = l.file.Sync()
	}
}

// Flush blocks until every previously queued event has been written and
// synced. Used by tests and by shutdown paths.
func (l *Logger) Flush() {
	l.lifeMu.RLock()
	if l.closed {
		l.lifeMu.RUnlock()
		return
	}
	ack := make(chan struct{})
	l.ch <- message{ack: ack}
	l.lifeMu.RUnlock()

	<-ack
}

// Dropped returns the number of events dropped due to queue saturation.
func (l *Logger) Dropped() uint64 {
	return atomic.LoadUint64(&l.dropped)
}

// Failures returns the number of write or rotation failures.
func (l *Logger) Failures() uint64 {
	return atomic.LoadUint64(&l.failed)
}

// =============================================================================
// REDACTION
// =============================================================================

// Redact applies all redactors to sanitize the input string.
func (l *Logger) Redact(input string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.redactLocked(input)
}

// redactLocked applies redaction without locking (caller must hold lock).
func (l *Logger) redactLocked(input string) string {
	result := input
	for _, redactor := range l.redactors {
		result = redactor.Redact(result)
	}
	return result
}

// AddRedactor adds a custom redactor.
func (l *Logger) AddRedactor(r Redactor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.redactors = append(l.redactors, r)
}

// =============================================================================
// FILE ROTATION
// =============================================================================

// checkRotationLocked rotates when the file has grown past the size limit.
func (l *Logger) checkRotationLocked() error {
	if l.maxSize <= 0 {
		return nil
	}

	info, err := l.file.Stat()
	if err != nil {
		return nil // Ignore stat errors
	}
	if info.Size() < l.maxSize {
		return nil
	}

	return l.rotateLocked()
}

// rotateLocked renames the current file with a timestamp suffix and opens
// a fresh one.
func (l *Logger) rotateLocked() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log for rotation: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	ext := filepath.Ext(l.path)
	base := strings.TrimSuffix(l.path, ext)
	rotatedPath := fmt.Sprintf("%s_%s%s", base, timestamp, ext)

	if err := os.Rename(l.path, rotatedPath); err != nil {
		// Try to reopen the original file if rename fails
		l.file, _ = os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create new audit log after rotation: %w", err)
	}
	l.file = file

	return nil
}

// SetMaxSize sets the maximum file size before rotation.
func (l *Logger) SetMaxSize(size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxSize = size
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// SetEnabled enables or disables logging.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// IsEnabled returns whether logging is enabled.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Path returns the audit log file path.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// =============================================================================
// CLEANUP
// =============================================================================

// Close drains the queue, syncs, and closes the log file.
func (l *Logger) Close() error {
	l.lifeMu.Lock()
	if l.closed {
		l.lifeMu.Unlock()
		return nil
	}
	l.closed = true
	close(l.ch)
	l.lifeMu.Unlock()

	<-l.done

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// =============================================================================
// LOG READING
// =============================================================================

// Tail returns the last n events from the log file at path. Lines that do
// not parse (e.g. from interrupted writes) are skipped.
func Tail(path string, n int) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// =============================================================================
// GLOBAL AUDIT LOGGER
// =============================================================================

var (
	globalLogger     *Logger
	globalLoggerOnce sync.Once
	globalLoggerMu   sync.Mutex
)

// Global returns the global audit logger instance, lazily initialized at
// the default path. Initialization failure yields a disabled logger and a
// stderr notice; account operations proceed without an audit trail rather
// than fail closed.
func Global() *Logger {
	globalLoggerOnce.Do(func() {
		globalLoggerMu.Lock()
		initialized := globalLogger != nil
		globalLoggerMu.Unlock()
		if initialized {
			return // Init published first
		}

		logger, err := NewLogger("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: audit logger initialization failed: %v\n", err)
			logger = &Logger{enabled: false, closed: true}
		}

		globalLoggerMu.Lock()
		if globalLogger == nil {
			globalLogger = logger
			logger = nil
		}
		globalLoggerMu.Unlock()
		if logger != nil {
			logger.Close() // Init published while we were opening
		}
	})

	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	return globalLogger
}

// Init initializes the global audit logger with the given path and size cap.
func Init(path string, enabled bool, maxSize int64) error {
	logger, err := NewLogger(path)
	if err != nil {
		return err
	}
	logger.SetEnabled(enabled)
	if maxSize > 0 {
		logger.SetMaxSize(maxSize)
	}

	globalLoggerMu.Lock()
	prev := globalLogger
	globalLogger = logger
	globalLoggerMu.Unlock()
	if prev != nil {
		prev.Close()
	}
	globalLoggerOnce.Do(func() {}) // Mark initialized
	return nil
}

// SetGlobal sets the global audit logger instance.
func SetGlobal(logger *Logger) {
	globalLoggerMu.Lock()
	globalLogger = logger
	globalLoggerMu.Unlock()
	globalLoggerOnce.Do(func() {})
}

// ResetGlobalForTesting resets the global logger state for testing.
func ResetGlobalForTesting() {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = nil
	globalLoggerOnce = sync.Once{}
}

// LogEvent logs a generic event to the global audit logger.
func LogEvent(identity, eventType string, metadata map[string]string) {
	Global().LogEvent(identity, eventType, metadata)
}

// LogFailure logs a failed operation to the global audit logger.
func LogFailure(identity, eventType, errMsg string, metadata map[string]string) {
	Global().LogFailure(identity, eventType, errMsg, metadata)
}
