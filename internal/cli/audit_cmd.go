// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// audit_cmd.go - Audit log review CLI commands for schoolgate.
//
// The audit trail is the permanent record of every security-relevant
// transition: authentications, lockouts, OTP lifecycle, enrollment, and
// manual operator actions. This command reads it; nothing here writes to
// or clears it.
//
// Command: audit [subcommand]
// Short:   Review the security audit trail
// Aliases: (none)
//
// Subcommands:
//   show (default)      Display recent audit events, styled
//   tail [N]            Print the last N events, one line each
//   stats               Show audit log statistics
//
// Examples:
//   schoolgate audit                        Show recent events (default)
//   schoolgate audit show --lines 100       Show last 100 events
//   schoolgate audit show --since 24h       Events from the last 24 hours
//   schoolgate audit show --since 2026-01-15
//   schoolgate audit show --type AUTH_LOCKOUT
//   schoolgate audit show --json            Events as JSON
//   schoolgate audit tail                   Last 10 events, raw lines
//   schoolgate audit tail 25                Last 25 events
//   schoolgate audit stats                  Show statistics
//   schoolgate audit stats --json           Stats in JSON format
//
// Flags:
//   --lines N, -n N     Number of events to show (default: 50)
//   --since DATE, -s    Filter by date (YYYY-MM-DD or relative: 1h, 24h, 7d)
//   --type TYPE, -t     Filter by event type
//   --json              Output in JSON format
//
// Event Types:
//   AUTH_ATTEMPT, AUTH_ATTEMPT_BLOCKED, AUTH_LOCKOUT, AUTH_RESET,
//   AUTH_UNLOCK, OTP_ISSUED, OTP_VERIFIED, OTP_REJECTED, OTP_THROTTLED,
//   TOTP_ENROLLED, TOTP_VERIFIED, TOTP_REJECTED, ACCOUNT_CREATED,
//   ACCOUNT_DELETED, LOCKOUT_UNLOCK, LOCKOUT_RESET, NOTIFY_OTP,
//   NOTIFY_LOCKOUT, NOTIFY_FAILED, NOTIFY_DROPPED

package cli

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/schoolgate/internal/audit"
	"github.com/jeranaias/schoolgate/internal/config"
	"github.com/jeranaias/schoolgate/internal/util"
)

var (
	// Event type color map. Green for restorative events, red for
	// denials and lockouts, yellow for manual operator intervention.
	eventTypeColors = map[string]lipgloss.Style{
		"AUTH_ATTEMPT":         lipgloss.NewStyle().Foreground(lipgloss.Color("39")),  // Cyan
		"AUTH_ATTEMPT_BLOCKED": lipgloss.NewStyle().Foreground(lipgloss.Color("196")), // Red
		"AUTH_LOCKOUT":         lipgloss.NewStyle().Foreground(lipgloss.Color("196")), // Red
		"AUTH_RESET":           lipgloss.NewStyle().Foreground(lipgloss.Color("82")),  // Green
		"AUTH_UNLOCK":          lipgloss.NewStyle().Foreground(lipgloss.Color("82")),  // Green
		"OTP_ISSUED":           lipgloss.NewStyle().Foreground(lipgloss.Color("39")),  // Cyan
		"OTP_VERIFIED":         lipgloss.NewStyle().Foreground(lipgloss.Color("82")),  // Green
		"OTP_REJECTED":         lipgloss.NewStyle().Foreground(lipgloss.Color("208")), // Orange
		"OTP_THROTTLED":        lipgloss.NewStyle().Foreground(lipgloss.Color("220")), // Yellow
		"TOTP_ENROLLED":        lipgloss.NewStyle().Foreground(lipgloss.Color("82")),  // Green
		"TOTP_VERIFIED":        lipgloss.NewStyle().Foreground(lipgloss.Color("82")),  // Green
		"TOTP_REJECTED":        lipgloss.NewStyle().Foreground(lipgloss.Color("208")), // Orange
		"ACCOUNT_CREATED":      lipgloss.NewStyle().Foreground(lipgloss.Color("82")),  // Green
		"ACCOUNT_DELETE":       lipgloss.NewStyle().Foreground(lipgloss.Color("208")), // Orange
		"ACCOUNT_DELETED":      lipgloss.NewStyle().Foreground(lipgloss.Color("208")), // Orange
		"LOCKOUT_UNLOCK":       lipgloss.NewStyle().Foreground(lipgloss.Color("220")), // Yellow
		"LOCKOUT_RESET":        lipgloss.NewStyle().Foreground(lipgloss.Color("220")), // Yellow
		"NOTIFY_OTP":           lipgloss.NewStyle().Foreground(lipgloss.Color("39")),  // Cyan
		"NOTIFY_LOCKOUT":       lipgloss.NewStyle().Foreground(lipgloss.Color("208")), // Orange
		"NOTIFY_FAILED":        lipgloss.NewStyle().Foreground(lipgloss.Color("196")), // Red
		"NOTIFY_DROPPED":       lipgloss.NewStyle().Foreground(lipgloss.Color("196")), // Red
	}

	// Relative time pattern: matches "1h", "24h", "7d", "30m", etc.
	relativeTimeRegex = regexp.MustCompile(`^(\d+)([hdms])$`)
)

// eventTypeStyle returns the color for an event type, plain when the
// terminal has colors disabled.
func eventTypeStyle(eventType string) lipgloss.Style {
	if style, ok := eventTypeColors[eventType]; ok {
		return GetStyleForTTY(style)
	}
	return GetStyleForTTY(ValueStyle)
}

// HandleAudit handles the "audit" command with various subcommands.
func HandleAudit(args Args) error {
	parser := NewArgParser(args.Raw)
	jsonMode := args.JSON || parser.BoolFlag("json")

	switch parser.Subcommand() {
	case "", "show":
		return handleAuditShow(parser, jsonMode)
	case "tail":
		return handleAuditTail(parser, jsonMode)
	case "stats":
		return handleAuditStats(jsonMode)
	default:
		return fmt.Errorf("unknown audit subcommand: %s\n\nUsage:\n"+
			"  schoolgate audit show [--lines N] [--since DATE] [--type TYPE]\n"+
			"  schoolgate audit tail [N]\n"+
			"  schoolgate audit stats", parser.Subcommand())
	}
}

// =============================================================================
// AUDIT LOG READING
// =============================================================================

// auditLogPath resolves the audit log location from config. Returns ""
// when no log exists yet. Warns when the file is readable by other users,
// since events carry masked identities that should stay private.
func auditLogPath() string {
	path, err := config.Global().AuditLogPath()
	if err != nil {
		return ""
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ""
	}
	if err == nil && info.Mode().Perm()&0077 != 0 {
		StderrPrint("%s Audit log permissions are too open (%o). Consider running: chmod 600 %s\n",
			WarningStyle.Render("[WARN]"), info.Mode().Perm(), path)
	}

	return path
}

// readAuditEvents reads events from the log with optional filtering,
// returning the last `limit` matches in chronological order.
func readAuditEvents(path string, limit int, since time.Time, eventType string) ([]audit.Event, error) {
	all, err := audit.Tail(path, 0)
	if err != nil {
		return nil, err
	}

	var events []audit.Event
	for _, e := range all {
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		if eventType != "" && e.EventType != eventType {
			continue
		}
		events = append(events, e)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// parseSince parses the --since filter: absolute dates in a few common
// formats, or relative offsets like "1h", "24h", "7d".
func parseSince(value string) (time.Time, error) {
	formats := []string{
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339,
	}
	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return t, nil
		}
	}

	if d, err := parseRelativeTime(value); err == nil {
		return time.Now().Add(-d), nil
	}

	return time.Time{}, fmt.Errorf("invalid date format: %s\nSupported formats: YYYY-MM-DD, YYYY-MM-DD HH:MM:SS, or relative (1h, 24h, 7d)", value)
}

// parseRelativeTime parses relative time strings like "1h", "24h", "7d".
func parseRelativeTime(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	matches := relativeTimeRegex.FindStringSubmatch(s)
	if len(matches) != 3 {
		return 0, fmt.Errorf("invalid relative time format")
	}

	value, _ := strconv.Atoi(matches[1])
	switch matches[2] {
	case "s":
		return time.Duration(value) * time.Second, nil
	case "m":
		return time.Duration(value) * time.Minute, nil
	case "h":
		return time.Duration(value) * time.Hour, nil
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown time unit: %s", matches[2])
	}
}

// noAuditLog reports the missing-log state in the requested mode.
func noAuditLog(command string, jsonMode bool) error {
	if jsonMode {
		resp := NewJSONResponse(command, map[string]interface{}{
			"events":  []interface{}{},
			"message": "no audit log found",
		})
		return resp.Print()
	}
	fmt.Println()
	fmt.Println(WarningStyle.Render("No audit log found."))
	fmt.Println("Audit logging may not be enabled. Enable with:")
	fmt.Println("  schoolgate config set audit.enabled true")
	fmt.Println()
	return nil
}

// =============================================================================
// AUDIT SHOW
// =============================================================================

// handleAuditShow displays recent audit events.
func handleAuditShow(parser *ArgParser, jsonMode bool) error {
	path := auditLogPath()
	if path == "" {
		return noAuditLog("audit show", jsonMode)
	}

	lines := parser.FlagIntOrDefault("lines", parser.FlagIntOrDefault("n", 50))
	eventType := strings.ToUpper(parser.FlagOrDefault("type", parser.Flag("t")))

	var since time.Time
	if raw := parser.FlagOrDefault("since", parser.Flag("s")); raw != "" {
		var err error
		since, err = parseSince(raw)
		if err != nil {
			return err
		}
	}

	events, err := readAuditEvents(path, lines, since, eventType)
	if err != nil {
		return err
	}

	if jsonMode {
		resp := NewJSONResponse("audit show", map[string]interface{}{
			"events": events,
			"count":  len(events),
			"path":   path,
		})
		return resp.Print()
	}

	if len(events) == 0 {
		fmt.Println()
		fmt.Println(DimStyle.Render("No audit events found matching the specified criteria."))
		fmt.Println()
		return nil
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Audit Log"))
	fmt.Println(RenderSeparator(80))
	fmt.Println()

	var filterInfo []string
	if lines != 50 {
		filterInfo = append(filterInfo, fmt.Sprintf("last %d events", lines))
	}
	if eventType != "" {
		filterInfo = append(filterInfo, fmt.Sprintf("type=%s", eventType))
	}
	if !since.IsZero() {
		filterInfo = append(filterInfo, fmt.Sprintf("since=%s", since.Format("2006-01-02 15:04:05")))
	}
	if len(filterInfo) > 0 {
		fmt.Printf("Filters: %s\n", DimStyle.Render(strings.Join(filterInfo, ", ")))
		fmt.Println()
	}

	for _, e := range events {
		printAuditEvent(e)
	}

	fmt.Println()
	fmt.Printf("Showing %d events from: %s\n", len(events), DimStyle.Render(path))
	fmt.Println()

	return nil
}

// printAuditEvent formats and prints a single audit event.
func printAuditEvent(e audit.Event) {
	timestamp := e.Timestamp.Format("2006-01-02 15:04:05")

	actor := e.Actor
	if actor == "" {
		actor = "-"
	}

	fmt.Printf("%s  %s  %s",
		DimStyle.Render(timestamp),
		eventTypeStyle(e.EventType).Render(fmt.Sprintf("%-20s", e.EventType)),
		DimStyle.Render(fmt.Sprintf("%-17s", actor)))

	if e.Success {
		fmt.Printf("  %s", SuccessStyle.Render("OK"))
	} else {
		fmt.Printf("  %s", ErrorStyle.Render("FAIL"))
	}

	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%s", k, e.Metadata[k]))
		}
		fmt.Printf("  %s", DimStyle.Render(util.TruncateRunes(strings.Join(pairs, " "), 60)))
	}

	fmt.Println()

	if e.Error != "" {
		fmt.Printf("           %s %s\n", ErrorStyle.Render("Error:"), e.Error)
	}
}

// =============================================================================
// AUDIT TAIL
// =============================================================================

// handleAuditTail prints the last N events, one line each, for piping
// into grep and friends.
func handleAuditTail(parser *ArgParser, jsonMode bool) error {
	path := auditLogPath()
	if path == "" {
		return noAuditLog("audit tail", jsonMode)
	}

	n := 10
	if raw := parser.Positional(1); raw != "" {
		parsed, err := ParseIntWithValidation(raw, "line count")
		if err != nil {
			return err
		}
		n = parsed
	}

	events, err := audit.Tail(path, n)
	if err != nil {
		return err
	}

	if jsonMode {
		resp := NewJSONResponse("audit tail", map[string]interface{}{
			"events": events,
			"count":  len(events),
			"path":   path,
		})
		return resp.Print()
	}

	for i := range events {
		fmt.Println(events[i].ToLogLine())
	}
	return nil
}

// =============================================================================
// AUDIT STATS
// =============================================================================

// AuditStatsOutput holds audit log statistics.
type AuditStatsOutput struct {
	TotalEvents     int            `json:"total_events"`
	FileSize        int64          `json:"file_size_bytes"`
	FileSizeHuman   string         `json:"file_size_human"`
	OldestEvent     time.Time      `json:"oldest_event,omitempty"`
	NewestEvent     time.Time      `json:"newest_event,omitempty"`
	EventTypeCounts map[string]int `json:"event_type_counts"`
	SuccessCount    int            `json:"success_count"`
	FailureCount    int            `json:"failure_count"`
	UniqueActors    int            `json:"unique_actors"`
	Path            string         `json:"path"`
}

// handleAuditStats displays audit log statistics.
func handleAuditStats(jsonMode bool) error {
	path := auditLogPath()
	if path == "" {
		return noAuditLog("audit stats", jsonMode)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat audit log: %w", err)
	}

	events, err := audit.Tail(path, 0)
	if err != nil {
		return err
	}

	stats := AuditStatsOutput{
		TotalEvents:     len(events),
		FileSize:        info.Size(),
		FileSizeHuman:   formatBytes(info.Size()),
		EventTypeCounts: make(map[string]int),
		Path:            path,
	}

	actorSet := make(map[string]bool)
	for _, e := range events {
		stats.EventTypeCounts[e.EventType]++
		if e.Success {
			stats.SuccessCount++
		} else {
			stats.FailureCount++
		}
		if e.Actor != "" {
			actorSet[e.Actor] = true
		}
		if stats.OldestEvent.IsZero() || e.Timestamp.Before(stats.OldestEvent) {
			stats.OldestEvent = e.Timestamp
		}
		if stats.NewestEvent.IsZero() || e.Timestamp.After(stats.NewestEvent) {
			stats.NewestEvent = e.Timestamp
		}
	}
	stats.UniqueActors = len(actorSet)

	if jsonMode {
		resp := NewJSONResponse("audit stats", stats)
		return resp.Print()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Audit Log Statistics"))
	fmt.Println(RenderSeparator(50))
	fmt.Println()

	fmt.Println(SectionStyle.Render("File Information"))
	fmt.Printf("  %s%s\n", RenderLabel("Path:", 16), DimStyle.Render(path))
	fmt.Printf("  %s%s\n", RenderLabel("Size:", 16), ValueStyle.Render(stats.FileSizeHuman))
	fmt.Printf("  %s%s\n", RenderLabel("Events:", 16), ValueStyle.Render(strconv.Itoa(stats.TotalEvents)))
	fmt.Println()

	if !stats.OldestEvent.IsZero() {
		fmt.Println(SectionStyle.Render("Time Range"))
		fmt.Printf("  %s%s\n", RenderLabel("Oldest:", 16), ValueStyle.Render(stats.OldestEvent.Format("2006-01-02 15:04:05")))
		fmt.Printf("  %s%s\n", RenderLabel("Newest:", 16), ValueStyle.Render(stats.NewestEvent.Format("2006-01-02 15:04:05")))
		fmt.Printf("  %s%s\n", RenderLabel("Span:", 16), ValueStyle.Render(formatDuration(stats.NewestEvent.Sub(stats.OldestEvent))))
		fmt.Println()
	}

	if stats.TotalEvents > 0 {
		fmt.Println(SectionStyle.Render("Event Types"))
		var eventTypes []string
		for et := range stats.EventTypeCounts {
			eventTypes = append(eventTypes, et)
		}
		sort.Strings(eventTypes)
		for _, et := range eventTypes {
			count := stats.EventTypeCounts[et]
			pct := float64(count) / float64(stats.TotalEvents) * 100
			fmt.Printf("  %s%s  %s\n",
				RenderLabel(et+":", 22),
				eventTypeStyle(et).Render(fmt.Sprintf("%d", count)),
				DimStyle.Render(fmt.Sprintf("(%.1f%%)", pct)))
		}
		fmt.Println()

		fmt.Println(SectionStyle.Render("Status Summary"))
		successPct := float64(stats.SuccessCount) / float64(stats.TotalEvents) * 100
		fmt.Printf("  %s%s  %s\n",
			RenderLabel("Success:", 16),
			SuccessStyle.Render(fmt.Sprintf("%d", stats.SuccessCount)),
			DimStyle.Render(fmt.Sprintf("(%.1f%%)", successPct)))
		failurePct := float64(stats.FailureCount) / float64(stats.TotalEvents) * 100
		fmt.Printf("  %s%s  %s\n",
			RenderLabel("Failures:", 16),
			ErrorStyle.Render(fmt.Sprintf("%d", stats.FailureCount)),
			DimStyle.Render(fmt.Sprintf("(%.1f%%)", failurePct)))
		fmt.Printf("  %s%s\n", RenderLabel("Actors:", 16), ValueStyle.Render(strconv.Itoa(stats.UniqueActors)))
		fmt.Println()
	}

	return nil
}
