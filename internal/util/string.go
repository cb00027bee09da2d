// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for schoolgate.
package util

import "github.com/mattn/go-runewidth"

// UNICODE: Rune- and width-aware truncation. Account names and emails
// are operator input and can contain multi-byte or double-width
// characters; truncating by byte would corrupt them, and truncating by
// rune would misalign table columns for CJK names.

// TruncateRunes truncates a string to a maximum number of runes
// (characters). If the string is truncated, "..." is appended. Use
// this where the limit is about content length, not terminal columns,
// such as audit metadata in log views.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateWidth truncates a string to a maximum display width in
// terminal columns, counting double-width characters as two. If the
// string is truncated, "..." is appended.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// PadRight pads a string with spaces to the given display width.
// Unlike fmt's %-Ns verb this counts columns, not bytes, so padded
// columns stay aligned for names that fmt would misjudge.
func PadRight(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// StringWidth returns the display width of a string in terminal
// columns.
func StringWidth(s string) int {
	return runewidth.StringWidth(s)
}
