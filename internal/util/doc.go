// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for schoolgate.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation by character count
//   - TruncateWidth, PadRight, StringWidth: display-width aware
//     truncation and padding for terminal tables
//
// File Operations:
//   - AtomicWriteFile, AtomicWriteFileWithDir: crash-safe file writing
//     with fsync
//
// # Usage
//
//	// Keep table columns aligned for any name
//	cell := util.PadRight(util.TruncateWidth(email, 28), 28)
//
//	// Write files atomically to prevent a torn config on crash
//	err := util.AtomicWriteFile(path, data, 0600)
package util
