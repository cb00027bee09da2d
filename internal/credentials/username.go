// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// username.go - Generated login handles.
//
// Accounts sign in with their email; the username is a generated, human
// readable handle shown in rosters and exports. Format: the school name's
// initials, a double-dash separator, and random uppercase/digit characters.
// "Outshine School" produces handles like "OS--A1B2C3D4E5JQM".

package credentials

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// usernameLength is the base length budget the random suffix is sized from.
const usernameLength = 16

// usernameCharset is the alphabet for the random suffix.
const usernameCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var (
	// ErrSchoolNameRequired is returned when no school name is configured.
	ErrSchoolNameRequired = errors.New("credentials: school name is required to generate usernames")

	// ErrSchoolNameTooLong is returned when the initials leave no room for
	// a random suffix.
	ErrSchoolNameTooLong = errors.New("credentials: school name initials leave no room for a username suffix")
)

// GenerateUsername returns a fresh handle derived from schoolName. Handles
// are random, not guaranteed unique; the store's uniqueness constraint is
// the backstop and callers retry on collision.
func GenerateUsername(schoolName string) (string, error) {
	return GenerateUsernameWithPrefixLength(schoolName, 0)
}

// GenerateUsernameWithPrefixLength is GenerateUsername with the initials
// prefix capped at maxInitials characters, so schools with long names can
// keep handles short. maxInitials <= 0 keeps every initial.
func GenerateUsernameWithPrefixLength(schoolName string, maxInitials int) (string, error) {
	prefix := schoolInitials(schoolName, maxInitials)
	if prefix == "" {
		return "", ErrSchoolNameRequired
	}

	remaining := usernameLength - len(prefix) - 1
	if remaining < 1 {
		return "", ErrSchoolNameTooLong
	}

	suffix, err := randomFromCharset(usernameCharset, remaining)
	if err != nil {
		return "", err
	}
	return prefix + "--" + suffix, nil
}

// schoolInitials returns the uppercased first letter of each word. A
// positive max stops after that many initials.
func schoolInitials(schoolName string, max int) string {
	var initials strings.Builder
	kept := 0
	for _, word := range strings.Fields(schoolName) {
		if max > 0 && kept >= max {
			break
		}
		r := []rune(word)[0]
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			initials.WriteRune(unicode.ToUpper(r))
			kept++
		}
	}
	return initials.String()
}

// randomFromCharset draws length characters uniformly from charset using
// crypto/rand with rejection sampling.
func randomFromCharset(charset string, length int) (string, error) {
	n := len(charset)
	// Largest multiple of n that fits in a byte; higher draws are re-drawn
	// to keep the selection uniform.
	limit := byte(256 - 256%n)

	out := make([]byte, 0, length)
	buf := make([]byte, 1)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("cryptographic random generation failed: %w", err)
		}
		if buf[0] >= limit {
			continue
		}
		out = append(out, charset[int(buf[0])%n])
	}
	return string(out), nil
}
