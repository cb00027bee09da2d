// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package otp generates the one-time codes used as a second factor: short
// numeric codes delivered out of band, and TOTP authenticator enrollment for
// staff accounts.
package otp

import (
	"crypto/rand"
	"errors"
	"fmt"

	otplib "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// DefaultLength is the standard number of digits in a delivered code.
const DefaultLength = 6

var (
	// ErrInvalidLength is returned for non-positive code lengths.
	ErrInvalidLength = errors.New("otp: code length must be positive")
)

// =============================================================================
// NUMERIC CODE GENERATION
// =============================================================================

// GenerateCode returns a uniformly random numeric code of the given length.
// Leading zeros are allowed: the code is a string, not a number. Uses
// crypto/rand with rejection sampling so every digit is unbiased.
//
// Returns an error only if the system's cryptographic randomness fails,
// which callers must treat as fatal rather than falling back to a weaker
// source.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", ErrInvalidLength
	}

	digits := make([]byte, 0, length)
	buf := make([]byte, 1)
	for len(digits) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("cryptographic random generation failed: %w", err)
		}
		// 250 is the largest multiple of 10 below 256; values at or above
		// it would skew the distribution and are re-drawn.
		if buf[0] >= 250 {
			continue
		}
		digits = append(digits, '0'+buf[0]%10)
	}
	return string(digits), nil
}

// =============================================================================
// STAFF TOTP ENROLLMENT
// =============================================================================

// TOTPEnrollment is the result of enrolling an authenticator app: the shared
// secret to store against the account and the otpauth:// URL to present as a
// QR code or manual-entry string.
type TOTPEnrollment struct {
	Secret string
	URL    string
}

// EnrollTOTP creates a new authenticator secret for the given account.
// Standard parameters: 30 second period, 6 digits, SHA1. That is the
// configuration every mainstream authenticator app accepts.
func EnrollTOTP(issuer, accountEmail string) (*TOTPEnrollment, error) {
	if issuer == "" || accountEmail == "" {
		return nil, errors.New("otp: issuer and account email are required for enrollment")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountEmail,
		Period:      30,
		SecretSize:  20,
		Digits:      otplib.DigitsSix,
		Algorithm:   otplib.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("totp enrollment failed: %w", err)
	}

	return &TOTPEnrollment{
		Secret: key.Secret(),
		URL:    key.URL(),
	}, nil
}

// ValidateTOTP reports whether code is currently valid for the stored secret.
func ValidateTOTP(code, secret string) bool {
	if code == "" || secret == "" {
		return false
	}
	return totp.Validate(code, secret)
}
