// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credentials handles the secrets attached to an account: password
// and security-answer hashing, generated usernames, and login-identifier
// validation.
//
// Hashes use PBKDF2-SHA-256 in the portable encoding
//
//	pbkdf2_sha256$<iterations>$<salt>$<base64 hash>
//
// so records survive iteration-count changes: verification honors the count
// stored in each hash, new hashes use the configured count.
package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultIterations is the PBKDF2 work factor for new hashes, per
	// OWASP's recommendation for PBKDF2-HMAC-SHA256.
	DefaultIterations = 600000

	// MinIterations rejects stored hashes weakened below a sane floor.
	MinIterations = 10000

	hashAlgorithm = "pbkdf2_sha256"
	saltSize      = 16
	keySize       = 32
)

var (
	// ErrInvalidHash is returned when a stored hash cannot be parsed.
	ErrInvalidHash = errors.New("credentials: malformed password hash")

	// ErrEmptyPassword is returned when hashing an empty password.
	ErrEmptyPassword = errors.New("credentials: a password must be provided")

	// ErrInvalidEmail is returned for an unparseable email address.
	ErrInvalidEmail = errors.New("credentials: please enter a valid email address")
)

// =============================================================================
// PASSWORD HASHING
// =============================================================================

// HashPassword derives a salted PBKDF2-SHA-256 hash of password using the
// given iteration count (DefaultIterations when iterations <= 0).
func HashPassword(password string, iterations int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("cryptographic random generation failed: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s",
		hashAlgorithm,
		iterations,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword reports whether password matches the stored encoded hash.
// The comparison is constant time. A malformed stored hash verifies false
// rather than erroring: from the caller's view it is simply a mismatch.
func VerifyPassword(password, encoded string) bool {
	if password == "" || encoded == "" {
		return false
	}

	iterations, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false
	}

	got := pbkdf2.Key([]byte(password), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// decodeHash splits an encoded hash into its parameters.
func decodeHash(encoded string) (iterations int, salt, key []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != hashAlgorithm {
		return 0, nil, nil, ErrInvalidHash
	}

	iterations, err = strconv.Atoi(parts[1])
	if err != nil || iterations < MinIterations {
		return 0, nil, nil, ErrInvalidHash
	}

	salt, err = base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return 0, nil, nil, ErrInvalidHash
	}

	key, err = base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(key) == 0 {
		return 0, nil, nil, ErrInvalidHash
	}

	return iterations, salt, key, nil
}

// =============================================================================
// SECURITY ANSWERS
// =============================================================================

// NormalizeAnswer canonicalizes a security answer before hashing or
// verification so that casing and stray whitespace do not lock users out.
func NormalizeAnswer(answer string) string {
	return strings.ToLower(strings.Join(strings.Fields(answer), " "))
}

// HashAnswer hashes a normalized security answer.
func HashAnswer(answer string, iterations int) (string, error) {
	normalized := NormalizeAnswer(answer)
	if normalized == "" {
		return "", ErrEmptyPassword
	}
	return HashPassword(normalized, iterations)
}

// VerifyAnswer reports whether answer matches the stored hash after
// normalization.
func VerifyAnswer(answer, encoded string) bool {
	return VerifyPassword(NormalizeAnswer(answer), encoded)
}

// =============================================================================
// EMAIL VALIDATION
// =============================================================================

// NormalizeEmail lowercases and trims a login identifier. All lookups key on
// the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email parses as a bare RFC 5322 address.
// Display names ("A. Lovelace <ada@x>") are rejected: the login identifier
// is the address alone.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}
