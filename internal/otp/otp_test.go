// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package otp

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestGenerateCode_LengthAndCharset(t *testing.T) {
	for _, length := range []int{1, 4, DefaultLength, 8} {
		code, err := GenerateCode(length)
		if err != nil {
			t.Fatalf("GenerateCode(%d) failed: %v", length, err)
		}
		if len(code) != length {
			t.Errorf("GenerateCode(%d) returned %d characters", length, len(code))
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Errorf("GenerateCode(%d) produced non-digit %q in %q", length, c, code)
			}
		}
	}
}

func TestGenerateCode_InvalidLength(t *testing.T) {
	for _, length := range []int{0, -1} {
		if _, err := GenerateCode(length); err == nil {
			t.Errorf("GenerateCode(%d) should fail", length)
		}
	}
}

func TestGenerateCode_VariesAcrossCalls(t *testing.T) {
	// With 10^6 possibilities, 20 identical draws in a row means the
	// generator is broken, not unlucky.
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		code, err := GenerateCode(DefaultLength)
		if err != nil {
			t.Fatalf("GenerateCode failed: %v", err)
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Error("generator returned the same code 20 times")
	}
}

func TestEnrollTOTP(t *testing.T) {
	enrollment, err := EnrollTOTP("Outshine School", "admin@outshine.edu")
	if err != nil {
		t.Fatalf("EnrollTOTP failed: %v", err)
	}
	if enrollment.Secret == "" {
		t.Error("enrollment must produce a secret")
	}
	if enrollment.URL == "" {
		t.Error("enrollment must produce a provisioning URL")
	}

	// A code computed from the enrolled secret must validate.
	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	if err != nil {
		t.Fatalf("computing a code from the secret failed: %v", err)
	}
	if !ValidateTOTP(code, enrollment.Secret) {
		t.Error("freshly computed TOTP code must validate")
	}
	if ValidateTOTP("000000", enrollment.Secret) && ValidateTOTP("999999", enrollment.Secret) {
		t.Error("arbitrary codes must not all validate")
	}
}

func TestEnrollTOTP_RequiresIdentity(t *testing.T) {
	if _, err := EnrollTOTP("", "admin@outshine.edu"); err == nil {
		t.Error("enrollment without an issuer should fail")
	}
	if _, err := EnrollTOTP("Outshine School", ""); err == nil {
		t.Error("enrollment without an account email should fail")
	}
}

func TestValidateTOTP_EmptyInputs(t *testing.T) {
	if ValidateTOTP("", "SECRET") || ValidateTOTP("123456", "") {
		t.Error("empty code or secret must never validate")
	}
}
