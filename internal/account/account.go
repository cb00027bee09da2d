// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package account holds the identity record and the security state machine
// that governs it: OTP issuance and verification, failed-login tracking, and
// time-boxed account lockout.
//
// Everything in this package is pure. Operations take the current time and a
// Policy as inputs and return the post-transition record together with the
// side effects the caller must apply (persist, notify). Storage, clocks, and
// notification dispatch live in the guard adapter, not here.
package account

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmailRequired is returned when an account is created without an email.
	ErrEmailRequired = errors.New("account: email is required")

	// ErrInvalidRole is returned for a role outside the known set.
	ErrInvalidRole = errors.New("account: invalid role")

	// ErrInvalidQuestion is returned for an unknown security question.
	ErrInvalidQuestion = errors.New("account: invalid security question")
)

// =============================================================================
// ENUMS - STATUS, ROLE, SECURITY QUESTION
// =============================================================================

// Status is the lifecycle state of an account with respect to authentication.
type Status string

const (
	// StatusActive is a normal functioning account with full access.
	StatusActive Status = "ACTIVE"

	// StatusLocked is an account temporarily disabled after repeated
	// authentication failures (or an explicit administrative lock).
	StatusLocked Status = "LOCKED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusLocked
}

// Role is a permission tag attached to an account. Roles carry no behavior
// here beyond identity; authorization decisions belong to callers.
type Role string

const (
	RoleAdministrator Role = "ADMINISTRATOR"
	RoleTeacher       Role = "TEACHER"
	RoleParent        Role = "PARENT"
	RoleStudent       Role = "STUDENT"
)

// DefaultRole is assigned when no role is specified at creation.
const DefaultRole = RoleStudent

// Roles returns all known roles in display order.
func Roles() []Role {
	return []Role{RoleAdministrator, RoleTeacher, RoleParent, RoleStudent}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdministrator, RoleTeacher, RoleParent, RoleStudent:
		return true
	}
	return false
}

// Label returns the human-readable form of the role.
func (r Role) Label() string {
	if r == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ToLower(string(r)))
}

// Staff reports whether the role is school staff. Staff accounts may enroll
// a TOTP authenticator as an additional factor.
func (r Role) Staff() bool {
	return r == RoleAdministrator || r == RoleTeacher
}

// SecurityQuestion identifies one of the predefined recovery questions.
type SecurityQuestion string

const (
	QuestionMaidenName     SecurityQuestion = "MAIDEN_NAME"
	QuestionFavouriteColor SecurityQuestion = "FAVOURITE_COLOR"
	QuestionBirthCity      SecurityQuestion = "BIRTH_CITY"
	QuestionFavouriteBook  SecurityQuestion = "FAVOURITE_BOOK"
)

// SecurityQuestions returns all known questions in display order.
func SecurityQuestions() []SecurityQuestion {
	return []SecurityQuestion{
		QuestionMaidenName,
		QuestionFavouriteColor,
		QuestionBirthCity,
		QuestionFavouriteBook,
	}
}

// Valid reports whether q is a known question.
func (q SecurityQuestion) Valid() bool {
	switch q {
	case QuestionMaidenName, QuestionFavouriteColor, QuestionBirthCity, QuestionFavouriteBook:
		return true
	}
	return false
}

// Prompt returns the question text shown to the user.
func (q SecurityQuestion) Prompt() string {
	switch q {
	case QuestionMaidenName:
		return "What is your mother's maiden name?"
	case QuestionFavouriteColor:
		return "What is your favourite color?"
	case QuestionBirthCity:
		return "What is the city where you were born?"
	case QuestionFavouriteBook:
		return "What is your favourite book?"
	}
	return ""
}

// =============================================================================
// ACCOUNT RECORD
// =============================================================================

// Account is the identity record. The security subset (OTP, failure counters,
// status) is mutated exclusively through the transition methods in machine.go;
// the remaining fields are plain profile data.
//
// Zero time.Time values mean "unset" for OTPExpiry and LastFailedLogin.
// Version supports optimistic concurrency in the store: it is incremented on
// every successful persist and compared on update.
type Account struct {
	ID       uuid.UUID
	Email    string
	Username string

	FirstName  string
	MiddleName string
	LastName   string

	Role Role

	SecurityQuestion   SecurityQuestion
	SecurityAnswerHash string
	PasswordHash       string

	// TOTPSecret is set once a staff account enrolls an authenticator.
	TOTPSecret string

	OTP                 string
	OTPExpiry           time.Time
	FailedLoginAttempts int
	LastFailedLogin     time.Time
	Status              Status

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// CreateParams carries the caller-supplied fields for a new account.
type CreateParams struct {
	Email            string
	Username         string
	FirstName        string
	MiddleName       string
	LastName         string
	Role             Role
	SecurityQuestion SecurityQuestion
}

// New builds an account in its initial state: ACTIVE, counters at zero, no
// pending OTP. The email must be non-empty; an unspecified role defaults to
// STUDENT. Password and security-answer hashes are set by the caller.
func New(p CreateParams, now time.Time) (Account, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" {
		return Account{}, ErrEmailRequired
	}

	role := p.Role
	if role == "" {
		role = DefaultRole
	}
	if !role.Valid() {
		return Account{}, ErrInvalidRole
	}

	if p.SecurityQuestion != "" && !p.SecurityQuestion.Valid() {
		return Account{}, ErrInvalidQuestion
	}

	return Account{
		ID:               uuid.New(),
		Email:            email,
		Username:         p.Username,
		FirstName:        strings.TrimSpace(p.FirstName),
		MiddleName:       strings.TrimSpace(p.MiddleName),
		LastName:         strings.TrimSpace(p.LastName),
		Role:             role,
		SecurityQuestion: p.SecurityQuestion,
		Status:           StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}, nil
}

// FullName returns the title-cased "First Middle Last", with the middle name
// omitted when absent.
func (a Account) FullName() string {
	name := a.FirstName + " " + a.LastName
	if a.MiddleName != "" {
		name = a.FirstName + " " + a.MiddleName + " " + a.LastName
	}
	return strings.TrimSpace(cases.Title(language.English).String(name))
}

// HasRole reports whether the account carries the given role.
func (a Account) HasRole(r Role) bool {
	return a.Role == r
}

// HasPendingOTP reports whether an unconsumed OTP is outstanding.
func (a Account) HasPendingOTP() bool {
	return a.OTP != ""
}
