// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package setup implements the first-run wizard. It collects the
// school name and the first administrator's details, then hands them
// to an ApplyFunc that writes the configuration and creates the
// account. The package is pure UI and holds no persistence logic, so
// the plain-prompt fallback in the CLI can reuse the same ApplyFunc.
package setup

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/schoolgate/internal/credentials"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	accentColor = lipgloss.Color("39")  // Cyan
	okColor     = lipgloss.Color("42")  // Green
	failColor   = lipgloss.Color("196") // Red
	mutedColor  = lipgloss.Color("242") // Gray

	titleStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true).
			MarginBottom(1)

	successStyle = lipgloss.NewStyle().
			Foreground(okColor).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(failColor).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(1, 2)

	focusedPromptStyle = lipgloss.NewStyle().
				Foreground(accentColor).
				Bold(true)

	blurredPromptStyle = lipgloss.NewStyle().
				Foreground(mutedColor)
)

// =============================================================================
// MODEL
// =============================================================================

// Result carries everything the wizard collected.
type Result struct {
	SchoolName string
	AdminEmail string
	FirstName  string
	LastName   string
	Password   string
}

// ApplyFunc persists a completed Result. It returns the generated
// username of the new administrator account.
type ApplyFunc func(Result) (string, error)

// Phase represents where the wizard currently is.
type Phase int

const (
	PhaseWelcome Phase = iota
	PhaseForm
	PhaseApply
	PhaseComplete
	PhaseFailed
)

// Form field order. Password and confirmation come last so a
// validation failure never forces retyping the whole form.
const (
	fieldSchool = iota
	fieldEmail
	fieldFirst
	fieldLast
	fieldPassword
	fieldConfirm
	fieldCount
)

var fieldLabels = [fieldCount]string{
	"School name",
	"Administrator email",
	"First name",
	"Last name",
	"Password",
	"Confirm password",
}

// Model is the wizard's Bubble Tea model.
type Model struct {
	phase   Phase
	inputs  []textinput.Model
	focus   int
	formErr string

	spinner  spinner.Model
	apply    ApplyFunc
	applyErr string

	result   Result
	username string

	width  int
	height int
}

// New creates the wizard. schoolName prefills the first field, which
// lets a re-run keep the previously configured name.
func New(schoolName string, apply ApplyFunc) *Model {
	inputs := make([]textinput.Model, fieldCount)
	for i := range inputs {
		ti := textinput.New()
		ti.CharLimit = 128
		ti.Width = 40
		ti.Prompt = "> "
		ti.PromptStyle = blurredPromptStyle
		ti.Cursor.Style = focusedPromptStyle
		inputs[i] = ti
	}

	inputs[fieldSchool].SetValue(schoolName)
	inputs[fieldEmail].Placeholder = "admin@example.edu"
	inputs[fieldPassword].EchoMode = textinput.EchoPassword
	inputs[fieldPassword].EchoCharacter = '*'
	inputs[fieldConfirm].EchoMode = textinput.EchoPassword
	inputs[fieldConfirm].EchoCharacter = '*'

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(accentColor)

	return &Model{
		phase:   PhaseWelcome,
		inputs:  inputs,
		spinner: s,
		apply:   apply,
	}
}

// Completed reports whether the wizard finished and applied its result.
func (m *Model) Completed() bool {
	return m.phase == PhaseComplete
}

// Err returns the apply failure, if any.
func (m *Model) Err() error {
	if m.applyErr == "" {
		return nil
	}
	return fmt.Errorf("%s", m.applyErr)
}

// Summary returns what was created, for printing after the program
// exits and the alternate screen is restored.
func (m *Model) Summary() (email, username string) {
	return m.result.AdminEmail, m.username
}

// Init starts the cursor blink.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// =============================================================================
// UPDATE
// =============================================================================

// applyDoneMsg reports the outcome of the apply step.
type applyDoneMsg struct {
	username string
	err      error
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case applyDoneMsg:
		if msg.err != nil {
			m.phase = PhaseFailed
			m.applyErr = msg.err.Error()
		} else {
			m.phase = PhaseComplete
			m.username = msg.username
		}
		return m, nil
	}

	return m, nil
}

// handleKey processes key presses per phase.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Ctrl+C always exits. Plain keys stay with the form, where they
	// are input, not commands.
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.phase {
	case PhaseWelcome:
		switch msg.String() {
		case "q", "esc":
			return m, tea.Quit
		case "enter", " ":
			m.phase = PhaseForm
			return m, m.setFocus(fieldSchool)
		}
		return m, nil

	case PhaseForm:
		switch msg.String() {
		case "esc":
			return m, tea.Quit
		case "enter":
			if m.focus == fieldCount-1 {
				return m.submit()
			}
			return m, m.setFocus(m.focus + 1)
		case "tab", "down":
			return m, m.setFocus((m.focus + 1) % fieldCount)
		case "shift+tab", "up":
			return m, m.setFocus((m.focus + fieldCount - 1) % fieldCount)
		}
		var cmd tea.Cmd
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
		return m, cmd

	case PhaseApply:
		// Nothing to do but wait.
		return m, nil

	case PhaseComplete, PhaseFailed:
		switch msg.String() {
		case "enter", " ", "q", "esc":
			return m, tea.Quit
		}
		return m, nil
	}

	return m, nil
}

// setFocus moves focus to field i and restyles the prompts.
func (m *Model) setFocus(i int) tea.Cmd {
	m.focus = i
	var cmd tea.Cmd
	for j := range m.inputs {
		if j == i {
			cmd = m.inputs[j].Focus()
			m.inputs[j].PromptStyle = focusedPromptStyle
		} else {
			m.inputs[j].Blur()
			m.inputs[j].PromptStyle = blurredPromptStyle
		}
	}
	return cmd
}

// submit validates the form and starts the apply step.
func (m *Model) submit() (tea.Model, tea.Cmd) {
	res, err := m.collect()
	if err != "" {
		m.formErr = err
		return m, nil
	}

	m.formErr = ""
	m.result = res
	m.phase = PhaseApply
	return m, tea.Batch(m.spinner.Tick, m.runApply())
}

// collect reads and validates the field values. The returned string is
// a human-readable validation message, empty when the form is valid.
func (m *Model) collect() (Result, string) {
	res := Result{
		SchoolName: strings.TrimSpace(m.inputs[fieldSchool].Value()),
		AdminEmail: strings.TrimSpace(m.inputs[fieldEmail].Value()),
		FirstName:  strings.TrimSpace(m.inputs[fieldFirst].Value()),
		LastName:   strings.TrimSpace(m.inputs[fieldLast].Value()),
		Password:   m.inputs[fieldPassword].Value(),
	}

	if res.SchoolName == "" {
		return res, "school name is required"
	}
	if err := credentials.ValidateEmail(res.AdminEmail); err != nil {
		return res, "administrator email is not a valid address"
	}
	if res.FirstName == "" || res.LastName == "" {
		return res, "first and last name are required"
	}
	if res.Password == "" {
		return res, "password is required"
	}
	if res.Password != m.inputs[fieldConfirm].Value() {
		return res, "passwords do not match"
	}
	return res, ""
}

// runApply executes the ApplyFunc off the UI loop.
func (m *Model) runApply() tea.Cmd {
	apply := m.apply
	res := m.result
	return func() tea.Msg {
		username, err := apply(res)
		return applyDoneMsg{username: username, err: err}
	}
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the wizard.
func (m *Model) View() string {
	switch m.phase {
	case PhaseWelcome:
		return m.viewWelcome()
	case PhaseForm:
		return m.viewForm()
	case PhaseApply:
		return m.viewApply()
	case PhaseComplete:
		return m.viewComplete()
	case PhaseFailed:
		return m.viewFailed()
	}
	return ""
}

func (m *Model) viewWelcome() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("  schoolgate setup"))
	s.WriteString("\n\n")

	welcome := `Welcome! This wizard sets up schoolgate for your school.

It will:

  * Record your school's name
  * Create the first administrator account
  * Write the configuration to disk

You can change everything later with 'schoolgate config set'.`
	s.WriteString(boxStyle.Render(welcome))
	s.WriteString("\n\n")

	s.WriteString(focusedPromptStyle.Render("  Press ENTER to begin"))
	s.WriteString(dimStyle.Render("  |  Q to quit"))
	s.WriteString("\n")

	return s.String()
}

func (m *Model) viewForm() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("  schoolgate setup"))
	s.WriteString("\n\n")

	for i := range m.inputs {
		s.WriteString("  ")
		s.WriteString(labelStyle.Render(fieldLabels[i]))
		s.WriteString("\n  ")
		s.WriteString(m.inputs[i].View())
		s.WriteString("\n\n")
	}

	if m.formErr != "" {
		s.WriteString(errorStyle.Render("  " + m.formErr))
		s.WriteString("\n\n")
	}

	s.WriteString(dimStyle.Render("  Enter to continue  |  Tab to move  |  Esc to cancel"))
	s.WriteString("\n")

	return s.String()
}

func (m *Model) viewApply() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("  schoolgate setup"))
	s.WriteString("\n\n")
	s.WriteString(fmt.Sprintf("  %s Writing configuration and creating %s...\n",
		m.spinner.View(), m.result.AdminEmail))

	return s.String()
}

func (m *Model) viewComplete() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("  schoolgate setup"))
	s.WriteString("\n\n")

	summary := fmt.Sprintf(`%s

School:    %s
Admin:     %s
Username:  %s

Next steps:

  schoolgate login %s     Sign in
  schoolgate shell        Open the admin shell`,
		successStyle.Render("Setup complete!"),
		m.result.SchoolName,
		m.result.AdminEmail,
		m.username,
		m.result.AdminEmail)

	s.WriteString(boxStyle.Render(summary))
	s.WriteString("\n\n")
	s.WriteString(dimStyle.Render("  Press ENTER to finish"))
	s.WriteString("\n")

	return s.String()
}

func (m *Model) viewFailed() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("  schoolgate setup"))
	s.WriteString("\n\n")
	s.WriteString(errorStyle.Render("  Setup failed: " + m.applyErr))
	s.WriteString("\n\n")
	s.WriteString(dimStyle.Render("  Press ENTER to exit, then fix the problem and re-run 'schoolgate setup'."))
	s.WriteString("\n")

	return s.String()
}
