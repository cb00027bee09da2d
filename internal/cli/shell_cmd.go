// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// shell_cmd.go - Interactive admin shell for schoolgate.
//
// Command: shell
// Short: Start the interactive admin shell
// Aliases: repl (also the default when invoked with no arguments)
//
// The shell reads command lines, tokenizes them, and dispatches through
// the same handlers as one-shot invocations, so "account list" inside
// the shell behaves exactly like `schoolgate account list` outside it.
// Input history persists across sessions, and configuration edits
// (whether from `config set` inside the shell or an editor outside it)
// take effect without restarting.
//
// Examples:
//   schoolgate                 Start the shell
//   schoolgate shell           Same thing, spelled out
//
// Inside the shell:
//   account list               Any CLI command works as-is
//   lockout unlock bob@outshine.edu
//   help, ?                    Show command usage
//   clear                      Clear the screen
//   exit, quit, q              Leave the shell (Ctrl+C and Ctrl+D also work)

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/jeranaias/schoolgate/internal/config"
)

// shellPromptStyle renders the input prompt. TitleStyle is not usable
// here because its bottom margin would push input onto the next line.
var shellPromptStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("39")) // Cyan

// shellHistoryFile is kept under the config directory next to
// config.toml and the audit log.
const shellHistoryFile = "shell_history"

// ShellInput wraps liner to provide line editing and persistent history
// for the admin shell.
type ShellInput struct {
	line        *liner.State
	historyPath string
}

// NewShellInput creates a shell input reader and loads prior history.
func NewShellInput() *ShellInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	s := &ShellInput{
		line:        line,
		historyPath: filepath.Join(configDir, shellHistoryFile),
	}
	s.loadHistory()
	return s
}

// loadHistory reads persisted history if present. A missing file is
// normal on first run.
func (s *ShellInput) loadHistory() {
	f, err := os.Open(s.historyPath)
	if err != nil {
		return
	}
	defer f.Close()
	s.line.ReadHistory(f)
}

// ReadInput prompts for a line and records non-empty input in history.
func (s *ShellInput) ReadInput(prompt string) (string, error) {
	input, err := s.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		s.line.AppendHistory(input)
	}
	return input, nil
}

// saveHistory persists history to disk. History can contain account
// identifiers, so the file is created admin-only.
func (s *ShellInput) saveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	s.line.WriteHistory(f)
}

// Close saves history and releases the terminal.
func (s *ShellInput) Close() {
	s.saveHistory()
	s.line.Close()
}

// HandleShell runs the interactive admin shell until the operator
// exits. Errors from dispatched commands are displayed per command and
// never terminate the shell.
func HandleShell(args Args) error {
	if args.JSON {
		return NewValidationErrorWithExample("json", "true",
			"the shell is interactive and has no JSON mode",
			"schoolgate account list --json")
	}
	if err := RequiresTTY("interactive shell"); err != nil {
		return err
	}

	// Watch config.toml so threshold or mail changes apply to commands
	// issued later in the same session. Watch failure is not fatal,
	// the shell just loses hot reload.
	watcher, err := config.NewWatcher(500*time.Millisecond, func(cfg *config.Config, err error) {
		if err != nil {
			StderrPrint("%s config reload failed: %v\n", WarningStyle.Render("[WARN]"), err)
			return
		}
		StderrPrint("%s configuration reloaded\n", DimStyle.Render("[config]"))
	})
	if err == nil {
		if werr := watcher.Watch(); werr == nil {
			defer watcher.Close()
		}
	}

	input := NewShellInput()
	defer input.Close()

	if !args.Quiet {
		printShellWelcome(config.Global())
	}

	start := time.Now()
	dispatched := 0

	for {
		raw, err := input.ReadInput(shellPromptStyle.Render("schoolgate> "))
		if err != nil {
			// Ctrl+C (ErrPromptAborted) and Ctrl+D (EOF) both end
			// the session cleanly.
			fmt.Println()
			printShellGoodbye(dispatched, time.Since(start))
			return nil
		}

		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		tokens, err := splitShellLine(line)
		if err != nil {
			StderrPrint("%s %v\n", ErrorStyle.Render("[Error]"), err)
			continue
		}
		if len(tokens) == 0 {
			continue
		}

		switch strings.ToLower(tokens[0]) {
		case "exit", "quit", "q":
			printShellGoodbye(dispatched, time.Since(start))
			return nil
		case "help", "?":
			PrintUsage()
			continue
		case "clear":
			fmt.Print("\033[2J\033[H")
			continue
		}

		cmd, lineArgs := ParseArgs(tokens)
		if cmd == CmdShell {
			// Covers "shell", "repl", and bare global flags.
			fmt.Println(DimStyle.Render("Already in the shell."))
			continue
		}

		lineArgs.Quiet = lineArgs.Quiet || args.Quiet
		Run(cmd, lineArgs)
		dispatched++
	}
}

// splitShellLine tokenizes a shell input line. Single and double quotes
// group words, so `account create --first "Mary Ann" ...` keeps the
// name intact. Quotes do not nest and there is no escape character.
func splitShellLine(line string) ([]string, error) {
	var tokens []string
	var current strings.Builder
	var quote rune
	inToken := false

	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unclosed %c quote", quote)
	}
	if inToken {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}

func printShellWelcome(cfg *config.Config) {
	fmt.Println()
	fmt.Println(TitleStyle.Render("schoolgate admin shell"))
	fmt.Println(SeparatorStyle.Render(strings.Repeat("─", 40)))
	fmt.Printf("%s %s\n", DimStyle.Render("School: "), ValueStyle.Render(cfg.School.Name))
	fmt.Printf("%s %s\n", DimStyle.Render("Version:"), ValueStyle.Render(Version))
	if !cfg.Audit.Enabled {
		fmt.Printf("%s %s\n", DimStyle.Render("Audit:  "), WarningStyle.Render("disabled"))
	}
	fmt.Println()
	fmt.Println(DimStyle.Render("Type a command ('account list', 'lockout status <email>', ...)."))
	fmt.Println(DimStyle.Render("'help' shows usage, 'exit' leaves the shell."))
	fmt.Println()
}

func printShellGoodbye(dispatched int, elapsed time.Duration) {
	if dispatched > 0 {
		summary := fmt.Sprintf("%d command(s) in %s.", dispatched, elapsed.Round(time.Second))
		fmt.Println(DimStyle.Render(summary))
	}
	fmt.Println(DimStyle.Render("Goodbye!"))
}
