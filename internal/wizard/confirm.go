// Package wizard holds the interactive terminal prompts for destructive
// cutover operations.
package wizard

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// ConfirmModel is a yes/no prompt for an irreversible phase transition.
type ConfirmModel struct {
	Title   string
	Detail  string
	choice  int // 0 = no, 1 = yes
	decided bool
}

// NewConfirm creates a confirm prompt defaulting to "no".
func NewConfirm(title, detail string) ConfirmModel {
	return ConfirmModel{Title: title, Detail: detail}
}

// Confirmed reports whether the operator chose yes.
func (m ConfirmModel) Confirmed() bool { return m.decided && m.choice == 1 }

// Init implements tea.Model.
func (m ConfirmModel) Init() tea.Cmd { return nil }

// Update handles key presses (Bubble Tea Update).
func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc", "n", "N":
			m.choice = 0
			m.decided = true
			return m, tea.Quit

		case "y", "Y":
			m.choice = 1
			m.decided = true
			return m, tea.Quit

		case "left", "h", "right", "l", "tab":
			m.choice = 1 - m.choice
			return m, nil

		case "enter":
			m.decided = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View renders the prompt (Bubble Tea View).
func (m ConfirmModel) View() string {
	var sb strings.Builder

	sb.WriteString(headerStyle.Render(m.Title))
	sb.WriteString("\n")
	if m.Detail != "" {
		sb.WriteString(warningStyle.Render(m.Detail))
		sb.WriteString("\n\n")
	}

	no := unselectedStyle.Render("[ No ]")
	yes := unselectedStyle.Render("[ Yes ]")
	if m.choice == 0 {
		no = selectedStyle.Render("[ No ]")
	} else {
		yes = selectedStyle.Render("[ Yes ]")
	}
	sb.WriteString(fmt.Sprintf("  %s  %s\n", no, yes))
	sb.WriteString(statusBarStyle.Render("y/n to answer, arrows to move, enter to confirm"))
	sb.WriteString("\n")
	return sb.String()
}

// RunConfirm shows the prompt on the terminal and blocks for the answer.
func RunConfirm(title, detail string) (bool, error) {
	final, err := tea.NewProgram(NewConfirm(title, detail)).Run()
	if err != nil {
		return false, fmt.Errorf("confirmation prompt failed: %w", err)
	}
	m, ok := final.(ConfirmModel)
	if !ok {
		return false, nil
	}
	return m.Confirmed(), nil
}
