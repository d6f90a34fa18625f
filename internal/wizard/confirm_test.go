package wizard

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestConfirmModel_Update(t *testing.T) {
	tests := []struct {
		name          string
		keys          []string
		wantConfirmed bool
	}{
		{
			name:          "y confirms",
			keys:          []string{"y"},
			wantConfirmed: true,
		},
		{
			name:          "n declines",
			keys:          []string{"n"},
			wantConfirmed: false,
		},
		{
			name:          "enter on the default declines",
			keys:          []string{"enter"},
			wantConfirmed: false,
		},
		{
			name:          "arrow to yes then enter confirms",
			keys:          []string{"right", "enter"},
			wantConfirmed: true,
		},
		{
			name:          "toggle twice lands back on no",
			keys:          []string{"tab", "tab", "enter"},
			wantConfirmed: false,
		},
		{
			name:          "ctrl+c declines",
			keys:          []string{"ctrl+c"},
			wantConfirmed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var model tea.Model = NewConfirm("Decommission the origin?", "This cannot be undone.")
			for _, key := range tt.keys {
				msg := keyMsg(key)
				model, _ = model.Update(msg)
			}
			if got := model.(ConfirmModel).Confirmed(); got != tt.wantConfirmed {
				t.Errorf("Confirmed() = %v, want %v after keys %v", got, tt.wantConfirmed, tt.keys)
			}
		})
	}
}

func keyMsg(key string) tea.KeyMsg {
	switch key {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
}

func TestConfirmModel_View(t *testing.T) {
	m := NewConfirm("Decommission the origin?", "This cannot be undone.")
	view := m.View()
	for _, want := range []string{"Decommission the origin?", "This cannot be undone.", "[ No ]", "[ Yes ]"} {
		if !strings.Contains(view, want) {
			t.Errorf("View is missing %q", want)
		}
	}
}
