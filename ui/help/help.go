package help

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/tmc/mxlwb/ui/keymap"
)

// Ensure Model implements help.KeyMap
var _ help.KeyMap = (*Model)(nil)

// Model wraps the bubbles/help model for integration.
type Model struct {
	inner  help.Model
	keyMap keymap.KeyMap
	Show   bool // Whether the full help view is visible
}

// New creates a new help model.
func New(mainKeyMap keymap.KeyMap) Model {
	h := help.New()
	h.ShowAll = true
	return Model{
		inner:  h,
		keyMap: mainKeyMap,
	}
}

// Init does nothing.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages, primarily toggling help visibility.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keyMap.ToggleHelp) {
			m.Show = !m.Show
		}
	case tea.WindowSizeMsg:
		m.inner.Width = msg.Width
	}
	return m, nil
}

// View renders the full help when shown and a one-line hint otherwise.
func (m Model) View() string {
	if !m.Show {
		return m.inner.ShortHelpView(m.ShortHelp())
	}
	return m.inner.View(m)
}

// ShortHelp returns the bindings for the short help view.
func (m Model) ShortHelp() []key.Binding {
	return []key.Binding{
		m.keyMap.Send,
		m.keyMap.Stop,
		m.keyMap.NextPane,
		m.keyMap.Quit,
		m.keyMap.ToggleHelp,
	}
}

// FullHelp returns the bindings for the full help view, grouped by concern.
func (m Model) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{ // Scrolling and panes
			m.keyMap.Up, m.keyMap.Down, m.keyMap.PageUp, m.keyMap.PageDown,
			m.keyMap.NextPane, m.keyMap.PrevPane, m.keyMap.Grow, m.keyMap.Shrink,
		},
		{ // Exchange
			m.keyMap.Send, m.keyMap.Stop, m.keyMap.Clear, m.keyMap.Regenerate, m.keyMap.Editor,
		},
		{ // Chats
			m.keyMap.NewChat, m.keyMap.NextChat, m.keyMap.DeleteChat, m.keyMap.DeleteTurn,
		},
		{ // App Control
			m.keyMap.ToggleHidden, m.keyMap.ToggleDebug, m.keyMap.Quit, m.keyMap.Suspend, m.keyMap.ToggleHelp,
		},
	}
}

// SetWidth updates the width for the help view.
func (m *Model) SetWidth(w int) {
	m.inner.Width = w
}
