package keymap

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the workbench keybindings.
// Using bubbles/key allows for help generation and context-aware enabling.
type KeyMap struct {
	// Scrolling (delegated to the focused pane's viewport)
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Top      key.Binding
	Bottom   key.Binding

	// Panes
	NextPane key.Binding // Tab
	PrevPane key.Binding // Shift+Tab
	Grow     key.Binding
	Shrink   key.Binding

	// Exchange control
	Send       key.Binding // Enter in chat, Ctrl+S anywhere
	Stop       key.Binding
	Clear      key.Binding
	Regenerate key.Binding
	Editor     key.Binding // Ctrl+X, params in $EDITOR

	// Chats
	NewChat    key.Binding
	NextChat   key.Binding
	DeleteChat key.Binding
	DeleteTurn key.Binding

	// View toggles
	ToggleHidden key.Binding
	ToggleDebug  key.Binding

	// Application Control
	Quit       key.Binding
	Suspend    key.Binding
	ToggleHelp key.Binding
}

// DefaultKeyMap returns the default workbench bindings. Keys that type text
// are avoided for everything except scrolling, which only applies to
// read-only panes.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up:       key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "up")),
		Down:     key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "down")),
		PageUp:   key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "page up")),
		PageDown: key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "page down")),
		Top:      key.NewBinding(key.WithKeys("home"), key.WithHelp("home", "go to top")),
		Bottom:   key.NewBinding(key.WithKeys("end"), key.WithHelp("end", "go to bottom")),

		NextPane: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next pane")),
		PrevPane: key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "previous pane")),
		Grow:     key.NewBinding(key.WithKeys("ctrl+right"), key.WithHelp("ctrl+→", "grow pane")),
		Shrink:   key.NewBinding(key.WithKeys("ctrl+left"), key.WithHelp("ctrl+←", "shrink pane")),

		Send:       key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "send")),
		Stop:       key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "stop")),
		Clear:      key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "clear output")),
		Regenerate: key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "regenerate")),
		Editor:     key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "edit params")),

		NewChat:    key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "new chat")),
		NextChat:   key.NewBinding(key.WithKeys("ctrl+o"), key.WithHelp("ctrl+o", "next chat")),
		DeleteChat: key.NewBinding(key.WithKeys("ctrl+w"), key.WithHelp("ctrl+w", "delete chat")),
		DeleteTurn: key.NewBinding(key.WithKeys("ctrl+k"), key.WithHelp("ctrl+k", "delete last turn")),

		ToggleHidden: key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "toggle hidden")),
		ToggleDebug:  key.NewBinding(key.WithKeys("ctrl+g"), key.WithHelp("ctrl+g", "toggle debug")),

		Quit:       key.NewBinding(key.WithKeys("ctrl+c", "ctrl+q"), key.WithHelp("ctrl+c", "quit")),
		Suspend:    key.NewBinding(key.WithKeys("ctrl+z"), key.WithHelp("ctrl+z", "suspend")),
		ToggleHelp: key.NewBinding(key.WithKeys("f1"), key.WithHelp("f1", "toggle help")),
	}
}
