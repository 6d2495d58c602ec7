// Package editor is the params pane: a multi-line text area holding the
// JSON request parameters, with a round trip through $EDITOR.
package editor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tmc/mxlwb/session"
	"github.com/tmc/mxlwb/ui/keymap"
)

// ChangedMsg is emitted whenever the text changes.
type ChangedMsg struct {
	Value string
}

// editorFinishedMsg holds the content and error from the external editor.
type editorFinishedMsg struct {
	content string
	err     error
}

var invalidStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

// Model is the params editor.
type Model struct {
	textarea textarea.Model
	keyMap   keymap.KeyMap
	// Err is the last external editor failure.
	Err error
}

// New returns an editor holding text.
func New(km keymap.KeyMap, text string) Model {
	ta := textarea.New()
	ta.ShowLineNumbers = true
	ta.Prompt = ""
	ta.CharLimit = 0
	ta.SetValue(text)
	return Model{textarea: ta, keyMap: km}
}

func (m *Model) SetValue(s string) { m.textarea.SetValue(s) }
func (m Model) Value() string      { return m.textarea.Value() }
func (m *Model) Focus() tea.Cmd    { m.Err = nil; return m.textarea.Focus() }
func (m *Model) Blur()             { m.textarea.Blur() }
func (m Model) Focused() bool      { return m.textarea.Focused() }

// SetSize fits the editor into a pane, leaving a line for the status.
func (m *Model) SetSize(w, h int) {
	m.textarea.SetWidth(w)
	m.textarea.SetHeight(max(1, h-1))
}

// Validate reports whether the text is a valid params object.
func (m Model) Validate() error {
	_, err := session.ParseParams(m.Value())
	return err
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case editorFinishedMsg:
		if msg.err != nil {
			m.Err = msg.err
			return m, m.textarea.Focus()
		}
		m.textarea.SetValue(msg.content)
		return m, tea.Batch(m.textarea.Focus(), changed(msg.content))
	case tea.KeyMsg:
		if !m.textarea.Focused() {
			return m, nil
		}
		if key.Matches(msg, m.keyMap.Editor) {
			return m.launchExternalEditor()
		}
	}

	before := m.textarea.Value()
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	if after := m.textarea.Value(); after != before {
		cmd = tea.Batch(cmd, changed(after))
	}
	return m, cmd
}

func changed(v string) tea.Cmd {
	return func() tea.Msg { return ChangedMsg{Value: v} }
}

// View renders the text area and a validity line.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.textarea.View())
	b.WriteString("\n")
	switch {
	case m.Err != nil:
		b.WriteString(invalidStyle.Render(m.Err.Error()))
	default:
		if err := m.Validate(); err != nil {
			b.WriteString(invalidStyle.Render(err.Error()))
		}
	}
	return b.String()
}

// launchExternalEditor writes the params to a temp file and opens $EDITOR
// on it.
func (m Model) launchExternalEditor() (Model, tea.Cmd) {
	tmpFile, err := os.CreateTemp("", "mxlwb-params-*.json")
	if err != nil {
		m.Err = fmt.Errorf("temp file: %w", err)
		return m, nil
	}
	tempFilePath := tmpFile.Name()

	if _, err := tmpFile.WriteString(m.textarea.Value()); err != nil {
		tmpFile.Close()
		os.Remove(tempFilePath)
		m.Err = fmt.Errorf("write temp: %w", err)
		return m, nil
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tempFilePath)
		m.Err = fmt.Errorf("close temp: %w", err)
		return m, nil
	}

	m.textarea.Blur()
	return m, tea.ExecProcess(createEditorCmd(tempFilePath), editorCallback(tempFilePath))
}

// editorCallback handles the result of the external editor process.
func editorCallback(tempFilePath string) func(error) tea.Msg {
	return func(execErr error) tea.Msg {
		defer os.Remove(tempFilePath)
		if execErr != nil {
			return editorFinishedMsg{err: fmt.Errorf("editor command failed: %w", execErr)}
		}
		contentBytes, readErr := os.ReadFile(tempFilePath)
		if readErr != nil {
			return editorFinishedMsg{err: fmt.Errorf("read editor temp file: %w", readErr)}
		}
		return editorFinishedMsg{content: strings.TrimSuffix(string(contentBytes), "\n")}
	}
}

func createEditorCmd(tempFilePath string) *exec.Cmd {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vim"
	}
	quotedPath := "'" + strings.ReplaceAll(tempFilePath, "'", "'\\''") + "'"
	return exec.Command("sh", "-c", editor+" "+quotedPath)
}
