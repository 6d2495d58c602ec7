package message

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tmc/mxlwb/session"
)

// Msg is one renderable block of conversation or output.
type Msg struct {
	Type    MsgType `json:"type"`
	Content string  `json:"content"`
	// Stream is set for output blocks of a non-primary stream.
	Stream string `json:"stream,omitempty"`
	// Pending marks a reply that is still being generated.
	Pending bool `json:"pending,omitempty"`
}

type MsgType string

const (
	MsgTypeUser      MsgType = "user"
	MsgTypeAssistant MsgType = "assistant"
	MsgTypeHidden    MsgType = "hidden"
	MsgTypeError     MsgType = "error"
	MsgTypeSystem    MsgType = "system"
)

// --- Styles ---
var (
	UserStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // Bright blue

	AssistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // Cyan

	HiddenStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242")). // Gray
			Italic(true)

	SystemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Lighter Gray
			Italic(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Bright Red
			Bold(true)

	StreamStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("208")) // Orange-ish

	MessagePadding = lipgloss.NewStyle().PaddingLeft(1)
)

// FromTurns converts committed chat turns, and optionally the turn still in
// flight, into messages.
func FromTurns(turns []session.ChatTurn, inFlight *session.ChatTurn, partial string) []Msg {
	msgs := make([]Msg, 0, 2*len(turns)+2)
	for _, t := range turns {
		msgs = append(msgs,
			Msg{Type: MsgTypeUser, Content: t.Message.Content},
			Msg{Type: MsgTypeAssistant, Content: t.Reply.Content},
		)
	}
	if inFlight != nil {
		msgs = append(msgs,
			Msg{Type: MsgTypeUser, Content: inFlight.Message.Content},
			Msg{Type: MsgTypeAssistant, Content: partial, Pending: true},
		)
	}
	return msgs
}

// PartOptions controls how output parts are grouped into messages.
type PartOptions struct {
	// PrimaryStream is rendered without a stream label.
	PrimaryStream string
	// ShowHidden includes hidden text parts.
	ShowHidden bool
}

// FromParts groups consecutive output parts of the same stream and
// visibility into messages, preserving arrival order.
func FromParts(parts []session.OutputPart, opts PartOptions) []Msg {
	var msgs []Msg
	for _, p := range parts {
		var m Msg
		switch {
		case p.Kind == session.ErrorPart:
			m = Msg{Type: MsgTypeError, Content: p.Text}
		case p.Hidden && !opts.ShowHidden:
			continue
		case p.Hidden:
			m = Msg{Type: MsgTypeHidden, Content: p.Text}
		default:
			m = Msg{Type: MsgTypeAssistant, Content: p.Text}
		}
		if p.Stream != opts.PrimaryStream {
			m.Stream = p.Stream
		}
		if n := len(msgs); n > 0 && m.Type != MsgTypeError &&
			msgs[n-1].Type == m.Type && msgs[n-1].Stream == m.Stream {
			msgs[n-1].Content += m.Content
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// Render formats a message for display, considering terminal width.
func Render(msg Msg, width int) string {
	var prefix string
	var style lipgloss.Style

	switch msg.Type {
	case MsgTypeUser:
		prefix = UserStyle.Bold(true).Render("You:")
		style = UserStyle
	case MsgTypeAssistant:
		prefix = AssistantStyle.Bold(true).Render("Assistant:")
		style = AssistantStyle
	case MsgTypeHidden:
		prefix = HiddenStyle.Render("Hidden:")
		style = HiddenStyle
	case MsgTypeError:
		prefix = ErrorStyle.Render("Error:")
		style = ErrorStyle
	case MsgTypeSystem:
		prefix = SystemStyle.Render("System:")
		style = SystemStyle
	default:
		prefix = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Render("Unknown:")
		style = lipgloss.NewStyle()
	}
	if msg.Stream != "" {
		prefix = StreamStyle.Render("["+msg.Stream+"]") + " " + prefix
	}

	content := msg.Content
	if msg.Pending {
		content += "█"
	}

	prefixWidth := lipgloss.Width(prefix)
	paddingWidth := MessagePadding.GetPaddingLeft() + MessagePadding.GetPaddingRight()
	availableWidth := width - prefixWidth - paddingWidth
	if availableWidth < 10 {
		availableWidth = 10
	}

	renderedContent := style.Width(availableWidth).Render(content)

	lines := strings.Split(renderedContent, "\n")
	firstLine := prefix + MessagePadding.Render(lines[0])

	subsequentLines := ""
	if len(lines) > 1 {
		indent := strings.Repeat(" ", prefixWidth+MessagePadding.GetPaddingLeft())
		subsequentLines = "\n" + indent + strings.Join(lines[1:], "\n"+indent)
	}

	return firstLine + subsequentLines
}

// RenderAll renders msgs one after another.
func RenderAll(msgs []Msg, width int) string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = Render(m, width)
	}
	return strings.Join(out, "\n")
}
