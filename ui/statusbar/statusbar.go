package statusbar

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Style definitions for the status bar
var (
	statusBarStyle = lipgloss.NewStyle().
			Reverse(true) // Invert colors for status bar look

	statusTextStyle = lipgloss.NewStyle().Inherit(statusBarStyle)

	separatorStyle = statusTextStyle.Copy().Foreground(lipgloss.Color("240")) // Dim gray

	paneStyle = statusTextStyle.Copy().Bold(true)

	// Run-state label colors, keyed by the state's String form.
	runStateColors = map[string]lipgloss.Color{
		"ready":        lipgloss.Color("82"),  // Green
		"connecting":   lipgloss.Color("220"), // Yellow
		"queued":       lipgloss.Color("214"), // Orange
		"generating":   lipgloss.Color("39"),  // Blue
		"streaming":    lipgloss.Color("39"),
		"error":        lipgloss.Color("196"), // Red
		"disconnected": lipgloss.Color("245"),
	}
)

// StatusData holds the information for the status bar.
type StatusData struct {
	RunState       string // Session run state, e.g. "generating"
	Pane           string // Focused pane
	Chat           string // Active chat name, if any
	Debug          string // Diagnostic stream state, empty when not monitoring
	CustomMessages []string
}

// RunStateLabel renders a run state with its color.
func RunStateLabel(state string) string {
	st := statusTextStyle.Copy().Bold(true)
	if c, ok := runStateColors[state]; ok {
		st = st.Foreground(c)
	}
	return st.Render(fmt.Sprintf(" %s ", strings.ToUpper(state)))
}

// Render creates the status bar string
func Render(width int, data StatusData) string {
	if width <= 0 {
		return ""
	}

	sep := separatorStyle.Render(" │ ")

	leftSections := []string{RunStateLabel(data.RunState)}
	if data.Pane != "" {
		leftSections = append(leftSections, paneStyle.Render(fmt.Sprintf(" %s ", data.Pane)))
	}
	if data.Chat != "" {
		leftSections = append(leftSections, statusTextStyle.Render(fmt.Sprintf(" chat: %s ", data.Chat)))
	}
	left := strings.Join(leftSections, sep)

	right := ""
	if data.Debug != "" {
		right = statusTextStyle.Render(" debug: ") + RunStateLabel(data.Debug)
	}
	customStr := strings.Join(data.CustomMessages, sep)

	leftWidth := lipgloss.Width(left)
	rightWidth := lipgloss.Width(right)
	customWidth := lipgloss.Width(customStr)

	fixedWidth := leftWidth + rightWidth
	if customWidth > 0 {
		fixedWidth += lipgloss.Width(sep) + customWidth
	}

	paddingWidth := width - fixedWidth
	if paddingWidth < 0 {
		paddingWidth = 0
	}

	var middle string
	if customWidth > 0 {
		middle = sep + customStr + strings.Repeat(" ", paddingWidth)
	} else {
		middle = strings.Repeat(" ", paddingWidth)
	}

	finalStr := left + middle + right

	return statusBarStyle.Width(width).MaxWidth(width).Render(finalStr)
}
