// Package debug renders the reconstructed request tree of a diagnostic
// stream: one entry per HTTP request, its token sequences beneath it, and
// each sequence's text.
package debug

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tmc/mxlwb/dbgtree"
)

var (
	requestStyle     = lipgloss.NewStyle().Bold(true)
	placeholderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	statusOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	statusErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	openStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	closedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	hiddenStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("242")).Italic(true)
	treeStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// View renders a dbgtree.State.
type View struct {
	Width int
	// ShowHidden includes hidden chunks in sequence text.
	ShowHidden bool
	// Collapsed hides the sequences of the named requests.
	Collapsed map[string]bool
	// MaxTextLines caps the text shown per sequence; zero means no cap.
	MaxTextLines int
}

// NewView returns a view with default settings.
func NewView() *View {
	return &View{Width: 80, MaxTextLines: 6, Collapsed: map[string]bool{}}
}

// Toggle collapses or expands a request.
func (v *View) Toggle(requestID string) {
	if v.Collapsed == nil {
		v.Collapsed = map[string]bool{}
	}
	v.Collapsed[requestID] = !v.Collapsed[requestID]
}

// Render draws the tree.
func (v *View) Render(s dbgtree.State) string {
	var b strings.Builder
	if s.Err != "" {
		b.WriteString(errorStyle.Render("stream error: "+s.Err) + "\n")
	}
	if s.Len() == 0 {
		b.WriteString(placeholderStyle.Render("no requests"))
		return b.String()
	}
	for i, r := range s.Requests() {
		if i > 0 {
			b.WriteString("\n")
		}
		v.renderRequest(&b, r)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderRequest draws a single request and its seqs.
func (v *View) RenderRequest(r *dbgtree.Request) string {
	var b strings.Builder
	v.renderRequest(&b, r)
	return strings.TrimRight(b.String(), "\n")
}

func (v *View) renderRequest(b *strings.Builder, r *dbgtree.Request) {
	b.WriteString(RequestLine(r))
	b.WriteString("\n")
	if v.Collapsed[r.ID] {
		return
	}
	seqs := r.Seqs()
	for i, q := range seqs {
		last := i == len(seqs)-1
		branch, stem := "├─ ", "│  "
		if last {
			branch, stem = "└─ ", "   "
		}
		b.WriteString(treeStyle.Render(branch) + SeqLine(q) + "\n")
		text := q.Text(v.ShowHidden)
		if text == "" {
			continue
		}
		for _, line := range v.textLines(q, len(stem)) {
			b.WriteString(treeStyle.Render(stem) + "   " + line + "\n")
		}
	}
}

func (v *View) textLines(q *dbgtree.Seq, indent int) []string {
	width := v.Width - indent - 3
	if width < 10 {
		width = 10
	}
	var parts []string
	for _, c := range q.Chunks() {
		switch {
		case c.Hidden && !v.ShowHidden:
		case c.Hidden:
			parts = append(parts, hiddenStyle.Render(c.Text))
		default:
			parts = append(parts, c.Text)
		}
	}
	wrapped := lipgloss.NewStyle().Width(width).Render(strings.Join(parts, ""))
	lines := strings.Split(wrapped, "\n")
	if v.MaxTextLines > 0 && len(lines) > v.MaxTextLines {
		n := len(lines) - v.MaxTextLines
		lines = append(lines[:v.MaxTextLines], placeholderStyle.Render(fmt.Sprintf("… %d more lines", n)))
	}
	return lines
}

// RequestLine summarizes a request on one line.
func RequestLine(r *dbgtree.Request) string {
	var head string
	if r.Placeholder {
		head = placeholderStyle.Render("? " + r.ID)
	} else {
		head = requestStyle.Render(r.Method + " " + r.URL)
	}
	fields := []string{head}
	if r.Status != 0 {
		st := statusOKStyle
		if r.Status >= 400 {
			st = statusErrStyle
		}
		fields = append(fields, st.Render(fmt.Sprintf("[%d]", r.Status)))
	}
	if n := len(r.Seqs()); n > 0 {
		fields = append(fields, fmt.Sprintf("%d seq", n))
	}
	if r.Finished() && !r.Placeholder {
		fields = append(fields, closedStyle.Render(fmt.Sprintf("%dms", int64(r.FinishTS.TS-r.StartTS))))
	} else if !r.Finished() {
		fields = append(fields, openStyle.Render("running"))
	}
	return strings.Join(fields, "  ")
}

// SeqLine summarizes a sequence on one line.
func SeqLine(q *dbgtree.Seq) string {
	var state string
	switch {
	case q.Placeholder:
		state = placeholderStyle.Render("pending")
	case q.Open:
		state = openStyle.Render("open")
	default:
		state = closedStyle.Render("closed")
	}
	return fmt.Sprintf("seq %s  %s  %d chunks", q.ID, state, q.ChunkCount())
}
