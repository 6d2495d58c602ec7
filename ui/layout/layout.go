// Package layout renders a recursive tree of panes.
//
// A tree is built from two node kinds: a Leaf names a pane whose content is
// supplied at render time, and a Split divides its area between two child
// nodes. Rendering and updates are plain structural recursion over the tree;
// trees are values and every update returns a new tree.
package layout

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Direction is the axis along which a Split divides its area.
type Direction int

const (
	// Horizontal places A to the left of B.
	Horizontal Direction = iota
	// Vertical places A above B.
	Vertical
)

func (d Direction) String() string {
	if d == Vertical {
		return "vertical"
	}
	return "horizontal"
}

// Ratio bounds.
const (
	MinRatio = 0.1
	MaxRatio = 0.9
)

// Node is a Leaf or a Split.
type Node interface {
	node()
}

// Leaf is a pane, identified by name.
type Leaf struct {
	Pane string
}

// Split divides its area between A and B. Ratio is A's share.
type Split struct {
	Direction Direction
	Ratio     float64
	A, B      Node
}

func (Leaf) node()  {}
func (Split) node() {}

// NewLeaf returns a leaf for pane.
func NewLeaf(pane string) Leaf { return Leaf{Pane: pane} }

// NewSplit returns a split with a clamped ratio.
func NewSplit(d Direction, ratio float64, a, b Node) Split {
	return Split{Direction: d, Ratio: clampRatio(ratio), A: a, B: b}
}

// ContentFunc produces the content of pane for an area of the given size.
type ContentFunc func(pane string, width, height int) string

// Render draws n into a width x height area. Each pane's content is
// clipped and padded to exactly its share of the area.
func Render(n Node, width, height int, content ContentFunc) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	switch n := n.(type) {
	case Leaf:
		return fit(content(n.Pane, width, height), width, height)
	case Split:
		if n.Direction == Horizontal {
			wa, wb := divide(width, n.Ratio)
			if wb == 0 {
				return Render(n.A, width, height, content)
			}
			if wa == 0 {
				return Render(n.B, width, height, content)
			}
			return lipgloss.JoinHorizontal(lipgloss.Top,
				Render(n.A, wa, height, content),
				Render(n.B, wb, height, content))
		}
		ha, hb := divide(height, n.Ratio)
		if hb == 0 {
			return Render(n.A, width, height, content)
		}
		if ha == 0 {
			return Render(n.B, width, height, content)
		}
		return lipgloss.JoinVertical(lipgloss.Left,
			Render(n.A, width, ha, content),
			Render(n.B, width, hb, content))
	}
	return ""
}

// Size reports the area pane would be given if n were rendered into a
// width x height area. ok is false if the pane is absent or collapsed.
func Size(n Node, pane string, width, height int) (w, h int, ok bool) {
	if width <= 0 || height <= 0 {
		return 0, 0, false
	}
	switch n := n.(type) {
	case Leaf:
		return width, height, n.Pane == pane
	case Split:
		if n.Direction == Horizontal {
			wa, wb := divide(width, n.Ratio)
			if w, h, ok := Size(n.A, pane, wa, height); ok {
				return w, h, true
			}
			return Size(n.B, pane, wb, height)
		}
		ha, hb := divide(height, n.Ratio)
		if w, h, ok := Size(n.A, pane, width, ha); ok {
			return w, h, true
		}
		return Size(n.B, pane, width, hb)
	}
	return 0, 0, false
}

// Panes lists the leaves of n from left to right, top to bottom.
func Panes(n Node) []string {
	switch n := n.(type) {
	case Leaf:
		return []string{n.Pane}
	case Split:
		return append(Panes(n.A), Panes(n.B)...)
	}
	return nil
}

// Resize grows pane by delta within its innermost enclosing split. A
// negative delta shrinks it. Trees that do not contain pane are returned
// unchanged.
func Resize(n Node, pane string, delta float64) Node {
	out, _ := resize(n, pane, delta)
	return out
}

func resize(n Node, pane string, delta float64) (Node, bool) {
	s, ok := n.(Split)
	if !ok {
		return n, false
	}
	if a, done := resize(s.A, pane, delta); done {
		s.A = a
		return s, true
	}
	if b, done := resize(s.B, pane, delta); done {
		s.B = b
		return s, true
	}
	switch {
	case isLeaf(s.A, pane):
		s.Ratio = clampRatio(s.Ratio + delta)
	case isLeaf(s.B, pane):
		s.Ratio = clampRatio(s.Ratio - delta)
	default:
		return s, false
	}
	return s, true
}

// Replace substitutes the leaf named pane with repl.
func Replace(n Node, pane string, repl Node) Node {
	switch n := n.(type) {
	case Leaf:
		if n.Pane == pane {
			return repl
		}
		return n
	case Split:
		n.A = Replace(n.A, pane, repl)
		n.B = Replace(n.B, pane, repl)
		return n
	}
	return n
}

// Remove drops the leaf named pane; its parent split is replaced by the
// sibling. Removing the only leaf of a tree yields nil.
func Remove(n Node, pane string) Node {
	switch n := n.(type) {
	case Leaf:
		if n.Pane == pane {
			return nil
		}
		return n
	case Split:
		a, b := Remove(n.A, pane), Remove(n.B, pane)
		switch {
		case a == nil:
			return b
		case b == nil:
			return a
		}
		n.A, n.B = a, b
		return n
	}
	return n
}

func isLeaf(n Node, pane string) bool {
	l, ok := n.(Leaf)
	return ok && l.Pane == pane
}

func divide(total int, ratio float64) (int, int) {
	a := int(float64(total)*clampRatio(ratio) + 0.5)
	if a > total {
		a = total
	}
	return a, total - a
}

func clampRatio(r float64) float64 {
	if r < MinRatio {
		return MinRatio
	}
	if r > MaxRatio {
		return MaxRatio
	}
	return r
}

// fit clips s to width x height, keeping the last lines, and pads it to
// fill the area.
func fit(s string, width, height int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	return lipgloss.NewStyle().
		Width(width).
		Height(height).
		MaxWidth(width).
		MaxHeight(height).
		Render(strings.Join(lines, "\n"))
}
