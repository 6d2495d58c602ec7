package statusbar

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name  string
		width int
		data  StatusData
		want  []string
	}{
		{
			name:  "run state only",
			width: 60,
			data:  StatusData{RunState: "ready"},
			want:  []string{"READY"},
		},
		{
			name:  "pane chat and debug",
			width: 100,
			data:  StatusData{RunState: "generating", Pane: "chat", Chat: "Untitled Chat", Debug: "streaming"},
			want:  []string{"GENERATING", "chat", "chat: Untitled Chat", "debug:", "STREAMING"},
		},
		{
			name:  "custom messages",
			width: 80,
			data:  StatusData{RunState: "error", CustomMessages: []string{"connection refused"}},
			want:  []string{"ERROR", "connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.width, tt.data)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Render() = %q, missing %q", got, w)
				}
			}
			if gw := lipgloss.Width(got); gw != tt.width {
				t.Errorf("Render() width = %d, want %d", gw, tt.width)
			}
		})
	}
}

func TestRenderZeroWidth(t *testing.T) {
	if got := Render(0, StatusData{RunState: "ready"}); got != "" {
		t.Errorf("Render(0) = %q, want empty", got)
	}
}
