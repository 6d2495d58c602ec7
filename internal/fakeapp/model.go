package fakeapp

import (
	"context"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// EchoModel is an llms.Model that answers with the last human message,
// streamed one word at a time.
type EchoModel struct {
	// Prefix is prepended to the echoed text.
	Prefix string
	// Delay is the pause between streamed words.
	Delay time.Duration
}

var _ llms.Model = (*EchoModel)(nil)

// Call implements the llms.Model interface
func (m *EchoModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// GenerateContent implements the llms.Model interface
func (m *EchoModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	text := m.Prefix + lastHumanText(messages)
	response := &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text}},
	}

	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.StreamingFunc == nil {
		return response, nil
	}

	words := strings.Fields(text)
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		if err := opts.StreamingFunc(ctx, []byte(word)); err != nil {
			return response, err
		}
		select {
		case <-ctx.Done():
			return response, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	return response, nil
}

func lastHumanText(messages []llms.MessageContent) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != llms.ChatMessageTypeHuman {
			continue
		}
		var parts []string
		for _, p := range messages[i].Parts {
			if t, ok := p.(llms.TextContent); ok {
				parts = append(parts, t.Text)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}
