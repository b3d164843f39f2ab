package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/vireopay/dialog/internal/contextbuilder"
	"github.com/vireopay/dialog/internal/observability"
	"github.com/vireopay/dialog/pkg/models"
)

const summarizerPrompt = `You condense customer support conversations for a payments assistant.
Write a short third-person summary of the transcript: what the user wanted, what was done, and any open items.
Keep amounts, references, and recipient names. Five sentences at most. No preamble.`

// Summarizer condenses conversation history through the configured provider.
// It implements the session compactor's summariser contract.
type Summarizer struct {
	provider Provider
	model    string
	logger   *observability.Logger
}

func NewSummarizer(provider Provider, model string, logger *observability.Logger) *Summarizer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Summarizer{provider: provider, model: model, logger: logger}
}

// Summarize folds the transcript into a running summary, carrying the
// previous summary forward.
func (s *Summarizer) Summarize(ctx context.Context, previous, transcript string) (string, error) {
	var sb strings.Builder
	if previous != "" {
		sb.WriteString("Earlier summary:\n")
		sb.WriteString(previous)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Transcript:\n")
	sb.WriteString(transcript)

	completion, err := s.provider.Complete(ctx, &contextbuilder.Request{
		SystemPrompt: summarizerPrompt,
		Messages: []contextbuilder.ChatMessage{
			{Role: models.RoleUser, Content: sb.String()},
		},
		Model:     s.model,
		MaxTokens: 512,
	})
	if err != nil {
		return "", fmt.Errorf("summarize history: %w", err)
	}
	text := strings.TrimSpace(completion.Text)
	if text == "" {
		return "", fmt.Errorf("summarize history: empty completion")
	}
	return text, nil
}
