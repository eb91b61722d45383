package rag

import (
	"context"
	"fmt"
	"strings"

	"openlegalrag/internal/ai"
	"openlegalrag/internal/dataset"
)

// CompletionClient is the part of ai.Router used for one-shot completions.
type CompletionClient interface {
	Complete(ctx context.Context, modelID string, messages []ai.ChatMessage, opts ...ai.Option) (*ai.Completion, error)
}

type Summarizer struct {
	llm      CompletionClient
	model    string
	template string
}

// NewSummarizer uses template with a {text} placeholder as the instruction.
func NewSummarizer(llm CompletionClient, model, template string) *Summarizer {
	return &Summarizer{llm: llm, model: model, template: template}
}

// Summarize returns the model's summary of text, introduced by a sentence naming the case and court.
func (s *Summarizer) Summarize(ctx context.Context, c dataset.Case, text string) (string, error) {
	prompt := strings.ReplaceAll(s.template, "{text}", text)
	out, err := s.llm.Complete(ctx, s.model, []ai.ChatMessage{{Role: "user", Content: prompt}}, ai.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("summarize with %s failed: %w", s.model, err)
	}
	summary := strings.TrimSpace(out.Text)
	if summary == "" {
		return "", fmt.Errorf("summarize with %s returned an empty response", s.model)
	}
	return SummaryIntro(c) + summary, nil
}

func SummaryIntro(c dataset.Case) string {
	return fmt.Sprintf("The following is a summary of %s, decided by %s on %s:\n\n", c.DisplayName(), c.CourtFullName, c.DateFiled)
}
