package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultBasePrompt = `You are a legal research assistant helping users understand court opinions.
Answer the request below as accurately as possible. When excerpts from court opinions are provided, rely on them,
cite them using their bracketed reference number and say so when they are not sufficient to answer.

{history}

{context}

Request: {request}`

	defaultContextPrompt = `Here are excerpts from court opinions that may be relevant to the request:

{context}`

	defaultHistoryPrompt = `Here is the conversation so far:
{history}`

	defaultSummaryPrompt = `Summarize the following court opinion in a few paragraphs.
Keep the holding, the key facts, the reasoning of the court and the precedents it relies on.

{text}`
)

// loadPromptsFile overlays the non-empty templates found in a yaml file.
func loadPromptsFile(path string, prompts *PromptsConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read prompts file failed: %w", err)
	}

	var fromFile PromptsConfig
	if err := yaml.Unmarshal(raw, &fromFile); err != nil {
		return fmt.Errorf("decode prompts file failed: %w", err)
	}

	if fromFile.Base != "" {
		prompts.Base = fromFile.Base
	}
	if fromFile.Context != "" {
		prompts.Context = fromFile.Context
	}
	if fromFile.History != "" {
		prompts.History = fromFile.History
	}
	if fromFile.Summary != "" {
		prompts.Summary = fromFile.Summary
	}
	return nil
}
