package rag

import (
	"errors"
	"fmt"

	"openlegalrag/internal/ai"
)

var ErrTrimBudget = errors.New("prompt does not fit the context window")

// per-message framing tokens added by chat APIs
const messageOverheadTokens = 4

// TrimMessages drops the oldest turns until the estimated token count fits in
// contextWindow minus the tokens reserved for the answer. The last message is
// always kept; if it alone is too large the input is returned with ErrTrimBudget.
// A non-positive contextWindow disables trimming.
func TrimMessages(messages []ai.ChatMessage, contextWindow, reserved int, tokenizer Tokenizer) ([]ai.ChatMessage, error) {
	if contextWindow <= 0 || len(messages) == 0 {
		return messages, nil
	}
	if tokenizer == nil {
		tokenizer = WordTokenizer{}
	}
	budget := contextWindow - reserved

	counts := make([]int, len(messages))
	total := 0
	for i, m := range messages {
		counts[i] = len(tokenizer.Tokenize(m.Content)) + messageOverheadTokens
		total += counts[i]
	}

	last := len(messages) - 1
	if counts[last] > budget {
		return messages, fmt.Errorf("%w: final message needs %d tokens, budget %d", ErrTrimBudget, counts[last], budget)
	}

	start := 0
	for total > budget && start < last {
		total -= counts[start]
		start++
	}
	return messages[start:], nil
}
