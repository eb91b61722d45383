package ai

import (
	"context"
	"errors"
)

var (
	ErrUnknownModel   = errors.New("unknown or unavailable model")
	ErrEmptyEmbedding = errors.New("empty embedding in response")
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Completion struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

type Options struct {
	Temperature float64
	// MaxTokens caps the generated tokens; zero leaves it to the provider.
	MaxTokens int
}

type Option func(*Options)

func WithTemperature(temperature float64) Option {
	return func(o *Options) {
		o.Temperature = temperature
	}
}

func WithMaxTokens(maxTokens int) Option {
	return func(o *Options) {
		o.MaxTokens = maxTokens
	}
}

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Completer is one upstream chat API. Model ids passed to it carry no provider prefix.
type Completer interface {
	Complete(ctx context.Context, model string, messages []ChatMessage, opts ...Option) (*Completion, error)
	// Stream forwards text fragments to onChunk in arrival order. An error returned by
	// onChunk, or a cancelled ctx, stops the stream and releases the connection.
	Stream(ctx context.Context, model string, messages []ChatMessage, onChunk func(chunk string) error, opts ...Option) (*Completion, error)
	ListModels(ctx context.Context) ([]string, error)
}

// EmbeddingTask tells task-aware backends which side of retrieval a text is on.
type EmbeddingTask string

const (
	TaskRetrievalDocument EmbeddingTask = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    EmbeddingTask = "RETRIEVAL_QUERY"
)

type EmbeddingBackend interface {
	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string, task EmbeddingTask) ([][]float32, error)
}
