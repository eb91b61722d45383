package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	models  []string
	listErr error
	lastMdl string
}

func (f *fakeCompleter) Complete(_ context.Context, model string, messages []ChatMessage, _ ...Option) (*Completion, error) {
	f.lastMdl = model
	return &Completion{Text: "echo: " + messages[len(messages)-1].Content}, nil
}

func (f *fakeCompleter) Stream(_ context.Context, model string, messages []ChatMessage, onChunk func(string) error, _ ...Option) (*Completion, error) {
	f.lastMdl = model
	text := messages[len(messages)-1].Content
	for _, word := range strings.Fields(text) {
		if err := onChunk(word); err != nil {
			return nil, err
		}
	}
	return &Completion{Text: text}, nil
}

func (f *fakeCompleter) ListModels(context.Context) ([]string, error) {
	return f.models, f.listErr
}

func TestRouterResolve(t *testing.T) {
	openai := &fakeCompleter{}
	router := NewRouter(nil)
	router.Register("openai", openai)

	tests := []struct {
		id      string
		model   string
		wantErr bool
	}{
		{id: "openai/gpt-4o", model: "gpt-4o"},
		{id: "openai/ft:gpt-4o/custom", model: "ft:gpt-4o/custom"},
		{id: "ollama/llama3", wantErr: true},
		{id: "gpt-4o", wantErr: true},
		{id: "openai/", wantErr: true},
		{id: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			provider, model, err := router.Resolve(tt.id)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnknownModel))
				return
			}
			require.NoError(t, err)
			assert.Same(t, openai, provider)
			assert.Equal(t, tt.model, model)
		})
	}
}

func TestRouterDispatchesWithoutPrefix(t *testing.T) {
	ollama := &fakeCompleter{}
	router := NewRouter(nil)
	router.Register("ollama", ollama)

	out, err := router.Complete(context.Background(), "ollama/phi3", []ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out.Text)
	assert.Equal(t, "phi3", ollama.lastMdl)

	var chunks []string
	_, err = router.Stream(context.Background(), "ollama/phi3", []ChatMessage{{Role: "user", Content: "a b"}},
		func(c string) error { chunks = append(chunks, c); return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, chunks)
}

func TestRouterListModelsSkipsFailingProvider(t *testing.T) {
	router := NewRouter(nil)
	router.Register("openai", &fakeCompleter{models: []string{"gpt-4o"}})
	router.Register("ollama", &fakeCompleter{listErr: errors.New("connection refused")})
	router.Register("gemini", &fakeCompleter{models: []string{"gemini-1.5-flash"}})

	assert.Equal(t, []string{"openai/gpt-4o", "gemini/gemini-1.5-flash"}, router.ListModels(context.Background()))
	assert.Equal(t, []string{"openai", "ollama", "gemini"}, router.Providers())
}

func TestBatchedEmbeddingsKeepsOrder(t *testing.T) {
	var calls [][]string
	backend := newBatched(func(_ context.Context, texts []string, task EmbeddingTask) ([][]float32, error) {
		assert.Equal(t, TaskRetrievalDocument, task)
		calls = append(calls, append([]string(nil), texts...))
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = []float32{float32(len(text))}
		}
		return out, nil
	}, 2)

	vectors, err := backend.EmbedBatch(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"}, TaskRetrievalDocument)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}, {3}, {4}, {5}}, vectors)
	assert.Equal(t, [][]string{{"a", "bb"}, {"ccc", "dddd"}, {"eeeee"}}, calls)
}

func TestBatchedEmbeddingsRejectsShortResponse(t *testing.T) {
	backend := newBatched(func(context.Context, []string, EmbeddingTask) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}, 4)
	_, err := backend.EmbedBatch(context.Background(), []string{"a", "b"}, TaskRetrievalQuery)
	assert.Error(t, err)
}
