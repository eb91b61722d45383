package bootstrap

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openlegalrag/internal/config"
	"openlegalrag/internal/pkg/logger"
	"openlegalrag/internal/vectorindex"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{
			OpenAIBaseURL: "http://localhost:1/v1",
			OpenAIAPIKey:  "sk-test",
			OllamaURL:     "http://localhost:11434",
			ContextWindow: 4096,
		},
		Embedding: config.EmbeddingConfig{
			Provider:      "ollama",
			Model:         "nomic-embed-text",
			BatchSize:     8,
			MaxTokens:     64,
			OverlapTokens: 8,
			Tokenizer:     "bpe",
			Encoding:      "cl100k_base",
		},
		VectorSearch: config.VectorSearchConfig{
			Backend:          "bolt",
			Path:             t.TempDir(),
			CollectionName:   "opinions",
			DistanceFunction: "cosine",
			NResults:         4,
		},
		RateLimit: config.RateLimitConfig{
			StorageURI: "memory://",
			Models:     "1/second",
			Search:     "120/hour",
			Complete:   "60/hour",
		},
	}
}

func TestNewProvidersRegistersConfiguredUpstreams(t *testing.T) {
	p, err := NewProviders(context.Background(), testConfig(t), logger.NewNop())
	require.NoError(t, err)
	defer p.Close()

	assert.ElementsMatch(t, []string{"openai", "ollama"}, p.Router.Providers())
	assert.Nil(t, p.Gemini)
}

func TestNewEmbeddingBackend(t *testing.T) {
	cfg := testConfig(t)
	backend, closeFn, err := NewEmbeddingBackend(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, backend)
	assert.NoError(t, closeFn())

	cfg.Embedding.Provider = "cohere"
	_, _, err = NewEmbeddingBackend(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpenIndexBolt(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	_, err := OpenIndex(ctx, cfg, true)
	assert.Error(t, err, "read-only open needs an existing index")

	idx, err := OpenIndex(ctx, cfg, false)
	require.NoError(t, err)
	require.NoError(t, idx.CreateCollection(ctx, "opinions", vectorindex.MetricCosine))
	require.NoError(t, idx.Close())

	ro, err := OpenIndex(ctx, cfg, true)
	require.NoError(t, err)
	defer ro.Close()
	n, err := ro.Count(ctx, "opinions")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.FileExists(t, filepath.Join(cfg.VectorSearch.Path, "index.db"))
}

func TestNewChunkerSelectsTokenizer(t *testing.T) {
	text := strings.Repeat("Judgment affirmed. ", 40)
	tests := []struct {
		name      string
		tokenizer string
		encoding  string
		wantErr   bool
	}{
		{name: "bpe", tokenizer: "bpe", encoding: "cl100k_base"},
		{name: "word", tokenizer: "word"},
		{name: "bad encoding", tokenizer: "bpe", encoding: "missing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Embedding.Tokenizer = tt.tokenizer
			cfg.Embedding.Encoding = tt.encoding
			chunker, err := NewChunker(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			chunks, err := chunker.Split("1", text)
			require.NoError(t, err)
			assert.Greater(t, len(chunks), 1)
		})
	}
}

func TestBuildLimiters(t *testing.T) {
	a := &App{Config: testConfig(t), Checks: map[string]func(ctx context.Context) error{}}
	require.NoError(t, a.buildLimiters(context.Background()))
	assert.Equal(t, 60, a.Limiters.Complete.Limit().Count)
	assert.Nil(t, a.Redis)
	assert.NotContains(t, a.Checks, "redis")

	a.Config.RateLimit.Search = "many/hour"
	assert.Error(t, a.buildLimiters(context.Background()))
}

func TestVectorIndexCheckDoesNotOpenIndex(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := New(ctx, cfg, logger.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Checks["vector_index"](ctx))
	assert.False(t, a.Initialised["retrieval"]())
	assert.NoFileExists(t, filepath.Join(cfg.VectorSearch.Path, "index.db"))

	idx, err := OpenIndex(ctx, cfg, false)
	require.NoError(t, err)
	require.NoError(t, idx.CreateCollection(ctx, "opinions", vectorindex.MetricCosine))
	require.NoError(t, idx.Close())

	_, err = a.Resources.Index(ctx)
	require.NoError(t, err)
	assert.True(t, a.Initialised["retrieval"]())
	assert.NoError(t, a.Checks["vector_index"](ctx))
}
