package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"openlegalrag/internal/ai"
	"openlegalrag/internal/config"
	"openlegalrag/internal/pkg/logger"
	postgresClient "openlegalrag/internal/platform/postgres"
	"openlegalrag/internal/rag"
	"openlegalrag/internal/vectorindex"
)

// Providers holds the completion router and the clients behind it.
type Providers struct {
	Router *ai.Router
	OpenAI *ai.OpenAICompatibleClient
	Ollama *ai.OllamaClient
	Gemini *ai.GeminiClient
}

func (p *Providers) Close() error {
	if p.Gemini != nil {
		return p.Gemini.Close()
	}
	return nil
}

// NewProviders registers a provider for every configured upstream: openai
// when an API key is set, ollama when a URL is set, gemini when a key is set.
func NewProviders(ctx context.Context, cfg *config.Config, log logger.ILogger) (*Providers, error) {
	p := &Providers{Router: ai.NewRouter(log)}

	if cfg.LLM.OpenAIAPIKey != "" {
		p.OpenAI = ai.NewOpenAICompatibleClient(cfg.LLM.OpenAIBaseURL, cfg.LLM.OpenAIAPIKey)
		p.Router.Register("openai", p.OpenAI)
	}
	if cfg.LLM.OllamaURL != "" {
		p.Ollama = ai.NewOllamaClient(cfg.LLM.OllamaURL)
		p.Router.Register("ollama", p.Ollama)
	}
	if cfg.LLM.GeminiAPIKey != "" {
		gemini, err := ai.NewGeminiClient(ctx, cfg.LLM.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create gemini client failed: %w", err)
		}
		p.Gemini = gemini
		p.Router.Register("gemini", p.Gemini)
	}

	log.Info("bootstrap", "completion providers registered", map[string]interface{}{
		"providers": strings.Join(p.Router.Providers(), ","),
	})
	return p, nil
}

// NewEmbeddingBackend builds the backend named by embedding.provider. It
// reuses the completion clients' settings when the embedding section leaves
// its own URL or key empty.
func NewEmbeddingBackend(ctx context.Context, cfg *config.Config) (ai.EmbeddingBackend, func() error, error) {
	e := cfg.Embedding
	noop := func() error { return nil }

	switch e.Provider {
	case "openai":
		baseURL, apiKey := e.BaseURL, e.APIKey
		if baseURL == "" {
			baseURL = cfg.LLM.OpenAIBaseURL
		}
		if apiKey == "" {
			apiKey = cfg.LLM.OpenAIAPIKey
		}
		return ai.NewOpenAIEmbeddings(ai.NewOpenAICompatibleClient(baseURL, apiKey), e.Model, e.BatchSize), noop, nil
	case "ollama":
		baseURL := e.BaseURL
		if baseURL == "" {
			baseURL = cfg.LLM.OllamaURL
		}
		return ai.NewOllamaEmbeddings(ai.NewOllamaClient(baseURL), e.Model, e.BatchSize), noop, nil
	case "gemini":
		apiKey := e.APIKey
		if apiKey == "" {
			apiKey = cfg.LLM.GeminiAPIKey
		}
		client, err := ai.NewGeminiClient(ctx, apiKey)
		if err != nil {
			return nil, nil, fmt.Errorf("create gemini embedding client failed: %w", err)
		}
		return ai.NewGeminiEmbeddings(client, e.Model, e.BatchSize), client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown embedding provider %q", e.Provider)
}

// OpenIndex opens the configured vector index backend. The server opens bolt
// read-only so it can share the file with other readers.
func OpenIndex(ctx context.Context, cfg *config.Config, readOnly bool) (vectorindex.Index, error) {
	switch cfg.VectorSearch.Backend {
	case "pgvector":
		db, err := postgresClient.New(ctx, cfg.VectorSearch.PostgresDSN)
		if err != nil {
			return nil, err
		}
		idx, err := vectorindex.NewPgvector(ctx, db)
		if err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return nil, err
		}
		return idx, nil
	default:
		return vectorindex.OpenBolt(cfg.VectorSearch.Path, readOnly)
	}
}

// NewTokenizer counts in BPE tokens of embedding.encoding unless
// embedding.tokenizer is "word".
func NewTokenizer(cfg *config.Config) (rag.Tokenizer, error) {
	if cfg.Embedding.Tokenizer == "word" {
		return rag.WordTokenizer{}, nil
	}
	return rag.NewBPETokenizer(cfg.Embedding.Encoding)
}

func NewChunker(cfg *config.Config) (*rag.Chunker, error) {
	tokenizer, err := NewTokenizer(cfg)
	if err != nil {
		return nil, err
	}
	return rag.NewChunker(tokenizer, cfg.Embedding.MaxTokens, cfg.Embedding.OverlapTokens, cfg.Embedding.PassagePrefix)
}

func PromptTemplates(cfg *config.Config) rag.Templates {
	return rag.Templates{
		Base:    cfg.Prompts.Base,
		Context: cfg.Prompts.Context,
		History: cfg.Prompts.History,
	}
}
