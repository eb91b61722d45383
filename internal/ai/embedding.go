package ai

import (
	"context"
	"fmt"
)

const defaultEmbeddingBatchSize = 32

type embedFunc func(ctx context.Context, texts []string, task EmbeddingTask) ([][]float32, error)

// batchedEmbeddings splits large inputs into provider-sized requests and
// concatenates the results in input order.
type batchedEmbeddings struct {
	embed     embedFunc
	batchSize int
}

func newBatched(fn embedFunc, batchSize int) *batchedEmbeddings {
	if batchSize <= 0 {
		batchSize = defaultEmbeddingBatchSize
	}
	return &batchedEmbeddings{embed: fn, batchSize: batchSize}
}

func (b *batchedEmbeddings) EmbedBatch(ctx context.Context, texts []string, task EmbeddingTask) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := b.embed(ctx, texts[start:end], task)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d failed: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embed batch %d-%d returned %d vectors", start, end, len(vectors))
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func NewOpenAIEmbeddings(client *OpenAICompatibleClient, model string, batchSize int) EmbeddingBackend {
	return newBatched(func(ctx context.Context, texts []string, _ EmbeddingTask) ([][]float32, error) {
		return client.EmbedBatch(ctx, model, texts)
	}, batchSize)
}

func NewOllamaEmbeddings(client *OllamaClient, model string, batchSize int) EmbeddingBackend {
	return newBatched(func(ctx context.Context, texts []string, _ EmbeddingTask) ([][]float32, error) {
		return client.EmbedBatch(ctx, model, texts)
	}, batchSize)
}

// NewGeminiEmbeddings passes the retrieval task through, so documents and
// queries are embedded with the matching task type.
func NewGeminiEmbeddings(client *GeminiClient, model string, batchSize int) EmbeddingBackend {
	return newBatched(func(ctx context.Context, texts []string, task EmbeddingTask) ([][]float32, error) {
		return client.EmbedBatch(ctx, model, texts, task)
	}, batchSize)
}
