package rag

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"openlegalrag/internal/ai"
)

// Embedder turns passages and queries into vectors through one embedding backend.
// Passages and queries go through the same backend with different bias prefixes.
type Embedder struct {
	backend    ai.EmbeddingBackend
	queryCache *gocache.Cache
}

func NewEmbedder(backend ai.EmbeddingBackend, queryCacheTTL time.Duration) *Embedder {
	e := &Embedder{backend: backend}
	if queryCacheTTL > 0 {
		e.queryCache = gocache.New(queryCacheTTL, 2*queryCacheTTL)
	}
	return e
}

// Encode embeds passages: one vector per text, in input order.
func (e *Embedder) Encode(ctx context.Context, texts []string, normalize bool, prefix string) ([][]float32, error) {
	return e.encode(ctx, texts, normalize, prefix, ai.TaskRetrievalDocument)
}

// EncodeQuery embeds a single retrieval query. Results are cached per
// (prefix, normalize, text).
func (e *Embedder) EncodeQuery(ctx context.Context, text string, normalize bool, prefix string) ([]float32, error) {
	key := prefix + "|" + strconv.FormatBool(normalize) + "|" + text
	if e.queryCache != nil {
		if cached, ok := e.queryCache.Get(key); ok {
			return cached.([]float32), nil
		}
	}
	vectors, err := e.encode(ctx, []string{text}, normalize, prefix, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	if e.queryCache != nil {
		e.queryCache.SetDefault(key, vectors[0])
	}
	return vectors[0], nil
}

func (e *Embedder) encode(ctx context.Context, texts []string, normalize bool, prefix string, task ai.EmbeddingTask) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = prefix + t
	}

	vectors, err := e.backend.EmbedBatch(ctx, inputs, task)
	if err != nil {
		return nil, fmt.Errorf("embed %d texts failed: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding backend returned %d vectors for %d texts", len(vectors), len(texts))
	}
	if normalize {
		for i := range vectors {
			vectors[i] = L2Normalize(vectors[i])
		}
	}
	return vectors, nil
}

// L2Normalize returns v scaled to unit length. Zero vectors are returned unchanged.
func L2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
