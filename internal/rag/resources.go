package rag

import (
	"context"
	"sync"

	"openlegalrag/internal/vectorindex"
)

// ResourceProvider lazily builds the embedder and the index handle once per
// process and hands out the shared instances. A failed build is retried on the
// next call.
type ResourceProvider struct {
	newEmbedder func(ctx context.Context) (*Embedder, error)
	newIndex    func(ctx context.Context) (vectorindex.Index, error)

	mu       sync.Mutex
	embedder *Embedder
	index    vectorindex.Index
}

func NewResourceProvider(
	newEmbedder func(ctx context.Context) (*Embedder, error),
	newIndex func(ctx context.Context) (vectorindex.Index, error),
) *ResourceProvider {
	return &ResourceProvider{newEmbedder: newEmbedder, newIndex: newIndex}
}

func (p *ResourceProvider) Embedder(ctx context.Context) (*Embedder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.embedder != nil {
		return p.embedder, nil
	}
	e, err := p.newEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	p.embedder = e
	return e, nil
}

func (p *ResourceProvider) Index(ctx context.Context) (vectorindex.Index, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index != nil {
		return p.index, nil
	}
	idx, err := p.newIndex(ctx)
	if err != nil {
		return nil, err
	}
	p.index = idx
	return idx, nil
}

// Ready reports whether the index handle has been built.
func (p *ResourceProvider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index != nil
}

func (p *ResourceProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index == nil {
		return nil
	}
	err := p.index.Close()
	p.index = nil
	return err
}
