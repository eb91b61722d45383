package ai

import (
	"context"
	"fmt"
	"strings"

	"openlegalrag/internal/pkg/logger"
)

const moduleRouter = "ai.router"

// Router selects a Completer from the "<provider>/<model>" prefix of a model id.
type Router struct {
	order     []string
	providers map[string]Completer
	logger    logger.ILogger
}

func NewRouter(log logger.ILogger) *Router {
	if log == nil {
		log = logger.NewNop()
	}
	return &Router{providers: make(map[string]Completer), logger: log}
}

// Register adds a provider under name; model ids for it look like "name/model".
func (r *Router) Register(name string, provider Completer) {
	if _, ok := r.providers[name]; !ok {
		r.order = append(r.order, name)
	}
	r.providers[name] = provider
}

func (r *Router) Providers() []string {
	return append([]string(nil), r.order...)
}

// Resolve returns the provider for modelID and the model name without its prefix.
func (r *Router) Resolve(modelID string) (Completer, string, error) {
	name, model, ok := strings.Cut(modelID, "/")
	if !ok || model == "" {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
	}
	provider, ok := r.providers[name]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
	}
	return provider, model, nil
}

func (r *Router) Complete(ctx context.Context, modelID string, messages []ChatMessage, opts ...Option) (*Completion, error) {
	provider, model, err := r.Resolve(modelID)
	if err != nil {
		return nil, err
	}
	return provider.Complete(ctx, model, messages, opts...)
}

func (r *Router) Stream(ctx context.Context, modelID string, messages []ChatMessage, onChunk func(chunk string) error, opts ...Option) (*Completion, error) {
	provider, model, err := r.Resolve(modelID)
	if err != nil {
		return nil, err
	}
	return provider.Stream(ctx, model, messages, onChunk, opts...)
}

// ListModels returns prefixed ids from every provider. A provider that cannot
// be reached is logged and left out.
func (r *Router) ListModels(ctx context.Context) []string {
	models := make([]string, 0)
	for _, name := range r.order {
		ids, err := r.providers[name].ListModels(ctx)
		if err != nil {
			r.logger.Warn(moduleRouter, "list models failed", map[string]interface{}{
				"provider": name,
				"error":    err,
			})
			continue
		}
		for _, id := range ids {
			models = append(models, name+"/"+id)
		}
	}
	return models
}
