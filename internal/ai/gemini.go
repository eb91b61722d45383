package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient wraps the genai SDK for chat, model listing and embeddings.
type GeminiClient struct {
	client *genai.Client
}

var _ Completer = (*GeminiClient)(nil)

func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client failed: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

func (g *GeminiClient) Close() error {
	return g.client.Close()
}

// session maps chat messages onto a genai chat: system messages become the
// system instruction and the final message is the one sent.
func (g *GeminiClient) session(model string, messages []ChatMessage, opts []Option) (*genai.ChatSession, []genai.Part, error) {
	o := buildOptions(opts)
	gm := g.client.GenerativeModel(model)
	gm.SetTemperature(float32(o.Temperature))
	if o.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(o.MaxTokens))
	}

	var (
		system  []string
		history []*genai.Content
	)
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(history) == 0 {
		return nil, nil, fmt.Errorf("gemini request has no user message")
	}
	if len(system) > 0 {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}

	cs := gm.StartChat()
	last := history[len(history)-1]
	cs.History = history[:len(history)-1]
	return cs, last.Parts, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
	}
	return b.String()
}

func responseUsage(resp *genai.GenerateContentResponse) (Usage, bool) {
	if resp.UsageMetadata == nil {
		return Usage{}, false
	}
	return Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}, true
}

func (g *GeminiClient) Complete(ctx context.Context, model string, messages []ChatMessage, opts ...Option) (*Completion, error) {
	cs, parts, err := g.session(model, messages, opts)
	if err != nil {
		return nil, err
	}
	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	usage, _ := responseUsage(resp)
	return &Completion{Text: responseText(resp), Usage: usage}, nil
}

func (g *GeminiClient) Stream(
	ctx context.Context,
	model string,
	messages []ChatMessage,
	onChunk func(chunk string) error,
	opts ...Option,
) (*Completion, error) {
	cs, parts, err := g.session(model, messages, opts)
	if err != nil {
		return nil, err
	}

	var (
		full  strings.Builder
		usage Usage
	)
	iter := cs.SendMessageStream(ctx, parts...)
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("gemini stream failed: %w", err)
		}
		if u, ok := responseUsage(resp); ok {
			usage = u
		}
		text := responseText(resp)
		if text == "" {
			continue
		}
		full.WriteString(text)
		if err := onChunk(text); err != nil {
			return nil, err
		}
	}
	return &Completion{Text: full.String(), Usage: usage}, nil
}

// ListModels reports models that support generateContent, without the "models/" prefix.
func (g *GeminiClient) ListModels(ctx context.Context) ([]string, error) {
	var models []string
	iter := g.client.ListModels(ctx)
	for {
		info, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gemini models failed: %w", err)
		}
		for _, method := range info.SupportedGenerationMethods {
			if method == "generateContent" {
				models = append(models, strings.TrimPrefix(info.Name, "models/"))
				break
			}
		}
	}
	sort.Strings(models)
	return models, nil
}

func (g *GeminiClient) EmbedBatch(ctx context.Context, model string, texts []string, task EmbeddingTask) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	em := g.client.EmbeddingModel(model)
	switch task {
	case TaskRetrievalQuery:
		em.TaskType = genai.TaskTypeRetrievalQuery
	case TaskRetrievalDocument:
		em.TaskType = genai.TaskTypeRetrievalDocument
	}

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("gemini embed failed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed returned %d vectors for %d inputs", len(res.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, ErrEmptyEmbedding
		}
		out[i] = e.Values
	}
	return out, nil
}
