package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openlegalrag/internal/ai"
	"openlegalrag/internal/model"
	"openlegalrag/internal/rag"
)

type fakeRouter struct {
	models    []string
	listCalls int
	chunks    []string
	err       error

	gotModel    string
	gotMessages []ai.ChatMessage
	gotOptions  ai.Options
}

func (f *fakeRouter) ListModels(context.Context) []string {
	f.listCalls++
	return f.models
}

func (f *fakeRouter) Stream(_ context.Context, modelID string, messages []ai.ChatMessage, onChunk func(string) error, opts ...ai.Option) (*ai.Completion, error) {
	f.gotModel = modelID
	f.gotMessages = messages
	for _, opt := range opts {
		opt(&f.gotOptions)
	}
	if f.err != nil {
		return nil, f.err
	}
	var full strings.Builder
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return nil, err
		}
		full.WriteString(c)
	}
	return &ai.Completion{Text: full.String(), Usage: ai.Usage{TotalTokens: 7}}, nil
}

type recordingAudit struct {
	records []model.CompletionRecord
	err     error
}

func (r *recordingAudit) Publish(_ context.Context, record model.CompletionRecord) error {
	r.records = append(r.records, record)
	return r.err
}

func newTestService(router *fakeRouter, audit AuditPublisher) *CompletionService {
	assembler := rag.NewAssembler(rag.AssemblerConfig{
		Templates: rag.Templates{
			Base:    "{history}{context}Q: {request}",
			Context: "Sources:\n{context}",
			History: "Past:\n{history}",
		},
		Collection: "cases",
	}, nil, nil)
	return NewCompletionService(CompletionConfig{ContextWindow: 4096, DefaultTemperature: 0.2}, router, assembler, audit, nil)
}

func strPtr(s string) *string { return &s }

func TestCompletionValidate(t *testing.T) {
	router := &fakeRouter{models: []string{"openai/gpt-4o", "ollama/llama3"}}
	svc := newTestService(router, nil)

	tests := []struct {
		name string
		req  CompleteRequest
		want error
	}{
		{name: "missing model", req: CompleteRequest{Message: strPtr("hi")}, want: ErrNoModel},
		{name: "unknown model", req: CompleteRequest{Model: strPtr("openai/gpt-3"), Message: strPtr("hi")}, want: ErrModelUnavailable},
		{name: "missing message", req: CompleteRequest{Model: strPtr("ollama/llama3")}, want: ErrNoMessage},
		{name: "blank message", req: CompleteRequest{Model: strPtr("ollama/llama3"), Message: strPtr("  ")}, want: ErrEmptyMessage},
		{name: "negative temperature", req: CompleteRequest{Model: strPtr("ollama/llama3"), Message: strPtr("hi"), Temperature: json.RawMessage(`-1`)}, want: ErrInvalidTemperature},
		{name: "non numeric temperature", req: CompleteRequest{Model: strPtr("ollama/llama3"), Message: strPtr("hi"), Temperature: json.RawMessage(`"warm"`)}, want: ErrInvalidTemperature},
		{name: "zero max tokens", req: CompleteRequest{Model: strPtr("ollama/llama3"), Message: strPtr("hi"), MaxTokens: json.RawMessage(`0`)}, want: ErrInvalidMaxTokens},
		{name: "history without content", req: CompleteRequest{Model: strPtr("ollama/llama3"), Message: strPtr("hi"), History: json.RawMessage(`[{"role":"user"}]`)}, want: ErrInvalidHistory},
		{name: "history not a list", req: CompleteRequest{Model: strPtr("ollama/llama3"), Message: strPtr("hi"), History: json.RawMessage(`"x"`)}, want: ErrInvalidHistory},
		{name: "unknown search target", req: CompleteRequest{Model: strPtr("ollama/llama3"), Message: strPtr("hi"), SearchResults: json.RawMessage(`{"westlaw":[]}`)}, want: ErrInvalidSearchInput},
		{name: "foreign search result shape", req: CompleteRequest{Model: strPtr("ollama/llama3"), Message: strPtr("hi"), SearchResults: json.RawMessage(`{"courtlistener":[{"title":"x"}]}`)}, want: ErrInvalidSearchInput},
		{name: "bad top n", req: CompleteRequest{Model: strPtr("ollama/llama3"), Message: strPtr("hi"), TopN: json.RawMessage(`-2`)}, want: ErrInvalidTopN},
		{name: "fractional max tokens", req: CompleteRequest{Model: strPtr("ollama/llama3"), Message: strPtr("hi"), MaxTokens: json.RawMessage(`2.5`)}, want: ErrInvalidMaxTokens},
		{name: "fractional top n string", req: CompleteRequest{Model: strPtr("ollama/llama3"), Message: strPtr("hi"), TopN: json.RawMessage(`"1.5"`)}, want: ErrInvalidTopN},
		{name: "huge max tokens", req: CompleteRequest{Model: strPtr("ollama/llama3"), Message: strPtr("hi"), MaxTokens: json.RawMessage(`1e300`)}, want: ErrInvalidMaxTokens},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err.Error())
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestCompletionValidateAcceptsIntegralNumbers(t *testing.T) {
	svc := newTestService(&fakeRouter{models: []string{"ollama/llama3"}}, nil)

	tests := []struct {
		name      string
		maxTokens string
		topN      string
		want      int
	}{
		{name: "integer", maxTokens: `2`, topN: `2`, want: 2},
		{name: "integral float", maxTokens: `2.0`, topN: `2.0`, want: 2},
		{name: "exponent", maxTokens: `1e2`, topN: `1e2`, want: 100},
		{name: "numeric string", maxTokens: `"7"`, topN: `" 7 "`, want: 7},
		{name: "integral float string", maxTokens: `"3.0"`, topN: `"3.0"`, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := svc.Validate(context.Background(), CompleteRequest{
				Model:     strPtr("ollama/llama3"),
				Message:   strPtr("hi"),
				MaxTokens: json.RawMessage(tt.maxTokens),
				TopN:      json.RawMessage(tt.topN),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.MaxTokens)
			assert.Equal(t, tt.want, in.TopN)
		})
	}
}

func TestCompletionValidateDefaultsAndCoercion(t *testing.T) {
	router := &fakeRouter{models: []string{"ollama/llama3"}}
	svc := newTestService(router, nil)

	in, err := svc.Validate(context.Background(), CompleteRequest{
		Model:       strPtr("ollama/llama3"),
		Message:     strPtr("  what is res judicata?  "),
		Temperature: json.RawMessage(`"0.5"`),
		MaxTokens:   json.RawMessage(`256`),
		History:     json.RawMessage(`[{"role":"user","content":"hello"},{"role":"assistant","content":"hi"}]`),
	})
	require.NoError(t, err)
	assert.Equal(t, "what is res judicata?", in.Message)
	assert.Equal(t, 0.5, in.Temperature)
	assert.Equal(t, 256, in.MaxTokens)
	assert.Len(t, in.History, 2)
	assert.True(t, in.UseRetrieval)

	in, err = svc.Validate(context.Background(), CompleteRequest{Model: strPtr("ollama/llama3"), Message: strPtr("x"), Temperature: json.RawMessage(`null`)})
	require.NoError(t, err)
	assert.Equal(t, 0.2, in.Temperature)

	assert.Equal(t, 1, router.listCalls, "model list is cached between validations")
}

func TestCompletionStream(t *testing.T) {
	router := &fakeRouter{models: []string{"ollama/llama3"}, chunks: []string{"The ", "answer."}}
	audit := &recordingAudit{}
	svc := newTestService(router, audit)

	in, err := svc.Validate(context.Background(), CompleteRequest{
		Model:         strPtr("ollama/llama3"),
		Message:       strPtr("Is this protected speech?"),
		MaxTokens:     json.RawMessage(`100`),
		SearchResults: json.RawMessage(`{"courtlistener":[{"ref_tag":1,"id":"9","case_name":"Near v. Minnesota","court":"Supreme Court","absolute_url":"https://cl.example/opinion/9/","status":"Published","date_filed":"1931-06-01","text":"prior restraint","prompt_text":"","ui_text":"","ui_url":""}]}`),
	})
	require.NoError(t, err)

	var sources []rag.Source
	var chunks []string
	result, err := svc.Stream(context.Background(), in, StreamHandlers{
		OnSources: func(s []rag.Source) error {
			assert.Empty(t, chunks, "sources come before the first fragment")
			sources = s
			return nil
		},
		OnChunk: func(c string) error {
			chunks = append(chunks, c)
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"The ", "answer."}, chunks)
	assert.Equal(t, "The answer.", result.Text)
	require.Len(t, sources, 1)
	assert.Equal(t, rag.OriginCourtListener, sources[0].Origin)
	assert.Equal(t, 1, sources[0].Ref)

	assert.Equal(t, "ollama/llama3", router.gotModel)
	assert.Equal(t, 100, router.gotOptions.MaxTokens)
	assert.Equal(t, 0.2, router.gotOptions.Temperature)
	require.Len(t, router.gotMessages, 1)
	prompt := router.gotMessages[0].Content
	assert.Contains(t, prompt, "[1] Near v. Minnesota (1931) Supreme Court as sourced from https://cl.example/opinion/9/:")
	assert.True(t, strings.HasSuffix(prompt, "Q: Is this protected speech?"))

	require.Len(t, audit.records, 1)
	record := audit.records[0]
	assert.Equal(t, result.RequestID, record.RequestID)
	assert.Equal(t, "The answer.", record.Response)
	assert.JSONEq(t, `["9"]`, string(record.SourceIDs))
	assert.Equal(t, 7, record.TotalTokens)
}

func TestCompletionStreamUpstreamFailure(t *testing.T) {
	router := &fakeRouter{models: []string{"openai/gpt-4o"}, err: errors.New("502 bad gateway")}
	audit := &recordingAudit{}
	svc := newTestService(router, audit)

	_, err := svc.Stream(context.Background(), &CompleteInput{Model: "openai/gpt-4o", Message: "hi"}, StreamHandlers{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCompletionFailed))
	assert.False(t, errors.Is(err, ErrInvalidInput))
	assert.Equal(t, "Could not run completion against openai/gpt-4o.", err.Error())
	assert.Empty(t, audit.records)
}

func TestCompletionStreamAuditFailureIsNotFatal(t *testing.T) {
	router := &fakeRouter{chunks: []string{"ok"}}
	svc := newTestService(router, &recordingAudit{err: errors.New("broker down")})

	result, err := svc.Stream(context.Background(), &CompleteInput{Model: "ollama/llama3", Message: "hi"}, StreamHandlers{})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
}

func TestCompletionStreamCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	router := &fakeRouter{err: context.Canceled}
	svc := newTestService(router, nil)

	_, err := svc.Stream(ctx, &CompleteInput{Model: "ollama/llama3", Message: "hi"}, StreamHandlers{})
	assert.ErrorIs(t, err, context.Canceled)
}
