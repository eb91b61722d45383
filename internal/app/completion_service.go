package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"openlegalrag/internal/ai"
	"openlegalrag/internal/model"
	"openlegalrag/internal/pkg/logger"
	"openlegalrag/internal/rag"
	"openlegalrag/internal/search"
)

const moduleCompletion = "app.completion"

var tracer = otel.Tracer("openlegalrag/internal/app")

type ModelRouter interface {
	ListModels(ctx context.Context) []string
	Stream(ctx context.Context, modelID string, messages []ai.ChatMessage, onChunk func(chunk string) error, opts ...ai.Option) (*ai.Completion, error)
}

type PromptBuilder interface {
	BuildPrompt(ctx context.Context, req rag.PromptRequest) (*rag.Prompt, error)
}

type AuditPublisher interface {
	Publish(ctx context.Context, record model.CompletionRecord) error
}

type CompletionConfig struct {
	ContextWindow      int
	DefaultTemperature float64
	// How long the /api/models answer is reused for request validation.
	ModelListTTL time.Duration
	// Tokenizer counts prompt tokens against ContextWindow. Defaults to words.
	Tokenizer rag.Tokenizer
}

type CompletionService struct {
	cfg       CompletionConfig
	router    ModelRouter
	prompts   PromptBuilder
	audit     AuditPublisher
	tokenizer rag.Tokenizer
	models    *gocache.Cache
	logger    logger.ILogger
}

// CompleteRequest is the /api/complete body. Loosely typed fields are
// validated by Validate so that each problem gets its own message.
type CompleteRequest struct {
	Message       *string         `json:"message"`
	Model         *string         `json:"model"`
	Temperature   json.RawMessage `json:"temperature"`
	MaxTokens     json.RawMessage `json:"max_tokens"`
	History       json.RawMessage `json:"history"`
	SearchResults json.RawMessage `json:"search_results"`
	UseRetrieval  *bool           `json:"use_retrieval"`
	TopN          json.RawMessage `json:"top_n"`
}

type CompleteInput struct {
	Message      string
	Model        string
	Temperature  float64
	MaxTokens    int
	History      []ai.ChatMessage
	UseRetrieval bool
	TopN         int
	Extra        []rag.Source
}

type StreamHandlers struct {
	// OnSources runs once, before the first fragment.
	OnSources func(sources []rag.Source) error
	OnChunk   func(chunk string) error
}

type CompleteResult struct {
	RequestID string        `json:"request_id"`
	Model     string        `json:"model"`
	Text      string        `json:"text"`
	Usage     ai.Usage      `json:"usage"`
	Sources   []rag.Source  `json:"sources"`
	Duration  time.Duration `json:"-"`
}

func NewCompletionService(cfg CompletionConfig, router ModelRouter, prompts PromptBuilder, audit AuditPublisher, log logger.ILogger) *CompletionService {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.ModelListTTL <= 0 {
		cfg.ModelListTTL = 30 * time.Second
	}
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = rag.WordTokenizer{}
	}
	return &CompletionService{
		cfg:       cfg,
		router:    router,
		prompts:   prompts,
		audit:     audit,
		tokenizer: cfg.Tokenizer,
		models:    gocache.New(cfg.ModelListTTL, 2*cfg.ModelListTTL),
		logger:    log,
	}
}

const modelListKey = "models"

// ListModels returns the routable model ids, cached for ModelListTTL.
func (s *CompletionService) ListModels(ctx context.Context) []string {
	if cached, ok := s.models.Get(modelListKey); ok {
		return cached.([]string)
	}
	models := s.router.ListModels(ctx)
	if len(models) > 0 {
		s.models.SetDefault(modelListKey, models)
	}
	return models
}

// Validate checks req in the same order and with the same messages as the
// public API documents. No upstream completion call is made.
func (s *CompletionService) Validate(ctx context.Context, req CompleteRequest) (*CompleteInput, error) {
	in := &CompleteInput{Temperature: s.cfg.DefaultTemperature, UseRetrieval: true}

	if req.Model == nil {
		return nil, ErrNoModel
	}
	if !slices.Contains(s.ListModels(ctx), *req.Model) {
		return nil, ErrModelUnavailable
	}
	in.Model = *req.Model

	if req.Message == nil {
		return nil, ErrNoMessage
	}
	in.Message = strings.TrimSpace(*req.Message)
	if in.Message == "" {
		return nil, ErrEmptyMessage
	}

	if present(req.SearchResults) {
		extra, err := parseSearchResults(req.SearchResults)
		if err != nil {
			return nil, ErrInvalidSearchInput
		}
		in.Extra = extra
	}

	if present(req.Temperature) {
		t, err := parseNumber(req.Temperature)
		if err != nil || math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
			return nil, ErrInvalidTemperature
		}
		in.Temperature = t
	}

	if present(req.MaxTokens) {
		n, err := parseInt(req.MaxTokens)
		if err != nil || n <= 0 {
			return nil, ErrInvalidMaxTokens
		}
		in.MaxTokens = n
	}

	if present(req.History) {
		history, err := parseHistory(req.History)
		if err != nil {
			return nil, ErrInvalidHistory
		}
		in.History = history
	}

	if req.UseRetrieval != nil {
		in.UseRetrieval = *req.UseRetrieval
	}
	if present(req.TopN) {
		n, err := parseInt(req.TopN)
		if err != nil || n <= 0 {
			return nil, ErrInvalidTopN
		}
		in.TopN = n
	}
	return in, nil
}

// Stream assembles the prompt for in and forwards the model's answer
// fragment by fragment. Upstream failures come back as *CompletionError;
// a cancelled ctx comes back as ctx.Err().
func (s *CompletionService) Stream(ctx context.Context, in *CompleteInput, handlers StreamHandlers) (*CompleteResult, error) {
	started := time.Now()
	requestID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "app.CompletionStream", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.String("model", in.Model),
	))
	defer span.End()

	details := map[string]interface{}{"request_id": requestID, "model": in.Model}
	if sc := span.SpanContext(); sc.HasTraceID() {
		details["trace_id"] = sc.TraceID().String()
	}

	prompt, err := s.prompts.BuildPrompt(ctx, rag.PromptRequest{
		Message:      in.Message,
		History:      in.History,
		UseRetrieval: in.UseRetrieval,
		TopN:         in.TopN,
		Extra:        in.Extra,
	})
	if err != nil {
		return nil, err
	}

	messages, err := rag.TrimMessages(prompt.Messages, s.cfg.ContextWindow, in.MaxTokens, s.tokenizer)
	if err != nil {
		details["error"] = err
		s.logger.Warn(moduleCompletion, "trim messages failed, sending untrimmed", details)
		delete(details, "error")
	}

	if handlers.OnSources != nil {
		if err := handlers.OnSources(prompt.Sources); err != nil {
			return nil, err
		}
	}

	opts := []ai.Option{ai.WithTemperature(in.Temperature)}
	if in.MaxTokens > 0 {
		opts = append(opts, ai.WithMaxTokens(in.MaxTokens))
	}
	onChunk := handlers.OnChunk
	if onChunk == nil {
		onChunk = func(string) error { return nil }
	}

	completion, err := s.router.Stream(ctx, in.Model, messages, onChunk, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		details["error"] = err
		s.logger.Error(moduleCompletion, "completion failed", details)
		return nil, &CompletionError{Model: in.Model, Err: err}
	}

	result := &CompleteResult{
		RequestID: requestID,
		Model:     in.Model,
		Text:      completion.Text,
		Usage:     completion.Usage,
		Sources:   prompt.Sources,
		Duration:  time.Since(started),
	}
	s.publishAudit(ctx, in, prompt, result)

	details["sources"] = len(prompt.Sources)
	details["total_tokens"] = result.Usage.TotalTokens
	details["duration_ms"] = result.Duration.Milliseconds()
	s.logger.Info(moduleCompletion, "completion finished", details)
	return result, nil
}

func (s *CompletionService) publishAudit(ctx context.Context, in *CompleteInput, prompt *rag.Prompt, result *CompleteResult) {
	if s.audit == nil {
		return
	}
	ids := make([]string, len(prompt.Sources))
	for i, src := range prompt.Sources {
		ids[i] = src.ID
	}
	rawIDs, _ := json.Marshal(ids)

	record := model.CompletionRecord{
		RequestID:        result.RequestID,
		Model:            in.Model,
		Message:          in.Message,
		Prompt:           prompt.Text,
		Response:         result.Text,
		SourceIDs:        datatypes.JSON(rawIDs),
		UsedRetrieval:    in.UseRetrieval,
		Temperature:      in.Temperature,
		MaxTokens:        in.MaxTokens,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
		DurationMS:       result.Duration.Milliseconds(),
		CreatedAt:        time.Now(),
	}

	// the response is already delivered; a client disconnect must not drop the record
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := s.audit.Publish(pubCtx, record); err != nil {
		s.logger.Error(moduleCompletion, "publish completion audit failed", map[string]interface{}{
			"request_id": result.RequestID,
			"error":      err,
		})
	}
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// parseNumber accepts a JSON number or a numeric string.
func parseNumber(raw json.RawMessage) (float64, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(str), 64)
}

// parseInt accepts any number parseNumber does as long as it is integral,
// so 2, 2.0 and "2" are all 2.
func parseInt(raw json.RawMessage) (int, error) {
	n, err := parseNumber(raw)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
		return 0, fmt.Errorf("%v is not an integer", n)
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, fmt.Errorf("%v is out of range", n)
	}
	return int(n), nil
}

func parseHistory(raw json.RawMessage) ([]ai.ChatMessage, error) {
	var items []ai.ChatMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	for _, m := range items {
		if strings.TrimSpace(m.Role) == "" || m.Content == "" {
			return nil, ErrInvalidHistory
		}
	}
	return items, nil
}

// parseSearchResults accepts the /api/search response body and turns its
// entries into prompt sources.
func parseSearchResults(raw json.RawMessage) ([]rag.Source, error) {
	var byTarget map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byTarget); err != nil {
		return nil, err
	}
	var sources []rag.Source
	for target, entries := range byTarget {
		if !slices.Contains(search.Targets, target) {
			return nil, ErrInvalidSearchInput
		}
		if target != search.TargetCourtListener || !present(entries) {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(entries))
		dec.DisallowUnknownFields()
		var results []search.Result
		if err := dec.Decode(&results); err != nil {
			return nil, err
		}
		for _, r := range results {
			sources = append(sources, rag.Source{
				ID:        r.ID,
				Origin:    rag.OriginCourtListener,
				CaseName:  r.CaseName,
				DateFiled: r.DateFiled,
				CourtName: r.Court,
				URL:       r.AbsoluteURL,
				Text:      r.Text,
			})
		}
	}
	return sources, nil
}
