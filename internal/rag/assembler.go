package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"openlegalrag/internal/ai"
	"openlegalrag/internal/pkg/logger"
	"openlegalrag/internal/vectorindex"
)

const moduleAssembler = "rag.assembler"

var tracer = otel.Tracer("openlegalrag/internal/rag")

// Source is one passage placed in the prompt context, numbered by Ref.
type Source struct {
	Ref       int     `json:"ref"`
	ID        string  `json:"id"`
	Origin    string  `json:"origin"`
	CaseName  string  `json:"case_name"`
	DateFiled string  `json:"date_filed"`
	CourtName string  `json:"court_name"`
	URL       string  `json:"url"`
	Text      string  `json:"text"`
	Distance  float64 `json:"distance"`
}

const (
	OriginIndex         = "index"
	OriginCourtListener = "courtlistener"
)

type Templates struct {
	Base    string
	Context string
	History string
}

type AssemblerConfig struct {
	Templates         Templates
	Collection        string
	QueryPrefix       string
	Normalize         bool
	DefaultTopN       int
	SourceURLTemplate string
}

type PromptRequest struct {
	Message      string
	History      []ai.ChatMessage
	UseRetrieval bool
	TopN         int
	// Extra are caller-supplied passages (search results) placed after retrieved ones.
	Extra []Source
}

type Prompt struct {
	Text     string
	Messages []ai.ChatMessage
	Sources  []Source
}

// Assembler builds the completion prompt: retrieval, context rendering and
// template substitution.
type Assembler struct {
	cfg       AssemblerConfig
	resources *ResourceProvider
	logger    logger.ILogger
}

func NewAssembler(cfg AssemblerConfig, resources *ResourceProvider, log logger.ILogger) *Assembler {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.DefaultTopN <= 0 {
		cfg.DefaultTopN = 4
	}
	return &Assembler{cfg: cfg, resources: resources, logger: log}
}

// BuildPrompt never fails on retrieval problems; only a cancelled ctx is returned as an error.
func (a *Assembler) BuildPrompt(ctx context.Context, req PromptRequest) (*Prompt, error) {
	ctx, span := tracer.Start(ctx, "rag.BuildPrompt")
	defer span.End()

	var sources []Source
	if req.UseRetrieval {
		retrieved, err := a.retrieve(ctx, req.Message, req.TopN)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn(moduleAssembler, "retrieval unavailable, continuing without context", map[string]interface{}{
				"error": err,
			})
			span.RecordError(err)
		}
		sources = append(sources, retrieved...)
	}
	sources = append(sources, req.Extra...)
	for i := range sources {
		sources[i].Ref = i + 1
	}
	span.SetAttributes(attribute.Int("rag.sources", len(sources)))

	text := a.render(req.Message, req.History, sources)

	messages := make([]ai.ChatMessage, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, ai.ChatMessage{Role: "user", Content: text})

	return &Prompt{Text: text, Messages: messages, Sources: sources}, nil
}

var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

func (a *Assembler) retrieve(ctx context.Context, message string, topN int) ([]Source, error) {
	ctx, span := tracer.Start(ctx, "rag.retrieve")
	defer span.End()

	if a.resources == nil {
		return nil, ErrRetrievalUnavailable
	}
	if topN <= 0 {
		topN = a.cfg.DefaultTopN
	}

	embedder, err := a.resources.Embedder(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "embedder")
		return nil, fmt.Errorf("%w: embedder: %v", ErrRetrievalUnavailable, err)
	}
	index, err := a.resources.Index(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "index")
		return nil, fmt.Errorf("%w: index: %v", ErrRetrievalUnavailable, err)
	}

	vector, err := embedder.EncodeQuery(ctx, message, a.cfg.Normalize, a.cfg.QueryPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrRetrievalUnavailable, err)
	}
	results, err := index.Query(ctx, a.cfg.Collection, vector, topN)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrRetrievalUnavailable, err)
	}
	// Index implementations may return results unranked.
	results = vectorindex.SortResults(results, topN)

	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = a.sourceFromResult(r)
	}
	span.SetAttributes(attribute.Int("rag.results", len(results)))
	return sources, nil
}

func (a *Assembler) sourceFromResult(r vectorindex.Result) Source {
	url := strings.NewReplacer(
		"{case_id}", r.Metadata.CaseID,
		"{opinion_id}", r.Metadata.OpinionID,
	).Replace(a.cfg.SourceURLTemplate)
	return Source{
		ID:        r.ID,
		Origin:    OriginIndex,
		CaseName:  r.Metadata.CaseName,
		DateFiled: r.Metadata.CaseDateFiled,
		CourtName: r.Metadata.CourtName,
		URL:       url,
		Text:      r.Metadata.Text,
		Distance:  r.Distance,
	}
}

// CitationLine renders "[n] Case (year) Court as sourced from url:".
func CitationLine(s Source) string {
	year := s.DateFiled
	if len(year) > 4 {
		year = year[:4]
	}
	return fmt.Sprintf("[%d] %s (%s) %s as sourced from %s:", s.Ref, s.CaseName, year, s.CourtName, s.URL)
}

func RenderContext(sources []Source) string {
	var b strings.Builder
	for _, s := range sources {
		b.WriteString(CitationLine(s))
		b.WriteString("\n")
		b.WriteString(s.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

func RenderHistory(history []ai.ChatMessage) string {
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// render substitutes every placeholder in one pass, so text coming from
// passages or the message is never re-scanned for placeholders.
func (a *Assembler) render(message string, history []ai.ChatMessage, sources []Source) string {
	contextBlock := ""
	if len(sources) > 0 {
		contextBlock = strings.ReplaceAll(a.cfg.Templates.Context, "{context}", RenderContext(sources))
	}
	historyBlock := ""
	if len(history) > 0 {
		historyBlock = strings.ReplaceAll(a.cfg.Templates.History, "{history}", RenderHistory(history))
	}
	return strings.TrimSpace(strings.NewReplacer(
		"{history}", historyBlock,
		"{context}", contextBlock,
		"{rag}", contextBlock,
		"{request}", message,
	).Replace(a.cfg.Templates.Base))
}
