package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"openlegalrag/internal/dataset"
	"openlegalrag/internal/pkg/logger"
	"openlegalrag/internal/rag"
	"openlegalrag/internal/vectorindex"
)

const modulePipeline = "ingest.pipeline"

var tracer = otel.Tracer("openlegalrag/internal/ingest")

// Opinion skip reasons.
const (
	SkipEmptyText = "empty_text"
	SkipSummary   = "summary_failed"
	SkipNoChunks  = "no_chunks"
	SkipEmbedding = "embedding_failed"
	SkipInvalidID = "invalid_id"
)

type Summary struct {
	CasesSeen        int           `json:"cases_seen"`
	RecordsSkipped   int           `json:"records_skipped"`
	CasesFiltered    int           `json:"cases_filtered"`
	CasesIngested    int           `json:"cases_ingested"`
	OpinionsIngested int           `json:"opinions_ingested"`
	OpinionsSkipped  int           `json:"opinions_skipped"`
	EmbeddingsStored int           `json:"embeddings_stored"`
	LimitReached     bool          `json:"limit_reached"`
	Duration         time.Duration `json:"duration"`
}

type Config struct {
	Collection    string
	Metric        vectorindex.Metric
	PassagePrefix string
	Normalize     bool
}

type Pipeline struct {
	cfg        Config
	index      vectorindex.Index
	chunker    *rag.Chunker
	embedder   *rag.Embedder
	summarizer *rag.Summarizer
	events     message.Publisher
	logger     logger.ILogger
}

type Option func(*Pipeline)

// WithSummarizer replaces each opinion's text with its summary before chunking.
func WithSummarizer(s *rag.Summarizer) Option {
	return func(p *Pipeline) { p.summarizer = s }
}

// WithEvents publishes progress events on TopicProgress.
func WithEvents(pub message.Publisher) Option {
	return func(p *Pipeline) { p.events = pub }
}

func WithLogger(log logger.ILogger) Option {
	return func(p *Pipeline) { p.logger = log }
}

func NewPipeline(cfg Config, index vectorindex.Index, chunker *rag.Chunker, embedder *rag.Embedder, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		index:    index,
		chunker:  chunker,
		embedder: embedder,
		logger:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run rebuilds the collection from src. Only invalid filters, dataset read
// errors and index write errors end the run early. Malformed records and
// per-opinion failures are skipped and counted.
func (p *Pipeline) Run(ctx context.Context, src dataset.Source, filters Filters) (*Summary, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	started := time.Now()
	summary := &Summary{}

	if err := p.index.CreateCollection(ctx, p.cfg.Collection, p.cfg.Metric); err != nil {
		return nil, fmt.Errorf("create collection %s failed: %w", p.cfg.Collection, err)
	}

	for {
		if filters.Limit > 0 && summary.CasesIngested >= filters.Limit {
			summary.LimitReached = true
			break
		}
		c, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		var recErr *dataset.RecordError
		if errors.As(err, &recErr) {
			summary.RecordsSkipped++
			p.logger.Warn(modulePipeline, "malformed dataset record skipped", map[string]interface{}{
				"line":  recErr.Line,
				"error": recErr.Err,
			})
			p.publish(Event{Type: EventRecordSkipped, Line: recErr.Line, Reason: recErr.Err.Error()})
			continue
		}
		if err != nil {
			summary.Duration = time.Since(started)
			return summary, fmt.Errorf("read dataset failed: %w", err)
		}
		summary.CasesSeen++

		if ok, reason := filters.Match(*c); !ok {
			summary.CasesFiltered++
			p.publish(Event{Type: EventCaseFiltered, CaseID: c.ID.String(), Reason: reason})
			continue
		}

		stored := 0
		for _, o := range c.Opinions {
			chunks, reason, err := p.ingestOpinion(ctx, *c, o)
			if err != nil {
				summary.Duration = time.Since(started)
				return summary, err
			}
			if reason != "" {
				summary.OpinionsSkipped++
				p.publish(Event{Type: EventOpinionSkipped, CaseID: c.ID.String(), OpinionID: o.OpinionID.String(), Reason: reason})
				continue
			}
			stored++
			summary.OpinionsIngested++
			summary.EmbeddingsStored += chunks
			p.publish(Event{Type: EventOpinionIngested, CaseID: c.ID.String(), OpinionID: o.OpinionID.String(), Chunks: chunks})
		}
		if stored > 0 {
			summary.CasesIngested++
		}
	}

	summary.Duration = time.Since(started)
	p.publish(Event{Type: EventRunCompleted, Summary: summary})
	p.logger.Info(modulePipeline, "ingestion finished", map[string]interface{}{
		"cases_seen":        summary.CasesSeen,
		"records_skipped":   summary.RecordsSkipped,
		"cases_ingested":    summary.CasesIngested,
		"opinions_ingested": summary.OpinionsIngested,
		"opinions_skipped":  summary.OpinionsSkipped,
		"embeddings_stored": summary.EmbeddingsStored,
		"duration":          summary.Duration.String(),
	})
	return summary, nil
}

// ingestOpinion stores one opinion with a single index write. It returns the
// number of chunks stored, or a skip reason. A returned error is fatal to the run.
func (p *Pipeline) ingestOpinion(ctx context.Context, c dataset.Case, o dataset.Opinion) (int, string, error) {
	ctx, span := tracer.Start(ctx, "ingest.opinion")
	defer span.End()
	span.SetAttributes(attribute.String("case.id", c.ID.String()), attribute.String("opinion.id", o.OpinionID.String()))

	details := map[string]interface{}{"case_id": c.ID.String(), "opinion_id": o.OpinionID.String()}

	text := o.OpinionText
	if strings.TrimSpace(text) == "" {
		return 0, SkipEmptyText, nil
	}
	if _, _, _, err := vectorindex.ParseID(vectorindex.FormatID(c.ID.String(), o.OpinionID.String(), 0)); err != nil {
		p.logger.Warn(modulePipeline, "opinion has no usable id, skipped", details)
		return 0, SkipInvalidID, nil
	}

	if p.summarizer != nil {
		summary, err := p.summarizer.Summarize(ctx, c, text)
		if err != nil {
			if ctx.Err() != nil {
				return 0, "", ctx.Err()
			}
			details["error"] = err
			p.logger.Error(modulePipeline, "summarization failed, opinion skipped", details)
			return 0, SkipSummary, nil
		}
		text = summary
	}

	chunks, err := p.chunker.Split(o.OpinionID.String(), text)
	if err != nil {
		return 0, "", err
	}
	if len(chunks) == 0 {
		return 0, SkipNoChunks, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := p.embedder.Encode(ctx, texts, p.cfg.Normalize, p.cfg.PassagePrefix)
	if err != nil {
		if ctx.Err() != nil {
			return 0, "", ctx.Err()
		}
		details["error"] = err
		p.logger.Error(modulePipeline, "embedding failed, opinion skipped", details)
		return 0, SkipEmbedding, nil
	}

	ids := make([]string, len(chunks))
	metadatas := make([]vectorindex.Metadata, len(chunks))
	documents := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = vectorindex.FormatID(c.ID.String(), o.OpinionID.String(), ch.Index)
		metadatas[i] = rag.BuildMetadata(c, o, ch.Embeddable(), p.cfg.PassagePrefix)
		documents[i] = ch.Text
	}
	if err := p.index.Add(ctx, p.cfg.Collection, ids, vectors, metadatas, documents); err != nil {
		return 0, "", fmt.Errorf("store case %s opinion %s failed: %w", c.ID, o.OpinionID, err)
	}
	return len(chunks), "", nil
}

func (p *Pipeline) publish(e Event) {
	if p.events == nil {
		return
	}
	msg, err := encodeEvent(e)
	if err == nil {
		err = p.events.Publish(TopicProgress, msg)
	}
	if err != nil {
		p.logger.Warn(modulePipeline, "publish progress event failed", map[string]interface{}{
			"type":  e.Type,
			"error": err,
		})
	}
}
