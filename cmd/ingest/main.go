package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/fatih/color"

	"openlegalrag/internal/bootstrap"
	"openlegalrag/internal/config"
	"openlegalrag/internal/dataset"
	"openlegalrag/internal/ingest"
	"openlegalrag/internal/pkg/logger"
	"openlegalrag/internal/platform/tracer"
	"openlegalrag/internal/rag"
	"openlegalrag/internal/vectorindex"
)

const (
	moduleIngest = "ingest"
	// drainTimeout bounds the wait for the run.completed event after Run returns.
	drainTimeout = 2 * time.Second
)

func main() {
	var (
		filters ingest.Filters
		source  string
	)
	flag.StringVar(&filters.CourtJurisdiction, "court-jurisdiction", "", "only ingest cases from this court jurisdiction")
	flag.StringVar(&filters.CourtType, "court-type", "", "only ingest cases from this court type")
	flag.IntVar(&filters.YearMin, "year-min", 0, "only ingest cases filed on or after this year")
	flag.IntVar(&filters.YearMax, "year-max", 0, "only ingest cases filed on or before this year")
	flag.IntVar(&filters.Limit, "limit", 0, "stop after this many cases (0 means no limit)")
	flag.StringVar(&source, "dataset", "", "local path or s3:// url of the JSONL dataset (overrides ingest.dataset)")
	flag.Parse()

	if err := filters.Validate(); err != nil {
		color.Red("invalid filters: %v", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, filters, source); err != nil {
		color.Red("ingest failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, filters ingest.Filters, source string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	if source == "" {
		source = cfg.Ingest.Dataset
	}
	if source == "" {
		return fmt.Errorf("no dataset given: set -dataset or ingest.dataset")
	}

	log := logger.New(cfg.Log.File, cfg.IsProd())
	defer func() { _ = log.Sync() }()

	shutdownTracer, err := tracer.Init(ctx, cfg.Tracing, cfg.App.Name+"-ingest", log)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metric, err := vectorindex.ParseMetric(cfg.VectorSearch.DistanceFunction)
	if err != nil {
		return err
	}

	index, err := bootstrap.OpenIndex(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer index.Close()

	chunker, err := bootstrap.NewChunker(cfg)
	if err != nil {
		return err
	}

	backend, closeBackend, err := bootstrap.NewEmbeddingBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeBackend() }()
	embedder := rag.NewEmbedder(backend, 0)

	bus := ingest.NewProgressBus(log)
	defer bus.Close()
	progress, err := bus.Subscribe(ctx, ingest.TopicProgress)
	if err != nil {
		return fmt.Errorf("subscribe to progress failed: %w", err)
	}
	completed := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reportProgress(progress, completed, log)
	}()

	opts := []ingest.Option{ingest.WithEvents(bus), ingest.WithLogger(log)}
	if cfg.Ingest.Summarize {
		providers, err := bootstrap.NewProviders(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = providers.Close() }()
		opts = append(opts, ingest.WithSummarizer(rag.NewSummarizer(providers.Router, cfg.Ingest.SummaryModel, cfg.Prompts.Summary)))
	}

	src, err := dataset.Open(ctx, source, dataset.S3Options{
		Region:    cfg.Ingest.S3Region,
		AccessKey: cfg.Ingest.S3AccessKey,
		SecretKey: cfg.Ingest.S3SecretKey,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	pipeline := ingest.NewPipeline(ingest.Config{
		Collection:    cfg.VectorSearch.CollectionName,
		Metric:        metric,
		PassagePrefix: cfg.Embedding.PassagePrefix,
		Normalize:     cfg.Embedding.Normalize,
	}, index, chunker, embedder, opts...)

	color.Cyan("Ingesting %s into collection %q", source, cfg.VectorSearch.CollectionName)
	summary, runErr := pipeline.Run(ctx, src, filters)

	if runErr == nil {
		select {
		case <-completed:
		case <-time.After(drainTimeout):
			log.Warn(moduleIngest, "progress events still pending at shutdown", nil)
		}
	}
	_ = bus.Close()
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	printSummary(summary)
	return nil
}

// reportProgress prints events until messages is closed. completed is closed
// once run.completed arrives, which is always the last event of a run.
func reportProgress(messages <-chan *message.Message, completed chan<- struct{}, log logger.ILogger) {
	done := false
	for msg := range messages {
		event, err := ingest.DecodeEvent(msg)
		msg.Ack()
		if err != nil {
			log.Warn(moduleIngest, "undecodable progress event", map[string]interface{}{"error": err})
			continue
		}
		switch event.Type {
		case ingest.EventOpinionIngested:
			color.Green("+ case %s opinion %s (%d chunks)", event.CaseID, event.OpinionID, event.Chunks)
		case ingest.EventOpinionSkipped:
			color.Yellow("- case %s opinion %s skipped: %s", event.CaseID, event.OpinionID, event.Reason)
		case ingest.EventCaseFiltered:
			log.Debug(moduleIngest, "case filtered", map[string]interface{}{
				"case_id": event.CaseID,
				"reason":  event.Reason,
			})
		case ingest.EventRecordSkipped:
			color.Yellow("! dataset line %d skipped: %s", event.Line, event.Reason)
		case ingest.EventRunCompleted:
			if !done {
				done = true
				close(completed)
			}
		}
	}
}

func printSummary(s *ingest.Summary) {
	color.Cyan("\nIngest finished in %s", s.Duration.Round(time.Millisecond))
	fmt.Printf("  cases seen:        %d\n", s.CasesSeen)
	fmt.Printf("  records skipped:   %d\n", s.RecordsSkipped)
	fmt.Printf("  cases filtered:    %d\n", s.CasesFiltered)
	fmt.Printf("  cases ingested:    %d\n", s.CasesIngested)
	fmt.Printf("  opinions ingested: %d\n", s.OpinionsIngested)
	fmt.Printf("  opinions skipped:  %d\n", s.OpinionsSkipped)
	fmt.Printf("  embeddings stored: %d\n", s.EmbeddingsStored)
	if s.LimitReached {
		color.Yellow("  limit reached")
	}
}
