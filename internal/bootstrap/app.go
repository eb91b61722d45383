package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"openlegalrag/internal/app"
	"openlegalrag/internal/cache"
	"openlegalrag/internal/config"
	"openlegalrag/internal/pkg/logger"
	mysqlClient "openlegalrag/internal/platform/mysql"
	rabbitmqClient "openlegalrag/internal/platform/rabbitmq"
	redisClient "openlegalrag/internal/platform/redis"
	"openlegalrag/internal/platform/tracer"
	"openlegalrag/internal/rag"
	"openlegalrag/internal/repository"
	"openlegalrag/internal/search"
	"openlegalrag/internal/vectorindex"
	"openlegalrag/internal/worker"
)

const queryCacheTTL = 10 * time.Minute

type Limiters struct {
	Models   *cache.Limiter
	Search   *cache.Limiter
	Complete *cache.Limiter
}

type App struct {
	Config    *config.Config
	Logger    logger.ILogger
	Providers *Providers
	Resources *rag.ResourceProvider
	Assembler *rag.Assembler

	Completion *app.CompletionService
	Search     *app.SearchService
	Limiters   Limiters
	// Checks are readiness probes keyed by dependency name.
	Checks map[string]func(ctx context.Context) error
	// Initialised reports lazily built components without building them.
	Initialised map[string]func() bool

	MySQL          *gorm.DB
	Records        *repository.CompletionRecordRepository
	Redis          *redis.Client
	MQConn         *amqp.Connection
	AuditPublisher *rabbitmqClient.AuditPublisher
	AuditWorker    *worker.CompletionAuditWorker

	shutdownTracer func(context.Context) error
	closeEmbedder  func() error
	embedderMu     sync.Mutex

	StartedAt time.Time
}

func New(ctx context.Context, cfg *config.Config, log logger.ILogger) (*App, error) {
	a := &App{
		Config:      cfg,
		Logger:      log,
		Checks:      map[string]func(ctx context.Context) error{},
		Initialised: map[string]func() bool{},
		StartedAt:   time.Now(),
	}

	shutdown, err := tracer.Init(ctx, cfg.Tracing, cfg.App.Name, log)
	if err != nil {
		return nil, err
	}
	a.shutdownTracer = shutdown

	if a.Providers, err = NewProviders(ctx, cfg, log); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Resources = rag.NewResourceProvider(a.newEmbedder, func(ctx context.Context) (vectorindex.Index, error) {
		return OpenIndex(ctx, cfg, true)
	})
	a.Assembler = rag.NewAssembler(rag.AssemblerConfig{
		Templates:         PromptTemplates(cfg),
		Collection:        cfg.VectorSearch.CollectionName,
		QueryPrefix:       cfg.Embedding.QueryPrefix,
		Normalize:         cfg.Embedding.Normalize,
		DefaultTopN:       cfg.VectorSearch.NResults,
		SourceURLTemplate: cfg.VectorSearch.SourceURLTemplate,
	}, a.Resources, log)
	a.Initialised["retrieval"] = a.Resources.Ready
	// The index is opened on first retrieval; until then there is nothing to count.
	a.Checks["vector_index"] = func(ctx context.Context) error {
		if !a.Resources.Ready() {
			return nil
		}
		idx, err := a.Resources.Index(ctx)
		if err != nil {
			return err
		}
		_, err = idx.Count(ctx, cfg.VectorSearch.CollectionName)
		return err
	}

	var audit app.AuditPublisher
	if cfg.Audit.Enabled {
		if err := a.startAudit(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
		audit = a.AuditPublisher
	}

	tokenizer, err := NewTokenizer(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Completion = app.NewCompletionService(app.CompletionConfig{
		ContextWindow:      cfg.LLM.ContextWindow,
		DefaultTemperature: cfg.LLM.Temperature,
		Tokenizer:          tokenizer,
	}, a.Providers.Router, a.Assembler, audit, log)

	a.Search = app.NewSearchService(search.NewCourtListener(search.CourtListenerConfig{
		APIURL:     cfg.CourtListener.APIURL,
		BaseURL:    cfg.CourtListener.BaseURL,
		APIToken:   cfg.CourtListener.APIToken,
		MaxResults: cfg.CourtListener.MaxResults,
	}, log), log)

	if err := a.buildLimiters(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	return a, nil
}

// newEmbedder is called lazily by the resource provider on the first
// retrieval, so a missing embedding upstream does not block startup.
func (a *App) newEmbedder(ctx context.Context) (*rag.Embedder, error) {
	backend, closeFn, err := NewEmbeddingBackend(ctx, a.Config)
	if err != nil {
		return nil, err
	}
	a.embedderMu.Lock()
	a.closeEmbedder = closeFn
	a.embedderMu.Unlock()
	return rag.NewEmbedder(backend, queryCacheTTL), nil
}

func (a *App) startAudit(ctx context.Context) error {
	db, err := mysqlClient.New(ctx, a.Config.MySQLDSN())
	if err != nil {
		return err
	}
	a.MySQL = db
	a.Checks["mysql"] = func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}

	conn, err := rabbitmqClient.New(ctx, a.Config.RabbitMQ.URL)
	if err != nil {
		return err
	}
	a.MQConn = conn
	a.Checks["rabbitmq"] = func(context.Context) error {
		if conn.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	}

	a.AuditPublisher = rabbitmqClient.NewAuditPublisher(conn, a.Config.RabbitMQ.AuditQueue)
	a.Records = repository.NewCompletionRecordRepository(db)
	a.AuditWorker = worker.NewCompletionAuditWorker(conn, a.Records, a.Config.RabbitMQ.AuditQueue, a.Logger)
	if err := a.AuditWorker.Start(ctx); err != nil {
		return fmt.Errorf("start audit worker failed: %w", err)
	}
	return nil
}

func (a *App) buildLimiters(ctx context.Context) error {
	var store cache.CounterStore
	uri := a.Config.RateLimit.StorageURI
	if strings.HasPrefix(uri, "redis://") || strings.HasPrefix(uri, "rediss://") {
		client, err := redisClient.New(ctx, uri)
		if err != nil {
			return err
		}
		a.Redis = client
		a.Checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
		store = cache.NewRedisCounterStore(client)
	} else {
		store = cache.NewMemoryCounterStore()
	}

	build := func(raw, prefix string) (*cache.Limiter, error) {
		limit, err := cache.ParseLimit(raw)
		if err != nil {
			return nil, fmt.Errorf("rate_limit.%s: %w", prefix, err)
		}
		return cache.NewLimiter(store, limit, prefix), nil
	}

	var err error
	if a.Limiters.Models, err = build(a.Config.RateLimit.Models, "models"); err != nil {
		return err
	}
	if a.Limiters.Search, err = build(a.Config.RateLimit.Search, "search"); err != nil {
		return err
	}
	if a.Limiters.Complete, err = build(a.Config.RateLimit.Complete, "complete"); err != nil {
		return err
	}
	return nil
}

func (a *App) Close() error {
	var closeErr error
	keep := func(err error) {
		if err != nil {
			closeErr = err
		}
	}

	if a.Redis != nil {
		keep(a.Redis.Close())
	}
	if a.AuditWorker != nil {
		a.AuditWorker.Close()
	}
	if a.AuditPublisher != nil {
		keep(a.AuditPublisher.Close())
	}
	if a.MQConn != nil {
		keep(a.MQConn.Close())
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			keep(sqlDB.Close())
		}
	}
	if a.Resources != nil {
		keep(a.Resources.Close())
	}
	a.embedderMu.Lock()
	if a.closeEmbedder != nil {
		keep(a.closeEmbedder())
	}
	a.embedderMu.Unlock()
	if a.Providers != nil {
		keep(a.Providers.Close())
	}
	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		keep(a.shutdownTracer(ctx))
	}
	return closeErr
}
