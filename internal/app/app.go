package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"RevAI/internal/config"
	"RevAI/internal/evaluation"
	"RevAI/internal/infrastructure/httpapi"
	"RevAI/internal/infrastructure/llm"
	"RevAI/internal/infrastructure/metrics"
	"RevAI/internal/infrastructure/parser"
	"RevAI/internal/infrastructure/scheduler"
	"RevAI/internal/infrastructure/storage"
	"RevAI/internal/logging"
	"RevAI/internal/ports"
	"RevAI/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	dbs       []*sql.DB
	registry  *prometheus.Registry
	review    *usecase.Review
	batch     *usecase.BatchOrchestrator
	scheduler *usecase.Scheduler
}

// New connects to the store and builds the use cases. A missing model API key
// is not fatal here: handlers that need the evaluator report it per request.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	requestStore, batchStore, err := a.openStores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewReviewMetrics(a.registry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	evaluator := a.buildEvaluator()

	a.review = usecase.NewReview(usecase.ReviewDeps{
		Store:           requestStore,
		Evaluator:       evaluator,
		Decoders:        parser.NewRegistry(),
		Parser:          parser.MarkerParser{},
		Recorder:        recorder,
		Logger:          baseLogger,
		SettingsVersion: cfg.Evaluation.SettingsVersion,
	})
	a.batch = usecase.NewBatchOrchestrator(usecase.BatchDeps{
		Store:     batchStore,
		Evaluator: evaluator,
		Recorder:  recorder,
		Logger:    baseLogger,
		BatchSize: cfg.Evaluation.BatchSize,
		Lease:     cfg.Evaluation.LeaseDuration,
	})

	if cfg.Scheduler.Enabled {
		driver := scheduler.NewIntervalScheduler(cfg.Scheduler.Interval, cfg.Scheduler.Location())
		a.scheduler = usecase.NewScheduler(driver, a.batch, cfg.Evaluation.SettingsVersion, baseLogger)
	}

	return a, nil
}

// openStores returns the store used by requests and the one used by batch
// evaluation; they share a connection unless a service URL is configured.
func (a *Application) openStores(ctx context.Context) (ports.Store, ports.Store, error) {
	db, err := storage.Open(ctx, a.cfg.Database.URL, a.cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	a.dbs = append(a.dbs, db)

	requestStore := storage.NewPostgresRepository(db, storage.WithChunkSize(a.cfg.Upload.ChunkSize))
	if err := requestStore.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}

	serviceURL := a.cfg.Database.ServiceURL
	if serviceURL == "" || serviceURL == a.cfg.Database.URL {
		return requestStore, requestStore, nil
	}

	serviceDB, err := storage.Open(ctx, serviceURL, a.cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, nil, fmt.Errorf("open service database: %w", err)
	}
	a.dbs = append(a.dbs, serviceDB)
	return requestStore, storage.NewPostgresRepository(serviceDB), nil
}

func (a *Application) buildEvaluator() ports.Evaluator {
	chat, err := llm.NewChatGPTClient(a.cfg.OpenAI)
	if err != nil {
		a.logger.Warn("ai evaluation disabled", "error", err)
		return nil
	}

	retry := evaluation.RetryConfig{
		MaxRetries:   a.cfg.Evaluation.MaxRetries,
		InitialDelay: a.cfg.Evaluation.BaseBackoff,
		MaxDelay:     a.cfg.Evaluation.MaxBackoff,
	}
	client, err := evaluation.NewClient(chat, retry, a.logger.With("component", "evaluation"),
		evaluation.WithDefaultModel(a.cfg.OpenAI.Model))
	if err != nil {
		a.logger.Warn("ai evaluation disabled", "error", err)
		return nil
	}
	return client
}

// Serve runs the HTTP API and, when enabled, the in-process batch trigger
// until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	server := httpapi.NewServer(httpapi.Options{
		Addr:            a.cfg.Server.Addr,
		CronSecret:      a.cfg.Server.CronSecret,
		MaxUploadBytes:  a.cfg.Upload.MaxBytes,
		SettingsVersion: a.cfg.Evaluation.SettingsVersion,
		ReadTimeout:     a.cfg.Server.ReadTimeout,
		WriteTimeout:    a.cfg.Server.WriteTimeout,
	}, a.review, a.batch, a.registry, a.logger)

	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() {
			if err := a.scheduler.Stop(context.Background()); err != nil {
				a.logger.Warn("scheduler stop failed", "error", err)
			}
		}()
	}

	return server.Run(ctx)
}

// RunBatch performs a single batch evaluation, for use from an external cron.
func (a *Application) RunBatch(ctx context.Context) (usecase.BatchResult, error) {
	res, err := a.batch.ProcessBatch(ctx, a.cfg.Evaluation.SettingsVersion)
	if err != nil {
		return res, fmt.Errorf("batch evaluation: %w", err)
	}
	return res, nil
}

// Close releases database connections.
func (a *Application) Close() {
	for _, db := range a.dbs {
		if err := db.Close(); err != nil {
			a.logger.Warn("close database", "error", err)
		}
	}
	a.dbs = nil
}
