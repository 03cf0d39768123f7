package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"docproof/apps/backend/features/history"
	"docproof/apps/backend/features/job"
	"docproof/apps/backend/features/stats"
	"docproof/apps/backend/features/task"
	"docproof/apps/backend/internal/adapter/gemini"
	"docproof/apps/backend/internal/analysis"
	"docproof/apps/backend/internal/cache"
	"docproof/apps/backend/internal/completion"
	"docproof/apps/backend/internal/config"
	"docproof/apps/backend/internal/extract"
	"docproof/apps/backend/internal/fetch"
	"docproof/apps/backend/internal/middleware"
	"docproof/apps/backend/internal/progress"
	"docproof/apps/backend/internal/settings"
	"docproof/apps/backend/internal/worker"
)

type Database interface {
	PingContext(ctx context.Context) error
	Close() error
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// Options replaces collaborators that talk to external services.
type Options struct {
	Model    completion.Model
	Fetcher  analysis.Fetcher
	Cache    cache.Cache
	Policies *completion.Policies
}

type App struct {
	Handler          http.Handler
	TaskService      *task.Service
	Hub              *progress.Hub
	Pipeline         *analysis.Pipeline
	AnalysisConsumer *worker.AnalysisConsumer
	ResultConsumer   *worker.ResultConsumer
	ProgressConsumer *worker.ProgressConsumer

	port int
}

func New(
	cfg *config.Config,
	db Database,
	taskPub TaskPublisher,
	logger *slog.Logger,
	opts *Options,
) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	// Repositories need the concrete handle; the interface keeps the
	// signature mockable with sqlmock.
	sqlDB, ok := db.(*sql.DB)
	if !ok {
		return nil, errors.New("app: database must be *sql.DB")
	}

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(sqlDB)
	settingsService := settings.NewService(settingsRepo)
	seedSettings(context.Background(), settingsRepo, settingsService, cfg)
	settingsHandler := settings.NewHandler(settingsService)

	// Feature: History
	historyRepo := history.NewPostgresRepo(sqlDB)
	historyService := history.NewService(historyRepo)
	historyHandler := history.NewHandler(historyService)

	// Feature: Task
	hub := progress.NewHub()
	taskRepo := task.NewPostgresRepo(sqlDB)
	taskService := task.NewService(taskRepo, taskPub, cfg.UploadDir)
	taskHandler := task.NewHandler(taskService, historyService, hub, cfg.MaxUploadSizeMB<<20)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(sqlDB)
	jobService := job.NewService(jobRepo, taskService, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(taskService, historyService, jobRepo)

	// Pipeline
	model := opts.Model
	if model == nil {
		model = gemini.NewDynamicClient(settingsService)
	}
	policies := completion.DefaultPolicies()
	if opts.Policies != nil {
		policies = *opts.Policies
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.New(
			fetch.WithTimeout(time.Duration(cfg.FetchTimeoutSeconds)*time.Second),
			fetch.WithRateLimit(cfg.PublicFetchRPS, 10),
			fetch.WithOAuthConfig(fetch.OAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret)),
		)
	}

	resultCache := opts.Cache
	if resultCache == nil {
		resultCache = cache.NewPostgresCache(sqlDB)
	}

	pipeline := analysis.NewPipeline(
		taskRepo,
		historyService,
		fetcher,
		extract.New(cfg.TxtPageHeuristic),
		completion.NewDriver(model, policies),
		taskPub,
		analysis.WithCache(resultCache),
		analysis.WithMaxChunkChars(cfg.MaxChunkChars),
	)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /tasks", middleware.CorrelationID(enableCORS(taskHandler.Create)))
	mux.Handle("POST /tasks/upload", middleware.CorrelationID(enableCORS(taskHandler.Upload)))
	mux.Handle("GET /tasks/{id}", middleware.CorrelationID(enableCORS(taskHandler.Get)))
	mux.Handle("POST /tasks/{id}/cancel", middleware.CorrelationID(enableCORS(taskHandler.Cancel)))
	mux.Handle("GET /tasks/{id}/events", middleware.CorrelationID(enableCORS(taskHandler.Events)))
	mux.Handle("GET /tasks/{id}/export", middleware.CorrelationID(enableCORS(historyHandler.Export)))

	mux.Handle("GET /history", middleware.CorrelationID(enableCORS(historyHandler.List)))
	mux.Handle("GET /history/{id}", middleware.CorrelationID(enableCORS(historyHandler.Get)))
	mux.Handle("DELETE /history/{id}", middleware.CorrelationID(enableCORS(historyHandler.Delete)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))
	mux.Handle("DELETE /jobs/{id}", middleware.CorrelationID(enableCORS(jobHandler.Dismiss)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8081
	}

	return &App{
		Handler:          mux,
		TaskService:      taskService,
		Hub:              hub,
		Pipeline:         pipeline,
		AnalysisConsumer: worker.NewAnalysisConsumer(taskRepo, pipeline, taskPub, 0),
		ResultConsumer:   worker.NewResultConsumer(jobRepo),
		ProgressConsumer: worker.NewProgressConsumer(hub),
		port:             port,
	}, nil
}

// seedSettings fills blank stored settings from the environment.
func seedSettings(ctx context.Context, repo settings.Repository, svc *settings.Service, cfg *config.Config) {
	set, err := repo.Get(ctx)
	if err != nil {
		slog.Warn("failed to fetch settings for seeding", "error", err)
		return
	}

	changed := false
	if set.GeminiAPIKey == "" && cfg.GeminiAPIKey != "" {
		set.GeminiAPIKey = cfg.GeminiAPIKey
		changed = true
	}
	if set.GeminiModel == "" && cfg.GeminiModel != "" {
		set.GeminiModel = cfg.GeminiModel
		changed = true
	}
	if set.Temperature <= 0 && cfg.GeminiTemperature > 0 {
		set.Temperature = cfg.GeminiTemperature
		changed = true
	}
	if !changed {
		return
	}

	if err := svc.Update(ctx, set); err != nil {
		slog.Warn("failed to seed settings", "error", err)
		return
	}
	slog.Info("seeded gemini settings from environment")
}

// StartConsumers connects the NSQ consumers enabled by cfg. The caller
// stops them on shutdown.
func (a *App) StartConsumers(cfg *config.Config) ([]*nsq.Consumer, error) {
	var consumers []*nsq.Consumer

	connect := func(topic, channel string, h nsq.Handler, concurrency int) error {
		nsqCfg := nsq.NewConfig()
		nsqCfg.MaxInFlight = concurrency
		c, err := nsq.NewConsumer(topic, channel, nsqCfg)
		if err != nil {
			return fmt.Errorf("nsq consumer %s: %w", topic, err)
		}
		c.SetLoggerLevel(nsq.LogLevelWarning)
		c.AddConcurrentHandlers(h, concurrency)
		if err := c.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			c.Stop()
			return fmt.Errorf("nsq lookupd %s: %w", topic, err)
		}
		slog.Info("NSQ consumer connected", "topic", topic, "channel", channel, "concurrency", concurrency)
		consumers = append(consumers, c)
		return nil
	}

	stopAll := func() {
		for _, c := range consumers {
			c.Stop()
		}
	}

	if cfg.EnableAnalysisWorker {
		concurrency := cfg.AnalysisConcurrency
		if concurrency < 1 {
			concurrency = 1
		}
		if err := connect(config.TopicAnalysisTask, "analysis-worker", a.AnalysisConsumer, concurrency); err != nil {
			stopAll()
			return nil, err
		}
		if err := connect(config.TopicAnalysisResult, "backend", a.ResultConsumer, 1); err != nil {
			stopAll()
			return nil, err
		}
	}

	if cfg.EnableAPI {
		// Each API process relays every progress event to its own subscribers.
		channel := "api-" + uuid.New().String()[:8] + "#ephemeral"
		if err := connect(config.TopicAnalysisProgress, channel, a.ProgressConsumer, 1); err != nil {
			stopAll()
			return nil, err
		}
	}

	return consumers, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
