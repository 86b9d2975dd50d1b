package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/sceneforge-backend/internal/db"
	"github.com/yungbote/sceneforge-backend/internal/handlers"
	"github.com/yungbote/sceneforge-backend/internal/jobs"
	"github.com/yungbote/sceneforge-backend/internal/logger"
	"github.com/yungbote/sceneforge-backend/internal/middleware"
	"github.com/yungbote/sceneforge-backend/internal/observability"
	"github.com/yungbote/sceneforge-backend/internal/realtime"
	"github.com/yungbote/sceneforge-backend/internal/repos"
	"github.com/yungbote/sceneforge-backend/internal/scenegen"
	"github.com/yungbote/sceneforge-backend/internal/scenegen/pipeline"
	"github.com/yungbote/sceneforge-backend/internal/server"
	"github.com/yungbote/sceneforge-backend/internal/services"
	"github.com/yungbote/sceneforge-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Tracing (no-op unless OTEL_ENABLED)
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "sceneforge",
		Environment: os.Getenv("APP_ENV"),
		Version:     os.Getenv("APP_VERSION"),
	})
	if otelShutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	generationRepo := repos.NewSceneGenerationRepo(thePG, log)
	sceneRepo := repos.NewSceneRepo(thePG, log)

	// Realtime hub
	hub := realtime.NewHub(log)

	// Services
	log.Info("Setting up services from main...")
	bucketService, err := services.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	mediaTools := services.NewMediaToolsService(log)
	if err := mediaTools.AssertReady(ctx); err != nil {
		log.Error("Media tools not ready", "error", err)
		os.Exit(1)
	}
	openaiClient, err := services.NewOpenAIClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}
	downloader := services.NewAssetDownloader(log)

	// Speech and vision are optional: without them phase 0 degrades to
	// metadata-only context.
	speechProvider, err := services.NewSpeechProviderService(log)
	if err != nil {
		log.Warn("Speech provider unavailable, transcripts disabled", "error", err)
		speechProvider = nil
	}
	visionProvider, err := services.NewVisionProviderService(log)
	if err != nil {
		log.Warn("Vision provider unavailable, reference analysis disabled", "error", err)
		visionProvider = nil
	}

	// Pipelines
	videoPipeline := pipeline.NewVideoPipeline()
	bannerPipeline := pipeline.NewBannerPipeline()
	registry := pipeline.NewRegistry()
	registry.Register(videoPipeline)
	registry.Register(bannerPipeline)
	registry.Register(pipeline.NewOverlayPipeline(videoPipeline, bannerPipeline))
	registry.Register(pipeline.NewPipPipeline(videoPipeline))
	registry.Register(pipeline.NewBlankPipeline())

	// Orchestrator
	orch, err := scenegen.NewOrchestrator(scenegen.OrchestratorDeps{
		Generations:      generationRepo,
		Scenes:           sceneRepo,
		Bucket:           bucketService,
		Media:            mediaTools,
		OpenAI:           openaiClient,
		Speech:           speechProvider,
		Vision:           visionProvider,
		Downloader:       downloader,
		Pipelines:        registry,
		Events:           hub,
		Log:              log,
		SceneConcurrency: utils.GetEnvAsInt("SCENE_CONCURRENCY", 3, log),
	})
	if err != nil {
		log.Error("Could not init orchestrator", "error", err)
		os.Exit(1)
	}

	executor := func(ctx context.Context, job *jobs.Job) error {
		switch job.Kind {
		case jobs.JobKindGenerate:
			return orch.Execute(ctx, job.GenerationID)
		case jobs.JobKindContinue:
			return orch.Continue(ctx, job.GenerationID)
		case jobs.JobKindRegenerateScene:
			return orch.RegenerateScene(ctx, job.GenerationID, job.SceneID)
		default:
			return fmt.Errorf("unknown job kind %q", job.Kind)
		}
	}

	// Queue + worker
	redisClient, err := jobs.NewRedisClient(log)
	if err != nil {
		log.Error("Could not init redis client", "error", err)
		os.Exit(1)
	}
	queue, err := jobs.NewQueue(redisClient, executor, log)
	if err != nil {
		log.Error("Could not init job queue", "error", err)
		os.Exit(1)
	}
	if err := queue.Ping(ctx); err != nil {
		log.Warn("Redis unreachable at startup, jobs will run inline", "error", err)
	}
	worker, err := jobs.NewWorker(redisClient, executor, log)
	if err != nil {
		log.Error("Could not init job worker", "error", err)
		os.Exit(1)
	}
	worker.Start(ctx)
	defer worker.Stop()

	// Handlers
	log.Info("Setting up handlers from main...")
	healthHandler := handlers.NewHealthHandler(thePG)
	sceneGenHandler := handlers.NewSceneGenHandler(generationRepo, sceneRepo, queue, log)

	// Rate limits: a broad API budget and a tighter one for render starts.
	apiLimiter := middleware.NewRateLimiter(500, 15*time.Minute, log)
	generateLimiter := middleware.NewRateLimiter(20, time.Hour, log)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		HealthHandler:   healthHandler,
		SceneGenHandler: sceneGenHandler,
		Hub:             hub,
		APILimiter:      apiLimiter,
		GenerateLimiter: generateLimiter,
	})

	port := utils.GetEnv("PORT", "3001", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
