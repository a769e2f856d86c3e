package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/adapters"
	"github.com/eduviz/backend/internal/animation"
	"github.com/eduviz/backend/internal/api"
	"github.com/eduviz/backend/internal/api/handlers"
	"github.com/eduviz/backend/internal/cleanup"
	"github.com/eduviz/backend/internal/config"
	"github.com/eduviz/backend/internal/jobs"
	"github.com/eduviz/backend/internal/lifecycle"
	"github.com/eduviz/backend/internal/media"
	"github.com/eduviz/backend/internal/pipeline"
	"github.com/eduviz/backend/internal/progress"
	"github.com/eduviz/backend/internal/renderer"
	"github.com/eduviz/backend/internal/sections"
	"github.com/eduviz/backend/internal/storage"
	"github.com/eduviz/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting EduViz backend",
		zap.String("environment", cfg.Environment),
		zap.String("port", cfg.Port),
	)

	ctx := context.Background()

	// Storage roots and repositories.
	layout, err := storage.NewLayout(cfg.OutputDir, cfg.UploadDir, cfg.JobDataDir)
	if err != nil {
		zapLogger.Fatal("Failed to prepare storage layout", zap.Error(err))
	}
	analyses, err := storage.NewAnalysisRepository(cfg.UploadDir)
	if err != nil {
		zapLogger.Fatal("Failed to prepare analysis repository", zap.Error(err))
	}

	jobManager, err := jobs.NewManager(cfg.JobDataDir, cfg.JobCacheLimit, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize job manager", zap.Error(err))
	}
	tracker := progress.NewTracker(layout, jobManager, zapLogger)

	// Providers.
	gemini, err := adapters.NewGeminiClient(ctx, cfg.GeminiAPIKey, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize Gemini client", zap.Error(err))
	}
	ffmpeg := media.NewFFmpeg(zapLogger)
	tts, err := adapters.NewGeminiTTSClient(ctx, cfg.GeminiAPIKey, cfg.GeminiTTSModel, cfg.GeminiTTSRPM, ffmpeg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize TTS adapter", zap.Error(err))
	}

	rend := renderer.New("manim", time.Duration(cfg.RenderTimeout)*time.Second, cfg.RenderConcurrency, zapLogger)

	generator, err := animation.NewGenerator(gemini, rend, ffmpeg, animation.Options{
		Model:             cfg.GeminiModel,
		QCModel:           cfg.GeminiQCModel,
		MaxRefineAttempts: cfg.MaxRefineAttempts,
		MaxCleanRetries:   cfg.MaxCleanRetries,
		TemperatureBase:   cfg.TemperatureBase,
		TemperatureStep:   cfg.TemperatureStep,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize animation generator", zap.Error(err))
	}

	worker := sections.NewWorker(layout, tts, ffmpeg, generator, zapLogger)
	analyzer := pipeline.NewAnalyzer(gemini, cfg.GeminiModel, zapLogger)
	scripts := pipeline.NewScriptGenerator(gemini, cfg.GeminiModel, pipeline.ScriptConstraints{
		OverviewMaxSections:     cfg.OverviewMaxSections,
		OverviewTargetDuration:  cfg.OverviewTargetDuration,
		OverviewMaxSectionWords: cfg.OverviewMaxSectionWords,
	}, zapLogger)
	orchestrator := pipeline.NewOrchestrator(layout, tracker, analyzer, scripts, worker, ffmpeg, cfg.SectionConcurrency, zapLogger)

	cleanupSvc := cleanup.NewService(layout, jobManager, cleanup.Retention{
		OutputCleanupEnabled:       cfg.OutputCleanupEnabled,
		KeepOnlyFinal:              cfg.OutputKeepOnlyFinal,
		OutputRetentionHours:       cfg.OutputRetentionHours,
		FailedOutputRetentionHours: cfg.FailedOutputRetentionHours,
		OrphanOutputRetentionHours: cfg.OrphanOutputRetentionHours,
		JobMetadataRetentionHours:  cfg.JobMetadataRetentionHours,
		UploadCleanupEnabled:       cfg.UploadCleanupEnabled,
		UploadRetentionHours:       cfg.UploadRetentionHours,
		UploadCleanupMaxDeletions:  cfg.UploadCleanupMaxDeletions,
		Interval:                   time.Duration(cfg.CleanupIntervalMinutes) * time.Minute,
	}, zapLogger)

	lifecycleMgr := lifecycle.NewManager(layout, jobManager, tracker, orchestrator, cleanupSvc,
		rend.Binary(), cfg.StrictRuntimeChecks, zapLogger)
	if _, err := lifecycleMgr.Startup(ctx); err != nil {
		zapLogger.Fatal("Startup checks failed", zap.Error(err))
	}

	server := api.NewServer(&api.ServerConfig{
		Environment: cfg.Environment,
		Logger:      zapLogger,
		Upload:      handlers.NewUploadHandler(layout, zapLogger),
		Analyze:     handlers.NewAnalyzeHandler(layout, analyzer, analyses, zapLogger),
		Generate:    handlers.NewGenerateHandler(layout, jobManager, tracker, orchestrator, analyses, zapLogger),
		Jobs:        handlers.NewJobsHandler(jobManager, tracker, zapLogger),
		OutputsRoot: cfg.OutputDir,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}

	go func() {
		zapLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	lifecycleMgr.Shutdown()
	zapLogger.Info("Server exited cleanly")
}
