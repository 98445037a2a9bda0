package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/malascope/malascope-backend/internal/classifier"
	"github.com/malascope/malascope-backend/internal/db"
	"github.com/malascope/malascope-backend/internal/detector"
	"github.com/malascope/malascope-backend/internal/extractor"
	"github.com/malascope/malascope-backend/internal/handlers"
	"github.com/malascope/malascope-backend/internal/logger"
	"github.com/malascope/malascope-backend/internal/pipeline"
	"github.com/malascope/malascope-backend/internal/repos"
	"github.com/malascope/malascope-backend/internal/screening"
	"github.com/malascope/malascope-backend/internal/server"
	"github.com/malascope/malascope-backend/internal/storage"
	"github.com/malascope/malascope-backend/internal/utils"
	"github.com/malascope/malascope-backend/internal/viz"
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

	// Env
	log.Info("Loading environment variables from main...")
	maxPatches := utils.GetEnvAsInt("MAX_PATCHES_PER_IMAGE", extractor.DefaultMaxPatches, log)
	batchSize := utils.GetEnvAsInt("SCREEN_BATCH_SIZE", screening.DefaultBatchSize, log)
	positiveThreshold := utils.GetEnvAsInt("POSITIVE_PATCH_THRESHOLD", screening.DefaultPositiveThreshold, log)
	detectorURL := utils.GetEnv("DETECTOR_URL", "http://localhost:5001", log)
	detectorAPIKey := utils.GetEnv("DETECTOR_API_KEY", "", log)
	detectorTimeout := utils.GetEnvAsInt("DETECTOR_TIMEOUT_SECONDS", 120, log)
	detectorRetries := utils.GetEnvAsInt("DETECTOR_MAX_RETRIES", 3, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	sampleRepo := repos.NewSampleRepo(thePG, log)
	sampleImageRepo := repos.NewSampleImageRepo(thePG, log)
	imagePatchRepo := repos.NewImagePatchRepo(thePG, log)
	initialAnalysisRepo := repos.NewInitialAnalysisRepo(thePG, log)
	patchClassificationRepo := repos.NewPatchClassificationRepo(thePG, log)
	detailedAnalysisRepo := repos.NewDetailedAnalysisRepo(thePG, log)
	detectionResultRepo := repos.NewDetectionResultRepo(thePG, log)
	analysisJobRepo := repos.NewAnalysisJobRepo(thePG, log)

	// Storage
	log.Info("Setting up patch store from main...")
	store, err := newPatchStore(log)
	if err != nil {
		log.Error("Could not init patch store", "error", err)
		os.Exit(1)
	}

	// Classifier
	cls, err := newClassifier(log)
	if err != nil {
		log.Error("Could not init classifier", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up Services from main...")
	renderer := viz.NewRenderer(log)
	extractorService := extractor.NewService(extractor.Config{MaxPatches: maxPatches}, store, imagePatchRepo, renderer, log)
	screeningCoordinator := screening.NewCoordinator(
		screening.Config{BatchSize: batchSize, PositiveThreshold: positiveThreshold},
		thePG,
		store,
		cls,
		imagePatchRepo,
		initialAnalysisRepo,
		patchClassificationRepo,
		sampleImageRepo,
		sampleRepo,
		log,
	)
	detectorClient, err := detector.NewClient(detectorURL, detectorAPIKey, time.Duration(detectorTimeout)*time.Second, detectorRetries, log)
	if err != nil {
		log.Error("Could not init detector client", "error", err)
		os.Exit(1)
	}
	detectorService := detector.NewService(
		thePG,
		detectorClient,
		store,
		sampleImageRepo,
		initialAnalysisRepo,
		detailedAnalysisRepo,
		detectionResultRepo,
		sampleRepo,
		log,
	)
	orchestrator := pipeline.NewOrchestrator(thePG, analysisJobRepo, sampleImageRepo, sampleRepo, imagePatchRepo, initialAnalysisRepo, log)

	// Pipeline worker
	log.Info("Setting up pipeline worker from main...")
	registry := pipeline.NewRegistry()
	for _, h := range []pipeline.Handler{
		pipeline.NewExtractHandler(store, extractorService, sampleImageRepo, sampleRepo, log),
		pipeline.NewScreenHandler(screeningCoordinator, orchestrator, sampleImageRepo, sampleRepo, log),
		pipeline.NewDetailedHandler(detectorService, sampleRepo, log),
	} {
		if err := registry.Register(h); err != nil {
			log.Error("Could not register job handler", "error", err)
			os.Exit(1)
		}
	}
	worker := pipeline.NewWorker(thePG, log, analysisJobRepo, registry)
	worker.Start(context.Background())

	// Handlers
	log.Info("Setting up handlers from main...")
	analysisHandler := handlers.NewAnalysisHandler(orchestrator, detectorService, patchClassificationRepo)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AnalysisHandler: analysisHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}

// newPatchStore picks the patch store backend from PATCH_STORE_MODE:
// "gcs" for the bucket, anything else for the local filesystem.
func newPatchStore(log *logger.Logger) (storage.Store, error) {
	mode := utils.GetEnv("PATCH_STORE_MODE", "local", log)
	if mode == "gcs" {
		bucket := utils.GetEnv("GCS_BUCKET_NAME", "", log)
		return storage.NewGCSStore(context.Background(), bucket, log)
	}
	root := utils.GetEnv("PATCH_STORE_ROOT", "./data/patches", log)
	return storage.NewLocalStore(root, log)
}

// newClassifier picks the screening model from CLASSIFIER_MODE:
// "remote" for the inference endpoint, anything else for the built-in
// heuristic.
func newClassifier(log *logger.Logger) (classifier.Classifier, error) {
	mode := utils.GetEnv("CLASSIFIER_MODE", "heuristic", log)
	if mode == "remote" {
		url := utils.GetEnv("CLASSIFIER_URL", "http://localhost:5000", log)
		apiKey := utils.GetEnv("CLASSIFIER_API_KEY", "", log)
		timeout := utils.GetEnvAsInt("CLASSIFIER_TIMEOUT_SECONDS", 30, log)
		retries := utils.GetEnvAsInt("CLASSIFIER_MAX_RETRIES", 3, log)
		return classifier.NewRemoteClassifier(url, apiKey, time.Duration(timeout)*time.Second, retries, log)
	}
	return classifier.NewHeuristicClassifier(time.Now().UnixNano()), nil
}
