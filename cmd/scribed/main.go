package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scribe/internal/config"
	"scribe/internal/database"
	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/services"
)

func main() {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logging.Init()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("❌ Invalid timezone: %v", err)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}
	log.Printf("✅ Database ready (%s)", db.Driver())

	services.InitMetrics()

	taxonomy, err := config.NewTaxonomyHolder(cfg.TaxonomyFile)
	if err != nil {
		log.Fatalf("❌ Failed to load taxonomy: %v", err)
	}
	if err := taxonomy.Watch(); err != nil {
		log.Printf("⚠️ Taxonomy hot-reload unavailable: %v", err)
	}
	defer taxonomy.Close()

	// Services
	knowledgeService := services.NewKnowledgeService(db)
	projectService := services.NewProjectService(db)
	snippetService := services.NewSnippetService(db)
	journalService := services.NewJournalService(db)
	documentService := services.NewDocumentService(db)
	correctionService := services.NewCorrectionService(db, knowledgeService)
	aiClient := services.NewAIClient(cfg.AIBaseURL, cfg.AIAPIKey,
		cfg.ClassifierModel, cfg.SynthesizerModel, cfg.AIRequestsPerMin)

	ctx := context.Background()
	for _, path := range cfg.SeedProjects {
		if err := projectService.Register(ctx, path); err != nil {
			log.Printf("⚠️ Failed to register project %s: %v", path, err)
		}
	}

	// Pipelines
	maintenance := &jobs.MaintenancePipeline{
		Capture: jobs.NewCaptureStage(knowledgeService, snippetService,
			taxonomy.Current, cfg.CaptureWindow, location),
		Reclassify: jobs.NewReclassifyStage(knowledgeService, aiClient,
			taxonomy.Current, cfg.ReclassifyBatch),
	}
	compilation := &jobs.CompilationPipeline{
		Dedup: jobs.NewDedupStage(knowledgeService, correctionService,
			cfg.DedupThreshold, cfg.DedupWindow),
		Compile: jobs.NewCompileStage(projectService, journalService,
			snippetService, documentService, aiClient, cfg.CompileWindow),
	}

	scheduler, err := services.NewSchedulerService(db, cfg.Timezone)
	if err != nil {
		log.Fatalf("❌ Failed to create scheduler: %v", err)
	}
	if err := scheduler.AddPipeline(ctx, maintenance, cfg.MaintenanceCron, nil); err != nil {
		log.Fatalf("❌ Failed to schedule maintenance pipeline: %v", err)
	}
	if err := scheduler.AddPipeline(ctx, compilation, cfg.CompilationCron, nil); err != nil {
		log.Fatalf("❌ Failed to schedule compilation pipeline: %v", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("❌ Failed to start scheduler: %v", err)
	}

	// Metrics endpoint only; the agent has no other HTTP surface.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		log.Printf("📊 Metrics listening on :%s/metrics", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("⚠️ Metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Metrics server shutdown error: %v", err)
	}
	if err := scheduler.Stop(); err != nil {
		log.Printf("⚠️ Scheduler shutdown error: %v", err)
	}
	log.Println("👋 Goodbye")
}
