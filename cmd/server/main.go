package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/codebuildervaibhav/meeting-insights/internal/api"
	"github.com/codebuildervaibhav/meeting-insights/internal/artifact"
	"github.com/codebuildervaibhav/meeting-insights/internal/cache"
	"github.com/codebuildervaibhav/meeting-insights/internal/cleanup"
	"github.com/codebuildervaibhav/meeting-insights/internal/config"
	"github.com/codebuildervaibhav/meeting-insights/internal/meeting"
	"github.com/codebuildervaibhav/meeting-insights/internal/pipeline"
	"github.com/codebuildervaibhav/meeting-insights/internal/queue"
	"github.com/codebuildervaibhav/meeting-insights/internal/worker"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Println("Initializing components...")

	artifacts, err := artifact.NewStore(cfg.Storage.UploadDir)
	if err != nil {
		log.Fatalf("Failed to initialize artifact store: %v", err)
	}

	store, err := meeting.NewSQLiteStore(cfg.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	q, err := queue.Open(cfg.Storage.QueueFile)
	if err != nil {
		log.Fatalf("Failed to open job queue: %v", err)
	}
	defer q.Close()

	// Requeue jobs claimed by a previous process before workers start.
	recovered, err := q.Recover()
	if err != nil {
		log.Fatalf("Queue recovery failed: %v", err)
	}
	if recovered > 0 {
		log.Printf("Recovered %d in-flight jobs from previous run", recovered)
	}

	transcriber := pipeline.NewWhisperTranscriber(
		cfg.Whisper.Model,
		cfg.Whisper.Language,
		cfg.Storage.UploadDir,
	)
	summarizer := pipeline.NewGeminiSummarizer(cfg.Gemini.APIKey, cfg.Gemini.Model)

	readCache := cache.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := worker.NewPool(q, store, artifacts, transcriber, summarizer, readCache, worker.Options{
		Size:              cfg.Workers.Count,
		MaxRetries:        cfg.Workers.MaxRetries,
		TranscribeTimeout: time.Duration(cfg.Workers.TranscribeTimeoutMinutes) * time.Minute,
	})
	pool.Start(ctx)

	cleanupScheduler := cleanup.NewScheduler(
		cfg.Storage.UploadDir,
		cfg.Cleanup.IntervalMinutes,
		cfg.Cleanup.MaxAgeHours,
	)
	cleanupScheduler.Start()
	defer cleanupScheduler.Stop()

	app := fiber.New(fiber.Config{
		BodyLimit: cfg.Limits.MaxFileSizeMB * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-API-Key",
	}))
	app.Use(api.APIKeyAuth(cfg.API.Keys))

	h := api.NewHandler(store, q, artifacts, readCache, pool,
		cfg.Limits.MaxFileSizeMB,
		time.Duration(cfg.Cache.TTLSeconds)*time.Second,
	)
	h.RegisterRoutes(app, cfg.API.RateLimitPerSecond)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	log.Println("Endpoints:")
	log.Println("   POST   /meetings                - Upload meeting audio")
	log.Println("   GET    /meetings                - List meetings")
	log.Println("   GET    /meetings/:id            - Get meeting detail")
	log.Println("   GET    /meetings/:id/status     - Get processing status")
	log.Println("   POST   /meetings/:id/reprocess  - Re-submit a meeting")
	log.Println("   DELETE /meetings/:id            - Delete a meeting")
	log.Println("   GET    /search?q=               - Search meetings")
	log.Println("   GET    /health                  - Health check")

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		cancel()
		pool.Wait()
		app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
