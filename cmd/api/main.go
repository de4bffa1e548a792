package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/inkframe/inkframe/internal/api"
	"github.com/inkframe/inkframe/internal/config"
	"github.com/inkframe/inkframe/internal/db"
	"github.com/inkframe/inkframe/internal/queue"
	"github.com/inkframe/inkframe/internal/services"
	"github.com/inkframe/inkframe/internal/storage"
	"github.com/inkframe/inkframe/internal/worker"
	"github.com/inkframe/inkframe/internal/ws"
	"github.com/google/uuid"
)

func main() {
	log.Println("Starting Inkframe API...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	resolver := storage.NewResolver(stor)
	log.Println("Initialized Supabase storage")

	gateway := services.NewGatewayWithConcurrency(cfg.GatewayKeyConcurrency)

	compositor, err := services.NewCompositor(cfg.FFmpegTempDir)
	if err != nil {
		log.Fatalf("Failed to initialize ffmpeg compositor: %v", err)
	}

	transcriber := services.NewTranscriber(cfg.OpenAIKey)
	renderer := services.NewSubtitleRenderer()

	// Motion provider (§4.8): xAI preferred over Veo when both are enabled;
	// nil falls back to the zoompan Ken Burns path.
	var motion services.MotionProvider
	if cfg.XAIEnabled && cfg.XAIAPIKey != "" {
		motion = services.NewXAIMotionProvider(cfg.XAIAPIKey)
		log.Println("AI motion provider: xAI Grok Imagine Video")
	} else if cfg.VeoEnabled {
		motion = services.NewVeoMotionProvider(cfg.GeminiKey, cfg.VeoModel)
		log.Printf("AI motion provider: Veo (model: %s)", cfg.VeoModel)
	} else {
		log.Println("AI motion provider disabled — using Ken Burns zoompan")
	}

	var styleRef *services.StyleReference
	if cfg.GeminiStyleReferenceImage != "" {
		if data, err := os.ReadFile(cfg.GeminiStyleReferenceImage); err == nil {
			styleRef = &services.StyleReference{Data: data, MIMEType: mimeForExt(cfg.GeminiStyleReferenceImage)}
			log.Printf("Loaded style reference image: %s", cfg.GeminiStyleReferenceImage)
		} else {
			log.Printf("No style reference image at %s, proceeding without one: %v", cfg.GeminiStyleReferenceImage, err)
		}
	}

	var hub *ws.Hub
	var notifier worker.Notifier
	if cfg.WebSocketEnabled {
		hub = ws.NewHub()
		notifier = hub
		log.Println("WebSocket push surface enabled at /ws/connect")
	}

	deps := &worker.Deps{
		DB:                  database,
		Queue:               q,
		Store:               stor,
		Resolver:            resolver,
		Gateway:             gateway,
		Ffmpeg:              compositor,
		Transcriber:         transcriber,
		Renderer:            renderer,
		Motion:              motion,
		Notifier:            notifier,
		EncryptionKey:       cfg.APIKeyEncryptionKey,
		StyleReference:      styleRef,
		WorkerPoolSize:      cfg.WorkerPoolSize,
		BackgroundMusicPath: cfg.BackgroundMusicPath,
	}

	workerID := fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	dispatcher := worker.NewDispatcher(deps, workerID)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	go dispatcher.Start(workerCtx, cfg.SchedulerWorkers)
	log.Printf("Scheduler dispatcher started (%d workers, id=%s)", cfg.SchedulerWorkers, workerID)

	handler := api.NewHandler(database, q, stor, hub, cfg.APIKeyEncryptionKey)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	workerCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func mimeForExt(path string) string {
	switch filepath.Ext(path) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
