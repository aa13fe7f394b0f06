package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/api"
	"face-attendance-go/internal/camera"
	"face-attendance-go/internal/db"
	"face-attendance-go/internal/embed"
	"face-attendance-go/internal/gallery"
	"face-attendance-go/internal/ledger"
	"face-attendance-go/internal/logger"
	"face-attendance-go/internal/mqtt"
	"face-attendance-go/internal/session"
	"face-attendance-go/internal/sse"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	log.Info("Initializing database...")
	gdb, err := db.Open(cfg.DB.File)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	store := gallery.NewStore(gdb, cfg.Recognition.EmbeddingDim)

	if cfg.Gallery.ActiveDataset == "" {
		log.Fatal("No active dataset configured (gallery.active_dataset)")
	}
	g, err := store.Load(context.Background(), cfg.Gallery.ActiveDataset)
	if err != nil {
		// A missing or corrupt dataset blocks session start entirely.
		log.Fatalf("Failed to load dataset %q: %v", cfg.Gallery.ActiveDataset, err)
	}

	led, err := ledger.New(gdb, g.Dataset)
	if err != nil {
		log.Fatalf("Failed to initialize attendance ledger: %v", err)
	}

	embedder := embed.NewClient(cfg.Embedder)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := embedder.Ping(pingCtx); err != nil {
		log.Warnf("Embedding service not reachable yet: %v", err)
	}
	pingCancel()

	hub := sse.NewHub()
	go hub.Run()

	publisher, err := mqtt.NewPublisher(cfg.MQTT)
	if err != nil {
		log.Warnf("Failed to initialize MQTT publisher: %v. Continuing without MQTT.", err)
		publisher = nil
	}
	defer publisher.Stop()

	var notifier session.AttendanceNotifier
	if publisher != nil {
		notifier = publisher
	}
	controller := session.NewController(led, embedder, hub, notifier, cfg.Recognition.TieEpsilon)

	newSource := func() (camera.Source, error) {
		return camera.NewSnapshotSource(cfg.Camera)
	}
	apiHandler := api.NewHandler(cfg, store, led, controller, hub, g, newSource)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Route("/api", func(r chi.Router) {
		apiHandler.RegisterRoutes(r)
	})

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Infof("Starting server on %s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for shutdown signal, then stop the session before the server so
	// the in-flight frame is fully recorded.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	if err := controller.Stop(); err != nil {
		log.Errorf("Failed to stop session cleanly: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}

	log.Info("Server stopped.")
}
