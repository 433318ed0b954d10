package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/udaybagda/focus-proctoring-system/internal/config"
	"github.com/udaybagda/focus-proctoring-system/internal/logging"
	"github.com/udaybagda/focus-proctoring-system/internal/middleware"
	"github.com/udaybagda/focus-proctoring-system/internal/mock"
	"github.com/udaybagda/focus-proctoring-system/internal/session"
	"github.com/udaybagda/focus-proctoring-system/internal/store"
	"github.com/udaybagda/focus-proctoring-system/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Drive the pipeline with scripted signal data")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	// No .env file is the normal case outside development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	log, err := logging.Init(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	repo, err := store.NewSQLite(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("failed to open session store", zap.Error(err))
	}
	defer repo.Close()

	agg := session.NewAggregator(cfg.Score, log)
	persister := store.NewPersister(repo, log, agg.MarkDegraded)
	broadcaster := ws.NewBroadcaster(log)
	server := ws.NewServer(agg, repo, persister, broadcaster, cfg.Detector, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go persister.Run(ctx)

	if *mockMode {
		log.Info("starting in mock mode")
		gen := mock.NewGenerator(agg, persister, broadcaster, cfg.Detector, cfg.Mock.TickInterval, log)
		if err := gen.Start(ctx); err != nil {
			log.Fatal("failed to start mock generator", zap.Error(err))
		}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.RequestLogger(log))
	server.Register(r)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")

		// Sessions still running are terminated, persisted and then the
		// write-behind queue gets a moment to drain.
		for _, id := range agg.ActiveIDs() {
			if snap, err := agg.Terminate(id); err == nil {
				saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := persister.SaveNow(saveCtx, snap); err != nil {
					log.Error("failed to persist terminated session",
						zap.String("sessionId", id), zap.Error(err))
				}
				saveCancel()
			}
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", zap.Error(err))
		}
	}()

	log.Info("server listening",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}
