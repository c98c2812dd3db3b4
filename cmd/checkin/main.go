// Package main runs the check-in backend: a localhost HTTP/WebSocket
// server over a local SQLite store, synchronized against the hosted
// visitors table.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sementesanta/checkin/backend/cmd/checkin/handlers"
	"github.com/sementesanta/checkin/backend/internal/config"
	"github.com/sementesanta/checkin/backend/internal/logging"
	"github.com/sementesanta/checkin/backend/internal/remote"
	"github.com/sementesanta/checkin/backend/internal/store"
	syncpkg "github.com/sementesanta/checkin/backend/internal/sync"
	"github.com/sementesanta/checkin/backend/internal/sync/queue"
	"github.com/sementesanta/checkin/backend/internal/sync/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Error("Failed to load configuration", err)
		os.Exit(1)
	}

	logging.Init(os.Stdout, logging.ParseLevel(cfg.Logging.Level))

	db, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logging.Error("Failed to open local store", err)
		os.Exit(1)
	}
	defer db.Close()

	migrator := store.NewMigrator(db.DB)
	if err := migrator.Initialize(); err != nil {
		logging.Error("Failed to initialize migrations", err)
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		logging.Error("Failed to apply migrations", err)
		os.Exit(1)
	}

	repo := store.NewRepository(db.DB, cfg.Store.MaxRecords)
	defer repo.Close()

	gateway := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.Table,
		cfg.Remote.Timeout, cfg.Remote.BatchSize)

	q, err := queue.NewQueue(repo, queue.Policy{
		Ceiling:   cfg.Sync.RetryCeiling,
		BaseDelay: cfg.Sync.RetryBaseDelay,
		MaxDelay:  queue.DefaultPolicy().MaxDelay,
	})
	if err != nil {
		logging.Error("Failed to load pending queue", err)
		os.Exit(1)
	}

	engine, err := syncpkg.NewEngine(repo, gateway, q, syncpkg.Options{
		Cooldown:       cfg.Sync.Cooldown,
		CallTimeout:    cfg.Remote.Timeout,
		ResyncThrottle: cfg.Sync.ResyncThrottle,
	})
	if err != nil {
		logging.Error("Failed to initialize sync engine", err)
		os.Exit(1)
	}

	hub := NewWSHub()
	engine.SetEventHandler(hub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var subscriber *remote.Subscriber
	if cfg.Remote.RealtimeURL != "" {
		subscriber = remote.NewSubscriber(cfg.Remote.RealtimeURL, cfg.Remote.APIKey,
			engine.HandleRemoteEvent)
		subscriber.Start(ctx)
		defer subscriber.Stop()
	}

	sched := scheduler.NewScheduler(engine, &scheduler.Config{
		SyncInterval:  cfg.Sync.Interval,
		QueueInterval: cfg.Sync.QueueInterval,
	})
	sched.Start(ctx)
	defer sched.Stop()

	// Initial catch-up sync in the background; the server is usable on
	// local data immediately.
	sched.TriggerSync(ctx)

	visitorHandler := handlers.NewVisitorHandler(engine)
	syncHandler := handlers.NewSyncHandler(engine)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{cfg.Server.AllowedOrigin},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/api/health", handleHealth)
	r.Route("/api/visitors", func(r chi.Router) {
		r.Get("/", visitorHandler.List)
		r.Post("/", visitorHandler.Create)
		r.Get("/export", visitorHandler.Export)
		r.Delete("/{id}", visitorHandler.Delete)
	})
	r.Route("/api/sync", func(r chi.Router) {
		r.Get("/status", syncHandler.GetStatus)
		r.Post("/now", syncHandler.TriggerSync)
	})
	r.Get("/ws", HandleWebSocket(hub))

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logging.Info("Check-in backend listening", map[string]interface{}{"addr": addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Server terminated", err)
			stop()
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("Graceful shutdown failed", err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","service":"checkin-backend"}`))
}
