package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"propsync-service/internal/api"
	"propsync-service/internal/breaker"
	"propsync-service/internal/config"
	"propsync-service/internal/logger"
	"propsync-service/internal/netmon"
	"propsync-service/internal/notify"
	"propsync-service/internal/queue"
	"propsync-service/internal/reconnect"
	"propsync-service/internal/remote"
	syncsvc "propsync-service/internal/sync"
)

func main() {
	// Load Config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting property sync service")

	// Durable queue
	store, err := queue.NewSQLiteStore(cfg.Queue)
	if err != nil {
		logger.Log.Fatal("Failed to open durable queue", zap.Error(err))
	}
	defer store.Close()

	// Remote store client
	rem, err := remote.NewHTTPStore(cfg.Remote)
	if err != nil {
		logger.Log.Fatal("Failed to init remote store client", zap.Error(err))
	}

	// Core components, composed bottom-up
	sink := notify.LogSink{}
	net := netmon.NewNotifier()
	brk := breaker.New(cfg.Breaker)

	recon := reconnect.NewManager(cfg.Reconnect, brk, net, sink)
	svc := syncsvc.NewService(cfg.Sync, store, rem, brk, net, sink)
	scheduler := syncsvc.NewScheduler(cfg.Sync.Interval, svc, net)

	// A verified reconnect immediately drains whatever queued up offline.
	recon.SetOnReconnected(func() {
		if _, err := svc.ForceSync(context.Background()); err != nil {
			logger.Log.Debug("Post-reconnect sync skipped", zap.Error(err))
		}
	})

	svc.Start()
	scheduler.Start()
	recon.Start(func(ctx context.Context) bool {
		return rem.Ping(ctx) == nil
	})

	// Admin API
	handler := api.NewHandler(svc, recon, store, brk, net, cfg.Server.AuthToken)
	router := handler.Routes()

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down...")
	server.Shutdown(context.Background())
	scheduler.Stop()
	recon.Stop()
	svc.Stop()
}
