package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/coreos/go-systemd/v22/daemon"

	"thermal-status-backend/config"
	"thermal-status-backend/internal/api"
	"thermal-status-backend/internal/db"
	"thermal-status-backend/internal/events"
	"thermal-status-backend/internal/listener"
	"thermal-status-backend/internal/notification"
	"thermal-status-backend/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "thermald ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Printf("%s registry initialized", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	hub := events.NewHub()

	opts := []listener.Option{listener.WithPublisher(hub)}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		pool.Start(ctx)
		opts = append(opts, listener.WithAlerter(pool))
	} else {
		logger.Println("VAPID keys not configured, overheat push notifications disabled")
	}

	sms := listener.NewService(cfg, appStore, opts...)
	if cfg.Listener.Enabled {
		if err := sms.Start(); err != nil {
			logger.Fatalf("failed to start SMS listener: %v", err)
		}
	} else {
		logger.Println("SMS listener disabled; start it with POST /api/listener/start")
	}

	handler := api.NewHandler(appStore, sms, hub, cfg.Modem, webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(handler, cfg.Server),
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	notifySystemd(logger, daemon.SdNotifyReady, "ready")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")
	notifySystemd(logger, daemon.SdNotifyStopping, "stopping")

	sms.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}

// notifySystemd reports state to systemd when running under a notify unit.
func notifySystemd(logger *log.Logger, state, name string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Printf("sd_notify %s failed: %v", name, err)
		return
	}
	if sent {
		logger.Printf("notified systemd: %s", name)
	}
}
