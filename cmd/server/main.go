package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"openlegalrag/internal/bootstrap"
	"openlegalrag/internal/config"
	"openlegalrag/internal/pkg/logger"
	httptransport "openlegalrag/internal/transport/http"
)

const moduleServer = "server"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.File, cfg.IsProd())
	defer func() { _ = log.Sync() }()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Error(moduleServer, "bootstrap failed", map[string]interface{}{"error": err})
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn(moduleServer, "close resources failed", map[string]interface{}{"error": err})
		}
	}()

	router := httptransport.NewRouter(app)
	server := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info(moduleServer, "server starting", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(moduleServer, "server failed", map[string]interface{}{"error": err})
			os.Exit(1)
		}
	}()

	waitForShutdown(server, log)
}

func waitForShutdown(server *http.Server, log logger.ILogger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// completions stream for a while; give them longer than plain requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn(moduleServer, "server shutdown failed", map[string]interface{}{"error": err})
	}
}
