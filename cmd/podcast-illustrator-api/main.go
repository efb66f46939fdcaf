package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"podcast-illustrator/internal/bootstrap"
	"podcast-illustrator/internal/config"
	server "podcast-illustrator/internal/http"
	"podcast-illustrator/internal/pipeline"
	"podcast-illustrator/internal/retention"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg := config.Load(*configPath)

	// Set up logger
	logger := bootstrap.NewLogger(cfg.Log, os.Stdout)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(rootCtx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}
	defer app.Close()

	// Jobs left processing by a previous process can never finish.
	if n, err := app.Orchestrator.RecoverInterrupted(rootCtx); err != nil {
		log.Fatalf("recovery failed: %v", err)
	} else if n > 0 {
		logger.Warn("failed interrupted jobs", "count", n)
	}

	if v, err := app.FFmpeg.Version(rootCtx); err != nil {
		logger.Warn("ffmpeg not available", "path", cfg.Transcoder.FFmpegPath, "error", err)
	} else {
		logger.Info("ffmpeg found", "version", v)
	}

	queue := pipeline.NewQueue(app.Orchestrator, logger,
		pipeline.WithWorkers(cfg.Worker.MaxConcurrentJobs),
		pipeline.WithQueueSize(cfg.Worker.QueueSize),
	)

	reserve := func(id string) (func(), bool) {
		if queue.Pending(id) {
			return nil, false
		}
		return app.Orchestrator.Reserve(id)
	}
	janitor := retention.NewRunner(cfg, app.Store, reserve, app.Pruner(), logger)
	go janitor.Start(rootCtx)

	deps := server.Deps{Queue: queue, FFmpeg: app.FFmpeg}
	if app.Catalog != nil {
		deps.Catalog = app.Catalog
	}
	if app.Redis != nil {
		deps.Redis = app.Redis
	}
	s := server.NewServer(cfg, app.Orchestrator, deps, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Listen() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case <-rootCtx.Done():
		logger.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	queue.Shutdown(ctx)
}
