package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dontdude/imgcap/internal/broker"
	"github.com/dontdude/imgcap/internal/completion"
	"github.com/dontdude/imgcap/internal/config"
	"github.com/dontdude/imgcap/internal/dispatch"
	"github.com/dontdude/imgcap/internal/platform/logger"
	"github.com/dontdude/imgcap/internal/platform/queue"
	"github.com/dontdude/imgcap/internal/platform/store"
	"github.com/dontdude/imgcap/internal/platform/web"
	"github.com/dontdude/imgcap/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log := logger.Setup(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Broker connector declaring both queues
	dialer := queue.NewDialer(queue.Options{
		Addr:     cfg.Broker.Addr,
		Password: cfg.Broker.Password,
		DB:       cfg.Broker.DB,
		Groups: map[string]string{
			cfg.Broker.TaskQueue:       cfg.Broker.TaskGroup,
			cfg.Broker.CompletionQueue: cfg.Broker.CompletionGroup,
		},
		Consumer: cfg.Broker.Consumer,
		Block:    cfg.Broker.ReadBlock,
	})
	connector := broker.NewConnector(dialer,
		[]string{cfg.Broker.TaskQueue, cfg.Broker.CompletionQueue},
		cfg.Broker.RetryDelay, log)

	// 4. Result store
	results, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}
	defer results.Close()

	// 5. Dispatch path: immediate publish with buffered fallback
	buffer := dispatch.NewBuffer(cfg.Dispatch.BufferCapacity, dispatch.OverflowPolicy(cfg.Dispatch.OverflowPolicy))
	dispatcher := dispatch.NewDispatcher(connector, buffer, cfg.Broker.TaskQueue, dispatch.Options{
		PublishTimeout: cfg.Dispatch.PublishTimeout,
		MaxInflight:    cfg.Dispatch.MaxInflight,
	}, log)
	defer dispatcher.Close()
	publisher := dispatch.NewPublisher(buffer, connector, cfg.Broker.TaskQueue, cfg.Dispatch.DrainInterval, log)

	// 6. Completion path feeding the websocket hub
	completed := completion.NewSet()
	hub := web.NewHub(completed.Contains, log)
	listener := completion.NewListener(connector, completed, cfg.Broker.CompletionQueue, hub, log)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		publisher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		listener.Run(ctx)
	}()

	// 7. HTTP adapter
	var limiter *web.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = web.NewRateLimiter(ctx, cfg.Server.RateLimit, int(cfg.Server.RateBurst))
	}
	images := service.NewImages(dispatcher, completed, results, log)
	srv := web.NewServer(web.Options{Port: cfg.Server.Port, TrustProxy: cfg.Server.TrustProxy}, images, hub, limiter, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}

	wg.Wait()
	if n := buffer.Len(); n > 0 {
		log.Warn("Discarding unpublished jobs", "pending", n)
	}
	log.Info("Shutdown complete")
	return nil
}
