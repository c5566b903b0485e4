package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dontdude/imgcap/internal/broker"
	"github.com/dontdude/imgcap/internal/config"
	"github.com/dontdude/imgcap/internal/platform/caption"
	"github.com/dontdude/imgcap/internal/platform/logger"
	"github.com/dontdude/imgcap/internal/platform/queue"
	"github.com/dontdude/imgcap/internal/platform/store"
	"github.com/dontdude/imgcap/internal/worker"
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
	log.Info("Starting imgcap worker", "concurrency", cfg.Worker.Concurrency, "captioner", cfg.Captioner.Backend)

	if err := run(cfg, log); err != nil {
		log.Error("Worker failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Captioner. Fails fast if the backend is unavailable.
	captioner, err := caption.New(ctx, cfg.Captioner, log)
	if err != nil {
		return fmt.Errorf("failed to initialize captioner: %w", err)
	}

	// 4. Result store
	results, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}
	defer results.Close()

	queues := worker.Queues{Task: cfg.Broker.TaskQueue, Completion: cfg.Broker.CompletionQueue}
	groups := map[string]string{
		cfg.Broker.TaskQueue:       cfg.Broker.TaskGroup,
		cfg.Broker.CompletionQueue: cfg.Broker.CompletionGroup,
	}
	newDialer := func(consumer string) *queue.Dialer {
		return queue.NewDialer(queue.Options{
			Addr:     cfg.Broker.Addr,
			Password: cfg.Broker.Password,
			DB:       cfg.Broker.DB,
			Groups:   groups,
			Consumer: consumer,
			Block:    cfg.Broker.ReadBlock,
		})
	}

	// 5. One processor per consumer name, each with its own one-in-flight bound
	runners := make([]worker.Runner, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		consumer := cfg.Broker.Consumer
		if cfg.Worker.Concurrency > 1 {
			consumer = fmt.Sprintf("%s-%d", consumer, i)
		}
		connector := broker.NewConnector(newDialer(consumer),
			[]string{cfg.Broker.TaskQueue, cfg.Broker.CompletionQueue},
			cfg.Broker.RetryDelay, log.With("consumer", consumer))
		runners = append(runners, worker.NewProcessor(connector, queues, captioner, results, log.With("consumer", consumer)))
	}
	pool := worker.NewPool(runners, log)
	pool.Start(ctx)

	// 6. Requeue tasks held by crashed workers
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		newDialer(cfg.Broker.Consumer).StartRecoveryRoutine(ctx, cfg.Broker.TaskQueue,
			cfg.Worker.RecoveryInterval, cfg.Worker.StaleAfter, log)
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	pool.Stop()
	wg.Wait()
	if c, ok := captioner.(io.Closer); ok {
		c.Close()
	}
	log.Info("Shutdown complete")
	return nil
}
