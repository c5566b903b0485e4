package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dontdude/imgcap/internal/broker"
	"github.com/dontdude/imgcap/internal/config"
	"github.com/dontdude/imgcap/internal/domain"
	"github.com/dontdude/imgcap/internal/platform/logger"
	"github.com/dontdude/imgcap/internal/platform/queue"
)

// urlList collects repeated -url flags.
type urlList []string

func (u *urlList) String() string { return strings.Join(*u, ",") }

func (u *urlList) Set(v string) error {
	*u = append(*u, v)
	return nil
}

func main() {
	var urls urlList
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Var(&urls, "url", "image URL to caption (repeatable); positional arguments are accepted too")
	flag.Parse()
	urls = append(urls, flag.Args()...)

	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "usage: producer [-config file] [-url URL]... [URL...]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	// Logs go to stderr so stdout carries only job ids.
	log := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Publishing only; the task group is declared so entries are not lost before a worker starts.
	dialer := queue.NewDialer(queue.Options{
		Addr:     cfg.Broker.Addr,
		Password: cfg.Broker.Password,
		DB:       cfg.Broker.DB,
		Groups:   map[string]string{cfg.Broker.TaskQueue: cfg.Broker.TaskGroup},
		Consumer: cfg.Broker.Consumer,
	})
	connector := broker.NewConnector(dialer, []string{cfg.Broker.TaskQueue}, cfg.Broker.RetryDelay, log)

	for _, u := range urls {
		job := domain.NewJob(u)
		body, err := job.Encode()
		if err != nil {
			log.Error("Failed to encode job", "url", u, "error", err)
			os.Exit(1)
		}

		log.Info("Publishing job", "jobID", job.ID, "url", u)
		if err := connector.PublishForever(ctx, cfg.Broker.TaskQueue, body); err != nil {
			log.Error("Failed to publish job", "jobID", job.ID, "error", err)
			os.Exit(1)
		}
		fmt.Println(job.ID)
	}

	log.Info("Published jobs", "count", len(urls))
}
