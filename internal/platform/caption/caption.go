// Package caption selects the captioning backend used by the worker.
package caption

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dontdude/imgcap/internal/config"
	"github.com/dontdude/imgcap/internal/domain"
	"github.com/dontdude/imgcap/internal/platform/docker"
	"github.com/dontdude/imgcap/internal/platform/gemini"
)

// New builds the backend named in cfg and bounds every call by cfg.Timeout.
func New(ctx context.Context, cfg config.CaptionerConfig, logger *slog.Logger) (domain.Captioner, error) {
	var c domain.Captioner
	switch cfg.Backend {
	case "hash":
		c = Hash{}
	case "docker":
		dc, err := docker.NewCaptioner(ctx, docker.Options{
			Image:    cfg.DockerImage,
			Command:  cfg.DockerCommand,
			MemoryMB: cfg.DockerMemoryMB,
		}, logger)
		if err != nil {
			return nil, err
		}
		c = dc
	case "gemini":
		gc, err := gemini.NewCaptioner(ctx, gemini.Options{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
			Prompt: cfg.GeminiPrompt,
		}, logger)
		if err != nil {
			return nil, err
		}
		c = gc
	default:
		return nil, fmt.Errorf("unknown captioner backend %q", cfg.Backend)
	}
	return WithTimeout(c, cfg.Timeout), nil
}

// Hash captions an image with a stable digest of its URL. It never fails and needs no model,
// which makes it the default for development and load testing.
type Hash struct{}

func (Hash) Caption(ctx context.Context, sourceURL string) (string, error) {
	return strconv.FormatUint(xxhash.Sum64String(sourceURL)%100_000_000, 10), nil
}

type timeoutCaptioner struct {
	next    domain.Captioner
	timeout time.Duration
}

// WithTimeout bounds each Caption call. A zero timeout returns c unchanged.
func WithTimeout(c domain.Captioner, timeout time.Duration) domain.Captioner {
	if timeout <= 0 {
		return c
	}
	return &timeoutCaptioner{next: c, timeout: timeout}
}

func (t *timeoutCaptioner) Caption(ctx context.Context, sourceURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Caption(ctx, sourceURL)
}

// Close releases the wrapped backend if it holds resources.
func (t *timeoutCaptioner) Close() error {
	if c, ok := t.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
