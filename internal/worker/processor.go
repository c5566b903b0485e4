// Package worker consumes the task queue, captions images and reports completion.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dontdude/imgcap/internal/broker"
	"github.com/dontdude/imgcap/internal/domain"
)

// Queues names the queues a Processor works with.
type Queues struct {
	Task       string
	Completion string
}

// Processor handles one task message at a time: it never reads the next message before the
// current one is acknowledged or rejected.
type Processor struct {
	connector *broker.Connector
	queues    Queues
	captioner domain.Captioner
	store     domain.ResultStore
	logger    *slog.Logger
}

// NewProcessor returns a Processor.
func NewProcessor(connector *broker.Connector, queues Queues, captioner domain.Captioner, store domain.ResultStore, logger *slog.Logger) *Processor {
	return &Processor{
		connector: connector,
		queues:    queues,
		captioner: captioner,
		store:     store,
		logger:    logger,
	}
}

// Run consumes the task queue until ctx is cancelled, reconnecting after any broker failure.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("Processor started", "queue", p.queues.Task)

	for {
		sess, err := p.connector.Connect(ctx)
		if err != nil {
			p.logger.Info("Processor stopped")
			return
		}

		err = p.consume(ctx, sess)
		sess.Close()
		if ctx.Err() != nil {
			p.logger.Info("Processor stopped")
			return
		}

		p.logger.Warn("Task consumer lost, reconnecting", "delay", p.connector.RetryDelay(), "error", err)
		if broker.Sleep(ctx, p.connector.RetryDelay()) != nil {
			return
		}
	}
}

func (p *Processor) consume(ctx context.Context, sess domain.Session) error {
	for {
		d, err := sess.Receive(ctx, p.queues.Task)
		if err != nil {
			return err
		}
		if d == nil {
			continue
		}

		if err := p.process(ctx, d); err != nil {
			p.logger.Error("Job failed, requeueing", "msgID", d.ID, "error", err)
			if err := sess.Nack(ctx, d); err != nil {
				return err
			}
			continue
		}

		if err := sess.Ack(ctx, d); err != nil {
			return err
		}
	}
}

// process runs the job and reports it. The task is only acknowledged by the caller after the
// result is persisted and the completion is confirmed by the broker.
func (p *Processor) process(ctx context.Context, d *domain.Delivery) error {
	job, err := domain.DecodeJob(d.Body)
	if err != nil {
		return err
	}

	p.logger.Debug("Processing job", "jobID", job.ID, "url", job.SourceURL)

	caption, err := p.captioner.Caption(ctx, job.SourceURL)
	if err != nil {
		return fmt.Errorf("caption job %s: %w", job.ID, err)
	}

	if err := p.store.Put(ctx, job.ID, []byte(caption)); err != nil {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}

	body, err := domain.Completion{ID: job.ID}.Encode()
	if err != nil {
		return err
	}
	if err := p.connector.PublishForever(ctx, p.queues.Completion, body); err != nil {
		return fmt.Errorf("report job %s: %w", job.ID, err)
	}

	p.logger.Info("Job processed", "jobID", job.ID)
	return nil
}
