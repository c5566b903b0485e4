package completion

import (
	"context"
	"log/slog"

	"github.com/dontdude/imgcap/internal/broker"
	"github.com/dontdude/imgcap/internal/domain"
)

// Notifier is told about every newly completed job.
type Notifier interface {
	Notify(jobID string)
}

// Listener consumes the completion queue and fills the Set.
type Listener struct {
	connector *broker.Connector
	set       *Set
	queue     string
	notifier  Notifier
	logger    *slog.Logger
}

// NewListener returns a Listener for queue. notifier may be nil.
func NewListener(connector *broker.Connector, set *Set, queue string, notifier Notifier, logger *slog.Logger) *Listener {
	return &Listener{
		connector: connector,
		set:       set,
		queue:     queue,
		notifier:  notifier,
		logger:    logger,
	}
}

// Run consumes until ctx is cancelled, reconnecting and resubscribing after any failure.
func (l *Listener) Run(ctx context.Context) {
	l.logger.Info("Completion listener started", "queue", l.queue)

	for {
		sess, err := l.connector.Connect(ctx)
		if err != nil {
			l.logger.Info("Completion listener stopped", "completed", l.set.Len())
			return
		}

		err = l.consume(ctx, sess)
		sess.Close()
		if ctx.Err() != nil {
			l.logger.Info("Completion listener stopped", "completed", l.set.Len())
			return
		}

		l.logger.Warn("Completion consumer lost, reconnecting", "delay", l.connector.RetryDelay(), "error", err)
		if broker.Sleep(ctx, l.connector.RetryDelay()) != nil {
			return
		}
	}
}

// consume handles messages until the session fails.
func (l *Listener) consume(ctx context.Context, sess domain.Session) error {
	for {
		d, err := sess.Receive(ctx, l.queue)
		if err != nil {
			return err
		}
		if d == nil {
			continue
		}
		if err := l.handle(ctx, sess, d); err != nil {
			return err
		}
	}
}

// handle marks the job completed and acks, or nacks with requeue when the payload is malformed.
// Only broker errors are returned.
func (l *Listener) handle(ctx context.Context, sess domain.Session, d *domain.Delivery) error {
	c, err := domain.DecodeCompletion(d.Body)
	if err != nil {
		l.logger.Error("Invalid completion message, requeueing", "msgID", d.ID, "error", err)
		return sess.Nack(ctx, d)
	}

	// Notify before acking: a failed ack redelivers the message, and by then Add reports false.
	if l.set.Add(c.ID) {
		l.logger.Info("Job completed", "jobID", c.ID)
		if l.notifier != nil {
			l.notifier.Notify(c.ID)
		}
	}
	return sess.Ack(ctx, d)
}
