package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dontdude/imgcap/internal/broker"
	"github.com/dontdude/imgcap/internal/domain"
)

// DefaultDrainInterval bounds how long a buffered message waits without a signal.
const DefaultDrainInterval = 1 * time.Second

// Publisher drains the Buffer into the task queue in the background.
type Publisher struct {
	buffer    *Buffer
	connector *broker.Connector
	queue     string
	interval  time.Duration
	logger    *slog.Logger

	// sess is reused across cycles and only touched by the Run goroutine.
	sess domain.Session
}

// NewPublisher returns a Publisher for queue.
func NewPublisher(buffer *Buffer, connector *broker.Connector, queue string, interval time.Duration, logger *slog.Logger) *Publisher {
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	return &Publisher{
		buffer:    buffer,
		connector: connector,
		queue:     queue,
		interval:  interval,
		logger:    logger,
	}
}

// Run wakes on every buffer signal or drain interval and publishes what is buffered.
// It returns when ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("Buffer publisher started", "queue", p.queue, "interval", p.interval)
	defer p.closeSession()

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Buffer publisher stopped", "pending", p.buffer.Len())
			return
		case <-p.buffer.Wake():
		case <-timer.C:
		}

		if err := p.drain(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("Drain cycle aborted", "pending", p.buffer.Len(), "error", err)
			p.closeSession()
			if broker.Sleep(ctx, p.connector.RetryDelay()) != nil {
				continue
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.interval)
	}
}

// drain publishes buffered messages front first until the buffer is empty or a publish fails.
// A connection-level failure is returned; a broker refusal ends the cycle quietly.
func (p *Publisher) drain(ctx context.Context) error {
	if p.buffer.Len() == 0 {
		return nil
	}

	if p.sess == nil {
		sess, err := p.connector.Open(ctx)
		if err != nil {
			return err
		}
		p.sess = sess
	}

	sent := 0
	for {
		msg, ok := p.buffer.Pop()
		if !ok {
			break
		}

		if err := p.sess.Publish(ctx, p.queue, msg); err != nil {
			p.buffer.PushFront(msg)
			if domain.IsPublishRejection(err) {
				p.logger.Warn("Buffered publish refused, retrying next cycle", "pending", p.buffer.Len(), "error", err)
				if errors.Is(err, domain.ErrUnroutable) {
					// The queue vanished; the next cycle's session declares it again.
					p.closeSession()
				}
				break
			}
			return err
		}
		sent++
	}

	if sent > 0 {
		p.logger.Info("Drained buffered jobs", "count", sent, "pending", p.buffer.Len())
	}
	return nil
}

func (p *Publisher) closeSession() {
	if p.sess != nil {
		p.sess.Close()
		p.sess = nil
	}
}
