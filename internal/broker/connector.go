// Package broker manages the lifecycle of broker sessions: dialing, queue declaration and the
// retry-forever discipline shared by every long-lived component.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dontdude/imgcap/internal/domain"
)

// DefaultRetryDelay is the fixed pause between connection attempts.
const DefaultRetryDelay = 1 * time.Second

// Connector dials the broker and declares the queues every session needs.
type Connector struct {
	dialer     domain.Dialer
	queues     []string
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewConnector returns a Connector that declares queues on every session it opens.
func NewConnector(dialer domain.Dialer, queues []string, retryDelay time.Duration, logger *slog.Logger) *Connector {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		dialer:     dialer,
		queues:     queues,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// RetryDelay returns the fixed backoff used between attempts.
func (c *Connector) RetryDelay() time.Duration {
	return c.retryDelay
}

// Open makes a single attempt to dial and declare the queues.
func (c *Connector) Open(ctx context.Context) (domain.Session, error) {
	sess, err := c.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("broker dial failed: %w", err)
	}
	if err := sess.Declare(ctx, c.queues...); err != nil {
		sess.Close()
		return nil, fmt.Errorf("queue declare failed: %w", err)
	}
	return sess, nil
}

// Connect blocks until a session is open. Every failure is treated as transient and retried
// after the fixed delay. It only gives up when ctx is cancelled.
func (c *Connector) Connect(ctx context.Context) (domain.Session, error) {
	for attempt := 1; ; attempt++ {
		sess, err := c.Open(ctx)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("Broker connection established", "attempts", attempt)
			}
			return sess, nil
		}

		c.logger.Warn("Broker connection failed, retrying", "attempt", attempt, "delay", c.retryDelay, "error", err)
		if err := Sleep(ctx, c.retryDelay); err != nil {
			return nil, err
		}
	}
}

// PublishForever connects and publishes until the broker confirms the message.
// Unlike the bounded immediate publish it never gives up short of ctx cancellation.
func (c *Connector) PublishForever(ctx context.Context, queue string, body []byte) error {
	for {
		sess, err := c.Connect(ctx)
		if err != nil {
			return err
		}

		err = sess.Publish(ctx, queue, body)
		sess.Close()
		if err == nil {
			return nil
		}

		c.logger.Warn("Publish failed, retrying", "queue", queue, "delay", c.retryDelay, "error", err)
		if err := Sleep(ctx, c.retryDelay); err != nil {
			return err
		}
	}
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
