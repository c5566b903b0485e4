// Package dispatch implements job submission: a bounded immediate publish with a local
// fallback buffer drained in the background.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dontdude/imgcap/internal/broker"
	"github.com/dontdude/imgcap/internal/domain"
)

// Defaults for the immediate publish attempt.
const (
	DefaultPublishTimeout = 800 * time.Millisecond
	DefaultMaxInflight    = 64
)

// Dispatcher is the synchronous entry point for job submission.
type Dispatcher struct {
	connector *broker.Connector
	buffer    *Buffer
	queue     string
	timeout   time.Duration
	logger    *slog.Logger

	// slots bounds the number of immediate publish attempts in flight.
	slots chan struct{}

	mu   sync.Mutex
	sess domain.Session
}

// Options tunes the immediate publish attempt.
type Options struct {
	PublishTimeout time.Duration
	MaxInflight    int
}

// NewDispatcher returns a Dispatcher publishing to queue and buffering into buffer.
func NewDispatcher(connector *broker.Connector, buffer *Buffer, queue string, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = DefaultMaxInflight
	}
	return &Dispatcher{
		connector: connector,
		buffer:    buffer,
		queue:     queue,
		timeout:   opts.PublishTimeout,
		logger:    logger,
		slots:     make(chan struct{}, opts.MaxInflight),
	}
}

// Submit issues a job id for sourceURL and hands the job to the broker, either right away or
// through the pending buffer. The id is returned in both cases so polling can start even while
// the broker is down.
func (d *Dispatcher) Submit(ctx context.Context, sourceURL string) (string, error) {
	job := domain.NewJob(sourceURL)
	body, err := job.Encode()
	if err != nil {
		return "", err
	}

	if d.publishNow(ctx, body) {
		d.logger.Debug("Job published", "jobID", job.ID)
		return job.ID, nil
	}

	if err := d.buffer.Push(body); err != nil {
		d.logger.Error("Failed to buffer job", "jobID", job.ID, "error", err)
		return "", err
	}
	d.buffer.Signal()

	d.logger.Info("Job buffered for later publish", "jobID", job.ID, "pending", d.buffer.Len())
	return job.ID, nil
}

// publishNow makes one confirmed publish attempt bounded by the dispatch timeout.
// The attempt runs on its own goroutine so a stalled connection cannot hold the caller.
func (d *Dispatcher) publishNow(ctx context.Context, body []byte) bool {
	select {
	case d.slots <- struct{}{}:
	default:
		d.logger.Warn("Immediate publish pool saturated, buffering")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() { <-d.slots }()
		done <- d.publish(ctx, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			d.logger.Warn("Immediate publish failed", "error", err)
			return false
		}
		return true
	case <-ctx.Done():
		d.logger.Warn("Immediate publish timed out", "timeout", d.timeout)
		return false
	}
}

func (d *Dispatcher) publish(ctx context.Context, body []byte) error {
	sess, err := d.session(ctx)
	if err != nil {
		return err
	}

	// Only a plain refusal keeps the session. An unroutable publish means the queue is gone,
	// and the next session declares it again.
	err = sess.Publish(ctx, d.queue, body)
	if err != nil && !errors.Is(err, domain.ErrPublishRejected) {
		d.dropSession(sess)
	}
	return err
}

// session returns the shared publish session, opening one if needed.
func (d *Dispatcher) session(ctx context.Context) (domain.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sess != nil {
		return d.sess, nil
	}
	sess, err := d.connector.Open(ctx)
	if err != nil {
		return nil, err
	}
	d.sess = sess
	return sess, nil
}

func (d *Dispatcher) dropSession(sess domain.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sess == sess {
		d.sess = nil
	}
	sess.Close()
}

// Close releases the shared publish session.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sess == nil {
		return nil
	}
	err := d.sess.Close()
	d.sess = nil
	return err
}
