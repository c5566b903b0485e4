package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dontdude/imgcap/internal/domain"
	"github.com/redis/go-redis/v9"
)

// bodyField is the stream entry field that carries the message payload.
const bodyField = "body"

// Options configures the Redis Streams broker.
type Options struct {
	Addr     string
	Password string
	DB       int

	// Groups maps each queue (stream) to the consumer group reading it.
	Groups map[string]string
	// Consumer names this session inside the groups.
	Consumer string
	// Block bounds how long Receive waits for a new entry.
	Block time.Duration
}

// Dialer opens sessions against Redis. Each session owns its own client.
type Dialer struct {
	opts Options
}

// Ensure Dialer satisfies the interface
var _ domain.Dialer = (*Dialer)(nil)

// NewDialer returns a Redis-backed broker dialer.
func NewDialer(opts Options) *Dialer {
	if opts.Block <= 0 {
		opts.Block = 2 * time.Second
	}
	return &Dialer{opts: opts}
}

func (d *Dialer) newClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     d.opts.Addr,
		Password: d.opts.Password,
		DB:       d.opts.DB,
	})
}

// Dial connects and verifies the connection with a ping.
func (d *Dialer) Dial(ctx context.Context) (domain.Session, error) {
	rdb := d.newClient()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Session{
		client:   rdb,
		groups:   d.opts.Groups,
		consumer: d.opts.Consumer,
		block:    d.opts.Block,
		caughtUp: make(map[string]bool),
	}, nil
}

// Session implements domain.Session using Redis Streams and consumer groups.
// Publish is safe for concurrent use.
type Session struct {
	client   *redis.Client
	groups   map[string]string
	consumer string
	block    time.Duration

	mu sync.Mutex
	// caughtUp records per queue whether this consumer's own pending entries were re-read.
	caughtUp map[string]bool
}

var _ domain.Session = (*Session)(nil)

func (s *Session) group(queue string) (string, error) {
	g, ok := s.groups[queue]
	if !ok {
		return "", fmt.Errorf("no consumer group configured for queue %s", queue)
	}
	return g, nil
}

// Declare creates each stream together with its consumer group. The group starts at the
// beginning of the stream so entries added before it existed are still delivered.
func (s *Session) Declare(ctx context.Context, queues ...string) error {
	for _, q := range queues {
		group, err := s.group(q)
		if err != nil {
			return err
		}
		err = s.client.XGroupCreateMkStream(ctx, q, group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group %s on %s: %w", group, q, err)
		}
	}
	return nil
}

// Publish appends the body with XADD. The returned entry id is the broker's confirmation.
// NOMKSTREAM turns a publish to an undeclared queue into ErrUnroutable.
func (s *Session) Publish(ctx context.Context, queue string, body []byte) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream:     queue,
		NoMkStream: true,
		Values:     map[string]interface{}{bodyField: body},
	}).Err()
	return classify(queue, err)
}

// classify separates broker refusals from connection-level failures.
func classify(queue string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: stream %s does not exist", domain.ErrUnroutable, queue)
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %v", domain.ErrPublishRejected, err)
	}
	return fmt.Errorf("redis publish failed: %w", err)
}

// Receive returns this consumer's oldest unacknowledged entry first, then new entries.
// New entries are read one at a time so a consumer never holds more than it processes.
func (s *Session) Receive(ctx context.Context, queue string) (*domain.Delivery, error) {
	group, err := s.group(queue)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	caughtUp := s.caughtUp[queue]
	s.mu.Unlock()

	if !caughtUp {
		d, err := s.readHistory(ctx, queue, group)
		if err != nil || d != nil {
			return d, err
		}
		s.mu.Lock()
		s.caughtUp[queue] = true
		s.mu.Unlock()
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: s.consumer,
		Streams:  []string{queue, ">"}, // ">" means new messages
		Count:    1,
		Block:    s.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Timeout, caller retries
	}
	if err != nil {
		return nil, fmt.Errorf("redis read failed: %w", err)
	}
	return firstDelivery(queue, streams), nil
}

// readHistory returns the first entry already delivered to this consumer but never acked.
// Entries deleted from the stream meanwhile are acked and skipped.
func (s *Session) readHistory(ctx context.Context, queue, group string) (*domain.Delivery, error) {
	for {
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: s.consumer,
			Streams:  []string{queue, "0"},
			Count:    1,
			Block:    -1,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis history read failed: %w", err)
		}

		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			return nil, nil
		}
		msg := streams[0].Messages[0]
		if msg.Values != nil {
			return toDelivery(queue, msg), nil
		}
		if err := s.client.XAck(ctx, queue, group, msg.ID).Err(); err != nil {
			return nil, fmt.Errorf("redis ack failed: %w", err)
		}
	}
}

func firstDelivery(queue string, streams []redis.XStream) *domain.Delivery {
	for _, stream := range streams {
		if len(stream.Messages) > 0 {
			return toDelivery(queue, stream.Messages[0])
		}
	}
	return nil
}

// toDelivery extracts the payload. An entry without a body field yields an empty body, which
// consumers reject as malformed.
func toDelivery(queue string, msg redis.XMessage) *domain.Delivery {
	d := &domain.Delivery{ID: msg.ID, Queue: queue}
	if val, ok := msg.Values[bodyField].(string); ok {
		d.Body = []byte(val)
	}
	return d
}

// Ack confirms processing using XACK.
func (s *Session) Ack(ctx context.Context, d *domain.Delivery) error {
	group, err := s.group(d.Queue)
	if err != nil {
		return err
	}
	if err := s.client.XAck(ctx, d.Queue, group, d.ID).Err(); err != nil {
		return fmt.Errorf("redis ack failed: %w", err)
	}
	return nil
}

// Nack requeues the delivery: the body is appended again and the original entry acked in one
// MULTI/EXEC block, so the message is never lost between the two.
func (s *Session) Nack(ctx context.Context, d *domain.Delivery) error {
	group, err := s.group(d.Queue)
	if err != nil {
		return err
	}
	if err := requeue(ctx, s.client, d.Queue, group, d.ID, d.Body); err != nil {
		return fmt.Errorf("redis requeue failed: %w", err)
	}
	return nil
}

func requeue(ctx context.Context, client *redis.Client, queue, group, id string, body []byte) error {
	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: queue,
			Values: map[string]interface{}{bodyField: body},
		})
		pipe.XAck(ctx, queue, group, id)
		return nil
	})
	return err
}

// Close releases the client's connections.
func (s *Session) Close() error {
	return s.client.Close()
}
