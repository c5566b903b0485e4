package domain

import "context"

// Delivery is a single message handed out by the broker to a consumer.
// It stays unacknowledged until Ack or Nack is called with it.
type Delivery struct {
	// ID is the broker-assigned entry id (e.g. a Redis stream id 1700000-0).
	ID string
	// Queue is the name of the queue the message was read from.
	Queue string
	// Body is the raw message payload.
	Body []byte
}

// Session is a live connection to the message broker.
// It decouples the dispatch and worker code from the underlying broker (Redis, RabbitMQ, etc.).
// A Session that returns a connection-level error must be closed and replaced.
type Session interface {
	// Declare idempotently creates the durable queues. Declaring an existing queue is a no-op.
	Declare(ctx context.Context, queues ...string) error

	// Publish appends body to the queue and returns once the broker has confirmed it.
	// A confirmed refusal is reported as ErrUnroutable or ErrPublishRejected.
	Publish(ctx context.Context, queue string, body []byte) error

	// Receive waits a bounded time for the next message of the queue.
	// It returns (nil, nil) when nothing arrived in time.
	Receive(ctx context.Context, queue string) (*Delivery, error)

	// Ack confirms that the delivery has been processed.
	Ack(ctx context.Context, d *Delivery) error

	// Nack rejects the delivery and requeues it for redelivery.
	Nack(ctx context.Context, d *Delivery) error

	// Close releases the connection.
	Close() error
}

// Dialer opens broker sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}
