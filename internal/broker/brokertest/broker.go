// Package brokertest provides an in-memory broker with failure injection for tests.
package brokertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dontdude/imgcap/internal/domain"
)

// ErrConnection is returned by every operation while the broker is down or after a session
// was closed.
var ErrConnection = errors.New("brokertest: connection lost")

// receiveWait bounds how long Receive waits for a message.
const receiveWait = 20 * time.Millisecond

type message struct {
	id   string
	body []byte
}

type queueState struct {
	ready     []message
	unacked   map[string]message
	published [][]byte
	acked     int
	nacked    int
}

// Broker is an in-memory at-least-once queue service.
// Unacknowledged messages of a closed session go back to the front of their queue.
type Broker struct {
	mu           sync.Mutex
	queues       map[string]*queueState
	down         bool
	reject       bool
	publishDelay time.Duration
	dials        int
	seq          int
}

var _ domain.Dialer = (*Broker)(nil)

// New returns a reachable broker with no queues.
func New() *Broker {
	return &Broker{queues: make(map[string]*queueState)}
}

// SetDown makes the broker unreachable. Existing sessions fail on their next operation.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// SetReject makes the broker refuse every publish with domain.ErrPublishRejected.
func (b *Broker) SetReject(reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reject = reject
}

// SetPublishDelay stalls every publish by d, simulating a hung connection.
func (b *Broker) SetPublishDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishDelay = d
}

// Dials returns how many sessions have been requested.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Ready returns the bodies waiting in the queue, front first.
func (b *Broker) Ready(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return nil
	}
	out := make([][]byte, 0, len(q.ready))
	for _, m := range q.ready {
		out = append(out, m.body)
	}
	return out
}

// Published returns every body the broker confirmed for the queue, in acceptance order.
// Requeued messages are not counted twice.
func (b *Broker) Published(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return nil
	}
	return append([][]byte(nil), q.published...)
}

// Counts returns the ack, nack and unacked totals for the queue.
func (b *Broker) Counts(queue string) (acked, nacked, unacked int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return 0, 0, 0
	}
	return q.acked, q.nacked, len(q.unacked)
}

// Inject places a raw body on the queue without going through a session.
func (b *Broker) Inject(queue string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queue)
	q.ready = append(q.ready, b.newMessage(body))
}

// Dial opens a session unless the broker is down.
func (b *Broker) Dial(ctx context.Context) (domain.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.down {
		return nil, ErrConnection
	}
	return &session{broker: b, held: make(map[string]string)}, nil
}

func (b *Broker) queue(name string) *queueState {
	q, ok := b.queues[name]
	if !ok {
		q = &queueState{unacked: make(map[string]message)}
		b.queues[name] = q
	}
	return q
}

func (b *Broker) newMessage(body []byte) message {
	b.seq++
	return message{id: fmt.Sprintf("%d-0", b.seq), body: append([]byte(nil), body...)}
}

type session struct {
	broker *Broker
	closed bool
	// held maps delivery ids handed out by this session to their queue.
	held map[string]string
}

// live must be called with the broker lock held.
func (s *session) live() error {
	if s.closed || s.broker.down {
		return ErrConnection
	}
	return nil
}

func (s *session) Declare(ctx context.Context, queues ...string) error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if err := s.live(); err != nil {
		return err
	}
	for _, name := range queues {
		s.broker.queue(name)
	}
	return nil
}

func (s *session) Publish(ctx context.Context, queue string, body []byte) error {
	s.broker.mu.Lock()
	delay := s.broker.publishDelay
	s.broker.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if err := s.live(); err != nil {
		return err
	}
	if s.broker.reject {
		return fmt.Errorf("%w: brokertest refused", domain.ErrPublishRejected)
	}
	q, ok := s.broker.queues[queue]
	if !ok {
		return fmt.Errorf("%w: queue %s not declared", domain.ErrUnroutable, queue)
	}
	m := s.broker.newMessage(body)
	q.ready = append(q.ready, m)
	q.published = append(q.published, m.body)
	return nil
}

func (s *session) Receive(ctx context.Context, queue string) (*domain.Delivery, error) {
	deadline := time.Now().Add(receiveWait)
	for {
		s.broker.mu.Lock()
		if err := s.live(); err != nil {
			s.broker.mu.Unlock()
			return nil, err
		}
		q := s.broker.queue(queue)
		if len(q.ready) > 0 {
			m := q.ready[0]
			q.ready = q.ready[1:]
			q.unacked[m.id] = m
			s.held[m.id] = queue
			s.broker.mu.Unlock()
			return &domain.Delivery{ID: m.id, Queue: queue, Body: m.body}, nil
		}
		s.broker.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (s *session) Ack(ctx context.Context, d *domain.Delivery) error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if err := s.live(); err != nil {
		return err
	}
	q := s.broker.queue(d.Queue)
	if _, ok := q.unacked[d.ID]; !ok {
		return fmt.Errorf("brokertest: unknown delivery %s", d.ID)
	}
	delete(q.unacked, d.ID)
	delete(s.held, d.ID)
	q.acked++
	return nil
}

func (s *session) Nack(ctx context.Context, d *domain.Delivery) error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if err := s.live(); err != nil {
		return err
	}
	q := s.broker.queue(d.Queue)
	m, ok := q.unacked[d.ID]
	if !ok {
		return fmt.Errorf("brokertest: unknown delivery %s", d.ID)
	}
	delete(q.unacked, d.ID)
	delete(s.held, d.ID)
	q.ready = append(q.ready, m)
	q.nacked++
	return nil
}

func (s *session) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, name := range s.held {
		q := s.broker.queue(name)
		if m, ok := q.unacked[id]; ok {
			delete(q.unacked, id)
			q.ready = append([]message{m}, q.ready...)
		}
	}
	s.held = nil
	return nil
}
