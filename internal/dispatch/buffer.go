package dispatch

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned when a bounded buffer with the reject policy is at capacity.
var ErrBufferFull = errors.New("pending buffer full")

// OverflowPolicy decides what happens when a bounded buffer is full.
type OverflowPolicy string

const (
	// OverflowReject refuses the new message.
	OverflowReject OverflowPolicy = "reject"
	// OverflowDropOldest discards the message at the front to make room.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

// Buffer is the in-memory FIFO of messages that could not be published immediately.
// It carries its own wake signal for the Publisher.
type Buffer struct {
	mu       sync.Mutex
	items    [][]byte
	capacity int
	policy   OverflowPolicy
	dropped  int

	// wake holds at most one pending signal; extra signals are coalesced.
	wake chan struct{}
}

// NewBuffer returns a buffer. A capacity of zero or less means unbounded.
func NewBuffer(capacity int, policy OverflowPolicy) *Buffer {
	if policy == "" {
		policy = OverflowReject
	}
	return &Buffer{
		capacity: capacity,
		policy:   policy,
		wake:     make(chan struct{}, 1),
	}
}

// Push appends msg at the back.
func (b *Buffer) Push(msg []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.capacity > 0 && len(b.items) >= b.capacity {
		if b.policy == OverflowReject {
			return ErrBufferFull
		}
		b.items[0] = nil
		b.items = b.items[1:]
		b.dropped++
	}
	b.items = append(b.items, msg)
	return nil
}

// PushFront returns a message to the front so the original order survives a failed publish.
// It ignores capacity: the message was already accounted for.
func (b *Buffer) PushFront(msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append([][]byte{msg}, b.items...)
}

// Pop removes and returns the front message.
func (b *Buffer) Pop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		return nil, false
	}
	msg := b.items[0]
	b.items[0] = nil
	b.items = b.items[1:]
	return msg, true
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns how many messages the drop_oldest policy discarded.
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Signal wakes the Publisher without blocking. A lost signal is harmless because the
// Publisher also wakes on its drain interval.
func (b *Buffer) Signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Wake returns the channel the Publisher waits on.
func (b *Buffer) Wake() <-chan struct{} {
	return b.wake
}
