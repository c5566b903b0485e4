package dispatch

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dontdude/imgcap/internal/broker"
	"github.com/dontdude/imgcap/internal/broker/brokertest"
	"github.com/dontdude/imgcap/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const taskQueue = "tasks"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newConnector(b *brokertest.Broker) *broker.Connector {
	return broker.NewConnector(b, []string{taskQueue}, 10*time.Millisecond, discardLogger())
}

func newDispatcher(b *brokertest.Broker, buf *Buffer, timeout time.Duration) *Dispatcher {
	return NewDispatcher(newConnector(b), buf, taskQueue, Options{PublishTimeout: timeout}, discardLogger())
}

func decodeAll(t *testing.T, bodies [][]byte) []domain.Job {
	t.Helper()
	jobs := make([]domain.Job, 0, len(bodies))
	for _, body := range bodies {
		job, err := domain.DecodeJob(body)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	return jobs
}

func TestDispatcher_SubmitPublishesImmediately(t *testing.T) {
	b := brokertest.New()
	buf := NewBuffer(0, "")
	d := newDispatcher(b, buf, 200*time.Millisecond)
	defer d.Close()

	id, err := d.Submit(context.Background(), "http://x/a.jpg")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	jobs := decodeAll(t, b.Ready(taskQueue))
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.Job{ID: id, SourceURL: "http://x/a.jpg"}, jobs[0])
	assert.Equal(t, 0, buf.Len())
}

func TestDispatcher_SameURLTwiceYieldsDistinctIDs(t *testing.T) {
	b := brokertest.New()
	d := newDispatcher(b, NewBuffer(0, ""), 200*time.Millisecond)
	defer d.Close()

	first, err := d.Submit(context.Background(), "http://x/a.jpg")
	require.NoError(t, err)
	second, err := d.Submit(context.Background(), "http://x/a.jpg")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Len(t, b.Ready(taskQueue), 2)
}

func TestDispatcher_BuffersWhenBrokerDown(t *testing.T) {
	b := brokertest.New()
	b.SetDown(true)
	buf := NewBuffer(0, "")
	d := newDispatcher(b, buf, 100*time.Millisecond)

	start := time.Now()
	id, err := d.Submit(context.Background(), "http://x/a.jpg")
	require.NoError(t, err)

	assert.NotEmpty(t, id)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, buf.Len())

	select {
	case <-buf.Wake():
	default:
		t.Fatal("publisher was not signalled")
	}

	msg, _ := buf.Pop()
	job, err := domain.DecodeJob(msg)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
}

func TestDispatcher_StalledBrokerIsBoundedByTimeout(t *testing.T) {
	b := brokertest.New()
	b.SetPublishDelay(2 * time.Second)
	buf := NewBuffer(0, "")
	d := newDispatcher(b, buf, 50*time.Millisecond)
	defer d.Close()

	start := time.Now()
	_, err := d.Submit(context.Background(), "http://x/a.jpg")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, buf.Len())
}

func TestDispatcher_RejectedPublishIsBuffered(t *testing.T) {
	b := brokertest.New()
	b.SetReject(true)
	buf := NewBuffer(0, "")
	d := newDispatcher(b, buf, 100*time.Millisecond)
	defer d.Close()

	_, err := d.Submit(context.Background(), "http://x/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, 1, buf.Len())
	assert.Empty(t, b.Published(taskQueue))
}

func TestDispatcher_BufferFull(t *testing.T) {
	b := brokertest.New()
	b.SetDown(true)
	d := newDispatcher(b, NewBuffer(1, OverflowReject), 20*time.Millisecond)

	_, err := d.Submit(context.Background(), "http://x/1.jpg")
	require.NoError(t, err)

	_, err = d.Submit(context.Background(), "http://x/2.jpg")
	assert.ErrorIs(t, err, ErrBufferFull)
}

func TestDispatcher_ReconnectsAfterOutage(t *testing.T) {
	b := brokertest.New()
	buf := NewBuffer(0, "")
	d := newDispatcher(b, buf, 100*time.Millisecond)
	defer d.Close()

	_, err := d.Submit(context.Background(), "http://x/1.jpg")
	require.NoError(t, err)

	b.SetDown(true)
	_, err = d.Submit(context.Background(), "http://x/2.jpg")
	require.NoError(t, err)
	assert.Equal(t, 1, buf.Len())

	b.SetDown(false)
	_, err = d.Submit(context.Background(), "http://x/3.jpg")
	require.NoError(t, err)

	assert.Len(t, b.Published(taskQueue), 2)
	assert.Equal(t, 1, buf.Len())
}

func TestPublisher_DrainPreservesOrder(t *testing.T) {
	b := brokertest.New()
	buf := NewBuffer(0, "")
	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, buf.Push([]byte(m)))
	}

	p := NewPublisher(buf, newConnector(b), taskQueue, time.Second, discardLogger())
	defer p.closeSession()

	require.NoError(t, p.drain(context.Background()))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, b.Published(taskQueue))
	assert.Equal(t, 0, buf.Len())
}

func TestPublisher_RejectionStopsCycleAndKeepsOrder(t *testing.T) {
	b := brokertest.New()
	buf := NewBuffer(0, "")
	for _, m := range []string{"a", "b"} {
		require.NoError(t, buf.Push([]byte(m)))
	}

	p := NewPublisher(buf, newConnector(b), taskQueue, time.Second, discardLogger())
	defer p.closeSession()

	b.SetReject(true)
	require.NoError(t, p.drain(context.Background()))
	assert.Equal(t, 2, buf.Len())
	assert.Empty(t, b.Published(taskQueue))

	b.SetReject(false)
	require.NoError(t, p.drain(context.Background()))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, b.Published(taskQueue))
}

func TestPublisher_ConnectionFailureKeepsMessages(t *testing.T) {
	b := brokertest.New()
	buf := NewBuffer(0, "")
	require.NoError(t, buf.Push([]byte("a")))

	p := NewPublisher(buf, newConnector(b), taskQueue, time.Second, discardLogger())
	defer p.closeSession()

	// Open the session, then lose the connection under it.
	require.NoError(t, p.drain(context.Background()))
	require.NoError(t, buf.Push([]byte("b")))
	require.NoError(t, buf.Push([]byte("c")))
	b.SetDown(true)

	err := p.drain(context.Background())
	assert.ErrorIs(t, err, brokertest.ErrConnection)
	assert.Equal(t, 2, buf.Len())

	msg, _ := buf.Pop()
	assert.Equal(t, "b", string(msg))
}

func TestPublisher_RunDeliversAfterBrokerRecovers(t *testing.T) {
	b := brokertest.New()
	b.SetDown(true)
	buf := NewBuffer(0, "")
	connector := newConnector(b)
	d := NewDispatcher(connector, buf, taskQueue, Options{PublishTimeout: 50 * time.Millisecond}, discardLogger())
	defer d.Close()

	var ids []string
	for _, u := range []string{"http://x/1.jpg", "http://x/2.jpg", "http://x/3.jpg"} {
		id, err := d.Submit(context.Background(), u)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.Equal(t, 3, buf.Len())

	p := NewPublisher(buf, connector, taskQueue, 50*time.Millisecond, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	b.SetDown(false)

	require.Eventually(t, func() bool {
		return buf.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	jobs := decodeAll(t, b.Published(taskQueue))
	require.Len(t, jobs, 3)
	for i, job := range jobs {
		assert.Equal(t, ids[i], job.ID)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop after context cancellation")
	}
}
