package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// recoveryConsumer is the consumer name stale entries are claimed to before being requeued.
const recoveryConsumer = "recovery-agent"

// StartRecoveryRoutine periodically requeues entries of queue that have been pending longer than
// maxAge, typically because the worker holding them crashed. maxAge must exceed the longest
// expected processing time or live jobs will be duplicated. It blocks until ctx is cancelled.
func (d *Dialer) StartRecoveryRoutine(ctx context.Context, queue string, interval, maxAge time.Duration, logger *slog.Logger) {
	group, ok := d.opts.Groups[queue]
	if !ok {
		logger.Error("Recovery routine has no consumer group", "queue", queue)
		return
	}

	rdb := d.newClient()
	defer rdb.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Starting Redis Recovery Routine", "queue", queue, "interval", interval, "maxAge", maxAge)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := reclaim(ctx, rdb, queue, group, maxAge)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("Recovery routine failed", "queue", queue, "error", err)
				}
				continue
			}
			if n > 0 {
				logger.Warn("Requeued stale jobs", "queue", queue, "count", n)
			}
		}
	}
}

// reclaim claims entries idle for longer than maxAge with XAUTOCLAIM and requeues each one.
func reclaim(ctx context.Context, rdb *redis.Client, queue, group string, maxAge time.Duration) (int, error) {
	requeued := 0
	start := "-" // Start from beginning of stream

	for {
		// We claim batches of 10
		messages, next, err := rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   queue,
			Group:    group,
			MinIdle:  maxAge,
			Start:    start,
			Count:    10,
			Consumer: recoveryConsumer,
		}).Result()
		if err != nil {
			return requeued, err
		}

		for _, msg := range messages {
			d := toDelivery(queue, msg)
			if err := requeue(ctx, rdb, queue, group, msg.ID, d.Body); err != nil {
				return requeued, err
			}
			requeued++
		}

		if next == "0-0" || len(messages) == 0 {
			return requeued, nil
		}
		start = next
	}
}
