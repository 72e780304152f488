package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"bulkmsg/internal/observability"
	"bulkmsg/internal/queue"
)

type TaskProcessor interface {
	Process(ctx context.Context, task queue.Task) error
}

// Runner is one consumer in the delivery consumer group. It handles one task at a
// time and only returns when ctx is done.
type Runner struct {
	Consumer  queue.Consumer
	Processor TaskProcessor

	// Block bounds each queue read. Defaults to 5s.
	Block time.Duration
	// Backoff is the pause after any loop error. Defaults to 1s.
	Backoff time.Duration

	idle rate.Sometimes
}

func (r *Runner) Run(ctx context.Context) error {
	if r.Block <= 0 {
		r.Block = 5 * time.Second
	}
	if r.Backoff <= 0 {
		r.Backoff = time.Second
	}
	r.idle = rate.Sometimes{First: 1, Interval: time.Minute}

	for {
		err := r.Consumer.EnsureGroup(ctx)
		if err == nil {
			break
		}
		observability.WorkerErrors.WithLabelValues("group").Inc()
		slog.Error("worker consumer group setup failed", "err", err)
		if !sleep(ctx, r.Backoff) {
			return ctx.Err()
		}
	}
	slog.Info("worker consuming", "block", r.Block)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("worker loop error", "err", err)
			if !sleep(ctx, r.Backoff) {
				return ctx.Err()
			}
		}
	}
}

func (r *Runner) step(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.WorkerErrors.WithLabelValues("panic").Inc()
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	deliveries, err := r.Consumer.Read(ctx, 1, r.Block)
	if err != nil {
		observability.WorkerErrors.WithLabelValues("read").Inc()
		return fmt.Errorf("read: %w", err)
	}
	if len(deliveries) == 0 {
		r.idle.Do(func() { slog.Info("worker idle, waiting for tasks") })
		return nil
	}

	for _, d := range deliveries {
		start := time.Now()
		if err := r.Processor.Process(ctx, d.Task); err != nil {
			observability.WorkerErrors.WithLabelValues("process").Inc()
			slog.Info("worker task finish",
				"message_id", d.Task.MessageID,
				"status", "error",
				"duration", time.Since(start),
				"err", err,
			)
			return fmt.Errorf("process %s: %w", d.Task.MessageID, err)
		}
		if err := r.Consumer.Ack(ctx, d); err != nil {
			observability.WorkerErrors.WithLabelValues("ack").Inc()
			return fmt.Errorf("ack %s: %w", d.ID, err)
		}
		slog.Info("worker task finish",
			"message_id", d.Task.MessageID,
			"status", "ok",
			"duration", time.Since(start),
		)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
