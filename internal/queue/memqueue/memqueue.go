// Package memqueue is an in-process dispatch queue with a single consumer group.
// Read tasks stay pending until acked and are handed out again once their
// visibility timeout lapses. Nothing survives a restart.
package memqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"bulkmsg/internal/queue"
)

const DefaultVisibility = 60 * time.Second

type entry struct {
	id   string
	task queue.Task
}

type pendingEntry struct {
	entry
	deliveredAt time.Time
}

type Queue struct {
	Visibility time.Duration

	mu      sync.Mutex
	seq     int64
	log     []entry
	next    int
	pending map[string]*pendingEntry
	order   []string
	wake    chan struct{}
	now     func() time.Time
}

func New(visibility time.Duration) *Queue {
	if visibility <= 0 {
		visibility = DefaultVisibility
	}
	return &Queue{
		Visibility: visibility,
		pending:    map[string]*pendingEntry{},
		wake:       make(chan struct{}),
		now:        time.Now,
	}
}

func (q *Queue) Enqueue(ctx context.Context, t queue.Task) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	q.mu.Lock()
	q.seq++
	id := strconv.FormatInt(q.seq, 10) + "-0"
	q.log = append(q.log, entry{id: id, task: t})
	close(q.wake)
	q.wake = make(chan struct{})
	q.mu.Unlock()
	return id, nil
}

func (q *Queue) EnsureGroup(ctx context.Context) error { return nil }

func (q *Queue) Ping(ctx context.Context) error { return nil }

func (q *Queue) Read(ctx context.Context, count int, block time.Duration) ([]queue.Delivery, error) {
	if count <= 0 {
		count = 1
	}
	timer := time.NewTimer(block)
	defer timer.Stop()

	for {
		q.mu.Lock()
		out := q.take(count)
		wake := q.wake
		q.mu.Unlock()
		if len(out) > 0 {
			return out, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			q.mu.Lock()
			out := q.take(count)
			q.mu.Unlock()
			return out, nil
		case <-wake:
		}
	}
}

// take must be called with q.mu held. Expired pending entries go first.
func (q *Queue) take(count int) []queue.Delivery {
	now := q.now()
	var out []queue.Delivery
	for _, id := range q.order {
		if len(out) == count {
			return out
		}
		p, ok := q.pending[id]
		if !ok || now.Sub(p.deliveredAt) < q.Visibility {
			continue
		}
		p.deliveredAt = now
		out = append(out, queue.Delivery{ID: p.id, Receipt: p.id, Task: p.task})
	}
	for len(out) < count && q.next < len(q.log) {
		e := q.log[q.next]
		q.next++
		q.pending[e.id] = &pendingEntry{entry: e, deliveredAt: now}
		q.order = append(q.order, e.id)
		out = append(out, queue.Delivery{ID: e.id, Receipt: e.id, Task: e.task})
	}
	return out
}

func (q *Queue) Ack(ctx context.Context, d queue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[d.ID]; !ok {
		return nil
	}
	delete(q.pending, d.ID)
	for i, id := range q.order {
		if id == d.ID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return nil
}

// Pending reports how many tasks were handed out but not acknowledged.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Len reports how many tasks were ever enqueued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.log)
}
