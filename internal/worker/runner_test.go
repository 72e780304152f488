package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkmsg/internal/queue"
	"bulkmsg/internal/queue/memqueue"
)

type funcProcessor func(ctx context.Context, task queue.Task) error

func (f funcProcessor) Process(ctx context.Context, task queue.Task) error { return f(ctx, task) }

type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) add(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, id)
	n := 0
	for _, s := range r.seen {
		if s == id {
			n++
		}
	}
	return n
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func runFor(t *testing.T, r *Runner, until func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, until, 3*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func enqueue(t *testing.T, q *memqueue.Queue, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := q.Enqueue(context.Background(), queue.Task{MessageID: id, ClientPhone: "+1", TemplateBody: "Hello"})
		require.NoError(t, err)
	}
}

func TestRunnerProcessesAndAcks(t *testing.T) {
	q := memqueue.New(time.Minute)
	enqueue(t, q, "m1", "m2", "m3")

	rec := &recorder{}
	r := &Runner{
		Consumer:  q,
		Processor: funcProcessor(func(ctx context.Context, task queue.Task) error { rec.add(task.MessageID); return nil }),
		Block:     10 * time.Millisecond,
	}
	runFor(t, r, func() bool { return len(rec.ids()) == 3 && q.Pending() == 0 })

	assert.Equal(t, []string{"m1", "m2", "m3"}, rec.ids())
}

func TestRunnerLeavesFailedTaskUnackedAndKeepsGoing(t *testing.T) {
	q := memqueue.New(20 * time.Millisecond)
	enqueue(t, q, "m1", "m2")

	rec := &recorder{}
	r := &Runner{
		Consumer: q,
		Processor: funcProcessor(func(ctx context.Context, task queue.Task) error {
			if rec.add(task.MessageID) == 1 && task.MessageID == "m1" {
				return errors.New("database is locked")
			}
			return nil
		}),
		Block:   10 * time.Millisecond,
		Backoff: 10 * time.Millisecond,
	}
	runFor(t, r, func() bool { return q.Pending() == 0 && len(rec.ids()) >= 3 })

	ids := rec.ids()
	assert.Equal(t, "m1", ids[0])
	assert.Contains(t, ids[1:], "m1")
	assert.Contains(t, ids[1:], "m2")
}

func TestRunnerSurvivesPanic(t *testing.T) {
	q := memqueue.New(20 * time.Millisecond)
	enqueue(t, q, "boom", "m2")

	rec := &recorder{}
	r := &Runner{
		Consumer: q,
		Processor: funcProcessor(func(ctx context.Context, task queue.Task) error {
			if rec.add(task.MessageID) == 1 && task.MessageID == "boom" {
				panic("nil map")
			}
			return nil
		}),
		Block:   10 * time.Millisecond,
		Backoff: 10 * time.Millisecond,
	}
	runFor(t, r, func() bool { return q.Pending() == 0 && len(rec.ids()) >= 3 })
}

type flakyConsumer struct {
	queue.Consumer
	mu         sync.Mutex
	groupErrs  int
	readErrs   int
	groupCalls int
}

func (f *flakyConsumer) EnsureGroup(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupCalls++
	if f.groupErrs > 0 {
		f.groupErrs--
		return errors.New("connection refused")
	}
	return f.Consumer.EnsureGroup(ctx)
}

func (f *flakyConsumer) Read(ctx context.Context, count int, block time.Duration) ([]queue.Delivery, error) {
	f.mu.Lock()
	if f.readErrs > 0 {
		f.readErrs--
		f.mu.Unlock()
		return nil, errors.New("i/o timeout")
	}
	f.mu.Unlock()
	return f.Consumer.Read(ctx, count, block)
}

func TestRunnerRetriesGroupSetupAndReadErrors(t *testing.T) {
	q := memqueue.New(time.Minute)
	enqueue(t, q, "m1")
	fc := &flakyConsumer{Consumer: q, groupErrs: 2, readErrs: 2}

	rec := &recorder{}
	r := &Runner{
		Consumer:  fc,
		Processor: funcProcessor(func(ctx context.Context, task queue.Task) error { rec.add(task.MessageID); return nil }),
		Block:     10 * time.Millisecond,
		Backoff:   5 * time.Millisecond,
	}
	runFor(t, r, func() bool { return len(rec.ids()) == 1 && q.Pending() == 0 })

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Equal(t, 3, fc.groupCalls)
}

func TestRunnerStopsWhileBlocked(t *testing.T) {
	q := memqueue.New(time.Minute)
	r := &Runner{
		Consumer:  q,
		Processor: funcProcessor(func(ctx context.Context, task queue.Task) error { return nil }),
		Block:     time.Hour,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
