// Package redisstream implements the dispatch queue on a Redis stream with a
// consumer group: XADD to enqueue, XREADGROUP to read, XACK to acknowledge.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bulkmsg/internal/queue"
)

type Stream struct {
	Client   *redis.Client
	Key      string
	Group    string
	Consumer string
	// MaxLen caps the stream with approximate trimming. Zero keeps everything.
	MaxLen int64
	// ClaimIdle, when positive, lets this consumer take over entries another consumer
	// left pending for longer than ClaimIdle (XAUTOCLAIM).
	ClaimIdle time.Duration

	mu sync.Mutex
	// replay cursor over our own pending entries; empty once caught up
	replayFrom string
	// handed out by Read and not acked yet
	unacked map[string]struct{}
	// a delivery was given up on; the next replay pass starts from "0"
	retry bool
}

func (s *Stream) Enqueue(ctx context.Context, t queue.Task) (string, error) {
	return s.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.Key,
		MaxLen: s.MaxLen,
		Approx: s.MaxLen > 0,
		Values: t.Fields(),
	}).Result()
}

// EnsureGroup creates the group at the start of the stream so tasks enqueued before
// the first worker came up are still delivered.
func (s *Stream) EnsureGroup(ctx context.Context) error {
	err := s.Client.XGroupCreateMkStream(ctx, s.Key, s.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", s.Group, err)
	}
	s.mu.Lock()
	s.replayFrom = "0"
	s.mu.Unlock()
	return nil
}

func (s *Stream) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}

// Read first replays entries this consumer read but never acknowledged (before a
// crash, or on an earlier Read whose deliveries were not acked), then stale entries of
// other consumers if ClaimIdle is set, then new entries.
func (s *Stream) Read(ctx context.Context, count int, block time.Duration) ([]queue.Delivery, error) {
	if count <= 0 {
		count = 1
	}
	out, err := s.read(ctx, count, block)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.unacked == nil {
		s.unacked = map[string]struct{}{}
	}
	for _, d := range out {
		s.unacked[d.ID] = struct{}{}
	}
	s.mu.Unlock()
	return out, nil
}

func (s *Stream) read(ctx context.Context, count int, block time.Duration) ([]queue.Delivery, error) {
	s.mu.Lock()
	if len(s.unacked) > 0 {
		s.retry = true
		clear(s.unacked)
	}
	// a pass in progress continues past the entry that failed, so one bad task
	// cannot starve the rest of the pending list or new entries
	if s.replayFrom == "" && s.retry {
		s.replayFrom = "0"
		s.retry = false
	}
	from := s.replayFrom
	s.mu.Unlock()
	if from != "" {
		out, last, err := s.readGroup(ctx, from, count, -1)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.replayFrom = last
		s.mu.Unlock()
		if len(out) > 0 {
			return out, nil
		}
	}

	if s.ClaimIdle > 0 {
		msgs, _, err := s.Client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   s.Key,
			Group:    s.Group,
			Consumer: s.Consumer,
			MinIdle:  s.ClaimIdle,
			Start:    "0-0",
			Count:    int64(count),
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("xautoclaim: %w", err)
		}
		if len(msgs) > 0 {
			return s.toDeliveries(ctx, msgs), nil
		}
	}

	out, _, err := s.readGroup(ctx, ">", count, block)
	return out, err
}

// readGroup returns the decoded deliveries and the id of the last entry seen
// (empty when the read returned nothing).
func (s *Stream) readGroup(ctx context.Context, id string, count int, block time.Duration) ([]queue.Delivery, string, error) {
	res, err := s.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.Group,
		Consumer: s.Consumer,
		Streams:  []string{s.Key, id},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	var out []queue.Delivery
	last := ""
	for _, st := range res {
		if n := len(st.Messages); n > 0 {
			last = st.Messages[n-1].ID
		}
		out = append(out, s.toDeliveries(ctx, st.Messages)...)
	}
	return out, last, nil
}

func (s *Stream) toDeliveries(ctx context.Context, msgs []redis.XMessage) []queue.Delivery {
	out := make([]queue.Delivery, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			fields[k] = fmt.Sprint(v)
		}
		t, err := queue.TaskFromFields(fields)
		if err != nil {
			// trimmed or foreign entry: ack so it stops coming back
			slog.Warn("redis stream dropping malformed task", "stream_id", m.ID)
			_ = s.Client.XAck(ctx, s.Key, s.Group, m.ID).Err()
			continue
		}
		out = append(out, queue.Delivery{ID: m.ID, Receipt: m.ID, Task: t})
	}
	return out
}

func (s *Stream) Ack(ctx context.Context, d queue.Delivery) error {
	if err := s.Client.XAck(ctx, s.Key, s.Group, d.ID).Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.unacked, d.ID)
	s.mu.Unlock()
	return nil
}
