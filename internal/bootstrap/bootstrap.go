// Package bootstrap turns configuration into the concrete store, queue, provider
// and worker every binary runs with.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"bulkmsg/internal/awsutil"
	"bulkmsg/internal/config"
	"bulkmsg/internal/httpserver"
	"bulkmsg/internal/providers"
	"bulkmsg/internal/providers/twilio"
	"bulkmsg/internal/queue"
	"bulkmsg/internal/queue/memqueue"
	"bulkmsg/internal/queue/redisstream"
	sqsqueue "bulkmsg/internal/queue/sqs"
	"bulkmsg/internal/store"
	"bulkmsg/internal/store/pg"
	"bulkmsg/internal/store/sqlite"
	"bulkmsg/internal/worker"
)

// Queue is a dispatch queue backend usable from both sides.
type Queue interface {
	queue.Producer
	queue.Consumer
}

func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.DSN, cfg.SQLiteBusyTimeout)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := pg.Open(ctx, cfg.DSN, pg.PoolOptions{
			MaxConns:          cfg.PoolMaxConns,
			MinConns:          cfg.PoolMinConns,
			MaxConnLifetime:   cfg.PoolMaxConnLifetime,
			MaxConnIdleTime:   cfg.PoolMaxConnIdleTime,
			HealthCheckPeriod: cfg.PoolHealthCheckPeriod,
		}, cfg.Migrate)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// OpenQueue connects the configured backend. The returned close func is never nil.
func OpenQueue(ctx context.Context, cfg config.QueueConfig) (Queue, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case "memory":
		return memqueue.New(time.Duration(cfg.SQSVizTimeout) * time.Second), noop, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("redis not reachable: %w", err)
		}
		return &redisstream.Stream{
			Client:    client,
			Key:       cfg.Stream,
			Group:     cfg.Group,
			Consumer:  cfg.Consumer,
			MaxLen:    cfg.MaxLen,
			ClaimIdle: cfg.ClaimIdle,
		}, func() { _ = client.Close() }, nil

	case "sqs":
		client, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			return nil, noop, fmt.Errorf("sqs client init: %w", err)
		}
		q := &sqsQueue{
			Producer: &sqsqueue.Producer{SQS: client, QueueURL: cfg.SQSQueueURL, FIFO: cfg.SQSFIFO, GroupBuckets: cfg.SQSGroupBuckets},
			Consumer: &sqsqueue.Consumer{SQS: client, QueueURL: cfg.SQSQueueURL, QueueName: cfg.SQSQueueName, FIFO: cfg.SQSFIFO, VisibilityTimeout: cfg.SQSVizTimeout},
		}
		startupCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := q.EnsureGroup(startupCtx); err != nil {
			return nil, noop, fmt.Errorf("sqs not reachable: %w", err)
		}
		return q, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown queue backend %q", cfg.Backend)
}

// sqsQueue keeps the producer pointed at the queue the consumer resolved.
type sqsQueue struct {
	*sqsqueue.Producer
	*sqsqueue.Consumer
}

func (q *sqsQueue) EnsureGroup(ctx context.Context) error {
	if err := q.Consumer.EnsureGroup(ctx); err != nil {
		return err
	}
	q.Producer.QueueURL = q.Consumer.QueueURL
	return nil
}

func NewProvider(cfg config.TwilioConfig) *twilio.Adapter {
	return twilio.NewAdapter(twilio.AdapterConfig{
		AccountSID:          cfg.AccountSID,
		AuthToken:           cfg.AuthToken,
		From:                cfg.FromNumber,
		MessagingServiceSID: cfg.MessagingServiceSID,
		BaseURL:             cfg.BaseURL,
		Channel:             cfg.Channel,
		PublicURL:           cfg.PublicURL,
		RequestTimeout:      cfg.RequestTimeout,
		BreakerFailures:     cfg.BreakerFailures,
		BreakerTimeout:      cfg.BreakerTimeout,
	})
}

func NewRunner(st store.Store, q queue.Consumer, provider providers.Adapter, cfg config.QueueConfig) *worker.Runner {
	return &worker.Runner{
		Consumer:  q,
		Processor: &worker.Processor{Store: st, Provider: provider},
		Block:     cfg.Block,
		Backoff:   cfg.Backoff,
	}
}

// NewWebhook builds the status callback receiver. Signature checks use the exact
// callback URL handed to the provider on send.
func NewWebhook(st store.Store, provider providers.Adapter, cfg config.TwilioConfig) *httpserver.Webhook {
	wh := &httpserver.Webhook{Store: st, Provider: provider}
	if cfg.VerifySignature {
		wh.VerifySignature = twilio.VerifySignature
		wh.AuthToken = cfg.AuthToken
		wh.CallbackURL = strings.TrimRight(cfg.PublicURL, "/") + twilio.WebhookPath
	}
	return wh
}
