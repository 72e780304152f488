package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type StoreConfig struct {
	Driver string `envconfig:"DB_DRIVER" default:"postgres"`
	// DSN is a postgres connection string or a sqlite file path.
	DSN     string `envconfig:"DB_DSN" required:"true"`
	Migrate bool   `envconfig:"DB_MIGRATE" default:"true"`

	PoolMaxConns          int32         `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	PoolMinConns          int32         `envconfig:"DB_POOL_MIN_CONNS" default:"1"`
	PoolMaxConnLifetime   time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	PoolMaxConnIdleTime   time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`
	PoolHealthCheckPeriod time.Duration `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"30s"`
	SQLiteBusyTimeout     time.Duration `envconfig:"SQLITE_BUSY_TIMEOUT" default:"5s"`
}

type QueueConfig struct {
	Backend  string        `envconfig:"QUEUE_BACKEND" default:"redis"`
	Stream   string        `envconfig:"QUEUE_STREAM" default:"whatsapp_queue"`
	Group    string        `envconfig:"QUEUE_GROUP" default:"whatsapp_workers"`
	Consumer string        `envconfig:"QUEUE_CONSUMER" default:"worker_1"`
	Block    time.Duration `envconfig:"QUEUE_BLOCK" default:"5s"`
	Backoff  time.Duration `envconfig:"QUEUE_ERROR_BACKOFF" default:"1s"`
	// ClaimIdle lets a consumer take over tasks another consumer left pending this long. Zero disables it.
	ClaimIdle time.Duration `envconfig:"QUEUE_CLAIM_IDLE" default:"0"`
	MaxLen    int64         `envconfig:"QUEUE_MAX_LEN" default:"0"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL"`
	SQSQueueName       string `envconfig:"SQS_QUEUE_NAME"`
	SQSFIFO            bool   `envconfig:"SQS_FIFO" default:"false"`
	SQSGroupBuckets    int    `envconfig:"SQS_GROUP_BUCKETS" default:"2000"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

// TwilioConfig is optional as a whole: missing credentials make every send fail
// instead of stopping startup.
type TwilioConfig struct {
	AccountSID          string        `envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken           string        `envconfig:"TWILIO_AUTH_TOKEN"`
	FromNumber          string        `envconfig:"TWILIO_FROM_NUMBER"`
	MessagingServiceSID string        `envconfig:"TWILIO_MESSAGING_SERVICE_SID"`
	Channel             string        `envconfig:"TWILIO_CHANNEL" default:"whatsapp"`
	BaseURL             string        `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`
	RequestTimeout      time.Duration `envconfig:"TWILIO_REQUEST_TIMEOUT" default:"6s"`
	BreakerFailures     uint32        `envconfig:"TWILIO_BREAKER_FAILURES" default:"10"`
	BreakerTimeout      time.Duration `envconfig:"TWILIO_BREAKER_TIMEOUT" default:"20s"`
	// PublicURL is the externally reachable base URL used for status callbacks.
	PublicURL string `envconfig:"PUBLIC_URL"`
	// VerifySignature rejects status callbacks without a valid X-Twilio-Signature.
	VerifySignature bool `envconfig:"WEBHOOK_VERIFY_SIGNATURE" default:"false"`
}

type APIConfig struct {
	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// EnableWorker runs the delivery worker inside the API process.
	EnableWorker bool `envconfig:"ENABLE_WORKER" default:"false"`

	StoreConfig
	QueueConfig
	TwilioConfig
}

type WorkerConfig struct {
	Port      string `envconfig:"PORT" default:"8081"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	StoreConfig
	QueueConfig
	TwilioConfig
}

type WebhookConfig struct {
	Port      string `envconfig:"PORT" default:"8082"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	StoreConfig
	TwilioConfig
}

type MockProviderConfig struct {
	Port      string `envconfig:"PORT" default:"8090"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	AccountSID string `envconfig:"TWILIO_ACCOUNT_SID" default:"mock_sid"`
	AuthToken  string `envconfig:"TWILIO_AUTH_TOKEN" default:"mock_token"`

	// Outcomes is a comma list cycled per send: ok, read, undelivered[:code], failed[:code],
	// rate_limit, bad_request, server_error.
	Outcomes     []string      `envconfig:"MOCK_OUTCOMES" default:"ok"`
	Delay        time.Duration `envconfig:"MOCK_DELAY" default:"0"`
	WebhookDelay time.Duration `envconfig:"MOCK_WEBHOOK_DELAY" default:"300ms"`
	// DefaultWebhookURL is used when a send carries no StatusCallback.
	DefaultWebhookURL string        `envconfig:"MOCK_WEBHOOK_URL"`
	WebhookMaxRetries int           `envconfig:"MOCK_WEBHOOK_MAX_RETRIES" default:"5"`
	WebhookRetryBase  time.Duration `envconfig:"MOCK_WEBHOOK_RETRY_BASE" default:"250ms"`
	WebhookRetryMax   time.Duration `envconfig:"MOCK_WEBHOOK_RETRY_MAX" default:"10s"`
}

var ErrStoreDriver = errors.New("DB_DRIVER must be postgres or sqlite")
var ErrQueueBackend = errors.New("QUEUE_BACKEND must be redis, sqs or memory")

func LoadAPI() (APIConfig, error) {
	var cfg APIConfig
	if err := load(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.StoreConfig.validate(); err != nil {
		return cfg, err
	}
	if err := cfg.TwilioConfig.validate(); err != nil {
		return cfg, err
	}
	return cfg, cfg.QueueConfig.validate()
}

func LoadWorker() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := load(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.StoreConfig.validate(); err != nil {
		return cfg, err
	}
	return cfg, cfg.QueueConfig.validate()
}

func LoadWebhook() (WebhookConfig, error) {
	var cfg WebhookConfig
	if err := load(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.StoreConfig.validate(); err != nil {
		return cfg, err
	}
	return cfg, cfg.TwilioConfig.validate()
}

func LoadMockProvider() (MockProviderConfig, error) {
	var cfg MockProviderConfig
	err := load(&cfg)
	return cfg, err
}

// load reads an optional .env file, then the environment. Real environment
// variables win over .env entries.
func load(cfg any) error {
	_ = godotenv.Load()
	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return nil
}

func (s StoreConfig) validate() error {
	switch s.Driver {
	case "postgres", "sqlite":
		return nil
	}
	return fmt.Errorf("%w, got %q", ErrStoreDriver, s.Driver)
}

func (t TwilioConfig) validate() error {
	if t.VerifySignature && (t.AuthToken == "" || t.PublicURL == "") {
		return errors.New("WEBHOOK_VERIFY_SIGNATURE needs TWILIO_AUTH_TOKEN and PUBLIC_URL")
	}
	return nil
}

func (q QueueConfig) validate() error {
	switch q.Backend {
	case "redis", "memory":
		return nil
	case "sqs":
		if q.SQSQueueURL == "" && q.SQSQueueName == "" {
			return errors.New("QUEUE_BACKEND=sqs needs SQS_QUEUE_URL or SQS_QUEUE_NAME")
		}
		return nil
	}
	return fmt.Errorf("%w, got %q", ErrQueueBackend, q.Backend)
}
