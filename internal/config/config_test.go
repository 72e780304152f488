package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAPIDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/bulkmsg")

	cfg, err := LoadAPI()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.EnableWorker)
	assert.Equal(t, "postgres", cfg.StoreConfig.Driver)
	assert.Equal(t, "redis", cfg.QueueConfig.Backend)
	assert.Equal(t, "whatsapp_queue", cfg.QueueConfig.Stream)
	assert.Equal(t, "whatsapp_workers", cfg.QueueConfig.Group)
	assert.Equal(t, "worker_1", cfg.QueueConfig.Consumer)
	assert.Equal(t, 5*time.Second, cfg.QueueConfig.Block)
	assert.Equal(t, time.Second, cfg.QueueConfig.Backoff)
	assert.Equal(t, "whatsapp", cfg.TwilioConfig.Channel)
	assert.Empty(t, cfg.TwilioConfig.AccountSID)
}

func TestLoadAPIRequiresDSN(t *testing.T) {
	t.Setenv("DB_DSN", "unset")
	require.NoError(t, os.Unsetenv("DB_DSN"))
	_, err := LoadAPI()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	t.Setenv("DB_DSN", "ledger.db")
	t.Setenv("DB_DRIVER", "mysql")
	_, err := LoadWorker()
	assert.ErrorIs(t, err, ErrStoreDriver)

	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("QUEUE_BACKEND", "kafka")
	_, err = LoadWorker()
	assert.ErrorIs(t, err, ErrQueueBackend)

	t.Setenv("QUEUE_BACKEND", "sqs")
	_, err = LoadWorker()
	assert.Error(t, err)

	t.Setenv("SQS_QUEUE_NAME", "whatsapp_queue")
	cfg, err := LoadWorker()
	require.NoError(t, err)
	assert.Equal(t, "sqs", cfg.QueueConfig.Backend)
}

func TestLoadWebhookSignatureNeedsSecrets(t *testing.T) {
	t.Setenv("DB_DSN", "ledger.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("WEBHOOK_VERIFY_SIGNATURE", "true")
	_, err := LoadWebhook()
	assert.Error(t, err)

	t.Setenv("TWILIO_AUTH_TOKEN", "token")
	t.Setenv("PUBLIC_URL", "https://crm.example.com")
	cfg, err := LoadWebhook()
	require.NoError(t, err)
	assert.True(t, cfg.VerifySignature)
}

func TestLoadMockProviderOutcomes(t *testing.T) {
	t.Setenv("MOCK_OUTCOMES", "ok,failed:30008,read")
	cfg, err := LoadMockProvider()
	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "failed:30008", "read"}, cfg.Outcomes)
	assert.Equal(t, 300*time.Millisecond, cfg.WebhookDelay)
}
