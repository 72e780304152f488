package util

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewMessageID returns a sortable message id. It doubles as the idempotency key
// carried on the queue task.
func NewMessageID() string {
	t := time.Now().UTC()
	return "msg_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewCampaignID() string {
	return uuid.NewString()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
