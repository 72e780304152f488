package store

import (
	"context"
	"time"

	"bulkmsg/internal/domain"
)

type MessageInsert struct {
	ID          string
	ClientPhone string
}

// CampaignClaim moves a draft campaign to processing and writes its message rows
// in one transaction.
type CampaignClaim struct {
	CampaignID string
	Messages   []MessageInsert
	Now        time.Time
}

type MessageStatusUpdate struct {
	ID        string
	Status    domain.MessageStatus
	ErrorCode string
	Now       time.Time
}

type MessageSentUpdate struct {
	ID          string
	ProviderSID string
	Now         time.Time
}

type ProviderStatusUpdate struct {
	ProviderSID string
	Status      string
	ErrorCode   string
	Now         time.Time
}

type DeliveryEvent struct {
	Provider    string
	ProviderSID string
	Status      string
	ErrorCode   string
	Payload     any
	ReceivedAt  time.Time
}

// Store is implemented by every persistence backend.
type Store interface {
	UpsertClient(ctx context.Context, c domain.Client) error
	GetClient(ctx context.Context, phone string) (domain.Client, bool, error)
	ListOptedInClients(ctx context.Context) ([]domain.Client, error)

	InsertCampaign(ctx context.Context, c domain.Campaign) error
	GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error)
	ListCampaigns(ctx context.Context, limit int) ([]domain.Campaign, error)
	ClaimCampaignMessages(ctx context.Context, in CampaignClaim) (bool, error)

	GetMessage(ctx context.Context, id string) (domain.Message, bool, error)
	MarkMessageStatus(ctx context.Context, in MessageStatusUpdate) (bool, error)
	MarkMessageSent(ctx context.Context, in MessageSentUpdate) (bool, error)
	UpdateMessageByProviderSID(ctx context.Context, in ProviderStatusUpdate) (bool, error)
	CountMessagesByStatus(ctx context.Context, campaignID string) ([]domain.StatusCount, error)
	InsertDeliveryEvent(ctx context.Context, in DeliveryEvent) error

	Ping(ctx context.Context) error
	Close()
}
