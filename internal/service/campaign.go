package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bulkmsg/internal/domain"
	"bulkmsg/internal/observability"
	"bulkmsg/internal/queue"
	"bulkmsg/internal/store"
	"bulkmsg/internal/util"
)

type Store interface {
	ListOptedInClients(ctx context.Context) ([]domain.Client, error)
	InsertCampaign(ctx context.Context, c domain.Campaign) error
	GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error)
	ListCampaigns(ctx context.Context, limit int) ([]domain.Campaign, error)
	ClaimCampaignMessages(ctx context.Context, in store.CampaignClaim) (bool, error)
	CountMessagesByStatus(ctx context.Context, campaignID string) ([]domain.StatusCount, error)
}

// CampaignService owns the campaign lifecycle and the fan-out into ledger rows and queue tasks.
type CampaignService struct {
	Store Store
	Queue queue.Producer

	CampaignID func() string
	MessageID  func() string
	Now        func() time.Time
}

func (s *CampaignService) Create(ctx context.Context, req domain.CreateCampaignRequest) (domain.Campaign, error) {
	if err := req.Validate(); err != nil {
		return domain.Campaign{}, err
	}
	now := s.now()
	c := domain.Campaign{
		ID:           s.newCampaignID(),
		Name:         strings.TrimSpace(req.Name),
		TemplateBody: req.TemplateBody,
		Status:       domain.CampaignDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.InsertCampaign(ctx, c); err != nil {
		return domain.Campaign{}, fmt.Errorf("insert campaign: %w", err)
	}
	return c, nil
}

// Start fans a draft campaign out to every client opted in at this instant.
//
// Ledger rows are written and the campaign is moved to processing in one transaction,
// so a second Start on the same campaign gets ErrCampaignNotDraft and writes nothing.
// Tasks are enqueued afterwards; a failed enqueue is logged and counted, the row stays
// queued.
func (s *CampaignService) Start(ctx context.Context, campaignID string) (domain.StartResult, error) {
	c, found, err := s.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return domain.StartResult{}, fmt.Errorf("get campaign: %w", err)
	}
	if !found {
		return domain.StartResult{}, domain.ErrNotFound
	}
	if c.Status != domain.CampaignDraft {
		observability.CampaignStarts.WithLabelValues("conflict").Inc()
		return domain.StartResult{}, domain.ErrCampaignNotDraft
	}

	clients, err := s.Store.ListOptedInClients(ctx)
	if err != nil {
		return domain.StartResult{}, fmt.Errorf("list opted-in clients: %w", err)
	}
	if len(clients) == 0 {
		observability.CampaignStarts.WithLabelValues("empty").Inc()
		return domain.StartResult{Accepted: false, Message: domain.NoEligibleContacts}, nil
	}

	rows := make([]store.MessageInsert, 0, len(clients))
	for _, cl := range clients {
		rows = append(rows, store.MessageInsert{ID: s.newMessageID(), ClientPhone: cl.Phone})
	}

	claimed, err := s.Store.ClaimCampaignMessages(ctx, store.CampaignClaim{
		CampaignID: c.ID,
		Messages:   rows,
		Now:        s.now(),
	})
	if err != nil {
		return domain.StartResult{}, fmt.Errorf("claim campaign: %w", err)
	}
	if !claimed {
		observability.CampaignStarts.WithLabelValues("conflict").Inc()
		return domain.StartResult{}, domain.ErrCampaignNotDraft
	}

	// rows are committed; finish the fan-out even if the caller goes away
	enqCtx := context.WithoutCancel(ctx)
	failed := 0
	for _, row := range rows {
		_, err := s.Queue.Enqueue(enqCtx, queue.Task{
			MessageID:    row.ID,
			ClientPhone:  row.ClientPhone,
			TemplateBody: c.TemplateBody,
		})
		if err != nil {
			failed++
			observability.Enqueues.WithLabelValues("error").Inc()
			slog.Error("enqueue task failed",
				"err", err,
				"campaign_id", c.ID,
				"message_id", row.ID,
				"client_phone", row.ClientPhone,
			)
			continue
		}
		observability.Enqueues.WithLabelValues("ok").Inc()
	}

	observability.CampaignStarts.WithLabelValues("accepted").Inc()
	slog.Info("campaign started",
		"campaign_id", c.ID,
		"queued", len(rows),
		"enqueue_failed", failed,
	)
	return domain.StartResult{Accepted: true, QueuedCount: len(rows), EnqueueFailed: failed}, nil
}

func (s *CampaignService) Get(ctx context.Context, campaignID string) (domain.CampaignView, error) {
	c, found, err := s.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return domain.CampaignView{}, fmt.Errorf("get campaign: %w", err)
	}
	if !found {
		return domain.CampaignView{}, domain.ErrNotFound
	}
	stats, err := s.Store.CountMessagesByStatus(ctx, campaignID)
	if err != nil {
		return domain.CampaignView{}, fmt.Errorf("count messages: %w", err)
	}
	if stats == nil {
		stats = []domain.StatusCount{}
	}
	return domain.CampaignView{Campaign: c, Stats: stats}, nil
}

func (s *CampaignService) List(ctx context.Context, limit int) ([]domain.Campaign, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	out, err := s.Store.ListCampaigns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	if out == nil {
		out = []domain.Campaign{}
	}
	return out, nil
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return util.NowUTC()
}

func (s *CampaignService) newCampaignID() string {
	if s.CampaignID != nil {
		return s.CampaignID()
	}
	return util.NewCampaignID()
}

func (s *CampaignService) newMessageID() string {
	if s.MessageID != nil {
		return s.MessageID()
	}
	return util.NewMessageID()
}
