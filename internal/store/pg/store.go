package pg

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bulkmsg/internal/domain"
	"bulkmsg/internal/store"
	"bulkmsg/internal/util"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

func (s *Store) Close() { s.DB.Close() }

func (s *Store) UpsertClient(ctx context.Context, c domain.Client) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO clients (phone, name, opt_in, created_at, updated_at)
		VALUES ($1,$2,$3,now(),now())
		ON CONFLICT (phone) DO UPDATE SET name=EXCLUDED.name, opt_in=EXCLUDED.opt_in, updated_at=now()
	`, util.NormalizePhone(c.Phone), nullIfEmpty(c.Name), c.OptIn)
	return err
}

func (s *Store) GetClient(ctx context.Context, phone string) (domain.Client, bool, error) {
	var c domain.Client
	row := s.DB.QueryRow(ctx, `
		SELECT phone, COALESCE(name,''), opt_in, created_at, updated_at FROM clients WHERE phone=$1
	`, util.NormalizePhone(phone))
	if err := row.Scan(&c.Phone, &c.Name, &c.OptIn, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Client{}, false, nil
		}
		return domain.Client{}, false, err
	}
	return c, true, nil
}

func (s *Store) ListOptedInClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT phone, COALESCE(name,''), opt_in, created_at, updated_at
		FROM clients WHERE opt_in ORDER BY phone
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.Phone, &c.Name, &c.OptIn, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) InsertCampaign(ctx context.Context, c domain.Campaign) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO campaigns (id, name, template_body, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
	`, c.ID, c.Name, c.TemplateBody, string(c.Status), c.CreatedAt)
	return err
}

func (s *Store) GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error) {
	var c domain.Campaign
	var status string
	row := s.DB.QueryRow(ctx, `
		SELECT id, name, template_body, status, created_at, updated_at FROM campaigns WHERE id=$1
	`, id)
	if err := row.Scan(&c.ID, &c.Name, &c.TemplateBody, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Campaign{}, false, nil
		}
		return domain.Campaign{}, false, err
	}
	c.Status = domain.CampaignStatus(status)
	return c, true, nil
}

func (s *Store) ListCampaigns(ctx context.Context, limit int) ([]domain.Campaign, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, name, template_body, status, created_at, updated_at
		FROM campaigns ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		var status string
		if err := rows.Scan(&c.ID, &c.Name, &c.TemplateBody, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Status = domain.CampaignStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClaimCampaignMessages flips a draft campaign to processing and inserts its queued
// message rows atomically. It reports false when the campaign was not in draft.
func (s *Store) ClaimCampaignMessages(ctx context.Context, in store.CampaignClaim) (bool, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE campaigns SET status=$2, updated_at=$3 WHERE id=$1 AND status=$4
	`, in.CampaignID, string(domain.CampaignProcessing), in.Now, string(domain.CampaignDraft))
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	batch := &pgx.Batch{}
	for _, m := range in.Messages {
		batch.Queue(`
			INSERT INTO messages (id, campaign_id, client_phone, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$5)
		`, m.ID, in.CampaignID, m.ClientPhone, string(domain.StatusQueued), in.Now)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return false, fmt.Errorf("insert messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (domain.Message, bool, error) {
	var m domain.Message
	var status string
	row := s.DB.QueryRow(ctx, `
		SELECT id, campaign_id, client_phone, status, COALESCE(provider_sid,''), COALESCE(error_code,''),
		       created_at, updated_at
		FROM messages WHERE id=$1
	`, id)
	err := row.Scan(&m.ID, &m.CampaignID, &m.ClientPhone, &status, &m.ProviderSID, &m.ErrorCode,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	m.Status = domain.MessageStatus(status)
	return m, true, nil
}

func (s *Store) MarkMessageStatus(ctx context.Context, in store.MessageStatusUpdate) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE messages SET status=$2, error_code=$3, updated_at=$4 WHERE id=$1
	`, in.ID, string(in.Status), nullIfEmpty(in.ErrorCode), in.Now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) MarkMessageSent(ctx context.Context, in store.MessageSentUpdate) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE messages SET status=$2, provider_sid=$3, error_code=NULL, updated_at=$4 WHERE id=$1
	`, in.ID, string(domain.StatusSent), in.ProviderSID, in.Now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) UpdateMessageByProviderSID(ctx context.Context, in store.ProviderStatusUpdate) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE messages SET status=$2, error_code=$3, updated_at=$4 WHERE provider_sid=$1
	`, in.ProviderSID, in.Status, nullIfEmpty(in.ErrorCode), in.Now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) CountMessagesByStatus(ctx context.Context, campaignID string) ([]domain.StatusCount, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT status, COUNT(*) FROM messages WHERE campaign_id=$1 GROUP BY status ORDER BY status
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.StatusCount{}
	for rows.Next() {
		var sc domain.StatusCount
		var status string
		if err := rows.Scan(&status, &sc.Count); err != nil {
			return nil, err
		}
		sc.Status = domain.MessageStatus(status)
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) InsertDeliveryEvent(ctx context.Context, in store.DeliveryEvent) error {
	b, _ := json.Marshal(in.Payload)
	_, err := s.DB.Exec(ctx, `
		INSERT INTO delivery_events (provider, provider_sid, status, error_code, payload_json, received_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, in.Provider, in.ProviderSID, in.Status, nullIfEmpty(in.ErrorCode), b, in.ReceivedAt)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
