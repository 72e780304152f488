// Package sqlite is an embedded ledger backend for single-binary deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bulkmsg/internal/domain"
	"bulkmsg/internal/store"
	"bulkmsg/internal/util"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	DB *sql.DB
}

// Open creates the database file if needed and applies the schema.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer keeps the worker and webhook paths from tripping SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	if busyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) Close() { _ = s.DB.Close() }

func (s *Store) UpsertClient(ctx context.Context, c domain.Client) error {
	now := stampNow()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO clients (phone, name, opt_in, created_at, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(phone) DO UPDATE SET name=excluded.name, opt_in=excluded.opt_in, updated_at=excluded.updated_at
	`, util.NormalizePhone(c.Phone), nullStr(c.Name), c.OptIn, now, now)
	return err
}

func (s *Store) GetClient(ctx context.Context, phone string) (domain.Client, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT phone, COALESCE(name,''), opt_in, created_at, updated_at FROM clients WHERE phone=?
	`, util.NormalizePhone(phone))
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Client{}, false, nil
		}
		return domain.Client{}, false, err
	}
	return c, true, nil
}

func (s *Store) ListOptedInClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT phone, COALESCE(name,''), opt_in, created_at, updated_at
		FROM clients WHERE opt_in = 1 ORDER BY phone
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) InsertCampaign(ctx context.Context, c domain.Campaign) error {
	created, err := ts(c.CreatedAt)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, template_body, status, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
	`, c.ID, c.Name, c.TemplateBody, string(c.Status), created, created)
	return err
}

func (s *Store) GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, template_body, status, created_at, updated_at FROM campaigns WHERE id=?
	`, id)
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Campaign{}, false, nil
		}
		return domain.Campaign{}, false, err
	}
	return c, true, nil
}

func (s *Store) ListCampaigns(ctx context.Context, limit int) ([]domain.Campaign, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, template_body, status, created_at, updated_at
		FROM campaigns ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ClaimCampaignMessages(ctx context.Context, in store.CampaignClaim) (bool, error) {
	now, err := ts(in.Now)
	if err != nil {
		return false, err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET status=?, updated_at=? WHERE id=? AND status=?
	`, string(domain.CampaignProcessing), now, in.CampaignID, string(domain.CampaignDraft))
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, campaign_id, client_phone, status, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
	`)
	if err != nil {
		return false, err
	}
	defer stmt.Close()
	for _, m := range in.Messages {
		if _, err := stmt.ExecContext(ctx, m.ID, in.CampaignID, m.ClientPhone, string(domain.StatusQueued), now, now); err != nil {
			return false, fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (domain.Message, bool, error) {
	var m domain.Message
	var status, created, updated string
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, campaign_id, client_phone, status, COALESCE(provider_sid,''), COALESCE(error_code,''),
		       created_at, updated_at
		FROM messages WHERE id=?
	`, id)
	err := row.Scan(&m.ID, &m.CampaignID, &m.ClientPhone, &status, &m.ProviderSID, &m.ErrorCode, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	m.Status = domain.MessageStatus(status)
	m.CreatedAt = parseTS(created)
	m.UpdatedAt = parseTS(updated)
	return m, true, nil
}

func (s *Store) MarkMessageStatus(ctx context.Context, in store.MessageStatusUpdate) (bool, error) {
	now, err := ts(in.Now)
	if err != nil {
		return false, err
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE messages SET status=?, error_code=?, updated_at=? WHERE id=?
	`, string(in.Status), nullStr(in.ErrorCode), now, in.ID)
	return affected(res, err)
}

func (s *Store) MarkMessageSent(ctx context.Context, in store.MessageSentUpdate) (bool, error) {
	now, err := ts(in.Now)
	if err != nil {
		return false, err
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE messages SET status=?, provider_sid=?, error_code=NULL, updated_at=? WHERE id=?
	`, string(domain.StatusSent), in.ProviderSID, now, in.ID)
	return affected(res, err)
}

func (s *Store) UpdateMessageByProviderSID(ctx context.Context, in store.ProviderStatusUpdate) (bool, error) {
	now, err := ts(in.Now)
	if err != nil {
		return false, err
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE messages SET status=?, error_code=?, updated_at=? WHERE provider_sid=?
	`, in.Status, nullStr(in.ErrorCode), now, in.ProviderSID)
	return affected(res, err)
}

func (s *Store) CountMessagesByStatus(ctx context.Context, campaignID string) ([]domain.StatusCount, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM messages WHERE campaign_id=? GROUP BY status ORDER BY status
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
	received, err := ts(in.ReceivedAt)
	if err != nil {
		return err
	}
	b, _ := json.Marshal(in.Payload)
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO delivery_events (provider, provider_sid, status, error_code, payload_json, received_at)
		VALUES (?,?,?,?,?,?)
	`, in.Provider, in.ProviderSID, in.Status, nullStr(in.ErrorCode), string(b), received)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(r scanner) (domain.Client, error) {
	var c domain.Client
	var created, updated string
	if err := r.Scan(&c.Phone, &c.Name, &c.OptIn, &created, &updated); err != nil {
		return domain.Client{}, err
	}
	c.CreatedAt = parseTS(created)
	c.UpdatedAt = parseTS(updated)
	return c, nil
}

func scanCampaign(r scanner) (domain.Campaign, error) {
	var c domain.Campaign
	var status, created, updated string
	if err := r.Scan(&c.ID, &c.Name, &c.TemplateBody, &status, &created, &updated); err != nil {
		return domain.Campaign{}, err
	}
	c.Status = domain.CampaignStatus(status)
	c.CreatedAt = parseTS(created)
	c.UpdatedAt = parseTS(updated)
	return c, nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Timestamps are stored as fixed-width UTC text so ORDER BY sorts chronologically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// ErrZeroTime rejects writes whose caller left the timestamp unset.
var ErrZeroTime = errors.New("sqlite: zero timestamp")

func ts(t time.Time) (string, error) {
	if t.IsZero() {
		return "", ErrZeroTime
	}
	return t.UTC().Format(tsLayout), nil
}

// stampNow is only for client seeding, which carries no clock of its own.
func stampNow() string {
	return time.Now().UTC().Format(tsLayout)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
