package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bulkmsg/internal/domain"
	"bulkmsg/internal/observability"
	"bulkmsg/internal/providers"
	"bulkmsg/internal/queue"
	"bulkmsg/internal/store"
	"bulkmsg/internal/util"
)

// ErrProviderDeferred is returned when the provider was not contacted and the task
// must stay unacknowledged so the queue hands it out again.
var ErrProviderDeferred = errors.New("provider send deferred")

type Store interface {
	GetMessage(ctx context.Context, id string) (domain.Message, bool, error)
	GetClient(ctx context.Context, phone string) (domain.Client, bool, error)
	MarkMessageStatus(ctx context.Context, in store.MessageStatusUpdate) (bool, error)
	MarkMessageSent(ctx context.Context, in store.MessageSentUpdate) (bool, error)
}

type Processor struct {
	Store    Store
	Provider providers.Adapter
	Now      func() time.Time
}

// Process takes one ledger message from queued to sent, failed or skipped_opt_out.
// A nil return means the task may be acknowledged. Processing a task whose message
// is already finished is a no-op, so redelivery is safe.
func (p *Processor) Process(ctx context.Context, task queue.Task) error {
	msg, found, err := p.Store.GetMessage(ctx, task.MessageID)
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	if !found {
		observability.WorkerTasks.WithLabelValues("missing").Inc()
		slog.Warn("task references unknown message, skipping", "message_id", task.MessageID)
		return nil
	}
	if msg.Processed() {
		observability.WorkerTasks.WithLabelValues("already_processed").Inc()
		slog.Info("message already processed, skipping",
			"message_id", msg.ID,
			"status", msg.Status,
			"provider_sid", msg.ProviderSID,
		)
		return nil
	}

	if err := p.mark(ctx, msg.ID, domain.StatusSending, ""); err != nil {
		return err
	}

	phone := msg.ClientPhone
	client, found, err := p.Store.GetClient(ctx, phone)
	if err != nil {
		return fmt.Errorf("get client: %w", err)
	}
	if !found || !client.OptIn {
		observability.WorkerTasks.WithLabelValues(string(domain.StatusSkippedOptOut)).Inc()
		slog.Info("recipient not opted in, skipping send", "message_id", msg.ID, "client_found", found)
		return p.mark(ctx, msg.ID, domain.StatusSkippedOptOut, domain.ErrorConsentRequired)
	}

	res := p.Provider.Send(ctx, phone, task.TemplateBody)
	switch {
	case res.Deferred:
		observability.WorkerTasks.WithLabelValues("deferred").Inc()
		return fmt.Errorf("%w: %s", ErrProviderDeferred, res.Error)

	case res.Success:
		if _, err := p.Store.MarkMessageSent(ctx, store.MessageSentUpdate{ID: msg.ID, ProviderSID: res.SID, Now: p.now()}); err != nil {
			return fmt.Errorf("mark sent: %w", err)
		}
		observability.WorkerTasks.WithLabelValues(string(domain.StatusSent)).Inc()
		return nil

	default:
		observability.WorkerTasks.WithLabelValues(string(domain.StatusFailed)).Inc()
		slog.Warn("provider send failed",
			"message_id", msg.ID,
			"provider", p.Provider.Name(),
			"err", res.Error,
		)
		return p.mark(ctx, msg.ID, domain.StatusFailed, res.Error)
	}
}

func (p *Processor) mark(ctx context.Context, id string, status domain.MessageStatus, errorCode string) error {
	_, err := p.Store.MarkMessageStatus(ctx, store.MessageStatusUpdate{
		ID:        id,
		Status:    status,
		ErrorCode: errorCode,
		Now:       p.now(),
	})
	if err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}
	return nil
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return util.NowUTC()
}
