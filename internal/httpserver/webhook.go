package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"bulkmsg/internal/observability"
	"bulkmsg/internal/providers"
	"bulkmsg/internal/store"
	"bulkmsg/internal/util"
)

type WebhookStore interface {
	InsertDeliveryEvent(ctx context.Context, in store.DeliveryEvent) error
	UpdateMessageByProviderSID(ctx context.Context, in store.ProviderStatusUpdate) (bool, error)
}

// Webhook applies provider status callbacks to the ledger by provider sid.
// It answers 200 OK for anything it could record or safely ignore; only a failed
// ledger write gets a 5xx so the provider retries.
type Webhook struct {
	Store    WebhookStore
	Provider providers.Adapter

	// VerifySignature, when set, must accept the request or it is rejected with 403.
	VerifySignature func(authToken, fullURL, provided string, form url.Values) bool
	AuthToken       string
	CallbackURL     string

	Now func() time.Time
}

const WebhookPath = "/api/whatsapp/webhook"

func (wh *Webhook) Register(r *mux.Router) {
	r.HandleFunc(WebhookPath, wh.handleStatus).Methods(http.MethodPost)
}

func (wh *Webhook) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("webhook bad form, ignoring", "err", err)
		writeOK(w)
		return
	}
	if wh.VerifySignature != nil && !wh.VerifySignature(wh.AuthToken, wh.CallbackURL, r.Header.Get("X-Twilio-Signature"), r.PostForm) {
		http.Error(w, ErrInvalidSignature, http.StatusForbidden)
		return
	}

	ev := wh.Provider.ParseWebhook(r.PostForm)
	if ev.MessageSID == "" || ev.Status == "" {
		observability.WebhookEvents.WithLabelValues("", "false").Inc()
		slog.Warn("webhook without message sid or status, ignoring")
		writeOK(w)
		return
	}

	now := wh.now()
	matched, err := wh.Store.UpdateMessageByProviderSID(r.Context(), store.ProviderStatusUpdate{
		ProviderSID: ev.MessageSID,
		Status:      ev.Status,
		ErrorCode:   ev.ErrorCode,
		Now:         now,
	})
	if err != nil {
		slog.Error("webhook update message failed", "err", err, "provider_sid", ev.MessageSID, "status", ev.Status)
		http.Error(w, ErrDependency, http.StatusInternalServerError)
		return
	}

	// event log only after a successful ledger write
	if err := wh.Store.InsertDeliveryEvent(r.Context(), store.DeliveryEvent{
		Provider:    wh.Provider.Name(),
		ProviderSID: ev.MessageSID,
		Status:      ev.Status,
		ErrorCode:   ev.ErrorCode,
		Payload:     r.PostForm,
		ReceivedAt:  now,
	}); err != nil {
		slog.Error("webhook insert delivery event failed", "err", err, "provider_sid", ev.MessageSID, "status", ev.Status)
	}
	observability.WebhookEvents.WithLabelValues(ev.Status, strconv.FormatBool(matched)).Inc()
	if !matched {
		// unknown sid, or the send result is not persisted yet
		slog.Debug("webhook matched no message", "provider_sid", ev.MessageSID, "status", ev.Status)
	}
	writeOK(w)
}

func (wh *Webhook) now() time.Time {
	if wh.Now != nil {
		return wh.Now()
	}
	return util.NowUTC()
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}
