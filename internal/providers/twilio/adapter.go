package twilio

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"bulkmsg/internal/observability"
	"bulkmsg/internal/providers"
	"bulkmsg/internal/util"
)

const (
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"

	// WebhookPath is where status callbacks are delivered, relative to the public URL.
	WebhookPath = "/api/whatsapp/webhook"

	errNotConfigured = "twilio client not configured"
	errMissingSID    = "twilio response missing sid"
)

type AdapterConfig struct {
	AccountSID          string
	AuthToken           string
	From                string
	MessagingServiceSID string
	BaseURL             string
	Channel             string
	PublicURL           string

	HTTP           *http.Client
	RequestTimeout time.Duration

	// BreakerFailures is the run of consecutive transient failures that opens the breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Adapter sends through Twilio. Without credentials it still satisfies
// providers.Adapter and fails every send.
type Adapter struct {
	client         *Client
	from           string
	channel        string
	callbackURL    string
	requestTimeout time.Duration
	breaker        *gobreaker.CircuitBreaker
}

var _ providers.Adapter = (*Adapter)(nil)

func NewAdapter(cfg AdapterConfig) *Adapter {
	a := &Adapter{
		from:           cfg.From,
		channel:        strings.ToLower(strings.TrimSpace(cfg.Channel)),
		requestTimeout: cfg.RequestTimeout,
	}
	if a.channel == "" {
		a.channel = ChannelWhatsApp
	}
	if a.requestTimeout <= 0 {
		a.requestTimeout = 6 * time.Second
	}
	if cfg.PublicURL != "" {
		a.callbackURL = strings.TrimRight(cfg.PublicURL, "/") + WebhookPath
	}

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		slog.Warn("twilio credentials missing, every send will fail")
		return a
	}

	hc := cfg.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 8 * time.Second}
	}
	a.client = &Client{
		AccountSID:          cfg.AccountSID,
		AuthToken:           cfg.AuthToken,
		HTTP:                hc,
		MessagingServiceSID: cfg.MessagingServiceSID,
		BaseURL:             cfg.BaseURL,
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 10
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "twilio",
		MaxRequests: 3,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= failures },
		// a rejected number is not an outage
		IsSuccessful: func(err error) bool {
			var ce callError
			if errors.As(err, &ce) {
				return !Transient(ce.err, ce.httpStatus)
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return a
}

func (a *Adapter) Name() string { return "twilio" }

// Configured reports whether credentials were supplied.
func (a *Adapter) Configured() bool { return a.client != nil }

func (a *Adapter) Send(ctx context.Context, phone, body string) providers.SendResult {
	if a.client == nil {
		observability.ProviderSends.WithLabelValues(a.Name(), "unconfigured", "0").Inc()
		return providers.SendResult{Error: errNotConfigured}
	}

	start := time.Now()
	res, err := a.breaker.Execute(func() (any, error) {
		reqCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
		defer cancel()

		resp, httpStatus, callErr := a.client.SendMessage(reqCtx, SendRequest{
			To:                a.address(phone),
			From:              a.address(a.from),
			Body:              body,
			StatusCallbackURL: a.callbackURL,
		})
		if callErr != nil {
			return nil, callError{err: callErr, httpStatus: httpStatus}
		}
		return sent{resp: resp, httpStatus: httpStatus}, nil
	})
	observability.ProviderLatency.Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.ProviderSends.WithLabelValues(a.Name(), "deferred", "0").Inc()
		return providers.SendResult{Error: err.Error(), Deferred: true}
	}
	if err != nil {
		status := 0
		var ce callError
		if errors.As(err, &ce) {
			status = ce.httpStatus
		}
		observability.ProviderSends.WithLabelValues(a.Name(), "error", strconv.Itoa(status)).Inc()
		return providers.SendResult{Error: err.Error()}
	}

	r := res.(sent)
	status := strconv.Itoa(r.httpStatus)
	if r.resp.Sid == "" {
		observability.ProviderSends.WithLabelValues(a.Name(), "error", status).Inc()
		return providers.SendResult{Error: errMissingSID}
	}
	observability.ProviderSends.WithLabelValues(a.Name(), "ok", status).Inc()
	return providers.SendResult{Success: true, SID: r.resp.Sid}
}

// ParseWebhook maps Twilio's status callback form onto a StatusEvent.
func (a *Adapter) ParseWebhook(form url.Values) providers.StatusEvent {
	return providers.StatusEvent{
		MessageSID: form.Get("MessageSid"),
		Status:     form.Get("MessageStatus"),
		From:       util.NormalizePhone(form.Get("From")),
		To:         util.NormalizePhone(form.Get("To")),
		ErrorCode:  form.Get("ErrorCode"),
	}
}

func (a *Adapter) address(phone string) string {
	if a.channel != ChannelWhatsApp || phone == "" || strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	return "whatsapp:" + phone
}

type sent struct {
	resp       SendResponse
	httpStatus int
}

type callError struct {
	err        error
	httpStatus int
}

func (e callError) Error() string { return e.err.Error() }
func (e callError) Unwrap() error { return e.err }
