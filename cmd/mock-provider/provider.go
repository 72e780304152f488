package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"bulkmsg/internal/config"
	"bulkmsg/internal/providers/twilio"
)

// outcome is what the mock does with one send.
type outcome struct {
	// HTTPStatus other than 201 rejects the send synchronously.
	HTTPStatus int
	ErrorCode  int
	Message    string
	// Callbacks posted in order after an accepted send.
	Callbacks []string
}

func parseOutcome(raw string) outcome {
	kind, codeStr, _ := strings.Cut(strings.TrimSpace(raw), ":")
	code, _ := strconv.Atoi(codeStr)
	orDefault := func(def int) int {
		if code != 0 {
			return code
		}
		return def
	}

	switch kind {
	case "", "ok":
		return outcome{HTTPStatus: http.StatusCreated, Callbacks: []string{"queued", "sent", "delivered"}}
	case "read":
		return outcome{HTTPStatus: http.StatusCreated, Callbacks: []string{"queued", "sent", "delivered", "read"}}
	case "undelivered":
		return outcome{HTTPStatus: http.StatusCreated, ErrorCode: orDefault(30003), Callbacks: []string{"queued", "sent", "undelivered"}}
	case "failed":
		return outcome{HTTPStatus: http.StatusCreated, ErrorCode: orDefault(30008), Callbacks: []string{"queued", "failed"}}
	case "rate_limit":
		return outcome{HTTPStatus: http.StatusTooManyRequests, ErrorCode: orDefault(20429), Message: "Too Many Requests"}
	case "bad_request":
		return outcome{HTTPStatus: http.StatusBadRequest, ErrorCode: orDefault(21211), Message: "Invalid 'To' Phone Number"}
	case "server_error":
		return outcome{HTTPStatus: http.StatusInternalServerError, ErrorCode: orDefault(20500), Message: "Internal Server Error"}
	default:
		return outcome{HTTPStatus: http.StatusInternalServerError, ErrorCode: orDefault(30008), Message: "mock outcome " + kind}
	}
}

type mockProvider struct {
	cfg    config.MockProviderConfig
	client *http.Client
	seq    atomic.Uint64
	// sleep is swapped in tests.
	sleep func(time.Duration)
}

func newMockProvider(cfg config.MockProviderConfig) *mockProvider {
	if len(cfg.Outcomes) == 0 {
		cfg.Outcomes = []string{"ok"}
	}
	return &mockProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		sleep:  time.Sleep,
	}
}

func (p *mockProvider) Register(r *mux.Router) {
	r.HandleFunc("/2010-04-01/Accounts/{AccountSid}/Messages.json", p.handleSend).Methods(http.MethodPost)
}

func (p *mockProvider) handleSend(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != p.cfg.AccountSID || pass != p.cfg.AuthToken || mux.Vars(r)["AccountSid"] != p.cfg.AccountSID {
		writeTwilioError(w, http.StatusUnauthorized, 20003, "Authenticate")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeTwilioError(w, http.StatusBadRequest, 21620, "Invalid form data")
		return
	}
	if r.Form.Get("To") == "" || r.Form.Get("Body") == "" {
		writeTwilioError(w, http.StatusBadRequest, 21602, "Message body and To are required")
		return
	}
	if r.Form.Get("From") == "" && r.Form.Get("MessagingServiceSid") == "" {
		writeTwilioError(w, http.StatusBadRequest, 21606, "A 'From' phone number is required")
		return
	}

	if p.cfg.Delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(p.cfg.Delay):
		}
	}

	n := p.seq.Add(1) - 1
	out := parseOutcome(p.cfg.Outcomes[int(n%uint64(len(p.cfg.Outcomes)))])
	if out.HTTPStatus != http.StatusCreated {
		writeTwilioError(w, out.HTTPStatus, out.ErrorCode, out.Message)
		return
	}

	sid := fmt.Sprintf("SM%032d", n)
	writeJSON(w, http.StatusCreated, twilio.SendResponse{Sid: sid, Status: "queued"})

	cb := r.Form.Get("StatusCallback")
	if cb == "" {
		cb = p.cfg.DefaultWebhookURL
	}
	if cb == "" {
		return
	}
	go p.deliverCallbacks(context.Background(), cb, sid, r.Form.Get("To"), r.Form.Get("From"), out)
}

func (p *mockProvider) deliverCallbacks(ctx context.Context, callbackURL, sid, to, from string, out outcome) {
	for i, status := range out.Callbacks {
		p.sleep(p.cfg.WebhookDelay)
		form := url.Values{}
		form.Set("MessageSid", sid)
		form.Set("MessageStatus", status)
		form.Set("To", to)
		form.Set("From", from)
		if i == len(out.Callbacks)-1 && out.ErrorCode != 0 {
			form.Set("ErrorCode", strconv.Itoa(out.ErrorCode))
		}
		if err := p.postCallback(ctx, callbackURL, form); err != nil {
			slog.Error("mock callback abandoned", "sid", sid, "status", status, "err", err)
			return
		}
	}
}

// postCallback retries network errors, 429 and 5xx with capped exponential backoff.
func (p *mockProvider) postCallback(ctx context.Context, callbackURL string, form url.Values) error {
	sig := twilio.Sign(p.cfg.AuthToken, callbackURL, form)
	wait := p.cfg.WebhookRetryBase
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Twilio-Signature", sig)

		status := 0
		resp, err := p.client.Do(req)
		if err == nil {
			status = resp.StatusCode
			_ = resp.Body.Close()
			if status >= 200 && status < 300 {
				return nil
			}
			if status != http.StatusTooManyRequests && status < 500 {
				return fmt.Errorf("callback rejected: http %d", status)
			}
			err = fmt.Errorf("callback failed: http %d", status)
		}
		if attempt >= p.cfg.WebhookMaxRetries {
			return err
		}
		slog.Warn("mock callback retrying", "url", callbackURL, "attempt", attempt+1, "status", status, "wait_ms", wait.Milliseconds())
		p.sleep(wait)
		wait *= 2
		if p.cfg.WebhookRetryMax > 0 && wait > p.cfg.WebhookRetryMax {
			wait = p.cfg.WebhookRetryMax
		}
	}
}

func writeTwilioError(w http.ResponseWriter, status, code int, msg string) {
	writeJSON(w, status, twilio.SendResponse{Status: "failed", Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
