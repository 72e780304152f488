package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkmsg/internal/config"
	"bulkmsg/internal/providers/twilio"
)

type callbackSink struct {
	mu    sync.Mutex
	forms []url.Values
	url   string
	token string
	fail  atomic.Int32
}

func (c *callbackSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if c.fail.Load() > 0 {
		c.fail.Add(-1)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	_ = r.ParseForm()
	if !twilio.VerifySignature(c.token, c.url, r.Header.Get("X-Twilio-Signature"), r.PostForm) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	c.mu.Lock()
	c.forms = append(c.forms, r.PostForm)
	c.mu.Unlock()
}

func (c *callbackSink) statuses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.forms))
	for _, f := range c.forms {
		out = append(out, f.Get("MessageStatus"))
	}
	return out
}

func startMock(t *testing.T, outcomes ...string) *httptest.Server {
	t.Helper()
	p := newMockProvider(config.MockProviderConfig{
		AccountSID:        "mock_sid",
		AuthToken:         "mock_token",
		Outcomes:          outcomes,
		WebhookMaxRetries: 3,
		WebhookRetryBase:  time.Millisecond,
	})
	p.sleep = func(time.Duration) {}
	r := mux.NewRouter()
	p.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func startSink(t *testing.T) *callbackSink {
	t.Helper()
	sink := &callbackSink{token: "mock_token"}
	srv := httptest.NewServer(sink)
	t.Cleanup(srv.Close)
	sink.url = srv.URL + twilio.WebhookPath
	return sink
}

func adapterFor(mockURL, publicURL string) *twilio.Adapter {
	return twilio.NewAdapter(twilio.AdapterConfig{
		AccountSID: "mock_sid",
		AuthToken:  "mock_token",
		From:       "+15550000000",
		BaseURL:    mockURL,
		PublicURL:  publicURL,
	})
}

func TestParseOutcome(t *testing.T) {
	cases := []struct {
		raw    string
		status int
		code   int
		last   string
	}{
		{"ok", http.StatusCreated, 0, "delivered"},
		{"read", http.StatusCreated, 0, "read"},
		{"undelivered", http.StatusCreated, 30003, "undelivered"},
		{"failed:63016", http.StatusCreated, 63016, "failed"},
		{"rate_limit", http.StatusTooManyRequests, 20429, ""},
		{"bad_request", http.StatusBadRequest, 21211, ""},
		{"server_error", http.StatusInternalServerError, 20500, ""},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			out := parseOutcome(tc.raw)
			assert.Equal(t, tc.status, out.HTTPStatus)
			assert.Equal(t, tc.code, out.ErrorCode)
			if tc.last == "" {
				assert.Empty(t, out.Callbacks)
				return
			}
			assert.Equal(t, tc.last, out.Callbacks[len(out.Callbacks)-1])
		})
	}
}

func TestSendPostsSignedCallbacks(t *testing.T) {
	sink := startSink(t)
	mock := startMock(t, "read")
	a := adapterFor(mock.URL, sink.url[:len(sink.url)-len(twilio.WebhookPath)])

	res := a.Send(context.Background(), "+15551112222", "Hello")
	require.True(t, res.Success, res.Error)
	assert.NotEmpty(t, res.SID)

	assert.Eventually(t, func() bool { return len(sink.statuses()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"queued", "sent", "delivered", "read"}, sink.statuses())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, res.SID, sink.forms[0].Get("MessageSid"))
	assert.Equal(t, "whatsapp:+15551112222", sink.forms[0].Get("To"))
}

func TestFailedOutcomeCarriesErrorCodeOnLastCallback(t *testing.T) {
	sink := startSink(t)
	mock := startMock(t, "undelivered:63016")
	a := adapterFor(mock.URL, sink.url[:len(sink.url)-len(twilio.WebhookPath)])

	res := a.Send(context.Background(), "+15551112222", "Hello")
	require.True(t, res.Success, res.Error)

	assert.Eventually(t, func() bool { return len(sink.statuses()) == 3 }, 2*time.Second, 10*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.forms[1].Get("ErrorCode"))
	assert.Equal(t, "63016", sink.forms[2].Get("ErrorCode"))
}

func TestCallbackRetriedOnServerError(t *testing.T) {
	sink := startSink(t)
	sink.fail.Store(2)
	mock := startMock(t, "failed")
	a := adapterFor(mock.URL, sink.url[:len(sink.url)-len(twilio.WebhookPath)])

	res := a.Send(context.Background(), "+15551112222", "Hello")
	require.True(t, res.Success, res.Error)

	assert.Eventually(t, func() bool { return len(sink.statuses()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"queued", "failed"}, sink.statuses())
}

func TestRejectedOutcomesSurfaceAsSendErrors(t *testing.T) {
	mock := startMock(t, "bad_request", "ok")
	a := adapterFor(mock.URL, "")

	res := a.Send(context.Background(), "+15551112222", "Hello")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "21211")

	res = a.Send(context.Background(), "+15551112222", "Hello")
	assert.True(t, res.Success, res.Error)
}

func TestSendRequiresAccountCredentials(t *testing.T) {
	mock := startMock(t, "ok")
	a := twilio.NewAdapter(twilio.AdapterConfig{
		AccountSID: "mock_sid",
		AuthToken:  "wrong",
		From:       "+15550000000",
		BaseURL:    mock.URL,
	})

	res := a.Send(context.Background(), "+15551112222", "Hello")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "20003")
}
