package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendWithoutCredentialsFailsClosed(t *testing.T) {
	a := NewAdapter(AdapterConfig{From: "+15550000000"})
	require.False(t, a.Configured())

	for i := 0; i < 2; i++ {
		res := a.Send(context.Background(), "+15551112222", "Hello")
		assert.False(t, res.Success)
		assert.False(t, res.Deferred)
		assert.Equal(t, "twilio client not configured", res.Error)
	}
}

func TestSendWhatsAppRequest(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		got = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	a := NewAdapter(AdapterConfig{
		AccountSID: "AC123",
		AuthToken:  "secret",
		From:       "+15550000000",
		BaseURL:    srv.URL,
		PublicURL:  "https://crm.example.com/",
	})

	res := a.Send(context.Background(), "+15551112222", "Hello")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "SM123", res.SID)

	assert.Equal(t, "whatsapp:+15551112222", got.Get("To"))
	assert.Equal(t, "whatsapp:+15550000000", got.Get("From"))
	assert.Equal(t, "Hello", got.Get("Body"))
	assert.Equal(t, "https://crm.example.com/api/whatsapp/webhook", got.Get("StatusCallback"))
}

func TestSendSMSChannelKeepsPlainNumbers(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		got = r.PostForm
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM9"}`))
	}))
	defer srv.Close()

	a := NewAdapter(AdapterConfig{AccountSID: "AC1", AuthToken: "t", From: "+15550000000", BaseURL: srv.URL, Channel: "sms"})
	res := a.Send(context.Background(), "+15551112222", "Hi")
	require.True(t, res.Success)
	assert.Equal(t, "+15551112222", got.Get("To"))
	assert.Equal(t, "+15550000000", got.Get("From"))
	assert.Empty(t, got.Get("StatusCallback"))
}

func TestSendProviderRejectionIsResultNotBreakerFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`))
	}))
	defer srv.Close()

	a := NewAdapter(AdapterConfig{AccountSID: "AC1", AuthToken: "t", BaseURL: srv.URL, BreakerFailures: 2})
	for i := 0; i < 5; i++ {
		res := a.Send(context.Background(), "+1", "Hi")
		assert.False(t, res.Success)
		assert.False(t, res.Deferred)
		assert.Equal(t, "Invalid 'To' Phone Number (code 21211)", res.Error)
	}
	assert.Equal(t, int32(5), hits.Load())
}

func TestSendOutageOpensBreakerAndDefers(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewAdapter(AdapterConfig{AccountSID: "AC1", AuthToken: "t", BaseURL: srv.URL, BreakerFailures: 2})

	for i := 0; i < 2; i++ {
		res := a.Send(context.Background(), "+1", "Hi")
		assert.False(t, res.Success)
		assert.False(t, res.Deferred)
		assert.Contains(t, res.Error, "http 503")
	}

	res := a.Send(context.Background(), "+1", "Hi")
	assert.False(t, res.Success)
	assert.True(t, res.Deferred)
	assert.Equal(t, int32(2), hits.Load())
}

func TestSendMissingSIDIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := NewAdapter(AdapterConfig{AccountSID: "AC1", AuthToken: "t", BaseURL: srv.URL})
	res := a.Send(context.Background(), "+1", "Hi")
	assert.False(t, res.Success)
	assert.Equal(t, "twilio response missing sid", res.Error)
}

func TestParseWebhook(t *testing.T) {
	a := NewAdapter(AdapterConfig{})

	ev := a.ParseWebhook(url.Values{
		"MessageSid":    {"SM123"},
		"MessageStatus": {"delivered"},
		"From":          {"whatsapp:+15550000000"},
		"To":            {"whatsapp:+15551112222"},
	})
	assert.Equal(t, "SM123", ev.MessageSID)
	assert.Equal(t, "delivered", ev.Status)
	assert.Equal(t, "+15550000000", ev.From)
	assert.Equal(t, "+15551112222", ev.To)
	assert.Empty(t, ev.ErrorCode)

	sms := a.ParseWebhook(url.Values{"MessageSid": {"SM124"}, "MessageStatus": {"sent"}, "To": {"+1 (555) 111-2222"}})
	assert.Equal(t, "+15551112222", sms.To)

	empty := a.ParseWebhook(nil)
	assert.Empty(t, empty.MessageSID)
	assert.Empty(t, empty.Status)
}

func TestVerifySignature(t *testing.T) {
	form := url.Values{"MessageSid": {"SM123"}, "MessageStatus": {"delivered"}}
	u := "https://crm.example.com/api/whatsapp/webhook"
	sig := Sign("token", u, form)

	assert.True(t, VerifySignature("token", u, sig, form))
	assert.False(t, VerifySignature("other", u, sig, form))
	assert.False(t, VerifySignature("token", u+"?x=1", sig, form))

	form.Set("MessageStatus", "failed")
	assert.False(t, VerifySignature("token", u, sig, form))
}

func TestTransient(t *testing.T) {
	apiErr := &APIError{HTTPStatus: 400, Message: "bad"}
	assert.False(t, Transient(nil, 0))
	assert.False(t, Transient(apiErr, 400))
	assert.True(t, Transient(apiErr, 429))
	assert.True(t, Transient(apiErr, 503))
	assert.True(t, Transient(context.DeadlineExceeded, 0))
}
