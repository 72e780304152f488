package worker

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bulkmsg/internal/domain"
	"bulkmsg/internal/providers"
	"bulkmsg/internal/queue"
	"bulkmsg/internal/store"
	"bulkmsg/internal/store/sqlite"
)

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Name() string { return "mock" }

func (m *mockAdapter) Send(ctx context.Context, phone, body string) providers.SendResult {
	args := m.Called(ctx, phone, body)
	return args.Get(0).(providers.SendResult)
}

func (m *mockAdapter) ParseWebhook(form url.Values) providers.StatusEvent {
	return providers.StatusEvent{}
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

// queueMessage creates a processing campaign with one queued message for phone.
func queueMessage(t *testing.T, st *sqlite.Store, msgID, phone string) queue.Task {
	t.Helper()
	ctx := context.Background()
	campaignID := "c_" + msgID
	require.NoError(t, st.InsertCampaign(ctx, domain.Campaign{
		ID: campaignID, Name: "Promo1", TemplateBody: "Hello", Status: domain.CampaignDraft, CreatedAt: time.Now(),
	}))
	ok, err := st.ClaimCampaignMessages(ctx, store.CampaignClaim{
		CampaignID: campaignID,
		Messages:   []store.MessageInsert{{ID: msgID, ClientPhone: phone}},
		Now:        time.Now(),
	})
	require.NoError(t, err)
	require.True(t, ok)
	return queue.Task{MessageID: msgID, ClientPhone: phone, TemplateBody: "Hello"}
}

func getMessage(t *testing.T, st *sqlite.Store, id string) domain.Message {
	t.Helper()
	m, found, err := st.GetMessage(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found)
	return m
}

func TestProcessSendsToOptedInClient(t *testing.T) {
	st := openStore(t)
	require.NoError(t, st.UpsertClient(context.Background(), domain.Client{Phone: "+15550000001", OptIn: true}))
	task := queueMessage(t, st, "msg_1", "+15550000001")

	adapter := &mockAdapter{}
	adapter.On("Send", mock.Anything, "+15550000001", "Hello").
		Return(providers.SendResult{Success: true, SID: "SM123"}).Once()

	p := &Processor{Store: st, Provider: adapter}
	require.NoError(t, p.Process(context.Background(), task))

	m := getMessage(t, st, "msg_1")
	assert.Equal(t, domain.StatusSent, m.Status)
	assert.Equal(t, "SM123", m.ProviderSID)
	assert.Empty(t, m.ErrorCode)
	adapter.AssertExpectations(t)
}

func TestProcessSkipsClientWhoOptedOut(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	require.NoError(t, st.UpsertClient(ctx, domain.Client{Phone: "+15550000001", OptIn: true}))
	task := queueMessage(t, st, "msg_1", "+15550000001")
	// consent withdrawn between fan-out and processing
	require.NoError(t, st.UpsertClient(ctx, domain.Client{Phone: "+15550000001", OptIn: false}))

	adapter := &mockAdapter{}
	p := &Processor{Store: st, Provider: adapter}
	require.NoError(t, p.Process(ctx, task))

	m := getMessage(t, st, "msg_1")
	assert.Equal(t, domain.StatusSkippedOptOut, m.Status)
	assert.Equal(t, domain.ErrorConsentRequired, m.ErrorCode)
	assert.Empty(t, m.ProviderSID)
	adapter.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessSkipsUnknownClient(t *testing.T) {
	st := openStore(t)
	task := queueMessage(t, st, "msg_1", "+15550000009")

	adapter := &mockAdapter{}
	p := &Processor{Store: st, Provider: adapter}
	require.NoError(t, p.Process(context.Background(), task))

	m := getMessage(t, st, "msg_1")
	assert.Equal(t, domain.StatusSkippedOptOut, m.Status)
	assert.Equal(t, domain.ErrorConsentRequired, m.ErrorCode)
	adapter.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessRecordsProviderFailure(t *testing.T) {
	st := openStore(t)
	require.NoError(t, st.UpsertClient(context.Background(), domain.Client{Phone: "+15550000001", OptIn: true}))
	task := queueMessage(t, st, "msg_1", "+15550000001")

	adapter := &mockAdapter{}
	adapter.On("Send", mock.Anything, "+15550000001", "Hello").
		Return(providers.SendResult{Error: "Invalid 'To' Phone Number (code 21211)"}).Once()

	p := &Processor{Store: st, Provider: adapter}
	require.NoError(t, p.Process(context.Background(), task))

	m := getMessage(t, st, "msg_1")
	assert.Equal(t, domain.StatusFailed, m.Status)
	assert.Equal(t, "Invalid 'To' Phone Number (code 21211)", m.ErrorCode)
	assert.Empty(t, m.ProviderSID)

	// failures are final: a redelivery does not send again
	require.NoError(t, p.Process(context.Background(), task))
	adapter.AssertNumberOfCalls(t, "Send", 1)
}

func TestProcessRedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	require.NoError(t, st.UpsertClient(ctx, domain.Client{Phone: "+15550000001", OptIn: true}))
	task := queueMessage(t, st, "msg_1", "+15550000001")

	adapter := &mockAdapter{}
	adapter.On("Send", mock.Anything, "+15550000001", "Hello").
		Return(providers.SendResult{Success: true, SID: "SM123"})

	p := &Processor{Store: st, Provider: adapter}
	require.NoError(t, p.Process(ctx, task))
	first := getMessage(t, st, "msg_1")

	require.NoError(t, p.Process(ctx, task))
	second := getMessage(t, st, "msg_1")

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.ProviderSID, second.ProviderSID)
	adapter.AssertNumberOfCalls(t, "Send", 1)

	// a webhook moved it on; redelivery must not pull it back to sent
	_, err := st.UpdateMessageByProviderSID(ctx, store.ProviderStatusUpdate{ProviderSID: "SM123", Status: "delivered", Now: time.Now()})
	require.NoError(t, err)
	require.NoError(t, p.Process(ctx, task))
	assert.Equal(t, domain.MessageStatus("delivered"), getMessage(t, st, "msg_1").Status)
	adapter.AssertNumberOfCalls(t, "Send", 1)
}

func TestProcessMissingLedgerRowIsSkipped(t *testing.T) {
	st := openStore(t)
	adapter := &mockAdapter{}
	p := &Processor{Store: st, Provider: adapter}

	err := p.Process(context.Background(), queue.Task{MessageID: "msg_gone", ClientPhone: "+1", TemplateBody: "Hello"})
	require.NoError(t, err)
	adapter.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessDeferredLeavesTaskForRedelivery(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	require.NoError(t, st.UpsertClient(ctx, domain.Client{Phone: "+15550000001", OptIn: true}))
	task := queueMessage(t, st, "msg_1", "+15550000001")

	adapter := &mockAdapter{}
	adapter.On("Send", mock.Anything, "+15550000001", "Hello").
		Return(providers.SendResult{Error: "circuit breaker is open", Deferred: true}).Once()
	adapter.On("Send", mock.Anything, "+15550000001", "Hello").
		Return(providers.SendResult{Success: true, SID: "SM777"}).Once()

	p := &Processor{Store: st, Provider: adapter}
	err := p.Process(ctx, task)
	require.ErrorIs(t, err, ErrProviderDeferred)
	assert.Equal(t, domain.StatusSending, getMessage(t, st, "msg_1").Status)

	require.NoError(t, p.Process(ctx, task))
	m := getMessage(t, st, "msg_1")
	assert.Equal(t, domain.StatusSent, m.Status)
	assert.Equal(t, "SM777", m.ProviderSID)
	adapter.AssertExpectations(t)
}
