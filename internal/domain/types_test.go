package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageProcessed(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want bool
	}{
		{"queued", Message{Status: StatusQueued}, false},
		{"sending", Message{Status: StatusSending}, false},
		{"sent", Message{Status: StatusSent, ProviderSID: "SM1"}, true},
		{"failed", Message{Status: StatusFailed}, true},
		{"skipped", Message{Status: StatusSkippedOptOut}, true},
		{"delivered via webhook", Message{Status: "delivered", ProviderSID: "SM1"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.msg.Processed())
		})
	}
}

func TestCreateCampaignRequestValidate(t *testing.T) {
	assert.NoError(t, CreateCampaignRequest{Name: "Promo1", TemplateBody: "Hello"}.Validate())
	assert.ErrorIs(t, CreateCampaignRequest{Name: "Promo1"}.Validate(), ErrMissingFields)
	assert.ErrorIs(t, CreateCampaignRequest{Name: "  ", TemplateBody: "Hello"}.Validate(), ErrMissingFields)
}
