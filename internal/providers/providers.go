// Package providers defines the capability every messaging provider exposes to the
// dispatch core: sending one message and normalising its status callbacks.
package providers

import (
	"context"
	"net/url"
)

// SendResult is the outcome of one send. Failures are values, not errors.
type SendResult struct {
	Success bool
	SID     string
	Error   string
	// Deferred means the provider was not contacted (local protection tripped) and
	// the send should be attempted again later.
	Deferred bool
}

// StatusEvent is a provider callback in normalised form. Absent fields are empty.
type StatusEvent struct {
	MessageSID string
	Status     string
	From       string
	To         string
	ErrorCode  string
}

type Adapter interface {
	Name() string
	Send(ctx context.Context, phone, body string) SendResult
	// ParseWebhook performs no I/O and cannot fail.
	ParseWebhook(form url.Values) StatusEvent
}
