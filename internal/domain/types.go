package domain

import (
	"errors"
	"strings"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "draft"
	CampaignProcessing CampaignStatus = "processing"
	// CampaignCompleted is part of the stored enum; nothing in the dispatch path sets it.
	CampaignCompleted CampaignStatus = "completed"
)

type MessageStatus string

// Worker-owned states. Webhooks may overwrite the status of a sent message with any
// provider status string (delivered, read, undelivered, ...).
const (
	StatusQueued        MessageStatus = "queued"
	StatusSending       MessageStatus = "sending"
	StatusSent          MessageStatus = "sent"
	StatusFailed        MessageStatus = "failed"
	StatusSkippedOptOut MessageStatus = "skipped_opt_out"
)

// ErrorConsentRequired is recorded on messages skipped because the recipient is not opted in.
const ErrorConsentRequired = "CONSENT_REQUIRED"

// NoEligibleContacts is the start result message when nobody is opted in.
const NoEligibleContacts = "No eligible contacts found."

var (
	ErrNotFound         = errors.New("not found")
	ErrCampaignNotDraft = errors.New("campaign already started")
	ErrMissingFields    = errors.New("missing required fields")
)

type Campaign struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	TemplateBody string         `json:"template_body"`
	Status       CampaignStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type Client struct {
	Phone     string    `json:"phone"`
	Name      string    `json:"name,omitempty"`
	OptIn     bool      `json:"opt_in"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID          string        `json:"id"`
	CampaignID  string        `json:"campaign_id"`
	ClientPhone string        `json:"client_phone"`
	Status      MessageStatus `json:"status"`
	ProviderSID string        `json:"provider_sid,omitempty"`
	ErrorCode   string        `json:"error_code,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Processed reports whether the worker has already finished with the message.
// A provider sid means a send went out, whatever status webhooks wrote afterwards.
func (m Message) Processed() bool {
	if m.ProviderSID != "" {
		return true
	}
	switch m.Status {
	case StatusSent, StatusFailed, StatusSkippedOptOut:
		return true
	}
	return false
}

type CreateCampaignRequest struct {
	Name         string `json:"name"`
	TemplateBody string `json:"template_body"`
}

func (r CreateCampaignRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.TemplateBody) == "" {
		return ErrMissingFields
	}
	return nil
}

type CreateCampaignResponse struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Status CampaignStatus `json:"status"`
}

type StartResult struct {
	Accepted      bool   `json:"success"`
	QueuedCount   int    `json:"queued"`
	EnqueueFailed int    `json:"enqueue_failed"`
	Message       string `json:"message,omitempty"`
}

type StatusCount struct {
	Status MessageStatus `json:"status"`
	Count  int           `json:"count"`
}

type CampaignView struct {
	Campaign Campaign      `json:"campaign"`
	Stats    []StatusCount `json:"stats"`
}
