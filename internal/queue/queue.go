// Package queue defines the dispatch queue contract shared by the campaign
// dispatcher (producer side) and the delivery worker (consumer-group side).
//
// Delivery is at-least-once: a task read by a consumer stays pending until it is
// acknowledged and may be handed out again if it never is.
package queue

import (
	"context"
	"errors"
	"time"
)

// Field names, in wire order.
const (
	FieldMessageID    = "message_id"
	FieldClientPhone  = "client_phone"
	FieldTemplateBody = "template_body"
)

type Task struct {
	MessageID    string `json:"message_id"`
	ClientPhone  string `json:"client_phone"`
	TemplateBody string `json:"template_body"`
}

// Fields returns the task as ordered name/value pairs.
func (t Task) Fields() []string {
	return []string{
		FieldMessageID, t.MessageID,
		FieldClientPhone, t.ClientPhone,
		FieldTemplateBody, t.TemplateBody,
	}
}

var ErrMalformedTask = errors.New("malformed task")

// TaskFromFields decodes a field map. message_id is the only mandatory field.
func TaskFromFields(fields map[string]string) (Task, error) {
	t := Task{
		MessageID:    fields[FieldMessageID],
		ClientPhone:  fields[FieldClientPhone],
		TemplateBody: fields[FieldTemplateBody],
	}
	if t.MessageID == "" {
		return Task{}, ErrMalformedTask
	}
	return t, nil
}

// Delivery is one handed-out task. Receipt is whatever the backend needs to ack it.
type Delivery struct {
	ID      string
	Receipt string
	Task    Task
}

type Producer interface {
	Enqueue(ctx context.Context, t Task) (string, error)
}

type Consumer interface {
	// EnsureGroup prepares the consumer group. Calling it again is not an error.
	EnsureGroup(ctx context.Context) error
	// Read waits up to block for at most count tasks. No tasks is not an error.
	Read(ctx context.Context, count int, block time.Duration) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
}
