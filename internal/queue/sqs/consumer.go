package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"bulkmsg/internal/queue"
)

// Consumer maps the consumer-group contract onto one SQS queue: the visibility
// timeout gives a received task to one consumer at a time, deletion is the ack.
type Consumer struct {
	SQS      API
	QueueURL string
	// QueueName, when set, makes EnsureGroup create the queue if it is missing.
	QueueName string
	FIFO      bool

	VisibilityTimeout int32
}

func (c *Consumer) EnsureGroup(ctx context.Context) error {
	if c.QueueName != "" {
		in := &sqs.CreateQueueInput{QueueName: &c.QueueName}
		if c.FIFO {
			in.Attributes = map[string]string{string(types.QueueAttributeNameFifoQueue): "true"}
		}
		out, err := c.SQS.CreateQueue(ctx, in)
		if err != nil {
			return err
		}
		if out.QueueUrl != nil {
			c.QueueURL = *out.QueueUrl
		}
		return nil
	}
	return c.Ping(ctx)
}

func (c *Consumer) Ping(ctx context.Context) error {
	if c.QueueURL == "" {
		return errors.New("sqs queue url not set")
	}
	_, err := c.SQS.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       &c.QueueURL,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	return err
}

func (c *Consumer) Read(ctx context.Context, count int, block time.Duration) ([]queue.Delivery, error) {
	out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &c.QueueURL,
		MaxNumberOfMessages: clamp(int32(count), 1, 10),
		WaitTimeSeconds:     clamp(int32(block/time.Second), 0, 20),
		VisibilityTimeout:   c.VisibilityTimeout,
	})
	if err != nil {
		return nil, err
	}

	deliveries := make([]queue.Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		var t queue.Task
		if m.Body == nil || json.Unmarshal([]byte(*m.Body), &t) != nil || t.MessageID == "" {
			// bad payload => delete to avoid endless redrive
			slog.Warn("sqs dropping malformed task", "sqs_message_id", deref(m.MessageId))
			_, _ = c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      &c.QueueURL,
				ReceiptHandle: m.ReceiptHandle,
			})
			continue
		}
		deliveries = append(deliveries, queue.Delivery{
			ID:      deref(m.MessageId),
			Receipt: deref(m.ReceiptHandle),
			Task:    t,
		})
	}
	return deliveries, nil
}

func (c *Consumer) Ack(ctx context.Context, d queue.Delivery) error {
	_, err := c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: &d.Receipt,
	})
	return err
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
