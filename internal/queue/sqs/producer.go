package sqsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"bulkmsg/internal/queue"
)

// API is the subset of *sqs.Client used by the queue.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	CreateQueue(ctx context.Context, in *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

const defaultGroupBuckets = 64

type Producer struct {
	SQS      API
	QueueURL string

	// FIFO queues need a group id per message; tasks for the same phone share a bucket.
	FIFO         bool
	GroupBuckets int
}

func (p *Producer) Enqueue(ctx context.Context, t queue.Task) (string, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	}
	if p.FIFO {
		in.MessageGroupId = str(messageGroupIDBucketed(t.ClientPhone, p.GroupBuckets))
		in.MessageDeduplicationId = str(t.MessageID)
	}
	out, err := p.SQS.SendMessage(ctx, in)
	if err != nil {
		return "", err
	}
	if out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}

func messageGroupIDBucketed(phone string, buckets int) string {
	if buckets <= 0 {
		buckets = defaultGroupBuckets
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(phone))
	return fmt.Sprintf("recipients-%03d", h.Sum32()%uint32(buckets))
}

func str(s string) *string { return &s }
