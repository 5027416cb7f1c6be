package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/hogarcril/wa-crm/internal/conversation"
	"github.com/hogarcril/wa-crm/pkg/logging"
)

// Queue decouples webhook acknowledgement from notification delivery.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// SQSQueue is a Queue backed by AWS SQS.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSQueue(client *sqs.Client, queueURL string) *SQSQueue {
	if client == nil || queueURL == "" {
		return nil
	}
	return &SQSQueue{client: client, queueURL: queueURL}
}

func (q *SQSQueue) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("notify: send sqs message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	output, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("notify: receive sqs messages: %w", err)
	}
	messages := make([]QueueMessage, 0, len(output.Messages))
	for _, msg := range output.Messages {
		messages = append(messages, QueueMessage{
			ID:            aws.ToString(msg.MessageId),
			Body:          aws.ToString(msg.Body),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}
	return messages, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("notify: delete sqs message: %w", err)
	}
	return nil
}

// MemoryQueue is a Queue backed by a buffered channel, for single-process
// deployments and tests.
type MemoryQueue struct {
	ch chan QueueMessage
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{ch: make(chan QueueMessage, buffer)}
}

func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	msg := QueueMessage{ID: uuid.NewString(), Body: body, ReceiptHandle: uuid.NewString()}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	var messages []QueueMessage
	for len(messages) < maxMessages {
		select {
		case msg := <-q.ch:
			messages = append(messages, msg)
		case <-ctx.Done():
			return messages, ctx.Err()
		case <-timeout:
			return messages, nil
		default:
			if len(messages) > 0 {
				return messages, nil
			}
			select {
			case msg := <-q.ch:
				messages = append(messages, msg)
			case <-ctx.Done():
				return messages, ctx.Err()
			case <-timeout:
				return messages, nil
			}
		}
	}
	return messages, nil
}

func (q *MemoryQueue) Delete(ctx context.Context, receiptHandle string) error { return nil }

// Consumer drains the queue and hands each notice to the service.
type Consumer struct {
	queue   Queue
	service *Service
	logger  *logging.Logger
}

func NewConsumer(queue Queue, service *Service, logger *logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{queue: queue, service: service, logger: logger.WithComponent("notify-consumer")}
}

// Run blocks until ctx is cancelled. A malformed payload is dropped after one
// log line; delivery failures are already swallowed downstream.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		messages, err := c.queue.Receive(ctx, 10, 5)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("queue receive failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range messages {
			var notice conversation.InboundNotice
			if err := json.Unmarshal([]byte(msg.Body), &notice); err != nil {
				c.logger.Error("dropping malformed notice", "message_id", msg.ID, "error", err)
			} else {
				c.service.Deliver(ctx, notice)
			}
			if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
				c.logger.Error("queue delete failed", "message_id", msg.ID, "error", err)
			}
		}
	}
}
