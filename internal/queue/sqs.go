package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	maxSQSDelay       = 15 * time.Minute
	maxSQSBatch       = 10
	defaultWaitSecond = 20
)

// SQSAPI is the subset of the SQS client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// NewSQSAPI loads the default AWS config for region.
func NewSQSAPI(ctx context.Context, region string) (*sqs.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

// SQS is an SQS-backed Producer and Consumer.
type SQS struct {
	client            SQSAPI
	queueURL          string
	visibilitySeconds int32
	waitSeconds       int32
}

// NewSQS wraps client for queueURL. visibility bounds how long a received job stays
// hidden before redelivery.
func NewSQS(client SQSAPI, queueURL string, visibility time.Duration) (*SQS, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("RADAR_SQS_QUEUE_URL is required")
	}
	return &SQS{
		client:            client,
		queueURL:          queueURL,
		visibilitySeconds: int32(visibility / time.Second),
		waitSeconds:       defaultWaitSecond,
	}, nil
}

// Enqueue sends a job. Delays beyond the SQS maximum are capped.
func (s *SQS) Enqueue(ctx context.Context, job Job, delay time.Duration) error {
	payload, err := EncodeJob(job)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}
	if delay > maxSQSDelay {
		delay = maxSQSDelay
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
	}
	if delay > 0 {
		input.DelaySeconds = int32(delay / time.Second)
	}
	if _, err := s.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// Receive long-polls for up to max deliveries.
func (s *SQS) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 || max > maxSQSBatch {
		max = maxSQSBatch
	}
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     s.waitSeconds,
		AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
	}
	if s.visibilitySeconds > 0 {
		input.VisibilityTimeout = s.visibilitySeconds
	}
	resp, err := s.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sqs receive message: %w", err)
	}
	out := make([]Delivery, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		out = append(out, FromSQSMessage(msg))
	}
	return out, nil
}

// Ack deletes the delivery from the queue.
func (s *SQS) Ack(ctx context.Context, d Delivery) error {
	if d.Receipt == "" {
		return fmt.Errorf("sqs delete message %s: missing receipt handle", d.ID)
	}
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(d.Receipt),
	}); err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}
	return nil
}

// FromSQSMessage converts an SQS message into a Delivery.
func FromSQSMessage(msg sqstypes.Message) Delivery {
	return Delivery{
		ID:           aws.ToString(msg.MessageId),
		Body:         []byte(aws.ToString(msg.Body)),
		ReceiveCount: ReceiveCount(msg.Attributes),
		Receipt:      aws.ToString(msg.ReceiptHandle),
	}
}

// ReceiveCount reads ApproximateReceiveCount from message attributes.
func ReceiveCount(attrs map[string]string) int {
	if attrs == nil {
		return 0
	}
	raw := attrs["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

var (
	_ Producer = (*SQS)(nil)
	_ Consumer = (*SQS)(nil)
)
