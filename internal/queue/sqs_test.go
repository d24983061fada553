package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	received *sqs.ReceiveMessageInput
	messages []sqstypes.Message
	deleted  []string
	err      error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, params)
	return &sqs.SendMessageOutput{MessageId: aws.String("m1")}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.received = params
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSEnqueueCapsDelay(t *testing.T) {
	client := &fakeSQS{}
	q, err := NewSQS(client, "https://sqs.local/q", 20*time.Minute)
	if err != nil {
		t.Fatalf("NewSQS: %v", err)
	}
	job := NewJob("t", "n", time.Now())
	if err := q.Enqueue(context.Background(), job, time.Hour); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(context.Background(), job, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(client.sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(client.sent))
	}
	if client.sent[0].DelaySeconds != 900 || client.sent[1].DelaySeconds != 0 {
		t.Fatalf("delays = %d, %d", client.sent[0].DelaySeconds, client.sent[1].DelaySeconds)
	}
	decoded, err := DecodeJob([]byte(aws.ToString(client.sent[0].MessageBody)))
	if err != nil || decoded.NoteID != "n" {
		t.Fatalf("body decode = %+v, %v", decoded, err)
	}
}

func TestSQSEnqueueWrapsError(t *testing.T) {
	boom := errors.New("throttled")
	q, _ := NewSQS(&fakeSQS{err: boom}, "https://sqs.local/q", 0)
	if err := q.Enqueue(context.Background(), NewJob("t", "n", time.Now()), 0); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestSQSReceiveAndAck(t *testing.T) {
	client := &fakeSQS{messages: []sqstypes.Message{{
		MessageId:     aws.String("m1"),
		ReceiptHandle: aws.String("r1"),
		Body:          aws.String(`{"noteId":"n","tenantId":"t","attempt":1,"version":1}`),
		Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
	}}}
	q, _ := NewSQS(client, "https://sqs.local/q", 20*time.Minute)

	got, err := q.Receive(context.Background(), 50)
	if err != nil || len(got) != 1 {
		t.Fatalf("receive = %v, %v", got, err)
	}
	if client.received.MaxNumberOfMessages != 10 || client.received.VisibilityTimeout != 1200 || client.received.WaitTimeSeconds != 20 {
		t.Fatalf("unexpected receive input: %+v", client.received)
	}
	if got[0].ReceiveCount != 3 || got[0].Receipt != "r1" || got[0].ID != "m1" {
		t.Fatalf("unexpected delivery: %+v", got[0])
	}
	if err := q.Ack(context.Background(), got[0]); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if len(client.deleted) != 1 || client.deleted[0] != "r1" {
		t.Fatalf("deleted = %v", client.deleted)
	}
	if err := q.Ack(context.Background(), Delivery{ID: "x"}); err == nil {
		t.Fatalf("expected error for missing receipt")
	}
}

func TestNewSQSRequiresURL(t *testing.T) {
	if _, err := NewSQS(&fakeSQS{}, "", 0); err == nil {
		t.Fatalf("expected error")
	}
}
