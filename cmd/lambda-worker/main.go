package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"radar-backend/internal/bootstrap"
	"radar-backend/internal/queue"
	"radar-backend/internal/shared/config"
)

type batchHandler interface {
	HandleDeliveries(ctx context.Context, deliveries []queue.Delivery) (ack, keep []queue.Delivery)
}

var (
	initOnce sync.Once
	initErr  error
	worker   batchHandler
)

func initApp() {
	cfg, err := config.Load()
	if err != nil {
		initErr = err
		return
	}
	app, err := bootstrap.Build(context.Background(), cfg)
	if err != nil {
		initErr = err
		return
	}
	worker = app.Worker
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		return failAll(event), initErr
	}
	return handleEvent(ctx, worker, event), nil
}

// handleEvent reports every delivery the worker wants redelivered as a batch item
// failure. Lambda deletes the rest.
func handleEvent(ctx context.Context, w batchHandler, event events.SQSEvent) events.SQSEventResponse {
	deliveries := make([]queue.Delivery, 0, len(event.Records))
	for _, record := range event.Records {
		deliveries = append(deliveries, queue.Delivery{
			ID:           record.MessageId,
			Body:         []byte(record.Body),
			ReceiveCount: queue.ReceiveCount(record.Attributes),
			Receipt:      record.ReceiptHandle,
		})
	}
	_, keep := w.HandleDeliveries(ctx, deliveries)
	failures := make([]events.SQSBatchItemFailure, 0, len(keep))
	for _, d := range keep {
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: d.ID})
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func failAll(event events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
	for _, record := range event.Records {
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
