// Package queue carries analysis jobs between note creation and the pipeline worker.
package queue

import (
	"context"
	"time"
)

// Producer enqueues jobs. A positive delay hides the job from consumers until it elapses.
type Producer interface {
	Enqueue(ctx context.Context, job Job, delay time.Duration) error
}

// Consumer receives raw deliveries and acknowledges them once handled. Unacked
// deliveries become visible again after the queue's visibility timeout.
type Consumer interface {
	Receive(ctx context.Context, max int) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
}

// Delivery is one received message.
type Delivery struct {
	ID           string
	Body         []byte
	ReceiveCount int
	Receipt      string
}
